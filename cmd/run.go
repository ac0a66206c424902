package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/decoystation/internal/daemon"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the station in foreground",
	Long: `Run the decoy station in foreground.

The station will:
  1. Load configuration and initialize logging and metrics
  2. Load the station key and the decoy address ranges
  3. Open one TUN queue, one capture handle and one notifier per worker
  4. Process frames until SIGTERM or SIGINT (SIGHUP reloads logging)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := daemon.New(configFile, pidFile)
		if err != nil {
			return err
		}
		if err := d.Start(); err != nil {
			return err
		}
		return d.Run()
	},
}

var pidFile string

func init() {
	runCmd.Flags().StringVarP(&pidFile, "pidfile", "p", "",
		"PID file path (empty = none)")
}
