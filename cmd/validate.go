package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/decoystation/internal/config"
	"firestige.xyz/decoystation/internal/selector"
	"firestige.xyz/decoystation/internal/tag"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Validate the configuration file without starting the station.

Checks field values, parses the decoy ranges and loads the station key.

Examples:
  decoy-station validate -c config.yml`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runValidate(configFile, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
			os.Exit(1)
		}
	},
}

func runValidate(path string, w io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	sel, err := selector.New(cfg.Station.DecoyRanges)
	if err != nil {
		return err
	}
	key, err := tag.LoadPrivateKey(cfg.Station.PrivateKeyPath)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "VALID: %d worker(s), %s decoy address(es) in %s, notify=%s, public key %s\n",
		cfg.Station.Workers,
		sel.Size(),
		sel,
		cfg.Notify.Type,
		key.Public(),
	)
	return nil
}
