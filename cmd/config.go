package cmd

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/decoystation/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, environment overrides and
validation have been applied, as YAML under the decoy-station root key.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigShow(configFile, os.Stdout)
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
}

func runConfigShow(path string, w io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]*config.GlobalConfig{"decoy-station": cfg}); err != nil {
		return err
	}
	return enc.Close()
}
