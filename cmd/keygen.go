package cmd

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/decoystation/internal/tag"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a station key pair",
	Long: `Generate a new station private key, write it hex-encoded to the output file
and print the public key clients need.

Examples:
  decoy-station keygen -o /etc/decoy-station/station.key`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runKeygen(keygenOut, keygenForce, rand.Reader, os.Stdout)
	},
}

var (
	keygenOut   string
	keygenForce bool
)

func init() {
	keygenCmd.Flags().StringVarP(&keygenOut, "out", "o", "", "private key output file (required)")
	keygenCmd.Flags().BoolVar(&keygenForce, "force", false, "overwrite an existing key file")
	keygenCmd.MarkFlagRequired("out")
}

func runKeygen(path string, force bool, r io.Reader, w io.Writer) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s exists, use --force to overwrite", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	key, err := tag.GenerateKey(r)
	if err != nil {
		return err
	}
	text, err := key.MarshalText()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(text, '\n'), 0600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}

	fmt.Fprintf(w, "%s\n", key.Public())
	return nil
}
