package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/decoystation/internal/config"
	"firestige.xyz/decoystation/internal/core"
	"firestige.xyz/decoystation/internal/notify"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print registrations published on NATS",
	Long: `Subscribe to the registration subject configured under notify.options and
print every registration as it arrives. Only the nats backend is supported.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if cfg.Notify.Type != "nats" {
			return fmt.Errorf("watch needs notify.type nats, got %s", cfg.Notify.Type)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runWatch(ctx, cfg.Notify.Options, os.Stdout)
	},
}

func runWatch(ctx context.Context, options map[string]any, w io.Writer) error {
	sub, err := notify.Subscribe(options, func(tag core.Tag) {
		fmt.Fprintln(w, formatRegistration(tag))
	})
	if err != nil {
		return err
	}
	defer sub.Close()

	<-ctx.Done()
	return nil
}

func formatRegistration(tag core.Tag) string {
	return fmt.Sprintf("seed=%x decoy=%s", tag.Seed, tag.Dst)
}
