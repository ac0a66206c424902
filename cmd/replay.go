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
	"firestige.xyz/decoystation/internal/daemon"
	logpkg "firestige.xyz/decoystation/internal/log"
	"firestige.xyz/decoystation/internal/station"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a capture file through one shard",
	Long: `Replay a pcap or pcapng file through a single shard, in file order, with
capture timestamps driving flow expiry.

Examples:
  decoy-station replay -f trace.pcap --discard
  decoy-station replay -c config.yml -f trace.pcapng`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runReplay(ctx, configFile, daemon.ReplayOptions{Path: replayFile, Discard: replayDiscard}, os.Stdout)
	},
}

var (
	replayFile    string
	replayDiscard bool
)

func init() {
	replayCmd.Flags().StringVarP(&replayFile, "file", "f", "", "capture file to replay (required)")
	replayCmd.Flags().BoolVar(&replayDiscard, "discard", false,
		"drop forwarded packets and registrations instead of using tun and notify")
	replayCmd.MarkFlagRequired("file")
}

func runReplay(ctx context.Context, path string, opts daemon.ReplayOptions, w io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	closer, err := logpkg.Init(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()

	total, err := daemon.Replay(ctx, cfg, opts)
	printSnapshot(w, total)
	return err
}

func printSnapshot(w io.Writer, s station.Snapshot) {
	rows := []struct {
		name  string
		value uint64
	}{
		{"frames", s.Frames},
		{"bytes", s.Bytes},
		{"ipv4", s.IPv4},
		{"ipv6", s.IPv6},
		{"tcp", s.TCP},
		{"tls packets", s.TLSPackets},
		{"tls bytes", s.TLSBytes},
		{"port 443 syns", s.SYNs},
		{"pending rejected", s.PendingRejected},
		{"decode attempts", s.DecodeAttempts},
		{"decode faults", s.DecodeFaults},
		{"tags", s.Tags},
		{"select errors", s.SelectErrors},
		{"publish errors", s.PublishErrors},
		{"forwarded", s.Forwarded},
		{"forward errors", s.ForwardErrors},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%-18s %d\n", r.name, r.value)
	}
}
