package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"firestige.xyz/decoystation/internal/capture/pcapfile"
	"firestige.xyz/decoystation/internal/config"
	"firestige.xyz/decoystation/internal/forward"
	"firestige.xyz/decoystation/internal/notify"
	"firestige.xyz/decoystation/internal/station"
)

// ReplayOptions controls an offline replay.
type ReplayOptions struct {
	Path    string
	Discard bool // forward into nothing and publish nowhere
}

// Replay feeds a capture file through a single shard in file order, using the
// capture timestamps as the flow clock, and returns the totals.
func Replay(ctx context.Context, cfg *config.GlobalConfig, opts ReplayOptions) (station.Snapshot, error) {
	src, err := pcapfile.Open(opts.Path)
	if err != nil {
		return station.Snapshot{}, err
	}
	defer src.Close()

	sh, err := loadShared(cfg)
	if err != nil {
		return station.Snapshot{}, err
	}

	var (
		sink forward.Sink = io.Discard
		nc                = notifyConfig(cfg)
	)
	if opts.Discard {
		nc = notify.Config{Type: "discard"}
	} else {
		sinks, device, err := openTUN(cfg.TUN, 1)
		if err != nil {
			return station.Snapshot{}, fmt.Errorf("failed to open forwarding sink: %w", err)
		}
		defer device.Close()
		sink = sinks[0]
	}

	shard, err := sh.newShard(0, cfg, nc, sink)
	if err != nil {
		return station.Snapshot{}, err
	}

	start := time.Now()
	rt := station.NewRuntime([]station.Worker{{Shard: shard, Capture: src}}, nil)
	err = rt.Run(ctx)

	total := rt.Reporter().Total()
	slog.Info("replay finished",
		"file", opts.Path,
		"frames", total.Frames,
		"tags", total.Tags,
		"forwarded", total.Forwarded,
		"elapsed", time.Since(start))
	return total, err
}
