package daemon

import (
	"fmt"
	"log/slog"

	"firestige.xyz/decoystation/internal/config"
	"firestige.xyz/decoystation/internal/detector"
	"firestige.xyz/decoystation/internal/flow"
	"firestige.xyz/decoystation/internal/forward"
	"firestige.xyz/decoystation/internal/notify"
	"firestige.xyz/decoystation/internal/selector"
	"firestige.xyz/decoystation/internal/station"
	"firestige.xyz/decoystation/internal/tag"
)

// shared holds what every shard reads but none owns.
type shared struct {
	key *tag.PrivateKey
	sel *selector.Selector
}

func loadShared(cfg *config.GlobalConfig) (*shared, error) {
	key, err := tag.LoadPrivateKey(cfg.Station.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load station key: %w", err)
	}
	sel, err := selector.New(cfg.Station.DecoyRanges)
	if err != nil {
		return nil, fmt.Errorf("build decoy selector: %w", err)
	}
	slog.Info("station identity loaded",
		"public_key", key.Public().String(),
		"decoy_ranges", sel.String(),
		"decoy_addresses", sel.Size().String())
	return &shared{key: key, sel: sel}, nil
}

// newShard builds shard id with its own notifier and a bridge onto sink.
func (s *shared) newShard(id int, cfg *config.GlobalConfig, nc notify.Config, sink forward.Sink) (*station.Shard, error) {
	n, err := notify.New(nc)
	if err != nil {
		return nil, fmt.Errorf("shard %d notifier: %w", id, err)
	}

	det := detector.New(detector.Config{
		Shard:    id,
		Key:      s.key,
		Selector: s.sel,
		Notifier: n,
	})

	return station.NewShard(station.ShardConfig{
		ID: id,
		Flow: flow.Config{
			PendingTimeout: cfg.Flow.PendingTimeout,
			TaggedTimeout:  cfg.Flow.TaggedTimeout,
			SweepInterval:  cfg.Flow.SweepInterval,
			MaxPending:     cfg.Flow.MaxPending,
		},
		Detector: det,
		Bridge:   forward.NewBridge(sink),
	}), nil
}

func notifyConfig(cfg *config.GlobalConfig) notify.Config {
	return notify.Config{Type: cfg.Notify.Type, Options: cfg.Notify.Options}
}
