// Package capture defines how frames reach a shard.
package capture

import (
	"context"

	"firestige.xyz/decoystation/internal/core"
)

// Handler consumes one frame. raw.Data is only valid until Handler returns.
type Handler func(raw core.RawPacket)

// Capturer feeds frames to a handler, synchronously and in arrival order,
// until ctx is cancelled or the source is exhausted.
type Capturer interface {
	Capture(ctx context.Context, h Handler) error
	Stats() Stats
	Close() error
}

// Stats are cumulative capture counters.
type Stats struct {
	Received uint64
	Dropped  uint64 // dropped by the kernel before reaching us
}
