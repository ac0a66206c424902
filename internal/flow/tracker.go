package flow

import (
	"time"

	"firestige.xyz/decoystation/internal/core"
)

// Config holds tracker timeouts and limits.
type Config struct {
	PendingTimeout time.Duration // idle lifetime of a flow awaiting its decode attempt (default 30s)
	TaggedTimeout  time.Duration // idle lifetime of a tagged identity (default 300s)
	SweepInterval  time.Duration // minimum spacing of full sweeps (default 1s)
	MaxPending     int           // 0 = unbounded
}

const (
	DefaultPendingTimeout = 30 * time.Second
	DefaultTaggedTimeout  = 300 * time.Second
	DefaultSweepInterval  = time.Second
)

// Tracker holds the pending and tagged namespaces of one shard.
//
// Pending is keyed by the full 5-tuple and admits flows on a bare SYN.
// Tagged is keyed by the reduced identity and is checked first on every
// packet. The two namespaces are independent.
//
// Tracker is not safe for concurrent use.
type Tracker struct {
	pending    *expiringSet[core.Flow]
	tagged     *expiringSet[core.FlowNoSrcPort]
	maxPending int

	sweepEvery time.Duration
	lastSweep  time.Time
}

// NewTracker creates a tracker, applying defaults for zero fields.
func NewTracker(cfg Config) *Tracker {
	if cfg.PendingTimeout <= 0 {
		cfg.PendingTimeout = DefaultPendingTimeout
	}
	if cfg.TaggedTimeout <= 0 {
		cfg.TaggedTimeout = DefaultTaggedTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	return &Tracker{
		pending:    newExpiringSet[core.Flow](cfg.PendingTimeout),
		tagged:     newExpiringSet[core.FlowNoSrcPort](cfg.TaggedTimeout),
		maxPending: cfg.MaxPending,
		sweepEvery: cfg.SweepInterval,
	}
}

// BeginTracking admits f into the pending namespace. A flow that is already
// pending only has its last-seen time refreshed. Returns true only when f was
// newly admitted; false also covers a refusal because the namespace is full.
func (t *Tracker) BeginTracking(f core.Flow, now time.Time) bool {
	if t.maxPending > 0 && t.pending.len() >= t.maxPending && !t.pending.contains(f, now) {
		t.pending.sweep(now)
		if t.pending.len() >= t.maxPending {
			return false
		}
	}
	return t.pending.touch(f, now)
}

// StopTracking removes f from pending. Removing an absent flow is a no-op.
func (t *Tracker) StopTracking(f core.Flow) {
	t.pending.remove(f)
}

// IsTracked reports whether f is pending. A hit refreshes the expiry, so a
// handshake that outlasts the pending timeout stays tracked while it has traffic.
func (t *Tracker) IsTracked(f core.Flow, now time.Time) bool {
	if !t.pending.contains(f, now) {
		return false
	}
	t.pending.touch(f, now)
	return true
}

// IsRegisteredDarkDecoy reports whether id is tagged. A hit refreshes the
// expiry: traffic keeps a tagged identity alive.
func (t *Tracker) IsRegisteredDarkDecoy(id core.FlowNoSrcPort, now time.Time) bool {
	if !t.tagged.contains(id, now) {
		return false
	}
	t.tagged.touch(id, now)
	return true
}

// MarkDarkDecoy inserts id into the tagged namespace or refreshes it.
func (t *Tracker) MarkDarkDecoy(id core.FlowNoSrcPort, now time.Time) {
	t.tagged.touch(id, now)
}

// Sweep removes expired entries from both namespaces.
func (t *Tracker) Sweep(now time.Time) (pending, tagged int) {
	t.lastSweep = now
	return t.pending.sweep(now), t.tagged.sweep(now)
}

// MaybeSweep runs Sweep if at least one sweep interval has passed since the
// previous one, and reports whether it did. Cheap enough to call on every frame.
func (t *Tracker) MaybeSweep(now time.Time) bool {
	if now.Sub(t.lastSweep) < t.sweepEvery {
		return false
	}
	t.Sweep(now)
	return true
}

// Len returns the number of stored entries, expired ones included until swept.
func (t *Tracker) Len() (pending, tagged int) {
	return t.pending.len(), t.tagged.len()
}
