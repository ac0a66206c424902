package station

import "sync/atomic"

// Counters is one shard's statistics for the current reporting period.
// The shard only adds; the reporter drains by swapping each field to zero.
type Counters struct {
	Frames atomic.Uint64
	Bytes  atomic.Uint64

	IPv4 atomic.Uint64
	IPv6 atomic.Uint64
	TCP  atomic.Uint64

	TLSPackets atomic.Uint64 // TCP to port 443
	TLSBytes   atomic.Uint64
	SYNs       atomic.Uint64 // bare SYNs to port 443

	PendingAdmitted atomic.Uint64
	PendingRejected atomic.Uint64

	DecodeAttempts atomic.Uint64
	DecodeFaults   atomic.Uint64
	Tags           atomic.Uint64
	SelectErrors   atomic.Uint64
	PublishErrors  atomic.Uint64

	Forwarded     atomic.Uint64
	ForwardErrors atomic.Uint64

	// Gauges, stored rather than drained.
	PendingFlows atomic.Int64
	TaggedFlows  atomic.Int64
}

// Snapshot is a drained copy of Counters.
type Snapshot struct {
	Frames, Bytes                    uint64
	IPv4, IPv6, TCP                  uint64
	TLSPackets, TLSBytes, SYNs       uint64
	PendingAdmitted, PendingRejected uint64
	DecodeAttempts, DecodeFaults     uint64
	Tags, SelectErrors               uint64
	PublishErrors                    uint64
	Forwarded, ForwardErrors         uint64

	PendingFlows, TaggedFlows int64
}

// Drain returns the period's values and resets the counters. Gauges are
// read, not reset.
func (c *Counters) Drain() Snapshot {
	return Snapshot{
		Frames:          c.Frames.Swap(0),
		Bytes:           c.Bytes.Swap(0),
		IPv4:            c.IPv4.Swap(0),
		IPv6:            c.IPv6.Swap(0),
		TCP:             c.TCP.Swap(0),
		TLSPackets:      c.TLSPackets.Swap(0),
		TLSBytes:        c.TLSBytes.Swap(0),
		SYNs:            c.SYNs.Swap(0),
		PendingAdmitted: c.PendingAdmitted.Swap(0),
		PendingRejected: c.PendingRejected.Swap(0),
		DecodeAttempts:  c.DecodeAttempts.Swap(0),
		DecodeFaults:    c.DecodeFaults.Swap(0),
		Tags:            c.Tags.Swap(0),
		SelectErrors:    c.SelectErrors.Swap(0),
		PublishErrors:   c.PublishErrors.Swap(0),
		Forwarded:       c.Forwarded.Swap(0),
		ForwardErrors:   c.ForwardErrors.Swap(0),
		PendingFlows:    c.PendingFlows.Load(),
		TaggedFlows:     c.TaggedFlows.Load(),
	}
}

// Add accumulates o into s.
func (s *Snapshot) Add(o Snapshot) {
	s.Frames += o.Frames
	s.Bytes += o.Bytes
	s.IPv4 += o.IPv4
	s.IPv6 += o.IPv6
	s.TCP += o.TCP
	s.TLSPackets += o.TLSPackets
	s.TLSBytes += o.TLSBytes
	s.SYNs += o.SYNs
	s.PendingAdmitted += o.PendingAdmitted
	s.PendingRejected += o.PendingRejected
	s.DecodeAttempts += o.DecodeAttempts
	s.DecodeFaults += o.DecodeFaults
	s.Tags += o.Tags
	s.SelectErrors += o.SelectErrors
	s.PublishErrors += o.PublishErrors
	s.Forwarded += o.Forwarded
	s.ForwardErrors += o.ForwardErrors
	s.PendingFlows += o.PendingFlows
	s.TaggedFlows += o.TaggedFlows
}
