// Package station runs the per-core packet path: one shard per worker, each
// owning its flow tables, detector, forwarding bridge and counters.
package station

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"firestige.xyz/decoystation/internal/core"
	"firestige.xyz/decoystation/internal/core/decoder"
	"firestige.xyz/decoystation/internal/detector"
	"firestige.xyz/decoystation/internal/flow"
	"firestige.xyz/decoystation/internal/forward"
	"firestige.xyz/decoystation/internal/metrics"
)

// ShardConfig wires one shard. Everything in it except the flow settings is
// exclusively owned by the shard.
type ShardConfig struct {
	ID       int
	Flow     flow.Config
	Detector *detector.Detector
	Bridge   *forward.Bridge
}

// Shard is the per-core context. All methods except Counters must be called
// from the shard's own worker.
type Shard struct {
	id       int
	tracker  *flow.Tracker
	detector *detector.Detector
	bridge   *forward.Bridge
	counters Counters

	decodeLatency prometheus.Observer
}

func NewShard(cfg ShardConfig) *Shard {
	return &Shard{
		id:            cfg.ID,
		tracker:       flow.NewTracker(cfg.Flow),
		detector:      cfg.Detector,
		bridge:        cfg.Bridge,
		decodeLatency: metrics.DecodeLatencySeconds.WithLabelValues(strconv.Itoa(cfg.ID)),
	}
}

// ID returns the shard index.
func (s *Shard) ID() int { return s.id }

// Counters may be read from any goroutine.
func (s *Shard) Counters() *Counters { return &s.counters }

// ProcessFrame is the ingress call, made once per captured frame. raw.Data is
// not retained. The capture timestamp drives flow expiry; frames without one
// use the wall clock.
func (s *Shard) ProcessFrame(raw core.RawPacket) {
	now := raw.Timestamp
	if now.IsZero() {
		now = time.Now()
	}
	frameLen := uint64(len(raw.Data))

	s.counters.Frames.Add(1)
	s.counters.Bytes.Add(frameLen)

	if s.tracker.MaybeSweep(now) {
		pending, tagged := s.tracker.Len()
		s.counters.PendingFlows.Store(int64(pending))
		s.counters.TaggedFlows.Store(int64(tagged))
	}

	pkt, ok := decoder.Dissect(raw.Data)
	if !ok {
		return
	}
	switch pkt.Version() {
	case decoder.V4:
		s.counters.IPv4.Add(1)
	case decoder.V6:
		s.counters.IPv6.Add(1)
	}

	if pkt.Protocol() != decoder.ProtocolTCP {
		return
	}
	tcp, ok := pkt.TCP()
	if !ok {
		return
	}
	s.counters.TCP.Add(1)

	if tcp.DstPort() != flow.TLSPort {
		return
	}
	s.counters.TLSPackets.Add(1)
	s.counters.TLSBytes.Add(frameLen)

	s.processTLS(pkt, tcp, now)
}

// processTLS applies the flow state machine to one packet bound for port 443.
// Tagged identities are checked before anything else.
func (s *Shard) processTLS(pkt decoder.IPPacket, tcp decoder.TCPSegment, now time.Time) {
	f := flow.NewFlow(pkt, tcp)

	if s.tracker.IsRegisteredDarkDecoy(flow.FromFlow(f), now) {
		s.forward(pkt.Bytes(), f)
		return
	}

	switch {
	case tcp.IsBareSYN():
		s.counters.SYNs.Add(1)
		if s.tracker.BeginTracking(f, now) {
			s.counters.PendingAdmitted.Add(1)
		} else if !s.tracker.IsTracked(f, now) {
			s.counters.PendingRejected.Add(1)
		}
		return
	case tcp.IsTeardown():
		s.tracker.StopTracking(f)
		return
	}

	if !s.tracker.IsTracked(f, now) {
		return
	}

	payload := tcp.Payload()
	if !detector.IsApplicationData(payload) {
		return
	}

	// One attempt per flow: the flow leaves pending whatever the outcome.
	s.counters.DecodeAttempts.Add(1)
	start := time.Now()
	res := s.detector.Check(f, payload)
	s.decodeLatency.Observe(time.Since(start).Seconds())
	s.tracker.StopTracking(f)

	switch {
	case res.Fault:
		s.counters.DecodeFaults.Add(1)
	case res.SelectErr != nil:
		s.counters.SelectErrors.Add(1)
	}
	if res.PublishErr != nil {
		s.counters.PublishErrors.Add(1)
	}
	if res.Tagged {
		s.counters.Tags.Add(1)
		s.tracker.MarkDarkDecoy(res.ID, now)
	}
}

func (s *Shard) forward(ip []byte, f core.Flow) {
	if err := s.bridge.Forward(ip); err != nil {
		s.counters.ForwardErrors.Add(1)
		slog.Warn("forward to tun failed", "shard", s.id, "flow", f.String(), "error", err)
		return
	}
	s.counters.Forwarded.Add(1)
}

// Close releases the shard's notifier and sink.
func (s *Shard) Close() error {
	var first error
	if s.detector != nil {
		first = s.detector.Close()
	}
	if s.bridge != nil {
		if err := s.bridge.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
