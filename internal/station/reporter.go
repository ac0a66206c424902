package station

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"firestige.xyz/decoystation/internal/capture"
	"firestige.xyz/decoystation/internal/metrics"
)

// DefaultStatsInterval is the reporting period.
const DefaultStatsInterval = time.Second

// Reporter drains every shard on a fixed cadence, logs one aggregate line
// and feeds the drained values to the Prometheus counters.
type Reporter struct {
	shards   []*Shard
	sources  []capture.Capturer // aligned with shards, entries may be nil
	interval time.Duration

	lastDrops []uint64
	total     Snapshot // since start
}

// NewReporter creates a reporter. sources may be nil.
func NewReporter(shards []*Shard, sources []capture.Capturer, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = DefaultStatsInterval
	}
	return &Reporter{
		shards:    shards,
		sources:   sources,
		interval:  interval,
		lastDrops: make([]uint64, len(shards)),
	}
}

// Run reports until ctx is cancelled, then reports once more so nothing
// counted is lost.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Report(r.interval)
			return
		case <-ticker.C:
			r.Report(r.interval)
		}
	}
}

// Report drains all shards once and returns the aggregate of the period.
func (r *Reporter) Report(period time.Duration) Snapshot {
	var agg Snapshot
	var drops uint64

	for i, sh := range r.shards {
		snap := sh.Counters().Drain()
		agg.Add(snap)
		r.export(sh.ID(), snap)

		if i < len(r.sources) && r.sources[i] != nil {
			d := r.sources[i].Stats().Dropped
			if d >= r.lastDrops[i] {
				delta := d - r.lastDrops[i]
				drops += delta
				metrics.CaptureDropsTotal.WithLabelValues(strconv.Itoa(sh.ID())).Add(float64(delta))
			}
			r.lastDrops[i] = d
		}
	}
	r.total.Add(agg)
	r.total.PendingFlows, r.total.TaggedFlows = agg.PendingFlows, agg.TaggedFlows

	secs := period.Seconds()
	if secs <= 0 {
		secs = 1
	}
	slog.Info("stats",
		"frames", agg.Frames,
		"mbps", float64(agg.Bytes)*8/secs/1e6,
		"ipv4", agg.IPv4,
		"ipv6", agg.IPv6,
		"tcp", agg.TCP,
		"tls", agg.TLSPackets,
		"tls_mbps", float64(agg.TLSBytes)*8/secs/1e6,
		"syns", agg.SYNs,
		"decode_attempts", agg.DecodeAttempts,
		"tags", agg.Tags,
		"forwarded", agg.Forwarded,
		"forward_errors", agg.ForwardErrors,
		"pending", agg.PendingFlows,
		"tagged", agg.TaggedFlows,
		"capture_drops", drops,
	)
	return agg
}

// Total returns everything reported since start.
func (r *Reporter) Total() Snapshot { return r.total }

func (r *Reporter) export(id int, s Snapshot) {
	shard := strconv.Itoa(id)

	add := func(stage string, v uint64) {
		if v > 0 {
			metrics.PacketsTotal.WithLabelValues(shard, stage).Add(float64(v))
		}
	}
	add(metrics.StageFrames, s.Frames)
	add(metrics.StageIPv4, s.IPv4)
	add(metrics.StageIPv6, s.IPv6)
	add(metrics.StageTCP, s.TCP)
	add(metrics.StageTLS, s.TLSPackets)
	add(metrics.StageSYN, s.SYNs)
	add(metrics.StageForwarded, s.Forwarded)

	metrics.BytesTotal.WithLabelValues(shard, metrics.KindAll).Add(float64(s.Bytes))
	metrics.BytesTotal.WithLabelValues(shard, metrics.KindTLS).Add(float64(s.TLSBytes))

	metrics.DecodeTotal.WithLabelValues(shard, metrics.ResultAttempt).Add(float64(s.DecodeAttempts))
	metrics.DecodeTotal.WithLabelValues(shard, metrics.ResultTagged).Add(float64(s.Tags))
	metrics.DecodeTotal.WithLabelValues(shard, metrics.ResultFault).Add(float64(s.DecodeFaults))

	metrics.ErrorsTotal.WithLabelValues(shard, metrics.ErrorForward).Add(float64(s.ForwardErrors))
	metrics.ErrorsTotal.WithLabelValues(shard, metrics.ErrorPublish).Add(float64(s.PublishErrors))
	metrics.ErrorsTotal.WithLabelValues(shard, metrics.ErrorSelect).Add(float64(s.SelectErrors))
	metrics.ErrorsTotal.WithLabelValues(shard, metrics.ErrorPendingRejected).Add(float64(s.PendingRejected))

	metrics.FlowTableSize.WithLabelValues(shard, metrics.NamespacePending).Set(float64(s.PendingFlows))
	metrics.FlowTableSize.WithLabelValues(shard, metrics.NamespaceTagged).Set(float64(s.TaggedFlows))
}
