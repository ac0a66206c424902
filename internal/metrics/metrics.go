// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsTotal counts packets per shard at each stage of the per-frame path
	PacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decoy_station_packets_total",
			Help: "Packets seen per processing stage",
		},
		[]string{"shard", "stage"},
	)

	// BytesTotal counts frame bytes, all traffic and port 443 only
	BytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decoy_station_bytes_total",
			Help: "Frame bytes seen",
		},
		[]string{"shard", "kind"},
	)

	// DecodeTotal counts tag decode attempts by outcome
	DecodeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decoy_station_decode_total",
			Help: "Tag decode attempts by outcome",
		},
		[]string{"shard", "result"},
	)

	// DecodeLatencySeconds measures one decode attempt, selection and publish included
	DecodeLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "decoy_station_decode_latency_seconds",
			Help:    "Latency of tag decode attempts in seconds",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1us to ~1s
		},
		[]string{"shard"},
	)

	// ErrorsTotal counts data-path failures; none of them stop a shard
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decoy_station_errors_total",
			Help: "Data-path errors by type",
		},
		[]string{"shard", "error_type"},
	)

	// FlowTableSize tracks the stored entries of each tracker namespace
	FlowTableSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "decoy_station_flow_table_size",
			Help: "Entries in the pending and tagged flow tables",
		},
		[]string{"shard", "namespace"},
	)

	// CaptureDropsTotal counts frames the kernel dropped before capture
	CaptureDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decoy_station_capture_drops_total",
			Help: "Frames dropped by the kernel ring",
		},
		[]string{"shard"},
	)
)

// Label values
const (
	StageFrames    = "frames"
	StageIPv4      = "ipv4"
	StageIPv6      = "ipv6"
	StageTCP       = "tcp"
	StageTLS       = "tls"
	StageSYN       = "syn"
	StageForwarded = "forwarded"

	KindAll = "all"
	KindTLS = "tls"

	ResultAttempt = "attempt"
	ResultTagged  = "tagged"
	ResultFault   = "fault"

	ErrorForward         = "forward"
	ErrorPublish         = "publish"
	ErrorSelect          = "select"
	ErrorPendingRejected = "pending_rejected"

	NamespacePending = "pending"
	NamespaceTagged  = "tagged"
)
