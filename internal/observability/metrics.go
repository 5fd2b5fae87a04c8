package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the relay.
type Metrics struct {
	// --- Stream sessions ---
	SessionState      *prometheus.GaugeVec
	SessionConnects   *prometheus.CounterVec
	SessionReconnects *prometheus.CounterVec
	SessionsExhausted prometheus.Counter

	// --- Frames ---
	FramesReceived  *prometheus.CounterVec
	FramesDecoded   prometheus.Counter
	FramesDiscarded *prometheus.CounterVec

	// --- State ---
	VesselsTracked prometheus.Gauge

	// --- Snapshot ---
	SnapshotFlushes     prometheus.Counter
	SnapshotErrors      *prometheus.CounterVec
	SnapshotDuration    prometheus.Histogram
	SnapshotVessels     prometheus.Gauge
	SnapshotLastSuccess prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Stream sessions
		SessionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ais_session_state",
			Help: "Current session state per shard (see ingestion.SessionState)",
		}, []string{"shard"}),

		SessionConnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ais_session_connects_total",
			Help: "Successful stream connections per shard",
		}, []string{"shard"}),

		SessionReconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ais_session_reconnects_total",
			Help: "Reconnect attempts scheduled per shard",
		}, []string{"shard"}),

		SessionsExhausted: factory.NewCounter(prometheus.CounterOpts{
			Name: "ais_sessions_exhausted_total",
			Help: "Sessions that gave up after exhausting retries",
		}),

		// Frames
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ais_frames_received_total",
			Help: "Raw frames received per shard",
		}, []string{"shard"}),

		FramesDecoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "ais_frames_decoded_total",
			Help: "Position reports applied to the vessel store",
		}),

		FramesDiscarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ais_frames_discarded_total",
			Help: "Frames discarded by the decoder",
		}, []string{"reason"}),

		// State
		VesselsTracked: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ais_vessels_tracked",
			Help: "Vessels currently held in memory",
		}),

		// Snapshot
		SnapshotFlushes: factory.NewCounter(prometheus.CounterOpts{
			Name: "ais_snapshot_flushes_total",
			Help: "Successful snapshot flushes",
		}),

		SnapshotErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ais_snapshot_errors_total",
			Help: "Snapshot flush errors",
		}, []string{"stage"}),

		SnapshotDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ais_snapshot_flush_duration_seconds",
			Help:    "Load-merge-replace duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}),

		SnapshotVessels: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ais_snapshot_vessels",
			Help: "Vessels in the last written snapshot",
		}),

		SnapshotLastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ais_snapshot_last_success_timestamp_seconds",
			Help: "Unix time of the last successful flush",
		}),
	}
}
