package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveCalls     prometheus.Gauge
	CallEvents      *prometheus.CounterVec
	CallEnds        *prometheus.CounterVec
	RelayFrames     *prometheus.CounterVec
	BargeIns        prometheus.Counter
	ToolInvocations *prometheus.CounterVec
	RealtimeErrors  *prometheus.CounterVec
	ResponseFailed  prometheus.Counter
	ReadyLatency    prometheus.Histogram
	OutboundDials   *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveCalls: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Number of calls currently bridged.",
		}),
		CallEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_events_total",
			Help:      "Call lifecycle events by type.",
		}, []string{"event"}),
		CallEnds: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_ends_total",
			Help:      "Ended calls by teardown reason.",
		}, []string{"reason"}),
		RelayFrames: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_frames_total",
			Help:      "Audio frames by direction and outcome.",
		}, []string{"direction", "outcome"}),
		BargeIns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Caller interruptions that cleared telephony playback.",
		}),
		ToolInvocations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "Tool invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
		RealtimeErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_errors_total",
			Help:      "Error events reported by the realtime backend.",
		}, []string{"code"}),
		ResponseFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_failed_total",
			Help:      "Realtime responses that ended with status failed.",
		}),
		ReadyLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ready_latency_ms",
			Help:      "Time from call accept until both legs are ready, in milliseconds.",
			Buckets:   []float64{100, 250, 500, 750, 1000, 1500, 2500, 5000},
		}),
		OutboundDials: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_dials_total",
			Help:      "Outbound call attempts by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) ObserveReadyLatency(d time.Duration) {
	m.ReadyLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveFrame(direction, outcome string) {
	m.RelayFrames.WithLabelValues(direction, outcome).Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
