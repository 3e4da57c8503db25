// Package metrics exposes driver instrumentation as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"znp-host/internal/unpi"
	"znp-host/internal/znp"
)

const namespace = "znp"

// Metrics implements znp.Metrics on a Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	framesRx     *prometheus.CounterVec // type, subsystem
	framesTx     *prometheus.CounterVec // type, subsystem
	frameErrors  *prometheus.CounterVec // kind: checksum, framing, decode
	requests     *prometheus.CounterVec // command, outcome
	latency      *prometheus.HistogramVec
	queueFlushes prometheus.Counter

	queueDepth     prometheus.Gauge
	pendingWaiters prometheus.Gauge
}

var _ znp.Metrics = (*Metrics)(nil)

// New creates the driver metrics on reg. A nil reg gets a fresh registry
// that also carries the Go runtime and process collectors.
func New(reg *prometheus.Registry) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m := &Metrics{
		registry: reg,
		framesRx: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Frames received from the co-processor",
		}, []string{"type", "subsystem"}),
		framesTx: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames written to the co-processor",
		}, []string{"type", "subsystem"}),
		frameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_errors_total",
			Help:      "Inbound frames dropped, by reason",
		}, []string{"kind"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Completed requests by command and outcome",
		}, []string{"command", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from queueing a request to its response",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 6, 20},
		}, []string{"command"}),
		queueFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_flushed_requests_total",
			Help:      "Queued requests rejected by a reset",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Requests waiting for the channel",
		}),
		pendingWaiters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_waiters",
			Help:      "Registered indication waiters",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.framesRx, m.framesTx, m.frameErrors, m.requests, m.latency,
		m.queueFlushes, m.queueDepth, m.pendingWaiters,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) FrameReceived(t unpi.Type, sub unpi.Subsystem) {
	m.framesRx.WithLabelValues(t.String(), sub.String()).Inc()
}

func (m *Metrics) FrameSent(t unpi.Type, sub unpi.Subsystem) {
	m.framesTx.WithLabelValues(t.String(), sub.String()).Inc()
}

func (m *Metrics) FrameError(kind string) {
	m.frameErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) RequestDone(command, outcome string, elapsed time.Duration) {
	m.requests.WithLabelValues(command, outcome).Inc()
	m.latency.WithLabelValues(command).Observe(elapsed.Seconds())
}

func (m *Metrics) QueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) QueueFlushed(n int) {
	m.queueFlushes.Add(float64(n))
}

func (m *Metrics) PendingWaiters(n int) {
	m.pendingWaiters.Set(float64(n))
}
