package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for drip
type Metrics struct {
	// Dispatch counters
	MessagesSentTotal   *prometheus.CounterVec
	MessagesFailedTotal *prometheus.CounterVec
	ThrottledTotal      *prometheus.CounterVec
	TicksTotal          *prometheus.CounterVec

	// Gateway
	GatewayRequestDurationSeconds *prometheus.HistogramVec

	// Queue gauges
	QueueSize prometheus.Gauge

	// Campaign lifecycle
	CampaignsLaunchedTotal prometheus.Counter
	EventsEnqueuedTotal    *prometheus.CounterVec

	// Inbound
	RepliesCorrelatedTotal prometheus.Counter
	InboundDuplicatesTotal prometheus.Counter

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds prometheus.Gauge
	Goroutines    prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		MessagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drip_messages_sent_total",
				Help: "Total number of messages accepted by the gateway",
			},
			[]string{"kind"},
		),
		MessagesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drip_messages_failed_total",
				Help: "Total number of send events marked failed",
			},
			[]string{"reason"},
		),
		ThrottledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drip_throttled_total",
				Help: "Total number of send attempts denied by the rate governor",
			},
			[]string{"gate"},
		),
		TicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drip_dispatcher_ticks_total",
				Help: "Total number of dispatcher ticks by outcome",
			},
			[]string{"outcome"},
		),

		GatewayRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "drip_gateway_request_duration_seconds",
				Help:    "Messaging gateway request duration in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
			},
			[]string{"endpoint", "outcome"},
		),

		QueueSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "drip_queue_size",
				Help: "Number of queued send events",
			},
		),

		CampaignsLaunchedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "drip_campaigns_launched_total",
				Help: "Total number of campaign launches",
			},
		),
		EventsEnqueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drip_events_enqueued_total",
				Help: "Total number of send events enqueued by launches",
			},
			[]string{"outcome"},
		),

		RepliesCorrelatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "drip_replies_correlated_total",
				Help: "Total number of inbound replies attributed to a send",
			},
		),
		InboundDuplicatesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "drip_inbound_duplicates_total",
				Help: "Total number of inbound messages ignored as duplicates",
			},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drip_api_requests_total",
				Help: "Total number of HTTP API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "drip_api_request_duration_seconds",
				Help:    "HTTP API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drip_api_errors_total",
				Help: "Total number of HTTP API errors",
			},
			[]string{"error_type"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "drip_uptime_seconds",
				Help: "Process uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "drip_goroutines",
				Help: "Number of running goroutines",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.MessagesSentTotal,
		m.MessagesFailedTotal,
		m.ThrottledTotal,
		m.TicksTotal,
		m.GatewayRequestDurationSeconds,
		m.QueueSize,
		m.CampaignsLaunchedTotal,
		m.EventsEnqueuedTotal,
		m.RepliesCorrelatedTotal,
		m.InboundDuplicatesTotal,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncMessagesSent increments the sent message counter
func IncMessagesSent(kind string) {
	if m := Global(); m != nil {
		m.MessagesSentTotal.WithLabelValues(kind).Inc()
	}
}

// IncMessagesFailed increments the failed message counter
func IncMessagesFailed(reason string) {
	if m := Global(); m != nil {
		m.MessagesFailedTotal.WithLabelValues(reason).Inc()
	}
}

// IncThrottled increments the governor denial counter
func IncThrottled(gate string) {
	if m := Global(); m != nil {
		m.ThrottledTotal.WithLabelValues(gate).Inc()
	}
}

// IncTick records a dispatcher tick outcome
func IncTick(outcome string) {
	if m := Global(); m != nil {
		m.TicksTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveGatewayRequest records a gateway call
func ObserveGatewayRequest(endpoint, outcome string, d time.Duration) {
	if m := Global(); m != nil {
		m.GatewayRequestDurationSeconds.WithLabelValues(endpoint, outcome).Observe(d.Seconds())
	}
}

// SetQueueSize sets the queued events gauge
func SetQueueSize(n int) {
	if m := Global(); m != nil {
		m.QueueSize.Set(float64(n))
	}
}

// IncCampaignLaunched records a launch and its enqueue outcomes
func IncCampaignLaunched(queued, skipped int) {
	if m := Global(); m != nil {
		m.CampaignsLaunchedTotal.Inc()
		m.EventsEnqueuedTotal.WithLabelValues("queued").Add(float64(queued))
		m.EventsEnqueuedTotal.WithLabelValues("skipped").Add(float64(skipped))
	}
}

// IncRepliesCorrelated increments the reply attribution counter
func IncRepliesCorrelated() {
	if m := Global(); m != nil {
		m.RepliesCorrelatedTotal.Inc()
	}
}

// IncInboundDuplicates increments the duplicate inbound counter
func IncInboundDuplicates() {
	if m := Global(); m != nil {
		m.InboundDuplicatesTotal.Inc()
	}
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	if m := Global(); m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
