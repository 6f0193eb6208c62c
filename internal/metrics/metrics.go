package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSize       *prometheus.HistogramVec
	HTTPResponseSize      *prometheus.HistogramVec
	HTTPActiveConnections *prometheus.GaugeVec

	// Realtime slot pool
	RealtimeActiveSlots      prometheus.Gauge
	RealtimeCapacityExceeded prometheus.Counter
	RealtimeChannelErrors    prometheus.Counter
	LiveViewers              prometheus.Gauge
	DeliveriesStarted        *prometheus.CounterVec

	// Messaging
	MessagesSentTotal    *prometheus.CounterVec
	ReadReceiptsTotal    *prometheus.CounterVec
	RateLimitExceeded    *prometheus.CounterVec
	UnreadCountsDuration prometheus.Histogram
}

var (
	instance *Metrics
	once     sync.Once
)

// Initialize creates and registers all metrics on the default registry
func Initialize() *Metrics {
	once.Do(func() {
		instance = New(prometheus.DefaultRegisterer)
	})
	return instance
}

// Get returns the global metrics instance
func Get() *Metrics {
	return Initialize()
}

// New creates all metrics and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_size_bytes",
				Help:    "HTTP request body size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 7),
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response body size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 7),
			},
			[]string{"method", "path", "status"},
		),
		HTTPActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "http_active_connections",
				Help: "Number of in-flight HTTP requests",
			},
			[]string{"method", "path"},
		),

		RealtimeActiveSlots: factory.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_active_slots",
			Help: "Realtime conversation channels currently held",
		}),
		RealtimeCapacityExceeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "realtime_capacity_exceeded_total",
			Help: "Subscriptions refused because the slot pool was full",
		}),
		RealtimeChannelErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "realtime_channel_errors_total",
			Help: "Errors reported by open realtime channels",
		}),
		LiveViewers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "live_viewers",
			Help: "Websocket clients watching a conversation",
		}),
		DeliveriesStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deliveries_started_total",
				Help: "Conversation deliveries started by mode",
			},
			[]string{"mode"},
		),

		MessagesSentTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "friend_messages_sent_total",
				Help: "Friend messages sent by type",
			},
			[]string{"type"},
		),
		ReadReceiptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "read_receipts_total",
				Help: "Mark-read outcomes",
			},
			[]string{"result"},
		),
		RateLimitExceeded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_exceeded_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"path"},
		),
		UnreadCountsDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "unread_counts_duration_seconds",
			Help:    "Time to compute a user's unread counts",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
	}
}

// RealtimeRecorder adapts the slot pool metrics to the realtime manager
type RealtimeRecorder struct {
	m *Metrics
}

// Realtime returns the recorder for the realtime manager
func (m *Metrics) Realtime() *RealtimeRecorder {
	return &RealtimeRecorder{m: m}
}

func (r *RealtimeRecorder) SetActiveSlots(n int) {
	r.m.RealtimeActiveSlots.Set(float64(n))
}

func (r *RealtimeRecorder) CapacityExceeded() {
	r.m.RealtimeCapacityExceeded.Inc()
}

func (r *RealtimeRecorder) ChannelError() {
	r.m.RealtimeChannelErrors.Inc()
}

// LiveRecorder adapts viewer and delivery metrics to the websocket hub
type LiveRecorder struct {
	m *Metrics
}

// Live returns the recorder for the websocket hub
func (m *Metrics) Live() *LiveRecorder {
	return &LiveRecorder{m: m}
}

func (r *LiveRecorder) ViewerJoined() {
	r.m.LiveViewers.Inc()
}

func (r *LiveRecorder) ViewerLeft() {
	r.m.LiveViewers.Dec()
}

func (r *LiveRecorder) DeliveryStarted(mode string) {
	r.m.DeliveriesStarted.WithLabelValues(mode).Inc()
}
