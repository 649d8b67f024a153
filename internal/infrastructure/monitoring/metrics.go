package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections *prometheus.GaugeVec
	WSMessages    *prometheus.CounterVec
	WSDropped     *prometheus.CounterVec

	// Broadcast bus metrics
	RoomsActive    prometheus.Gauge
	BroadcastsSent prometheus.Counter

	// Session registry metrics
	SessionsActive  prometheus.Gauge
	SessionsExpired prometheus.Counter

	// Edit lock metrics
	LocksHeld         prometheus.Gauge
	LockGrants        prometheus.Counter
	LockDenials       prometheus.Counter
	LockForceReleases prometheus.Counter

	// Terminal metrics
	PTYSessionsActive prometheus.Gauge
	PTYSpawned        prometheus.Counter
	PTYViewers        prometheus.Gauge

	// Store metrics
	StoreQueueWait prometheus.Histogram
	StoreTimeouts  prometheus.Counter

	// Alert metrics
	AlertsAppended prometheus.Counter

	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warroom_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warroom_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		WSConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "warroom_ws_connections",
				Help: "Open websocket connections per channel",
			},
			[]string{"channel"},
		),
		WSMessages: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warroom_ws_messages_total",
				Help: "Websocket messages processed",
			},
			[]string{"channel", "type"},
		),
		WSDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warroom_ws_dropped_total",
				Help: "Websocket frames dropped by the governor",
			},
			[]string{"channel", "reason"},
		),

		RoomsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "warroom_rooms_active",
				Help: "Rooms with at least one live sync connection",
			},
		),
		BroadcastsSent: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "warroom_broadcasts_total",
				Help: "Messages fanned out by the broadcast bus",
			},
		),

		SessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "warroom_sessions_active",
				Help: "Live session tokens in the registry",
			},
		),
		SessionsExpired: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "warroom_sessions_expired_total",
				Help: "Session tokens evicted by TTL",
			},
		),

		LocksHeld: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "warroom_edit_locks_held",
				Help: "Edit locks currently held",
			},
		),
		LockGrants: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "warroom_edit_lock_grants_total",
				Help: "Edit lock requests granted",
			},
		),
		LockDenials: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "warroom_edit_lock_denials_total",
				Help: "Edit lock requests denied",
			},
		),
		LockForceReleases: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "warroom_edit_lock_force_releases_total",
				Help: "Edit locks force-released after TTL expiry",
			},
		),

		PTYSessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "warroom_pty_sessions_active",
				Help: "Backing PTY processes currently running",
			},
		),
		PTYSpawned: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "warroom_pty_spawned_total",
				Help: "PTY processes spawned",
			},
		),
		PTYViewers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "warroom_pty_viewers",
				Help: "Viewer sockets attached to PTY sessions",
			},
		),

		StoreQueueWait: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "warroom_store_queue_wait_seconds",
				Help:    "Time spent waiting for a store key queue slot",
				Buckets: []float64{.0001, .001, .01, .1, 1, 5, 30},
			},
		),
		StoreTimeouts: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "warroom_store_timeouts_total",
				Help: "Store operations that timed out waiting for a key",
			},
		),

		AlertsAppended: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "warroom_alerts_appended_total",
				Help: "Alerts appended to room alert logs",
			},
		),

		Uptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "warroom_uptime_seconds",
				Help: "Process uptime in seconds",
			},
		),
	}

	go m.trackUptime()

	return m
}

func (m *Metrics) trackUptime() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordWSMessage records a processed websocket message.
func (m *Metrics) RecordWSMessage(channel, msgType string) {
	m.WSMessages.WithLabelValues(channel, msgType).Inc()
}

// RecordWSDrop records a frame dropped by the governor.
func (m *Metrics) RecordWSDrop(channel, reason string) {
	m.WSDropped.WithLabelValues(channel, reason).Inc()
}

// RecordStoreWait records time spent queued for a store key.
func (m *Metrics) RecordStoreWait(d time.Duration) {
	m.StoreQueueWait.Observe(d.Seconds())
}

// IncStoreTimeout records a store operation that gave up waiting.
func (m *Metrics) IncStoreTimeout() {
	m.StoreTimeouts.Inc()
}
