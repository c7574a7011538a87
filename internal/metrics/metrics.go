package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminders_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reminders_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	notificationsScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminders_notifications_scheduled_total",
			Help: "Notification records created by type and channel",
		},
		[]string{"type", "channel"},
	)

	notificationsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminders_notifications_skipped_total",
			Help: "Candidate notifications rejected by the delivery gate, by error code",
		},
		[]string{"code"},
	)

	deliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminders_delivery_attempts_total",
			Help: "Delivery attempts by channel and outcome (sent, retryable, permanent)",
		},
		[]string{"channel", "outcome"},
	)

	deliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reminders_delivery_duration_seconds",
			Help:    "Time spent in a single channel send",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"channel"},
	)

	deliveryLag = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reminders_delivery_lag_seconds",
			Help:    "Time from scheduled fire time to successful send",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900, 3600},
		},
		[]string{"channel"},
	)

	terminalFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminders_terminal_failures_total",
			Help: "Notifications that failed permanently",
		},
		[]string{"channel"},
	)

	sweepClaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminders_sweep_claimed_total",
			Help: "Records claimed by sweeps, by source status",
		},
		[]string{"from"},
	)

	claimsLost = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reminders_claims_lost_total",
			Help: "Claims or updates lost to a concurrent worker",
		},
	)

	sweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reminders_sweep_duration_seconds",
			Help:    "Wall time of a full sweep",
			Buckets: []float64{.05, .1, .5, 1, 5, 10, 30, 60},
		},
	)

	circuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reminders_circuit_state",
			Help: "Gateway circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"gateway"},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reminders_idempotency_hits_total",
			Help: "Requests served from idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminders_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
		[]string{"route"},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reminders_db_connections_active",
			Help: "Active database connections",
		},
	)

	redisConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reminders_redis_connections_active",
			Help: "Active Redis connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordScheduled counts a created notification record.
func RecordScheduled(notificationType, channel string) {
	notificationsScheduled.WithLabelValues(notificationType, channel).Inc()
}

// RecordSkipped counts a gate rejection.
func RecordSkipped(code string) {
	notificationsSkipped.WithLabelValues(code).Inc()
}

// RecordAttempt records one delivery attempt.
func RecordAttempt(channel, outcome string, duration time.Duration) {
	deliveryAttempts.WithLabelValues(channel, outcome).Inc()
	deliveryDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// RecordDeliveryLag records how late a successful send was against its fire time.
func RecordDeliveryLag(channel string, lag time.Duration) {
	if lag < 0 {
		lag = 0
	}
	deliveryLag.WithLabelValues(channel).Observe(lag.Seconds())
}

func RecordTerminalFailure(channel string) {
	terminalFailures.WithLabelValues(channel).Inc()
}

func RecordClaimed(from string, n int) {
	sweepClaimed.WithLabelValues(from).Add(float64(n))
}

func RecordClaimLost() {
	claimsLost.Inc()
}

func RecordSweep(duration time.Duration) {
	sweepDuration.Observe(duration.Seconds())
}

// SetCircuitState publishes a breaker state for a gateway.
func SetCircuitState(gateway string, state int) {
	circuitState.WithLabelValues(gateway).Set(float64(state))
}

// RecordIdempotencyHit records a cache hit for idempotency
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(route string) {
	rateLimitRejections.WithLabelValues(route).Inc()
}

// SetDBConnections sets active database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// SetRedisConnections sets active Redis connection count
func SetRedisConnections(count int) {
	redisConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics.
// Paths are labelled with the chi route pattern to keep cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		RecordRequest(r.Method, path, wrapped.status, time.Since(start))
	})
}
