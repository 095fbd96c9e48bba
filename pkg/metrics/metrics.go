package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NotificationsScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_scheduled_total",
			Help: "Pending notifications created by rule expansion",
		},
		[]string{"trigger"},
	)

	NotificationsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_suppressed_total",
			Help: "Rule expansions skipped because of an active dedup fingerprint",
		},
		[]string{"trigger"},
	)

	NotificationsCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifications_cancelled_total",
			Help: "Pending notifications cancelled by a superseding trigger",
		},
	)

	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_delivery_attempts_total",
			Help: "Push delivery attempts by outcome and error code",
		},
		[]string{"outcome", "code"}, // outcome: success, failure
	)

	DeadLetters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_dead_letters_total",
			Help: "Notifications moved to the dead-letter set",
		},
		[]string{"code"},
	)

	DeadLetterReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_dead_letter_replays_total",
			Help: "Dead-lettered notifications manually re-armed",
		},
	)

	Retries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_retries_total",
			Help: "Failed notifications re-armed with backoff",
		},
	)

	PollCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatcher_poll_cycle_duration_seconds",
			Help:    "Duration of dispatcher poll cycles",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
	)

	PollCyclesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatcher_poll_cycles_skipped_total",
			Help: "Ticks skipped because the previous cycle was still running",
		},
	)

	SweptNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_swept_notifications_total",
			Help: "Stuck notifications recovered by the sweeper",
		},
		[]string{"status"},
	)

	PushLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "push_send_latency_ms",
			Help:    "Push transport latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"status"},
	)

	MirrorDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_mirror_dropped_total",
			Help: "Lifecycle events not mirrored to the broker",
		},
		[]string{"reason"}, // reason: queue_full, publish_error
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation"},
	)

	SlowQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_queries_total",
			Help: "Queries slower than the configured threshold",
		},
		[]string{"operation"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path", "status"},
	)
)

func IncrementScheduled(trigger string) {
	NotificationsScheduled.WithLabelValues(trigger).Inc()
}

func IncrementSuppressed(trigger string) {
	NotificationsSuppressed.WithLabelValues(trigger).Inc()
}

func AddCancelled(n int) {
	NotificationsCancelled.Add(float64(n))
}

// RecordDeliveryAttempt counts one attempt; code is "" on success.
func RecordDeliveryAttempt(outcome, code string) {
	DeliveryAttempts.WithLabelValues(outcome, code).Inc()
}

func IncrementDeadLetter(code string) {
	DeadLetters.WithLabelValues(code).Inc()
}

func IncrementReplay() {
	DeadLetterReplays.Inc()
}

func IncrementRetry() {
	Retries.Inc()
}

func RecordPollCycle(duration time.Duration) {
	PollCycleDuration.Observe(duration.Seconds())
}

func IncrementSkippedCycle() {
	PollCyclesSkipped.Inc()
}

func AddSwept(status string, n int) {
	SweptNotifications.WithLabelValues(status).Add(float64(n))
}

func RecordPushLatency(status string, duration time.Duration) {
	PushLatency.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func IncrementMirrorDropped(reason string) {
	MirrorDropped.WithLabelValues(reason).Inc()
}

func RecordDBQueryDuration(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func IncrementSlowQuery(operation string) {
	SlowQueries.WithLabelValues(operation).Inc()
}

func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
