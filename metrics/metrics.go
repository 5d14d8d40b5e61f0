// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bbspoints"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	likeToggles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "likes",
			Name:      "toggles_total",
			Help:      "Like toggles by entity type, direction and whether membership changed.",
		},
		[]string{"entity_type", "liked", "applied"},
	)

	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "published_total",
			Help:      "Events handed to the broker, by routing key and result.",
		},
		[]string{"routing_key", "result"},
	)

	eventsConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "consumed_total",
			Help:      "Deliveries settled by consumers, by routing key and outcome.",
		},
		[]string{"routing_key", "outcome"},
	)

	brokerConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "connected",
			Help:      "1 while the broker session holds an open connection.",
		},
	)

	brokerReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "reconnect_attempts_total",
			Help:      "Broker dial attempts made by the reconnect supervisor.",
		},
	)

	leaderboardDivergence = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "points",
			Name:      "leaderboard_increment_failures_total",
			Help:      "Ledger entries written whose leaderboard increment failed.",
		},
	)

	driftUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "points",
			Name:      "drift_users",
			Help:      "Users whose leaderboard score differs from their ledger total at the last audit.",
		},
	)

	checkins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkin",
			Name:      "total",
			Help:      "Check-ins recorded, labelled by whether a milestone bonus was paid.",
		},
		[]string{"milestone"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequests,
		httpDuration,
		likeToggles,
		eventsPublished,
		eventsConsumed,
		brokerConnected,
		brokerReconnects,
		leaderboardDivergence,
		driftUsers,
		checkins,
	)
}

// Handler exposes the registry over HTTP.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentGin records request counts and latency keyed by the matched route.
func InstrumentGin() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// RecordToggle counts one like toggle.
func RecordToggle(entityType string, liked, applied bool) {
	likeToggles.WithLabelValues(entityType, strconv.FormatBool(liked), strconv.FormatBool(applied)).Inc()
}

// RecordPublish counts one publish attempt.
func RecordPublish(routingKey string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	eventsPublished.WithLabelValues(routingKey, result).Inc()
}

// RecordConsume counts one settled delivery.
func RecordConsume(routingKey, outcome string) {
	eventsConsumed.WithLabelValues(routingKey, outcome).Inc()
}

// SetBrokerConnected flips the connection gauge.
func SetBrokerConnected(up bool) {
	if up {
		brokerConnected.Set(1)
		return
	}
	brokerConnected.Set(0)
}

// RecordReconnectAttempt counts one dial attempt.
func RecordReconnectAttempt() {
	brokerReconnects.Inc()
}

// RecordLeaderboardDivergence counts a ledger write whose leaderboard increment failed.
func RecordLeaderboardDivergence() {
	leaderboardDivergence.Inc()
}

// SetDriftUsers publishes the result of the latest audit.
func SetDriftUsers(n int) {
	driftUsers.Set(float64(n))
}

// RecordCheckin counts a check-in.
func RecordCheckin(milestone bool) {
	checkins.WithLabelValues(strconv.FormatBool(milestone)).Inc()
}
