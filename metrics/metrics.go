package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "questline"

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests received",
	}, []string{"method", "path", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	httpInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "http_in_flight_requests",
		Help:      "Current number of in-flight HTTP requests",
	})

	transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "quest_transitions_total",
		Help:      "Committed quest transitions by kind",
	}, []string{"kind"})

	attempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "quest_attempts_total",
		Help:      "Activation, solve and hint attempts by outcome",
	}, []string{"action", "outcome"})

	conflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "quest_write_conflicts_total",
		Help:      "Quest writes rejected by the version check",
	})

	messages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_total",
		Help:      "SMS and voice traffic by direction and outcome",
	}, []string{"direction", "outcome"})

	monitors = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "monitor_connections",
		Help:      "Live monitor WebSocket connections",
	})
)

// Middleware records request metrics. The path label is the route pattern
// so quest and puzzle names do not explode cardinality.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{
			"method": c.Request.Method,
			"path":   path,
			"status": strconv.Itoa(c.Writer.Status()),
		}
		httpRequests.With(labels).Inc()
		httpLatency.With(labels).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the default Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Transition counts a committed transition.
func Transition(kind string) { transitions.WithLabelValues(kind).Inc() }

// Attempt counts an attempt against a quest.
func Attempt(action, outcome string) { attempts.WithLabelValues(action, outcome).Inc() }

// Conflict counts a write lost to a concurrent update.
func Conflict() { conflicts.Inc() }

// Message counts inbound or outbound traffic.
func Message(direction, outcome string) { messages.WithLabelValues(direction, outcome).Inc() }

// Monitors sets the live monitor gauge.
func Monitors(n int) { monitors.Set(float64(n)) }
