// Package metrics holds the Prometheus collectors shared by the tracker,
// the HTTP server and the poller.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PixelFetches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailtracker_pixel_fetches_total",
		Help: "Pixel fetches served, regardless of classification",
	})

	// Decisions is partitioned by classification decision and reason.
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailtracker_classifications_total",
		Help: "Pixel fetches by classification decision",
	}, []string{"decision", "reason"})

	ClassifierPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailtracker_classifier_panics_total",
		Help: "Classification failures recovered while serving the pixel",
	})

	HistoryEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mailtracker_history_entries",
		Help: "Tracking ids currently held in the access history",
	})

	ActivePollers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mailtracker_active_pollers",
		Help: "Polling instances currently active",
	})

	PollOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailtracker_poll_outcomes_total",
		Help: "Poller terminal transitions",
	}, []string{"outcome"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailtracker_notifications_total",
		Help: "Open notifications raised, by result",
	}, []string{"result"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests processed",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latencies in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Middleware records request counts and latencies. Route labels use the
// matched template so tracking ids don't blow up cardinality.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		labels := prometheus.Labels{
			"method": c.Request.Method,
			"route":  route,
			"status": strconv.Itoa(c.Writer.Status()),
		}
		httpRequestsTotal.With(labels).Inc()
		httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
