// Package metrics holds the Prometheus collectors shared by the API and the worker.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomeOK       = "ok"
	OutcomeDenied   = "denied"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

var (
	reqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	reqTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "HTTP requests"},
		[]string{"method", "path", "status"},
	)
	membershipOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "membership_operations_total", Help: "Membership mutations by operation and outcome"},
		[]string{"op", "outcome"},
	)
	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "submissions_total", Help: "Public submissions by outcome"},
		[]string{"outcome"},
	)
	candidatesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "candidates_created_total", Help: "Candidates created by first submission"},
	)
	exportJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "export_jobs_total", Help: "Export jobs processed by outcome"},
		[]string{"outcome"},
	)
	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "realtime_connections", Help: "Open websocket connections"},
	)
)

func init() {
	prometheus.MustRegister(reqDuration, reqTotal, membershipOps, submissions, candidatesCreated, exportJobs, wsConnections)
}

// Middleware records basic HTTP metrics. Paths are route templates to keep cardinality bounded.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		reqDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
		reqTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}

// Handler serves the Prometheus exposition format.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// MembershipOp counts one membership operation.
func MembershipOp(op, outcome string) {
	membershipOps.WithLabelValues(op, outcome).Inc()
}

// Submission counts one submission attempt.
func Submission(outcome string) {
	submissions.WithLabelValues(outcome).Inc()
}

// CandidateCreated counts a newly created candidate.
func CandidateCreated() {
	candidatesCreated.Inc()
}

// ExportJob counts one processed export job.
func ExportJob(outcome string) {
	exportJobs.WithLabelValues(outcome).Inc()
}

// ConnectionOpened and ConnectionClosed track live websocket clients.
func ConnectionOpened() { wsConnections.Inc() }

func ConnectionClosed() { wsConnections.Dec() }
