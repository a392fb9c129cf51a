// Package telemetry provides application-level observability for the data API.
//
// All metrics are registered against the default Prometheus registry and served
// by the side-channel HTTP server started in main.go:
//
//	GET http://<host>:<KDA_TELEMETRY_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is deliberately not part of the Gin router
// so the scrape path stays off the public ingress and is never gated or rate
// limited.
//
// HTTP metrics use c.FullPath() (route template such as /api/public/data)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied query strings.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Access-gate metrics.
//
// GatedRequestsTotal counts every request that reaches the API-key gate, by
// outcome: "admitted", "missing_credential", "invalid_credential",
// "credential_expired", "rate_limited", "error".
//
// RateLimitedTotal breaks rejections down by which window was breached
// ("minute" or "day"). An alert on a sustained rate of day-window breaches
// usually means a consumer needs a bulk-export channel instead of the API.
var (
	GatedRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gated_requests_total",
			Help: "Total number of requests evaluated by the API-key gate, by outcome.",
		},
		[]string{"outcome"},
	)

	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limited_total",
			Help: "Total number of requests rejected by rate admission, by breached window.",
		},
		[]string{"window"},
	)
)

// Credential lifecycle metrics.
//
// ChallengesIssuedTotal increments once per verification code generated by a
// key request. VerificationsTotal is labelled {result="success"|"failure"}.
// CredentialsExpiredTotal is labelled {source="gate"|"sweeper"} so lazy
// deletions can be distinguished from background sweeps.
var (
	ChallengesIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "credential_challenges_issued_total",
			Help: "Total number of verification challenges issued.",
		},
	)

	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credential_verifications_total",
			Help: "Total number of verification attempts, by result.",
		},
		[]string{"result"},
	)

	CredentialsExpiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credentials_expired_total",
			Help: "Total number of credentials deleted for inactivity, by deletion source.",
		},
		[]string{"source"},
	)
)

// NotificationEmailsSentTotal is incremented once per email successfully
// handed to the SMTP relay. A stalled counter combined with rising challenge
// issuance is a useful alert signal for delivery failures.
var NotificationEmailsSentTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "notification_emails_sent_total",
		Help: "Total number of notification emails successfully sent.",
	},
)

// DataQueriesTotal counts executed public data queries. The only label is
// whether the measurements array was requested, which is the main cost driver.
var DataQueriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "data_queries_total",
		Help: "Total number of public data queries executed, by measurement inclusion.",
	},
	[]string{"measurements"},
)

// DBOpenConnections tracks the number of open connections currently held by
// the sql.DB pool. Sampled every 30 seconds by StartDBStatsCollector rather
// than per-request to avoid the overhead of sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB
// connection pool statistics every 30 seconds and updates the DBOpenConnections
// gauge. The goroutine exits cleanly when the database becomes unreachable
// (db.Ping fails), which happens automatically when the application shuts down
// and defers db.Close().
//
// Call this once, immediately after the database connection succeeds in main.go.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
