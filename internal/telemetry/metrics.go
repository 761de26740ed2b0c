// Package telemetry provides application-level observability for the ops console.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP server started by cmd/server:
//
//	GET http://<host>:<OPSC_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Authentication attempts and registrations by outcome
//   - Workspace file operations by operation and outcome
//   - Audit records written and audit sink failures
//   - Database connection pool gauge (polled every 30 s)
//
// Failed and pending logins are deliberately absent from the audit trail; the
// login counter is the only place they are visible.
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/opsconsole/opsconsole/internal/safego"
)

const namespace = "opsconsole"

// HTTP metrics, labelled by method, route template and status code.
//
// The path label holds the Gin route template (e.g. /api/v1/files/:name), never
// the raw URL, so user-supplied filenames cannot blow up label cardinality.
//
// Example PromQL queries:
//   - Request rate:      rate(opsconsole_http_requests_total[5m])
//   - p99 per route:     histogram_quantile(0.99, sum by (path, le) (rate(opsconsole_http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request latencies, by method and route template.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Login outcomes recorded by LoginAttemptsTotal.
const (
	LoginSuccess            = "success"
	LoginInvalidCredentials = "invalid_credentials"
	LoginPendingApproval    = "pending_approval"
	LoginError              = "error"
)

// Account metrics.
//
// LoginAttemptsTotal has label {outcome}. A sustained rise of
// invalid_credentials is the brute-force signal:
//
//	increase(opsconsole_login_attempts_total{outcome="invalid_credentials"}[10m]) > 50
//
// RegistrationsTotal has label {outcome}: success, duplicate, empty, error.
//
// AccountChangesTotal has label {operation}: approve, set_role, delete.
var (
	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Total number of authentication attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	RegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Total number of self-registration attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	AccountChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_changes_total",
			Help:      "Total number of administrative account changes, by operation.",
		},
		[]string{"operation"},
	)
)

// FileOperationsTotal has labels {operation, outcome}. operation is one of
// create, read, write, delete, list; outcome is success, not_found,
// already_exists, denied, invalid, no_content or failed.
var FileOperationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "file_operations_total",
		Help:      "Total number of workspace file operations, by operation and outcome.",
	},
	[]string{"operation", "outcome"},
)

// Audit metrics.
//
// AuditRecordsTotal has label {status} (Success or Failed) and counts records
// handed to the audit log. AuditSinkErrorsTotal has label {sink} and counts
// records a sink failed to persist or forward; the calling operation is never
// failed because of it, so alert on it:
//
//	increase(opsconsole_audit_sink_errors_total{sink="file"}[5m]) > 0
var (
	AuditRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_records_total",
			Help:      "Total number of audit records written, by status.",
		},
		[]string{"status"},
	)

	AuditSinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_sink_errors_total",
			Help:      "Total number of audit records a sink failed to persist, by sink.",
		},
		[]string{"sink"},
	)
)

// RateLimitRejectionsTotal counts requests refused by the auth endpoint rate
// limiter, by backend (memory, redis).
var RateLimitRejectionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_rejections_total",
		Help:      "Total number of requests rejected by the rate limiter, by backend.",
	},
	[]string{"backend"},
)

// DBOpenConnections tracks open connections held by the account store pool.
// It is sampled by StartDBStatsCollector rather than per request.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_open_connections",
		Help:      "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector samples db pool statistics every interval until ctx is
// cancelled or the database becomes unreachable.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	safego.Go(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.PingContext(ctx); err != nil {
					slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
					return
				}
				DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			}
		}
	})
}
