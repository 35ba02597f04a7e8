// Package telemetry provides logging setup and Prometheus metrics for the CRM API.
//
// Metrics are registered against the default registry and exposed by the
// side-channel server started in cmd/server on
// CRM_TELEMETRY_METRICS_PROMETHEUS_PORT (default 9090). They are not served by
// the Gin router.
//
// HTTP metrics are labelled by the Gin route template (c.FullPath()) so that
// record identifiers in URLs never become label values.
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics.
//
// Example PromQL:
//   - Error rate: sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m]))
//   - p99 per route: histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
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

// AuditEntriesTotal counts audit rows committed, by entity type and action.
// A route that mutates data while this counter stays flat points at a handler
// that skipped the recorder.
var AuditEntriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "crm_audit_entries_total",
		Help: "Total number of audit log entries committed, by entity type and action.",
	},
	[]string{"entity_type", "action"},
)

// AuditShipFailuresTotal counts entries an external shipper failed to deliver.
var AuditShipFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "crm_audit_ship_failures_total",
		Help: "Total number of audit entries that an external shipper failed to deliver, by shipper type.",
	},
	[]string{"shipper"},
)

// RateLimitRejectionsTotal counts 429 responses per traffic class (auth, search, write).
var RateLimitRejectionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "crm_rate_limit_rejections_total",
		Help: "Total number of requests rejected by the rate limiter, by traffic class.",
	},
	[]string{"class"},
)

// AccessDeniedTotal counts guard rejections by reason (unauthenticated, forbidden).
var AccessDeniedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "crm_access_denied_total",
		Help: "Total number of requests rejected by the access guard, by reason.",
	},
	[]string{"reason"},
)

// SignInsTotal counts sign-in attempts by method (password, google) and outcome.
var SignInsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "crm_sign_ins_total",
		Help: "Total number of sign-in attempts, by method and outcome.",
	},
	[]string{"method", "outcome"},
)

// EmailsSentTotal counts outbound email attempts by transport (smtp, resend,
// skipped) and outcome (sent, failed).
var EmailsSentTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "crm_emails_total",
		Help: "Total number of outbound emails, by transport and outcome.",
	},
	[]string{"transport", "outcome"},
)

// File attachment metrics.
var (
	FileUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_file_uploads_total",
			Help: "Total number of attachment uploads, by storage backend and outcome.",
		},
		[]string{"backend", "outcome"},
	)

	FileUploadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crm_file_upload_bytes",
			Help:    "Size of accepted attachment uploads in bytes.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)
)

// VerificationTokensPurgedTotal counts expired tokens removed by the cleanup job.
var VerificationTokensPurgedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "crm_verification_tokens_purged_total",
		Help: "Total number of expired email verification tokens deleted.",
	},
)

// DBOpenConnections is sampled every 30 s by StartDBStatsCollector rather than
// per request.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector samples the pool every 30 seconds until ctx is
// cancelled or the database stops answering pings.
func StartDBStatsCollector(ctx context.Context, db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
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
	}()
}
