// Package telemetry provides application-level observability for the passport service.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<PASSPORT_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Passport assembly latency and degraded-field counters
//   - Audit recorder and ledger book counters
//   - Passport read cache hit/miss counters
//   - Database connection pool gauge (polled every 30 s)
//
// Label values are always drawn from fixed sets (route templates, mask field
// names, relation names, action kinds) so cardinality stays bounded.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ai4hf/passport/internal/safego"
)

// HTTP metrics, labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
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

// Assembly metrics, recorded by the passport assembler.
//
// PassportAssemblyDuration has label {outcome} = success | not_found | error.
// Each observation covers one full snapshot traversal and document encode.
//
// PassportAssemblyDegradedTotal has label {field} (one of the 11 selection
// mask fields) and is incremented once per missing referenced record that was
// omitted from a field rather than failing the assembly.
//
// Example PromQL queries:
//   - p95 assembly time:        histogram_quantile(0.95, rate(passport_assembly_duration_seconds_bucket[15m]))
//   - Fields with dangling refs: sum by (field) (increase(passport_assembly_degraded_total[1h]))
var (
	PassportAssemblyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "passport_assembly_duration_seconds",
			Help:    "Duration of passport detail document assembly, by outcome.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"outcome"},
	)

	PassportAssemblyDegradedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passport_assembly_degraded_total",
			Help: "Referenced records missing during assembly and omitted from the document, by mask field.",
		},
		[]string{"field"},
	)
)

// Audit metrics, recorded by the audit recorder.
//
// AuditEntriesRecordedTotal has labels {action, relation}.
// LedgerLinksCreatedTotal counts new (passport, audit entry) links; re-links
// that hit an existing pair are not counted.
// AuditFailuresTotal has label {stage} = snapshot | insert | link | lookup and
// counts audit writes that failed after the tracked mutation had already
// succeeded. Any increase should be investigated: the mutation is not rolled back.
//
// Example PromQL queries:
//   - Alert expression:  increase(passport_audit_failures_total[15m]) > 0
var (
	AuditEntriesRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passport_audit_entries_recorded_total",
			Help: "Total audit entries written, by action kind and affected relation.",
		},
		[]string{"action", "relation"},
	)

	LedgerLinksCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "passport_ledger_links_created_total",
			Help: "Total ledger links created between passports and audit entries.",
		},
	)

	AuditFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passport_audit_failures_total",
			Help: "Audit writes that failed after the tracked mutation succeeded, by stage.",
		},
		[]string{"stage"},
	)

	AuditShipFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passport_audit_ship_failures_total",
			Help: "Audit entries that could not be forwarded to an external sink, by shipper type.",
		},
		[]string{"shipper"},
	)
)

// PassportCacheRequestsTotal has label {result} = hit | miss | error and is
// recorded by the Redis-backed passport read cache.
var PassportCacheRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "passport_cache_requests_total",
		Help: "Passport read cache lookups, by result.",
	},
	[]string{"result"},
)

// RateLimitRejectionsTotal counts requests refused by the assembly throttle.
var RateLimitRejectionsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "passport_rate_limit_rejections_total",
		Help: "Assembly requests rejected by the rate limiter.",
	},
)

// DBOpenConnections tracks open connections held by the sql.DB pool. It is
// sampled every 30 seconds by StartDBStatsCollector.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector samples pool statistics every 30 seconds. The
// goroutine stops once the database becomes unreachable, which happens when
// main closes it on shutdown.
func StartDBStatsCollector(db *sql.DB) {
	safego.Go(func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	})
}
