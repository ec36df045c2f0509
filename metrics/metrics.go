package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AccessDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditdesk_access_decisions_total",
			Help: "Total number of access decisions by table, verb and outcome",
		},
		[]string{"table", "verb", "allowed"},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "auditdesk_query_duration_seconds",
			Help:    "Time taken by query builder terminal calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	MigrationRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditdesk_migration_rows_total",
			Help: "Rows processed by the migration engine, by outcome (exported, imported, failed)",
		},
		[]string{"table", "outcome"},
	)

	MigrationPageFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditdesk_migration_page_fetches_total",
			Help: "Pages fetched from the migration source",
		},
		[]string{"table"},
	)

	MigrationTableDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "auditdesk_migration_table_duration_seconds",
			Help:    "Time taken to migrate one table",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditdesk_http_requests_total",
			Help: "HTTP requests served by the API, by route and status",
		},
		[]string{"route", "method", "status"},
	)
)
