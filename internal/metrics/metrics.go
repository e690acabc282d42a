package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APICallsTotal counts logical sub-requests sent upstream.
	APICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gsc_api_calls_total",
			Help: "Total number of search analytics sub-requests issued.",
		},
		[]string{"site"},
	)

	// BatchCallsTotal counts outbound batch HTTP calls.
	BatchCallsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gsc_batch_calls_total",
			Help: "Total number of outbound batch HTTP calls.",
		},
	)

	// BatchRetriesTotal counts whole-batch retries by reason.
	BatchRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gsc_batch_retries_total",
			Help: "Total number of batch retries.",
		},
		[]string{"reason"}, // rate_limited, server_error, transport, partial
	)

	// EmptyPagesTotal counts sub-requests that returned zero rows.
	// A high rate here means quota is being spent confirming empty
	// pages, which the cascading frontier is supposed to prevent.
	EmptyPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gsc_empty_pages_total",
			Help: "Total number of sub-requests that returned no rows.",
		},
		[]string{"site"},
	)

	// BatchDuration observes outbound batch call latency.
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gsc_batch_duration_seconds",
			Help:    "Duration of batch calls including retries.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// SyncDaysTotal counts per-date sync outcomes.
	SyncDaysTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_days_total",
			Help: "Total number of dates finalized, by outcome.",
		},
		[]string{"site", "status"}, // complete, failed
	)

	// SyncRowsTotal counts rows persisted per site.
	SyncRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_rows_total",
			Help: "Total number of search analytics rows persisted.",
		},
		[]string{"site"},
	)

	// RateLimitDeniedTotal counts rate limiter denials per tenant.
	RateLimitDeniedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_denied_total",
			Help: "Total number of dispatches delayed by the rate limiter.",
		},
		[]string{"tenant"},
	)
)
