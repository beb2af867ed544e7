package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncDuration tracks the end-to-end latency of one table sync (push + pull)
	// We use larger buckets because a full sync of a big table can take a while
	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "datasync_sync_duration_seconds",
		Help:    "Time taken to synchronize one table",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 120},
	}, []string{"status", "table"}) // status: success, error, busy

	// PagesApplied counts pulled pages committed to the local store
	PagesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datasync_pages_applied_total",
		Help: "Pulled pages applied locally together with their watermark",
	}, []string{"table"})

	// RecordsApplied counts local effects of pulled records
	RecordsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datasync_records_applied_total",
		Help: "Pulled records applied to the local store",
	}, []string{"table", "effect"}) // effect: upsert, remove

	// PushedOperations tracks the result of replaying queued local writes
	PushedOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datasync_pushed_operations_total",
		Help: "Queued local writes replayed against the server",
	}, []string{"table", "outcome"}) // outcome: success, conflict_resolved, failed

	// LocalRetries tracks how many times we had to retry internally due to locks
	LocalRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datasync_local_lock_retries_total",
		Help: "Number of internal retries triggered by local database locks",
	}, []string{"table"})
)
