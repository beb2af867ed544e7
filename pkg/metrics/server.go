package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TableOperations tracks every table request handled by the server
	// Labels allow filtering by table, operation (read/list/create/replace/delete) and outcome
	TableOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datasync_table_operations_total",
		Help: "Total number of table operations handled by the server",
	}, []string{"table", "operation", "outcome"})

	// OperationDuration measures repository latency per operation
	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "datasync_table_operation_duration_seconds",
		Help:    "Time spent serving a table operation",
		Buckets: prometheus.DefBuckets,
	}, []string{"table", "operation"})

	// Conflicts counts rejected writes by reason
	// A growing version_mismatch rate means clients are racing on the same records
	Conflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datasync_conflicts_total",
		Help: "Writes rejected with a conflict, by kind",
	}, []string{"table", "kind"})

	// PageSize tracks the number of records returned per list page
	PageSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "datasync_page_size",
		Help:    "Number of records returned per list page",
		Buckets: []float64{0, 1, 10, 50, 100, 500, 1000},
	})

	// NotificationFailures counts change events that could not be published
	NotificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "datasync_notification_failures_total",
		Help: "Change events that failed to reach the broker",
	})

	// RabbitMQReconnections counts how many times a process had to restore the broker link
	RabbitMQReconnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "datasync_rabbitmq_reconnections_total",
		Help: "Total number of RabbitMQ reconnection attempts",
	})

	// HealthStatus provides a binary 0/1 signal for the broker link
	HealthStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "datasync_broker_healthy",
		Help: "Current health of the broker connection (1 for healthy, 0 for unhealthy)",
	})
)
