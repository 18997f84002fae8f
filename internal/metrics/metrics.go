package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NotificationsProduced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_produced_total",
			Help: "Total number of notifications stored by the producer",
		},
		[]string{"type", "scope"},
	)

	ProduceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_produce_failures_total",
			Help: "Total number of notifications that could not be stored",
		},
		[]string{"type"},
	)

	RealtimeDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_realtime_deliveries_total",
			Help: "Realtime pushes per connection by result",
		},
		[]string{"result"},
	)

	RealtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifications_realtime_connections",
			Help: "Number of live realtime connections",
		},
	)

	ReadMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_marked_read_total",
			Help: "Receipts flipped to read",
		},
		[]string{"mode"},
	)

	TasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_tasks_processed_total",
			Help: "Background tasks processed by type and outcome",
		},
		[]string{"task_type", "outcome"},
	)
)
