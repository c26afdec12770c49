package queue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kavanga/importdesk/internal/domain"
)

const namespace = "importdesk"

var (
	queueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "queue_size",
			Help:      "Number of notification jobs by status",
		},
		[]string{"status"},
	)

	oldestPendingAge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "oldest_pending_age_seconds",
			Help:      "Age of the oldest pending notification job",
		},
	)

	notificationsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "processed_total",
			Help:      "Total notification send attempts by kind and result",
		},
		[]string{"kind", "result"},
	)

	notificationsClaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "claimed_total",
			Help:      "Total jobs claimed from the queue (before send attempt)",
		},
	)

	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "send_duration_seconds",
			Help:      "Time to deliver a notification to the transport",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"kind"},
	)
)

func recordNotificationProcessed(kind, result string) {
	notificationsProcessed.WithLabelValues(kind, result).Inc()
}

func recordQueueClaimed() {
	notificationsClaimed.Inc()
}

func recordSendDuration(kind string, duration time.Duration) {
	sendDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordQueueStats updates queue size metrics.
func RecordQueueStats(stats *domain.QueueStats) {
	queueSize.WithLabelValues("pending").Set(float64(stats.Pending))
	queueSize.WithLabelValues("processing").Set(float64(stats.Processing))
	queueSize.WithLabelValues("sent").Set(float64(stats.Sent))
	queueSize.WithLabelValues("delivered").Set(float64(stats.Delivered))
	queueSize.WithLabelValues("failed").Set(float64(stats.Failed))
	queueSize.WithLabelValues("cancelled").Set(float64(stats.Cancelled))

	if stats.OldestPending != nil {
		oldestPendingAge.Set(time.Since(*stats.OldestPending).Seconds())
	} else {
		oldestPendingAge.Set(0)
	}
}
