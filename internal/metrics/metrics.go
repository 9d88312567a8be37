package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CampaignsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailpacer_campaigns_created_total",
		Help: "Campaigns accepted and expanded into scheduled sends",
	})

	JobsScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailpacer_jobs_scheduled_total",
		Help: "Scheduled sends persisted by campaign expansion",
	})

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailpacer_deliveries_total",
			Help: "Delivery attempts by outcome (sent, failed, deferred, skipped)",
		},
		[]string{"outcome"},
	)

	SendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mailpacer_send_duration_seconds",
		Help:    "Time spent in the mail transport per send",
		Buckets: prometheus.DefBuckets,
	})

	Reconciled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailpacer_reconciled_jobs_total",
		Help: "Unbound jobs re-enqueued by the reconciliation sweep",
	})

	StalledRequeued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailpacer_stalled_units_requeued_total",
		Help: "Queue units whose lease expired and were returned to the wait list",
	})

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailpacer_queue_units",
			Help: "Queue units by state",
		},
		[]string{"state"},
	)
)

// Delivery outcomes
const (
	OutcomeSent     = "sent"
	OutcomeFailed   = "failed"
	OutcomeDeferred = "deferred"
	OutcomeSkipped  = "skipped"
)

// ObserveDelivery counts a delivery outcome
func ObserveDelivery(outcome string) {
	Deliveries.WithLabelValues(outcome).Inc()
}

// ObserveSend records transport latency since start
func ObserveSend(start time.Time) {
	SendDuration.Observe(time.Since(start).Seconds())
}

// SetQueueDepth publishes the size of each queue state
func SetQueueDepth(delayed, waiting, active, completed, failed int64) {
	QueueDepth.WithLabelValues("delayed").Set(float64(delayed))
	QueueDepth.WithLabelValues("waiting").Set(float64(waiting))
	QueueDepth.WithLabelValues("active").Set(float64(active))
	QueueDepth.WithLabelValues("completed").Set(float64(completed))
	QueueDepth.WithLabelValues("failed").Set(float64(failed))
}

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
