// Package metrics defines the Prometheus instrumentation for the alerting
// pipeline. Metrics are process-internal observability; the product-facing
// snapshot remains the alert store's Stats.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	AlertsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agroalert_alerts_created_total",
		Help: "Alerts created, by risk kind.",
	}, []string{"kind"})

	DispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agroalert_dispatch_total",
		Help: "Dispatch attempts, by result (sent, failed, lost_claim).",
	}, []string{"result"})

	AlertsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "agroalert_alerts_expired_total",
		Help: "Unsent alerts purged after the retention window.",
	})

	EvaluationUsers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agroalert_evaluation_users_total",
		Help: "Per-user evaluation outcomes within ticks (ok, failed).",
	}, []string{"result"})

	TickDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agroalert_tick_duration_seconds",
		Help:    "Duration of scheduler ticks, by tick type.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tick"})
)

// MustRegister registers all pipeline metrics with the registerer.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		AlertsCreated,
		DispatchTotal,
		AlertsExpired,
		EvaluationUsers,
		TickDuration,
	)
}

// ObserveTick records a completed tick's duration.
func ObserveTick(tick string, start time.Time) {
	TickDuration.WithLabelValues(tick).Observe(time.Since(start).Seconds())
}
