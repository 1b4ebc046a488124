// Package metrics provides Prometheus metrics for the adherence engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	PrescriptionsCreated  prometheus.Counter
	PrescriptionsDeleted  prometheus.Counter
	DosesTaken            prometheus.Counter
	DosesRejected         prometheus.Counter
	RemindersMatched      prometheus.Counter
	RemindersEmitted      prometheus.Counter
	RemindersSuppressed   prometheus.Counter
	DietPlansGenerated    prometheus.Counter
	DietPlanFallbacks     prometheus.Counter
	RequestDuration       prometheus.Histogram
	ActivePrescriptions   prometheus.Gauge
	OutboxPending         prometheus.Gauge
	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		PrescriptionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_created_total",
			Help: "Total prescriptions created",
		}),
		PrescriptionsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_deleted_total",
			Help: "Total prescriptions deleted",
		}),
		DosesTaken: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "doses_taken_total",
			Help: "Total doses marked taken",
		}),
		DosesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "doses_rejected_total",
			Help: "Dose-taken requests rejected (completed or missing prescriptions)",
		}),
		RemindersMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminders_matched_total",
			Help: "Dose times matched within their reminder window",
		}),
		RemindersEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminders_emitted_total",
			Help: "Reminder events emitted after de-duplication",
		}),
		RemindersSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminders_suppressed_total",
			Help: "Reminder matches suppressed as duplicates",
		}),
		DietPlansGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "diet_plans_generated_total",
			Help: "Diet plans generated via the LLM service",
		}),
		DietPlanFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "diet_plan_fallbacks_total",
			Help: "Diet plans served from the template fallback",
		}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		ActivePrescriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prescriptions_active",
			Help: "Currently active prescriptions",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.PrescriptionsCreated,
		m.PrescriptionsDeleted,
		m.DosesTaken,
		m.DosesRejected,
		m.RemindersMatched,
		m.RemindersEmitted,
		m.RemindersSuppressed,
		m.DietPlansGenerated,
		m.DietPlanFallbacks,
		m.RequestDuration,
		m.ActivePrescriptions,
		m.OutboxPending,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
