package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "leadchat"
	subsystem = "dialogue"
)

var (
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "turns_total",
			Help:      "Total chat turns by persistence status",
		},
		[]string{"db_status"},
	)

	TurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "turn_duration_seconds",
			Help:      "End-to-end chat turn duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	StoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "store_errors_total",
			Help:      "Lead store failures by operation",
		},
		[]string{"op"},
	)

	ModelErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "model_errors_total",
			Help:      "Model call failures by call",
		},
		[]string{"call"},
	)

	ExtractionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "extractions_total",
			Help:      "Lead field extractions returned by the model",
		},
	)

	SessionsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_created_total",
			Help:      "Lead sessions created, by reason (new or self_heal)",
		},
		[]string{"reason"},
	)

	QualifiedLeadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "qualified_leads_total",
			Help:      "Leads that moved from identifying to advisory",
		},
	)
)

// Handler returns the Prometheus metrics handler
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordTurn(status string, durationSec float64) {
	TurnsTotal.WithLabelValues(status).Inc()
	TurnDuration.Observe(durationSec)
}

func RecordStoreError(op string) {
	StoreErrorsTotal.WithLabelValues(op).Inc()
}

func RecordModelError(call string) {
	ModelErrorsTotal.WithLabelValues(call).Inc()
}

func RecordSessionCreated(reason string) {
	SessionsCreatedTotal.WithLabelValues(reason).Inc()
}
