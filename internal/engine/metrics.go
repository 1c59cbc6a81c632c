package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: полный цикл оценки (включая аттестацию и запись в леджер)
	EvalDuration *prometheus.HistogramVec

	// Traffic: поток запросов на оценку
	TotalRequests *prometheus.CounterVec

	// Итоги классификации по tier и ведущему reason-коду
	DecisionsTotal *prometheus.CounterVec

	// Errors: классификация отказов пайплайна
	ErrorTotal *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker тикет-коннектора (0 - ок, 1 - выбило)
	CircuitBreakerState *prometheus.GaugeVec

	// Утилизация бюджета агента в процентах
	BudgetUtilization *prometheus.GaugeVec

	// Глубина очереди pending-эскалаций
	EscalationQueueDepth prometheus.Gauge

	// Заполненность буфера телеметрии (backpressure)
	TelemetryBufferFill prometheus.Gauge

	// Скользящий autonomy rate флота
	AutonomyRate prometheus.Gauge

	// Обнаруженные разрывы hash-цепочки (любое значение > 0 — инцидент)
	ChainBreaksTotal prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		EvalDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gov_evaluation_duration_seconds",
			Help:    "Histogram of end-to-end action evaluation latencies.",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"tier"}),

		TotalRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gov_requests_total",
			Help: "Total number of evaluated action requests.",
		}, []string{"agent_id", "operation"}),

		DecisionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gov_decisions_total",
			Help: "Decisions by tier and leading rationale code.",
		}, []string{"tier", "reason"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gov_errors_total",
			Help: "Total number of pipeline errors by type.",
		}, []string{"type"}), // типы: attestation, ledger, escalation, bad_request

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "gov_circuit_breaker_state",
			Help: "Current state of the ticket connector circuit breaker (0=closed, 1=open).",
		}, []string{"connector_id"}),

		BudgetUtilization: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "gov_budget_utilization_pct",
			Help: "Per-agent budget utilization for the current period.",
		}, []string{"agent_id"}),

		EscalationQueueDepth: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "gov_escalations_pending",
			Help: "Number of escalations awaiting human resolution.",
		}),

		TelemetryBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "gov_telemetry_buffer_utilization",
			Help: "Current number of events in the telemetry export buffer.",
		}),

		AutonomyRate: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "gov_autonomy_rate",
			Help: "Rolling fleet-wide fraction of tier 0/1 decisions.",
		}),

		ChainBreaksTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "gov_ledger_chain_breaks_total",
			Help: "Detected decision ledger hash chain breaks.",
		}),
	}
}
