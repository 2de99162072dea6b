package metrics

import "github.com/prometheus/client_golang/prometheus"

// IdempotencyCleanupMetrics описывает очистку просроченных ключей идемпотентности. Методы безопасны для nil.
type IdempotencyCleanupMetrics struct {
	runs        *prometheus.CounterVec
	deleted     prometheus.Counter
	lastDeleted prometheus.Gauge
}

// NewIdempotencyCleanupMetrics регистрирует метрики очистки в переданном реестре.
func NewIdempotencyCleanupMetrics(registerer prometheus.Registerer) *IdempotencyCleanupMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &IdempotencyCleanupMetrics{
		runs: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orders_idempotency_cleanup_runs_total",
			Help: "Total number of idempotency cleanup runs grouped by result.",
		}, []string{"result"}),
		deleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_idempotency_cleanup_deleted_total",
			Help: "Total number of deleted expired idempotency keys.",
		}),
		lastDeleted: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "orders_idempotency_cleanup_last_deleted",
			Help: "Number of keys deleted during the last cleanup run.",
		}),
	}
}

// RecordRun учитывает завершённый цикл очистки.
func (m *IdempotencyCleanupMetrics) RecordRun(result string, deleted int) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
	if result == "ok" {
		m.lastDeleted.Set(float64(deleted))
	}
}

// AddDeleted увеличивает счётчик удалённых ключей.
func (m *IdempotencyCleanupMetrics) AddDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.deleted.Add(float64(n))
}
