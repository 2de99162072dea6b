package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Значения label result для гистограмм обращений к внешним сервисам.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// OrderMetrics содержит метрики жизненного цикла заказов.
// Все методы безопасно вызывать на nil, тогда метрики не пишутся.
type OrderMetrics struct {
	ordersCreated  prometheus.Counter
	creationFailed prometheus.Counter
	statusChanges  *prometheus.CounterVec
	ordersPaid     prometheus.Counter

	// Время обращений к каталогу и платёжному сервису.
	catalogLookup  *prometheus.HistogramVec
	paymentSession *prometheus.HistogramVec

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter
}

// NewOrderMetrics регистрирует метрики в глобальном реестре Prometheus.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer регистрирует метрики в переданном реестре.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	callBuckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

	return &OrderMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Total number of orders created",
		}),
		creationFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_creation_failed_total",
			Help: "Total number of order creations that failed",
		}),
		statusChanges: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orders_status_changes_total",
			Help: "Total number of order status changes by target status",
		}, []string{"status"}),
		ordersPaid: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_paid_total",
			Help: "Total number of payment confirmations applied",
		}),
		catalogLookup: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "orders_catalog_lookup_duration_seconds",
			Help:    "Duration of product catalog lookups in seconds",
			Buckets: callBuckets,
		}, []string{"result"}),
		paymentSession: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "orders_payment_session_duration_seconds",
			Help:    "Duration of payment session creation in seconds",
			Buckets: callBuckets,
		}, []string{"result"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_outbox_events_total",
			Help: "Total number of events enqueued into the outbox",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	return register(registerer, opts.Name, prometheus.Counter(prometheus.NewCounter(opts)))
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	return register(registerer, opts.Name, prometheus.NewCounterVec(opts, labels))
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	return register(registerer, opts.Name, prometheus.NewHistogramVec(opts, labels))
}

// register регистрирует коллектор или возвращает уже зарегистрированный того же типа.
func register[T prometheus.Collector](registerer prometheus.Registerer, name string, collector T) T {
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", name))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector %q: %v", name, err))
	}
	return collector
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *OrderMetrics) RecordOrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

// RecordOrderCreationFailed увеличивает счётчик неудачных созданий.
func (m *OrderMetrics) RecordOrderCreationFailed() {
	if m == nil {
		return
	}
	m.creationFailed.Inc()
}

// RecordStatusChange учитывает фактическую смену статуса.
func (m *OrderMetrics) RecordStatusChange(status string) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(status).Inc()
}

// RecordOrderPaid увеличивает счётчик подтверждённых оплат.
func (m *OrderMetrics) RecordOrderPaid() {
	if m == nil {
		return
	}
	m.ordersPaid.Inc()
}

// ObserveCatalogLookup записывает длительность обращения к каталогу.
func (m *OrderMetrics) ObserveCatalogLookup(err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.catalogLookup.WithLabelValues(resultLabel(err)).Observe(duration.Seconds())
}

// ObservePaymentSession записывает длительность создания платёжной сессии.
func (m *OrderMetrics) ObservePaymentSession(err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.paymentSession.WithLabelValues(resultLabel(err)).Observe(duration.Seconds())
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *OrderMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий, поставленных в outbox.
func (m *OrderMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}
