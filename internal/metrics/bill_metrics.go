package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты переходов для метки "result".
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Направления движения запасов для метки "direction".
const (
	DirectionReserve = "reserve"
	DirectionRelease = "release"
	DirectionDeliver = "deliver"
)

// BillMetrics хранит коллекторы workflow счетов.
type BillMetrics struct {
	transitions       *prometheus.CounterVec
	duration          *prometheus.HistogramVec
	stockMoved        *prometheus.CounterVec
	sagaResumed       prometheus.Counter
	activeTransitions prometheus.Gauge
	timelineEvents    prometheus.Counter
	outboxEvents      prometheus.Counter
	consumedEvents    *prometheus.CounterVec
}

// NewBillMetrics регистрирует коллекторы в реестре по умолчанию.
func NewBillMetrics() *BillMetrics {
	return NewBillMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewBillMetricsWithRegisterer регистрирует коллекторы в registerer.
func NewBillMetricsWithRegisterer(registerer prometheus.Registerer) *BillMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &BillMetrics{
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "farm_bill_transitions_total",
			Help: "Total number of bill operations by transition and result",
		}, []string{"transition", "result"}),
		duration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "farm_bill_transition_duration_seconds",
			Help:    "Duration of bill operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"transition"}),
		stockMoved: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "farm_bill_stock_moved_total",
			Help: "Units of stock moved by bill transitions",
		}, []string{"kind", "direction"}),
		sagaResumed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "farm_bill_saga_resumed_total",
			Help: "Total number of bill transitions resumed from the journal",
		}),
		activeTransitions: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "farm_bill_active_transitions",
			Help: "Number of bill operations currently holding a bill lock",
		}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "farm_bill_timeline_events_total",
			Help: "Total number of bill timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "farm_bill_outbox_events_total",
			Help: "Total number of bill events written to the outbox",
		}),
		consumedEvents: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "farm_bill_events_consumed_total",
			Help: "Total number of bill events consumed from Kafka by event type",
		}, []string{"event_type"}),
	}
}

// ObserveTransition записывает исход и длительность одной операции над счётом.
func (m *BillMetrics) ObserveTransition(transition string, ok bool, duration time.Duration) {
	result := ResultSuccess
	if !ok {
		result = ResultFailure
	}
	m.transitions.WithLabelValues(transition, result).Inc()
	m.duration.WithLabelValues(transition).Observe(duration.Seconds())
}

// RecordStockMoved добавляет qty единиц вида kind, перемещённых в direction.
func (m *BillMetrics) RecordStockMoved(kind, direction string, qty int64) {
	m.stockMoved.WithLabelValues(kind, direction).Add(float64(qty))
}

func (m *BillMetrics) RecordSagaResumed() {
	m.sagaResumed.Inc()
}

func (m *BillMetrics) TransitionStarted() {
	m.activeTransitions.Inc()
}

func (m *BillMetrics) TransitionFinished() {
	m.activeTransitions.Dec()
}

func (m *BillMetrics) RecordTimelineEvent() {
	m.timelineEvents.Inc()
}

func (m *BillMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}

// RecordConsumedEvent считает событие, прочитанное audit consumer-ом.
func (m *BillMetrics) RecordConsumedEvent(eventType string) {
	m.consumedEvents.WithLabelValues(eventType).Inc()
}
