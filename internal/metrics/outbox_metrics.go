package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты публикации outbox для метки "result".
const (
	OutboxSent       = "sent"
	OutboxRetryError = "retry_error"
	OutboxFailed     = "failed"
	OutboxDLQFailed  = "dlq_failed"
	OutboxHeldBack   = "held_back"
)

// OutboxMetrics описывает хвост публикации outbox событий счетов.
type OutboxMetrics struct {
	attempts  *prometheus.CounterVec
	pending   prometheus.Gauge
	failed    prometheus.Gauge
	oldestAge prometheus.Gauge
}

// NewOutboxMetrics регистрирует коллекторы в registerer (при nil в реестре по умолчанию).
func NewOutboxMetrics(registerer prometheus.Registerer) *OutboxMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &OutboxMetrics{
		attempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "farm_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result.",
		}, []string{"result"}),
		pending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "farm_outbox_pending_records",
			Help: "Current number of pending records in the outbox.",
		}),
		failed: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "farm_outbox_failed_records",
			Help: "Outbox records given up on and waiting for dlq-reprocess.",
		}),
		oldestAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "farm_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record.",
		}),
	}
}

func (m *OutboxMetrics) RecordAttempt(result string) {
	m.attempts.WithLabelValues(result).Inc()
}

// SetBacklog публикует число pending и failed и возраст самой старой
// pending-записи.
func (m *OutboxMetrics) SetBacklog(pending, failed int, oldest, now time.Time) {
	m.pending.Set(float64(pending))
	m.failed.Set(float64(failed))
	if pending == 0 || oldest.IsZero() {
		m.oldestAge.Set(0)
		return
	}
	age := now.Sub(oldest).Seconds()
	if age < 0 {
		age = 0
	}
	m.oldestAge.Set(age)
}

// RetentionMetrics считает проходы очистки по целям (ключи идемпотентности, доставленные события).
type RetentionMetrics struct {
	runs        *prometheus.CounterVec
	deleted     *prometheus.CounterVec
	lastDeleted *prometheus.GaugeVec
}

// NewRetentionMetrics регистрирует коллекторы в registerer (при nil в реестре по умолчанию).
func NewRetentionMetrics(registerer prometheus.Registerer) *RetentionMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &RetentionMetrics{
		runs: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "farm_retention_runs_total",
			Help: "Retention sweeps grouped by target and result.",
		}, []string{"target", "result"}),
		deleted: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "farm_retention_deleted_total",
			Help: "Rows removed by retention sweeps.",
		}, []string{"target"}),
		lastDeleted: register(registerer, "farm_retention_last_deleted", prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "farm_retention_last_deleted",
			Help: "Rows removed by the last successful sweep of a target.",
		}, []string{"target"})),
	}
}

func (m *RetentionMetrics) RecordRun(target string, ok bool, deleted int) {
	if !ok {
		m.runs.WithLabelValues(target, "error").Inc()
		return
	}
	m.runs.WithLabelValues(target, "ok").Inc()
	m.lastDeleted.WithLabelValues(target).Set(float64(deleted))
}

func (m *RetentionMetrics) AddDeleted(target string, n int) {
	m.deleted.WithLabelValues(target).Add(float64(n))
}
