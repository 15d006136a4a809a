// Package outbox публикует закоммиченные события счетов в брокер.
package outbox

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
	"github.com/vladislavdragonenkov/farmops/internal/metrics"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = time.Minute
)

type settings struct {
	logger         *log.Entry
	metrics        *metrics.OutboxMetrics
	deadLetters    domain.OutboxPublisher
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

// Option настраивает Worker. Неположительные значения оставляют умолчания.
type Option func(*settings)

func WithLogger(logger *log.Entry) Option {
	return func(s *settings) { s.logger = logger }
}

func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithDLQPublisher отправляет события с исчерпанными попытками в dead letter топик
// перед тем, как пометить их failed.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(s *settings) { s.deadLetters = publisher }
}

func WithPollInterval(interval time.Duration) Option {
	return func(s *settings) {
		if interval > 0 {
			s.pollInterval = interval
		}
	}
}

func WithBatchSize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithRetryBaseDelay задаёт первый шаг backoff; он удваивается с каждым повтором
// до минуты. Ноль означает повтор сразу.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(s *settings) { s.retryBaseDelay = max(delay, 0) }
}

// Worker передаёт pending-события счетов в брокер в порядке outbox. Если событие
// счёта упало, более поздние события того же счёта в этом батче ждут
// следующего опроса.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	settings
}

func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	s := settings{
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(&s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "outbox-worker")
	}
	if s.metrics == nil {
		s.metrics = metrics.NewOutboxMetrics(nil)
	}
	return &Worker{repo: repo, publisher: publisher, settings: s}
}

// Run опрашивает outbox, пока ctx не отменён.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker disabled: no repository or publisher")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce передаёт один батч и возвращает число опубликованных событий.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	w.refreshBacklog()

	events, err := w.repo.PullPending(w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("pull pending outbox events failed")
		return 0
	}

	published := 0
	blocked := make(map[string]bool)
	for _, event := range events {
		if ctx.Err() != nil {
			break
		}
		entry := w.logger.WithFields(log.Fields{
			"outbox_id":  event.ID,
			"event_type": event.EventType,
			"bill_id":    event.AggregateID,
		})
		if blocked[event.AggregateID] {
			w.metrics.RecordAttempt(metrics.OutboxHeldBack)
			entry.Debug("held back behind an undelivered event of the same bill")
			continue
		}

		err := w.publish(ctx, event)
		switch {
		case err == nil:
			published++
			if err := w.repo.MarkSent(event.ID); err != nil {
				entry.WithError(err).Warn("could not mark outbox event sent")
			}
		case ctx.Err() != nil:
			// остановка; событие остаётся pending
		default:
			blocked[event.AggregateID] = true
			w.giveUp(event, err, entry)
		}
	}

	if len(events) > 0 {
		w.refreshBacklog()
	}
	return published
}

func (w *Worker) publish(ctx context.Context, event domain.OutboxMessage) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = w.publisher.Publish(event); err == nil {
			w.metrics.RecordAttempt(metrics.OutboxSent)
			return nil
		}
		w.metrics.RecordAttempt(metrics.OutboxRetryError)
		if attempt == w.maxAttempts {
			break
		}
		if err := sleep(ctx, backoff(w.retryBaseDelay, attempt)); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", domain.ErrOutboxPublish, w.maxAttempts, err)
}

// giveUp отправляет событие в DLQ и помечает failed. DLQ работает по
// возможности: строка failed остаётся в outbox в любом случае.
func (w *Worker) giveUp(event domain.OutboxMessage, cause error, entry *log.Entry) {
	entry.WithError(cause).Error("outbox event undeliverable")
	w.metrics.RecordAttempt(metrics.OutboxFailed)

	if w.deadLetters != nil {
		if err := w.deadLetter(event, cause); err != nil {
			entry.WithError(err).Warn("dead-letter outbox event failed")
			w.metrics.RecordAttempt(metrics.OutboxDLQFailed)
		}
	}
	if err := w.repo.MarkFailed(event.ID); err != nil {
		entry.WithError(err).Warn("could not mark outbox event failed")
	}
}

func (w *Worker) deadLetter(event domain.OutboxMessage, cause error) error {
	wrapped, err := wrapDeadLetter(event, cause, time.Now().UTC())
	if err != nil {
		return err
	}
	if err := w.deadLetters.Publish(wrapped); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	return nil
}

func (w *Worker) refreshBacklog() {
	stats, err := w.repo.Stats()
	if err != nil {
		w.logger.WithError(err).Warn("read outbox backlog failed")
		return
	}
	w.metrics.SetBacklog(stats.PendingCount, stats.FailedCount, stats.OldestPendingAt, time.Now())
}

// backoff равен base, удвоенному attempt-1 раз, но не больше maxRetryDelay.
func backoff(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt && delay > 0; i++ {
		if delay >= maxRetryDelay/2 {
			return maxRetryDelay
		}
		delay *= 2
	}
	return min(delay, maxRetryDelay)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
