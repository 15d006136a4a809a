// Package retention удаляет строки, нужные лишь ограниченное время:
// истёкшие ключи идемпотентности и события счетов, уже доставленные в Kafka.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
	"github.com/vladislavdragonenkov/farmops/internal/metrics"
)

const (
	defaultInterval  = 10 * time.Minute
	defaultBatchSize = 500
)

// Target описывает один вид удаляемых строк. Purge удаляет не больше limit
// строк старше before и сообщает, сколько ушло.
type Target struct {
	Name  string
	Keep  time.Duration
	Purge func(before time.Time, limit int) (int, error)
}

// IdempotencyKeys удаляет ключи с истёкшим ttl.
func IdempotencyKeys(repo domain.IdempotencyRepository) Target {
	return Target{Name: "idempotency_keys", Purge: repo.DeleteExpired}
}

// DeliveredEvents удаляет опубликованные строки outbox старше keep.
func DeliveredEvents(repo domain.OutboxRepository, keep time.Duration) Target {
	return Target{Name: "delivered_events", Keep: keep, Purge: repo.DeleteDelivered}
}

type Options struct {
	Logger    *log.Entry
	Metrics   *metrics.RetentionMetrics
	Interval  time.Duration
	BatchSize int
}

type Option func(*Options)

func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

func WithMetrics(m *metrics.RetentionMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

func WithInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.Interval = interval
	}
}

// WithBatchSize ограничивает число строк, удаляемых одним вызовом репозитория.
func WithBatchSize(batchSize int) Option {
	return func(opts *Options) {
		opts.BatchSize = batchSize
	}
}

// Sweeper запускает каждую цель с фиксированным интервалом.
type Sweeper struct {
	targets   []Target
	logger    *log.Entry
	metrics   *metrics.RetentionMetrics
	interval  time.Duration
	batchSize int
}

func NewSweeper(targets []Target, options ...Option) *Sweeper {
	opts := Options{
		Interval:  defaultInterval,
		BatchSize: defaultBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "retention-sweeper")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRetentionMetrics(nil)
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	return &Sweeper{
		targets:   targets,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
	}
}

// Run выполняет проход сразу и затем на каждом тике, пока ctx не завершён.
func (s *Sweeper) Run(ctx context.Context) {
	if len(s.targets) == 0 {
		s.logger.Warn("retention sweeper has no targets")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx, time.Now().UTC()); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.WithError(err).Warn("retention sweep finished with errors")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep чистит каждую цель относительно now и возвращает число удалённых по
// цели. Упавшая цель не останавливает остальные.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (map[string]int, error) {
	deleted := make(map[string]int, len(s.targets))
	var errs []error

	for _, target := range s.targets {
		n, err := s.purge(ctx, target, now.Add(-target.Keep))
		deleted[target.Name] = n
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return deleted, err
			}
			s.metrics.RecordRun(target.Name, false, n)
			errs = append(errs, fmt.Errorf("%s: %w", target.Name, err))
			continue
		}

		s.metrics.RecordRun(target.Name, true, n)
		if n > 0 {
			s.logger.WithFields(log.Fields{"target": target.Name, "deleted": n}).Info("retention sweep completed")
		}
	}
	return deleted, errors.Join(errs...)
}

// purge вычищает цель батчами, пока неполный батч не покажет, что ничего не осталось.
func (s *Sweeper) purge(ctx context.Context, target Target, before time.Time) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, err := target.Purge(before, s.batchSize)
		if err != nil {
			return total, err
		}
		total += n
		if n > 0 {
			s.metrics.AddDeleted(target.Name, n)
		}
		if n < s.batchSize {
			return total, nil
		}
	}
}
