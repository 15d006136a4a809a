// Package recovery по расписанию доводит до конца прерванные переходы счетов.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
)

const (
	defaultSchedule   = "@every 1m"
	defaultStaleAfter = 2 * time.Minute
	defaultBatchSize  = 100
)

var (
	recoveryRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farm_recovery_runs_total",
		Help: "Total number of saga recovery sweeps grouped by result.",
	}, []string{"result"})
	recoveryResumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farm_recovery_transitions_total",
		Help: "Total number of stale bill transitions handled by the sweeper grouped by result.",
	}, []string{"result"})
)

// Resumer доводит один журнал до конца. Реализуется движком счетов.
type Resumer interface {
	Resume(ctx context.Context, t domain.BillTransition) error
}

// Options настраивает sweeper.
type Options struct {
	Logger     *log.Entry
	Schedule   string
	StaleAfter time.Duration
	BatchSize  int
}

type Option func(*Options)

func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithSchedule задаёт cron-выражение, например "@every 30s" или "*/5 * * * *".
func WithSchedule(spec string) Option {
	return func(opts *Options) {
		opts.Schedule = spec
	}
}

// WithStaleAfter задаёт, сколько журнал должен простоять нетронутым до возобновления.
func WithStaleAfter(d time.Duration) Option {
	return func(opts *Options) {
		opts.StaleAfter = d
	}
}

func WithBatchSize(n int) Option {
	return func(opts *Options) {
		opts.BatchSize = n
	}
}

// Sweeper находит переходы в процессе, которыми никто не занимается, и возобновляет их.
type Sweeper struct {
	transitions domain.TransitionRepository
	resumer     Resumer
	logger      *log.Entry
	schedule    string
	staleAfter  time.Duration
	batchSize   int
}

// NewSweeper создаёт sweeper.
func NewSweeper(transitions domain.TransitionRepository, resumer Resumer, options ...Option) *Sweeper {
	opts := Options{
		Schedule:   defaultSchedule,
		StaleAfter: defaultStaleAfter,
		BatchSize:  defaultBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "recovery-sweeper")
	}
	if opts.Schedule == "" {
		opts.Schedule = defaultSchedule
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultStaleAfter
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	return &Sweeper{
		transitions: transitions,
		resumer:     resumer,
		logger:      logger,
		schedule:    opts.Schedule,
		staleAfter:  opts.StaleAfter,
		batchSize:   opts.BatchSize,
	}
}

// Run планирует проходы, пока ctx не отменён. Перекрывающиеся запуски пропускаются.
func (s *Sweeper) Run(ctx context.Context) error {
	scheduler := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(s.logger)),
		cron.SkipIfStillRunning(cron.PrintfLogger(s.logger)),
	))
	if _, err := scheduler.AddFunc(s.schedule, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("%w: recovery schedule %q: %v", domain.ErrInvalidArgument, s.schedule, err)
	}

	s.logger.WithFields(log.Fields{
		"schedule":    s.schedule,
		"stale_after": s.staleAfter,
	}).Info("recovery sweeper started")
	scheduler.Start()

	<-ctx.Done()
	<-scheduler.Stop().Done()
	s.logger.Info("recovery sweeper stopped")
	return nil
}

func (s *Sweeper) run(ctx context.Context) {
	resumed, err := s.Sweep(ctx, time.Now().UTC())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		recoveryRunsTotal.WithLabelValues("error").Inc()
		s.logger.WithError(err).Warn("recovery sweep failed")
		return
	}
	recoveryRunsTotal.WithLabelValues("ok").Inc()
	if resumed > 0 {
		s.logger.WithField("resumed", resumed).Info("recovery sweep completed")
	}
}

// Sweep возобновляет один батч журналов, последний раз тронутых раньше now минус
// порог простоя. Журнал, который не удалось возобновить, логируется и ждёт следующего прохода.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.transitions.ListInProgress(now.Add(-s.staleAfter), s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale transitions: %w", err)
	}

	resumed := 0
	for _, t := range stale {
		if err := ctx.Err(); err != nil {
			return resumed, err
		}

		entry := s.logger.WithFields(log.Fields{
			"bill_id":    t.BillID,
			"transition": t.Kind,
			"journal_id": t.ID,
		})
		if err := s.resumer.Resume(ctx, t); err != nil {
			recoveryResumedTotal.WithLabelValues("error").Inc()
			entry.WithError(err).Warn("resume transition failed")
			continue
		}
		recoveryResumedTotal.WithLabelValues("ok").Inc()
		resumed++
	}
	return resumed, nil
}
