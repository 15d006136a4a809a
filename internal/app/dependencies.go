package app

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/farmops/internal/health"
	"github.com/vladislavdragonenkov/farmops/internal/service/billing"
	"github.com/vladislavdragonenkov/farmops/internal/storage/memory"
	"github.com/vladislavdragonenkov/farmops/internal/storage/postgres"
)

// runtimeDependencies собирает репозитории выбранного драйвера хранилища.
type runtimeDependencies struct {
	repo            domain.BillRepository
	inventoryRepo   domain.InventoryRepository
	circleRepo      domain.CircleRepository
	circleStockRepo domain.CircleStockRepository
	transitionRepo  domain.TransitionRepository
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository

	storageChecker healthcheck.Checker
	closeFn        func() error
}

// billingRepositories передаёт движку workflow его порты.
func (d *runtimeDependencies) billingRepositories() billing.Repositories {
	return billing.Repositories{
		Bills:       d.repo,
		Inventory:   d.inventoryRepo,
		Circles:     d.circleRepo,
		CircleStock: d.circleStockRepo,
		Transitions: d.transitionRepo,
		Outbox:      d.outboxRepo,
		Timeline:    d.timelineRepo,
	}
}

func (d *runtimeDependencies) close() error {
	if d == nil || d.closeFn == nil {
		return nil
	}
	return d.closeFn()
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		logger.Info("using in-memory storage")
		return newMemoryDependencies(), nil
	case StorageDriverPostgres:
		return newPostgresDependencies(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func newMemoryDependencies() *runtimeDependencies {
	return &runtimeDependencies{
		repo:            memory.NewBillRepository(),
		inventoryRepo:   memory.NewInventoryRepository(),
		circleRepo:      memory.NewCircleRepository(),
		circleStockRepo: memory.NewCircleStockRepository(),
		transitionRepo:  memory.NewTransitionRepository(),
		outboxRepo:      memory.NewOutboxRepository(),
		timelineRepo:    memory.NewTimelineRepository(),
		idempotencyRepo: memory.NewIdempotencyRepository(),
		storageChecker: healthcheck.NewSimpleChecker("storage", func() error {
			return nil
		}),
		closeFn: func() error { return nil },
	}
}

func newPostgresDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("%w: POSTGRES_DSN is required for the postgres storage driver", domain.ErrInvalidArgument)
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.WithMaxConns(cfg.PostgresMaxConns))
	if err != nil {
		return nil, err
	}

	if cfg.PostgresAutoMigrate {
		if err := store.MigrateUp(ctx, 0); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		if state, err := store.MigrationStatus(ctx); err == nil {
			entry := logger.WithField("schema_version", state.Version)
			if len(state.Unknown) > 0 {
				entry.WithField("unknown_versions", state.Unknown).Warn("database has migrations this build does not know")
			} else {
				entry.Info("postgres schema is up to date")
			}
		}
	}

	logger.Info("using postgres storage")
	return &runtimeDependencies{
		repo:            postgres.NewBillRepository(store),
		inventoryRepo:   postgres.NewInventoryRepository(store),
		circleRepo:      postgres.NewCircleRepository(store),
		circleStockRepo: postgres.NewCircleStockRepository(store),
		transitionRepo:  postgres.NewTransitionRepository(store),
		outboxRepo:      postgres.NewOutboxRepository(store),
		timelineRepo:    postgres.NewTimelineRepository(store),
		idempotencyRepo: postgres.NewIdempotencyRepository(store),
		storageChecker: healthcheck.NewSimpleChecker("storage", func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return store.Ping(pingCtx)
		}),
		closeFn: store.Close,
	}, nil
}
