// Package billing ведёт жизненный цикл счёта: запрос, изменение, одобрение, отклонение,
// подтверждение, отмену и отключение, сохраняя согласованность центрального склада
// и учёта цикла, хотя каждый агрегат коммитится отдельно.
package billing

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
	"github.com/vladislavdragonenkov/farmops/internal/metrics"
	"github.com/vladislavdragonenkov/farmops/internal/query"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = 10 * time.Millisecond
)

// Service описывает движок workflow счетов.
type Service interface {
	RequestFood(ctx context.Context, actor domain.Actor, req RequestBill) domain.Result[domain.Bill]
	RequestMedicine(ctx context.Context, actor domain.Actor, req RequestBill) domain.Result[domain.Bill]
	RequestBreed(ctx context.Context, actor domain.Actor, req RequestBill) domain.Result[domain.Bill]

	AdminUpdateBill(ctx context.Context, actor domain.Actor, billID string, req UpdateBill) domain.Result[domain.Bill]
	UpdateBillFood(ctx context.Context, actor domain.Actor, billID string, req UpdateBill) domain.Result[domain.Bill]
	UpdateBillMedicine(ctx context.Context, actor domain.Actor, billID string, req UpdateBill) domain.Result[domain.Bill]

	ApproveBill(ctx context.Context, actor domain.Actor, billID string) domain.Result[domain.Bill]
	RejectBill(ctx context.Context, actor domain.Actor, billID string) domain.Result[domain.Bill]
	ConfirmBill(ctx context.Context, actor domain.Actor, billID string) domain.Result[domain.Bill]
	CancelBill(ctx context.Context, actor domain.Actor, billID string) domain.Result[domain.Bill]
	DisableBill(ctx context.Context, actor domain.Actor, billID string) domain.Result[domain.Bill]

	GetBill(ctx context.Context, actor domain.Actor, billID string) domain.Result[domain.Bill]
	BillTimeline(ctx context.Context, actor domain.Actor, billID string) domain.Result[[]domain.TimelineEvent]
	ListBills(ctx context.Context, actor domain.Actor, req query.Request) domain.Result[query.Page[domain.Bill]]
	ListRequesterBills(ctx context.Context, actor domain.Actor, req query.Request) domain.Result[query.Page[domain.Bill]]
	ListPendingBills(ctx context.Context, actor domain.Actor, req query.Request) domain.Result[query.Page[domain.Bill]]
	ListBillsByType(ctx context.Context, actor domain.Actor, kind domain.ItemKind, req query.Request) domain.Result[query.Page[domain.Bill]]
	ListBillHistory(ctx context.Context, actor domain.Actor, req query.Request) domain.Result[query.Page[domain.Bill]]

	// Resume доводит до конца прерванный переход, двигающий запасы.
	Resume(ctx context.Context, t domain.BillTransition) error
}

// Repositories группирует хранилища, через которые коммитит движок.
type Repositories struct {
	Bills       domain.BillRepository
	Inventory   domain.InventoryRepository
	Circles     domain.CircleRepository
	CircleStock domain.CircleStockRepository
	Transitions domain.TransitionRepository
	Outbox      domain.OutboxRepository
	Timeline    domain.TimelineRepository
}

// Option настраивает сервис.
type Option func(*service)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics включает метрики prometheus; без него движок ничего не записывает.
func WithMetrics(m *metrics.BillMetrics) Option {
	return func(s *service) {
		s.metrics = m
	}
}

// WithRetryPolicy настраивает повторы оптимистичной блокировки.
func WithRetryPolicy(maxRetries int, baseDelay time.Duration) Option {
	return func(s *service) {
		if maxRetries > 0 {
			s.maxRetries = maxRetries
		}
		if baseDelay > 0 {
			s.baseDelay = baseDelay
		}
	}
}

// WithLocker делит keyed locker между движками.
func WithLocker(locker *KeyedLocker) Option {
	return func(s *service) {
		if locker != nil {
			s.locks = locker
		}
	}
}

type service struct {
	bills       domain.BillRepository
	inventory   domain.InventoryRepository
	circles     domain.CircleRepository
	circleStock domain.CircleStockRepository
	transitions domain.TransitionRepository
	outbox      domain.OutboxRepository
	timeline    domain.TimelineRepository

	locks      *KeyedLocker
	logger     *log.Entry
	metrics    *metrics.BillMetrics
	maxRetries int
	baseDelay  time.Duration
}

// NewService собирает движок. Outbox и Timeline могут быть nil.
func NewService(repos Repositories, opts ...Option) Service {
	s := &service{
		bills:       repos.Bills,
		inventory:   repos.Inventory,
		circles:     repos.Circles,
		circleStock: repos.CircleStock,
		transitions: repos.Transitions,
		outbox:      repos.Outbox,
		timeline:    repos.Timeline,
		locks:       NewKeyedLocker(),
		logger:      log.WithField("component", "billing"),
		maxRetries:  defaultMaxRetries,
		baseDelay:   defaultBaseDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Service = (*service)(nil)
