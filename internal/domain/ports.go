package domain

import (
	"time"

	"github.com/vladislavdragonenkov/farmops/internal/query"
)

// BillRepository хранит заголовки счетов и их строки.
type BillRepository interface {
	// Create сохраняет новый счёт вместе со строками как единое целое.
	Create(bill Bill) error
	// Get возвращает счёт со всеми строками (активными и заменёнными) или ErrBillNotFound.
	Get(id string) (Bill, error)
	// Save обновляет поля заголовка под оптимистичной блокировкой и увеличивает Version.
	Save(bill Bill) error
	// ReplaceItems сохраняет заголовок как Save и в той же единице работы деактивирует
	// текущие строки и вставляет новый набор. При конфликте версий ничего не меняется.
	ReplaceItems(bill Bill, items []BillItem) error
	// List возвращает заголовки (без строк), подходящие под запрос.
	List(req query.Request) (query.Page[Bill], error)
}

// InventoryRepository хранит центральные запасы корма, лекарств и пород.
type InventoryRepository interface {
	Create(item InventoryItem) error
	// Get возвращает ErrItemNotFound, если записи нет.
	Get(ref ItemRef) (InventoryItem, error)
	// AdjustStock атомарно прибавляет delta к Stock и возвращает ErrInsufficientStock
	// вместо ухода в минус.
	AdjustStock(ref ItemRef, delta int64) (InventoryItem, error)
	List(kind ItemKind, req query.Request) (query.Page[InventoryItem], error)
}

// CircleRepository хранит хлева и циклы.
type CircleRepository interface {
	CreateBarn(barn Barn) error
	GetBarn(id string) (Barn, error)
	Create(circle LivestockCircle) error
	// Get возвращает ErrCircleNotFound, если цикла нет.
	Get(id string) (LivestockCircle, error)
	// AddUnits атомарно прибавляет qty к TotalUnit и GoodUnit.
	AddUnits(circleID string, qty int64) (LivestockCircle, error)
	SetStatus(circleID string, status CircleStatus) (LivestockCircle, error)
}

// CircleStockRepository ведёт журнал остатков подтверждённых кормов и лекарств по циклам.
type CircleStockRepository interface {
	// AddRemaining находит или создаёт строку (цикл, позиция) и прибавляет qty к Remaining.
	AddRemaining(circleID string, ref ItemRef, qty int64) (CircleStock, error)
	Get(circleID string, ref ItemRef) (CircleStock, error)
	ListByCircle(circleID string) ([]CircleStock, error)
}

// TransitionRepository ведёт журнал саги для переходов счёта, двигающих запасы.
type TransitionRepository interface {
	// Begin возвращает существующую строку журнала для (bill, kind) или сохраняет t как новую.
	// Заброшенная строка открывается заново как чистый журнал без применённых позиций.
	Begin(t BillTransition) (BillTransition, error)
	// Get возвращает строку для (bill, kind) или ErrTransitionNotFound.
	Get(billID string, kind TransitionKind) (BillTransition, error)
	// MarkApplied отмечает, что складской эффект itemID выполнен.
	MarkApplied(id, itemID string) error
	// Finish переводит строку в конечное состояние.
	Finish(id string, state TransitionState) error
	// ListInProgress возвращает незавершённые строки, последний раз тронутые до cutoff.
	ListInProgress(before time.Time, limit int) ([]BillTransition, error)
}

// OutboxPublisher публикует события из outbox; Publish должен быть идемпотентным.
type OutboxPublisher interface {
	Publish(event OutboxMessage) error
}

// OutboxRepository хранит события до их публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
	// DeleteDelivered удаляет до limit отправленных событий, тронутых до cutoff.
	DeleteDelivered(before time.Time, limit int) (int, error)
}

// TimelineRepository хранит историю счёта.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(billID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит результаты запросов по ключу идемпотентности.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, statusCode int) error
	MarkFailed(key string, responseBody []byte, statusCode int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// OutboxMessage описывает событие, ожидающее публикации.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStatus задаёт состояние доставки строки outbox. Меняются только pending-строки:
// в sent после публикации, в failed после отправки в DLQ.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSent    OutboxStatus = "sent"
	OutboxFailed  OutboxStatus = "failed"
)

// OutboxStats описывает неопубликованный хвост.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
	// FailedCount считает брошенные события, оставленные для dlq-reprocess.
	FailedCount int
}
