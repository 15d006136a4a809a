package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillStatus описывает жизненный цикл счёта-заявки.
type BillStatus string

const (
	// BillStatusRequested задаёт начальное состояние; склад ещё не тронут.
	BillStatusRequested BillStatus = "REQUESTED"
	// BillStatusApproved означает, что центральный склад зарезервирован под счёт.
	BillStatusApproved BillStatus = "APPROVED"
	// BillStatusConfirmed означает, что зарезервированное поступило в цикл.
	BillStatusConfirmed BillStatus = "CONFIRMED"
	// BillStatusRejected терминален; резерв, если был, снят.
	BillStatusRejected BillStatus = "REJECTED"
	// BillStatusCancelled терминален и инициируется заявителем.
	BillStatusCancelled BillStatus = "CANCELLED"
)

var billTransitions = map[BillStatus][]BillStatus{
	BillStatusRequested: {BillStatusApproved, BillStatusRejected, BillStatusCancelled},
	BillStatusApproved:  {BillStatusConfirmed, BillStatusRejected},
}

// Valid сообщает, известен ли статус.
func (s BillStatus) Valid() bool {
	switch s {
	case BillStatusRequested, BillStatusApproved, BillStatusConfirmed, BillStatusRejected, BillStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что дальнейшие переходы запрещены.
func (s BillStatus) Terminal() bool {
	return s.Valid() && len(billTransitions[s]) == 0
}

// CanTransitionTo сообщает, допустим ли переход из s в next.
func (s BillStatus) CanTransitionTo(next BillStatus) bool {
	for _, allowed := range billTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TerminalBillStatuses перечисляет статусы, в которых счёт может завершиться.
func TerminalBillStatuses() []BillStatus {
	return []BillStatus{BillStatusConfirmed, BillStatusRejected, BillStatusCancelled}
}

// BillItem описывает одну запрошенную строку счёта.
type BillItem struct {
	ID        string
	BillID    string
	Ref       ItemRef
	Stock     int64
	IsActive  bool
	CreatedAt time.Time
}

// Bill описывает заголовок заявки, перемещающей запасы с центрального склада в цикл.
type Bill struct {
	ID                string
	Type              ItemKind
	Status            BillStatus
	LivestockCircleID string
	UserRequestID     string
	Total             decimal.Decimal
	Weight            decimal.Decimal
	Note              string
	DeliveryDate      time.Time
	IsActive          bool
	Items             []BillItem
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ActiveItems возвращает текущие (не заменённые) строки в порядке хранения.
func (b *Bill) ActiveItems() []BillItem {
	items := make([]BillItem, 0, len(b.Items))
	for _, item := range b.Items {
		if item.IsActive {
			items = append(items, item)
		}
	}
	return items
}

// ValidateInvariants проверяет заголовок и строки и возвращает все найденные нарушения.
func (b *Bill) ValidateInvariants() []error {
	var errs []error

	if !b.Type.Valid() {
		errs = append(errs, ErrUnknownItemKind)
	}
	if !b.Status.Valid() {
		errs = append(errs, ErrBillStatusInvalid)
	}
	if b.LivestockCircleID == "" {
		errs = append(errs, ErrCircleIDRequired)
	}
	if b.UserRequestID == "" {
		errs = append(errs, ErrRequesterRequired)
	}

	active := b.ActiveItems()
	if len(active) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	for _, item := range active {
		if item.Stock <= 0 {
			errs = append(errs, ErrQuantityInvalid)
		}
		if item.Ref.Kind() != b.Type {
			errs = append(errs, ErrMixedItemKinds)
		}
	}

	return errs
}
