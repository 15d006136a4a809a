package domain

import "time"

// TransitionKind называет переход счёта, двигающий запасы и отслеживаемый журналом саги.
type TransitionKind string

const (
	TransitionApprove TransitionKind = "approve"
	TransitionReject  TransitionKind = "reject"
	TransitionConfirm TransitionKind = "confirm"
	// TransitionCancel журналирует только возврат запасов прерванного одобрения.
	TransitionCancel TransitionKind = "cancel"
)

// TransitionState задаёт отметку прогресса журнала.
type TransitionState string

const (
	TransitionInProgress TransitionState = "in_progress"
	TransitionCompleted  TransitionState = "completed"
	// TransitionAbandoned помечает журнал, который уже не завершится: счёт ушёл дальше
	// или применённые резервы были сняты компенсацией, отклонением или отменой.
	TransitionAbandoned TransitionState = "abandoned"
)

// BillTransition запоминает, какие складские эффекты перехода уже применены,
// чтобы возобновлённая операция не применила эффект дважды. У счёта не больше одной
// строки журнала на вид: каждый переход случается в жизненном цикле один раз.
type BillTransition struct {
	ID         string
	BillID     string
	Kind       TransitionKind
	FromStatus BillStatus
	ToStatus   BillStatus
	ActorID    string
	Applied    []string
	State      TransitionState
	StartedAt  time.Time
	UpdatedAt  time.Time
}

// IsApplied сообщает, записан ли уже складской эффект строки счёта.
func (t *BillTransition) IsApplied(itemID string) bool {
	for _, id := range t.Applied {
		if id == itemID {
			return true
		}
	}
	return false
}

// TransitionTarget возвращает статус, к которому ведёт вид перехода.
func TransitionTarget(kind TransitionKind) BillStatus {
	switch kind {
	case TransitionApprove:
		return BillStatusApproved
	case TransitionReject:
		return BillStatusRejected
	case TransitionConfirm:
		return BillStatusConfirmed
	case TransitionCancel:
		return BillStatusCancelled
	default:
		return ""
	}
}
