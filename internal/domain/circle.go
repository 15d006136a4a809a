package domain

import "time"

// CircleStatus задаёт стадию выращивания цикла.
type CircleStatus string

const (
	CircleStatusPlanned   CircleStatus = "planned"
	CircleStatusGrowing   CircleStatus = "growing"
	CircleStatusFinished  CircleStatus = "finished"
	CircleStatusCancelled CircleStatus = "cancelled"
)

// Valid сообщает, известен ли статус.
func (s CircleStatus) Valid() bool {
	switch s {
	case CircleStatusPlanned, CircleStatusGrowing, CircleStatusFinished, CircleStatusCancelled:
		return true
	default:
		return false
	}
}

// AcceptsStock сообщает, могут ли подтверждённые счета ещё поставлять в цикл.
func (s CircleStatus) AcceptsStock() bool {
	return s == CircleStatusPlanned || s == CircleStatusGrowing
}

// Barn группирует циклы по физическому расположению.
type Barn struct {
	ID        string
	Name      string
	Address   string
	IsActive  bool
	CreatedAt time.Time
}

// LivestockCircle описывает одну партию животных, выращиваемую в хлеве.
type LivestockCircle struct {
	ID        string
	BarnID    string
	Name      string
	Status    CircleStatus
	TotalUnit int64
	GoodUnit  int64
	DeadUnit  int64
	StartDate time.Time
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CircleStock хранит остаток одной позиции корма или лекарства в цикле
// (строки LivestockCircleFood / LivestockCircleMedicine).
type CircleStock struct {
	ID        string
	CircleID  string
	Ref       ItemRef
	Remaining int64
	CreatedAt time.Time
	UpdatedAt time.Time
}
