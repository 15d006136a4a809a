package domain

import "time"

// TimelineEvent описывает одну запись истории счёта.
type TimelineEvent struct {
	BillID   string
	Type     string
	Reason   string
	ActorID  string
	Occurred time.Time
}
