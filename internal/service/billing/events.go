package billing

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
)

// billEvent задаёт payload outbox для каждого события счёта.
type billEvent struct {
	BillID        string `json:"bill_id"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	IsActive      bool   `json:"is_active"`
	CircleID      string `json:"livestock_circle_id"`
	UserRequestID string `json:"user_request_id"`
	Total         string `json:"total"`
	Weight        string `json:"weight"`
	ActorID       string `json:"actor_id"`
	Reason        string `json:"reason,omitempty"`
	Version       int64  `json:"version"`
	OccurredAt    string `json:"ts"`
}

// emitEvent записывает закоммиченное изменение в outbox и timeline.
// Изменение уже сохранено, поэтому ошибки здесь только логируются.
func (s *service) emitEvent(bill domain.Bill, eventType, reason string, actor domain.Actor) {
	occurred := time.Now().UTC()
	fields := log.Fields{"bill_id": bill.ID, "event": eventType}

	if s.outbox != nil {
		data, err := json.Marshal(billEvent{
			BillID:        bill.ID,
			Type:          string(bill.Type),
			Status:        string(bill.Status),
			IsActive:      bill.IsActive,
			CircleID:      bill.LivestockCircleID,
			UserRequestID: bill.UserRequestID,
			Total:         bill.Total.String(),
			Weight:        bill.Weight.String(),
			ActorID:       actor.ID,
			Reason:        reason,
			Version:       bill.Version,
			OccurredAt:    occurred.Format(time.RFC3339Nano),
		})
		if err != nil {
			s.logger.WithError(err).WithFields(fields).Error("marshal event failed")
		} else {
			msg := domain.OutboxMessage{
				ID:            uuid.NewString(),
				AggregateType: domain.AggregateTypeBill,
				AggregateID:   bill.ID,
				EventType:     eventType,
				Payload:       data,
			}
			if _, err := s.outbox.Enqueue(msg); err != nil {
				s.logger.WithError(err).WithFields(fields).Error("enqueue event failed")
			} else if s.metrics != nil {
				s.metrics.RecordOutboxEvent()
			}
		}
	}

	if s.timeline == nil {
		return
	}
	event := domain.TimelineEvent{
		BillID:   bill.ID,
		Type:     eventType,
		Reason:   reason,
		ActorID:  actor.ID,
		Occurred: occurred,
	}
	if err := s.timeline.Append(event); err != nil {
		s.logger.WithError(err).WithFields(fields).Warn("append timeline event failed")
	} else if s.metrics != nil {
		s.metrics.RecordTimelineEvent()
	}
}
