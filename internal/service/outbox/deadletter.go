package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
)

// deadLetterEnvelope задаёт DLQ payload недоставляемого события.
type deadLetterEnvelope struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	BillID        string          `json:"bill_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	DeadAt        string          `json:"dlq_published_at"`
}

// wrapDeadLetter сохраняет идентичность и ключ события и заменяет payload
// конвертом. Не-JSON payload встраивается JSON-строкой.
func wrapDeadLetter(event domain.OutboxMessage, cause error, at time.Time) (domain.OutboxMessage, error) {
	payload := json.RawMessage(event.Payload)
	if !json.Valid(payload) {
		quoted, err := json.Marshal(string(event.Payload))
		if err != nil {
			return domain.OutboxMessage{}, fmt.Errorf("quote payload: %w", err)
		}
		payload = quoted
	}

	data, err := json.Marshal(deadLetterEnvelope{
		OutboxID:      event.ID,
		AggregateType: event.AggregateType,
		BillID:        event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
		PublishError:  cause.Error(),
		DeadAt:        at.Format(time.RFC3339Nano),
	})
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("encode dead letter: %w", err)
	}

	wrapped := event
	wrapped.Payload = data
	return wrapped, nil
}

// DecodeDLQ разворачивает событие из DLQ обратно в исходное сообщение.
func DecodeDLQ(data []byte) (domain.OutboxMessage, error) {
	var env deadLetterEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("decode dead letter: %w", err)
	}
	if env.OutboxID == "" || env.EventType == "" {
		return domain.OutboxMessage{}, fmt.Errorf("%w: dead letter without outbox id or event type", domain.ErrInvalidArgument)
	}
	return domain.OutboxMessage{
		ID:            env.OutboxID,
		AggregateType: env.AggregateType,
		AggregateID:   env.BillID,
		EventType:     env.EventType,
		Payload:       []byte(env.Payload),
	}, nil
}
