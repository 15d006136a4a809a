package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
)

// Топики по умолчанию.
const (
	TopicBillEvents      = "farm.bill.events"
	TopicDeadLetterQueue = "farm.bill.dlq"
)

// Заголовки повторно доставленных и отправленных в DLQ сообщений.
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// BillEvent задаёт сетевую форму outbox-сообщения в топике событий счетов.
type BillEvent struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	BillID        string          `json:"bill_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewBillEvent оборачивает outbox-сообщение. Не-JSON payload отправляется JSON-строкой.
func NewBillEvent(msg domain.OutboxMessage) BillEvent {
	payload := msg.Payload
	if !json.Valid(payload) {
		payload, _ = json.Marshal(string(msg.Payload))
	}
	return BillEvent{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		BillID:        msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		PublishedAt:   time.Now().UTC(),
	}
}

// Key возвращает ключ партиции: события одного счёта остаются упорядоченными в одной партиции.
func (e BillEvent) Key() string {
	if e.BillID != "" {
		return e.BillID
	}
	return e.ID
}

// OutboxMessage превращает событие обратно в форму outbox.
func (e BillEvent) OutboxMessage() domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            e.ID,
		AggregateType: e.AggregateType,
		AggregateID:   e.BillID,
		EventType:     e.EventType,
		Payload:       []byte(e.Payload),
	}
}

// ParseBillEvent декодирует полученное событие счёта.
func ParseBillEvent(message *sarama.ConsumerMessage) (BillEvent, error) {
	var event BillEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return BillEvent{}, fmt.Errorf("unmarshal bill event: %w", err)
	}
	if event.EventType == "" {
		return BillEvent{}, fmt.Errorf("%w: bill event without event_type", domain.ErrInvalidArgument)
	}
	return event, nil
}

// ConsumerDLQMessage описывает то, что consumer отправляет в DLQ после исчерпания повторов.
type ConsumerDLQMessage struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	ErrorMessage      string `json:"error_message"`
	FailedAt          string `json:"failed_at"`
	RetryCount        int    `json:"retry_count"`
}
