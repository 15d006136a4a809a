package kafka

import (
	"errors"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
)

// HeaderEventType позволяет consumer-ам маршрутизировать события счетов без декодирования.
const HeaderEventType = "x-event-type"

// OutboxTopicPublisher отправляет outbox-сообщения в один топик конвертами BillEvent
// с ключом по счёту.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher обслуживает и outbox worker, и, с DLQ-топиком,
// его dead letter. Пустой topic означает TopicBillEvents.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicBillEvents
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic}
}

func (p *OutboxTopicPublisher) Topic() string { return p.topic }

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errors.New("kafka outbox publisher has no producer")
	}
	envelope := NewBillEvent(event)
	return p.producer.PublishEvent(p.topic, envelope.Key(), envelope, Header(HeaderEventType, envelope.EventType))
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
