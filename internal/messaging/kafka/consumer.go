package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 100 * time.Millisecond
)

// MessageHandler обрабатывает одно полученное сообщение.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// DeadLetterPublisher принимает сообщения, исчерпавшие попытки.
// Реализуется *Producer.
type DeadLetterPublisher interface {
	PublishEvent(topic, key string, event any, headers ...sarama.RecordHeader) error
}

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*Consumer)

// WithDeadLetter отправляет исчерпавшие попытки сообщения в topic через publisher.
// Пустой topic оставляет TopicDeadLetterQueue.
func WithDeadLetter(publisher DeadLetterPublisher, topic string) ConsumerOption {
	return func(c *Consumer) {
		c.deadLetters = publisher
		if topic != "" {
			c.deadLetterTopic = topic
		}
	}
}

// WithMaxAttempts ограничивает вызовы обработчика на сообщение с учётом попыток,
// сделанных до повторной доставки.
func WithMaxAttempts(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithRetryDelay задаёт паузу между попытками.
func WithRetryDelay(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d >= 0 {
			c.retryDelay = d
		}
	}
}

// WithConsumerLogger заменяет логгер компонента.
func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Consumer работает участником consumer group. Упавшие сообщения повторяются в процессе
// и, когда попытки кончились, уходят в DLQ, если publisher настроен.
// Сообщение коммитится только после обработки или отправки в DLQ.
type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler MessageHandler
	logger  *log.Entry

	deadLetters     DeadLetterPublisher
	deadLetterTopic string
	maxAttempts     int
	retryDelay      time.Duration

	wg sync.WaitGroup
}

// NewConsumer вступает в groupID на brokers и читает topics с самого нового offset.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, opts ...ConsumerOption) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("join consumer group %s: %w", groupID, err)
	}

	opts = append([]ConsumerOption{
		WithConsumerLogger(log.WithFields(log.Fields{"component": "kafka-consumer", "group": groupID})),
	}, opts...)
	return newConsumer(group, topics, handler, opts...), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		group:           group,
		topics:          topics,
		handler:         handler,
		logger:          log.WithField("component", "kafka-consumer"),
		deadLetterTopic: TopicDeadLetterQueue,
		maxAttempts:     defaultMaxAttempts,
		retryDelay:      defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start потребляет в фоне, пока ctx не отменён или не вызван Stop.
func (c *Consumer) Start(ctx context.Context) error {
	if c.handler == nil {
		return errors.New("kafka consumer needs a message handler")
	}

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		// Consume возвращается при каждой ребалансировке и должен вызываться снова.
		for ctx.Err() == nil {
			if err := c.group.Consume(ctx, c.topics, c); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.WithError(err).Error("consume session ended")
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Warn("consumer group error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop выходит из группы и дожидается фоновых циклов.
func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("leave consumer group: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if err := c.deliver(ctx, message); err != nil {
				// остаётся незакоммиченным: следующая сессия начнёт отсюда же
				c.logger.WithError(err).WithFields(messageFields(message)).Error("message not processed")
				continue
			}
			session.MarkMessage(message, "")
		}
	}
}

// deliver вызывает обработчик, пока он не успешен или пока попытки из
// retry-заголовка плюс локальные не достигнут maxAttempts.
func (c *Consumer) deliver(ctx context.Context, message *sarama.ConsumerMessage) error {
	attempts := priorAttempts(message)
	for {
		err := c.handler(ctx, message)
		if err == nil {
			return nil
		}
		attempts++
		if attempts >= c.maxAttempts {
			return c.deadLetter(message, attempts, err)
		}

		c.logger.WithError(err).WithFields(messageFields(message)).
			WithField("attempt", attempts).Warn("handler failed, retrying")
		if err := sleepCtx(ctx, c.retryDelay); err != nil {
			return err
		}
	}
}

func (c *Consumer) deadLetter(message *sarama.ConsumerMessage, attempts int, cause error) error {
	if c.deadLetters == nil {
		return fmt.Errorf("gave up after %d attempts: %w", attempts, cause)
	}

	record := ConsumerDLQMessage{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		ErrorMessage:      cause.Error(),
		FailedAt:          time.Now().UTC().Format(time.RFC3339),
		RetryCount:        attempts,
	}
	headers := []sarama.RecordHeader{
		Header(HeaderOriginalTopic, message.Topic),
		Header(HeaderRetryCount, strconv.Itoa(attempts)),
		Header(HeaderErrorMessage, record.ErrorMessage),
		Header(HeaderFailedAt, record.FailedAt),
	}
	if err := c.deadLetters.PublishEvent(c.deadLetterTopic, record.OriginalKey, record, headers...); err != nil {
		return fmt.Errorf("dead-letter to %s: %w", c.deadLetterTopic, err)
	}

	c.logger.WithFields(messageFields(message)).WithFields(log.Fields{
		"attempts":  attempts,
		"dlq_topic": c.deadLetterTopic,
	}).Warn("message dead-lettered")
	return nil
}

// priorAttempts читает HeaderRetryCount, чтобы повторно доставленное сообщение
// не получало новый бюджет.
func priorAttempts(message *sarama.ConsumerMessage) int {
	for _, h := range message.Headers {
		if h != nil && string(h.Key) == HeaderRetryCount {
			n, err := strconv.Atoi(string(h.Value))
			if err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}

func messageFields(message *sarama.ConsumerMessage) log.Fields {
	return log.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// EventRecorder считает полученные события по типу.
type EventRecorder interface {
	RecordConsumedEvent(eventType string)
}

// NewAuditHandler возвращает обработчик audit consumer group. Он логирует
// каждое событие счёта с его счётом и actor и считает по типу;
// недекодируемое событие считается ошибкой, поэтому оно повторяется и затем уходит в DLQ.
func NewAuditHandler(recorder EventRecorder, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "bill-audit")
	}
	return func(_ context.Context, message *sarama.ConsumerMessage) error {
		event, err := ParseBillEvent(message)
		if err != nil {
			return err
		}
		if recorder != nil {
			recorder.RecordConsumedEvent(event.EventType)
		}

		fields := log.Fields{
			"bill_id":    event.BillID,
			"event_type": event.EventType,
			"event_id":   event.ID,
			"offset":     message.Offset,
		}
		var payload struct {
			Status  string `json:"status"`
			ActorID string `json:"actor_id"`
		}
		if json.Unmarshal(event.Payload, &payload) == nil {
			if payload.Status != "" {
				fields["status"] = payload.Status
			}
			if payload.ActorID != "" {
				fields["actor_id"] = payload.ActorID
			}
		}
		logger.WithFields(fields).Info("bill event")
		return nil
	}
}
