package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmops/internal/messaging/kafka"
)

// kafkaRuntime держит Kafka-часть процесса: один producer, общий для
// outbox relay и dead letter, плюс необязательный audit consumer.
// Без producer каждый метод ничего не делает.
type kafkaRuntime struct {
	producer *kafka.Producer
	consumer *kafka.Consumer
	logger   *log.Entry
}

// connectKafka подключается к брокерам из конфигурации. Без брокеров Kafka
// выключена, и это не ошибка.
func connectKafka(cfg Config, logger *log.Entry) (*kafkaRuntime, error) {
	k := &kafkaRuntime{logger: logger.WithField("component", "kafka")}
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		return k, nil
	}

	producer, err := kafka.NewProducer(brokers, cfg.KafkaClientID)
	if err != nil {
		return k, err
	}
	k.producer = producer
	k.logger.WithField("brokers", brokers).Info("kafka producer connected")
	return k, nil
}

func (k *kafkaRuntime) enabled() bool { return k != nil && k.producer != nil }

// startAudit вступает в KAFKA_CONSUMER_GROUP на топике событий счетов. Исчерпавшие
// попытки сообщения уходят в DLQ через общий producer.
func (k *kafkaRuntime) startAudit(ctx context.Context, cfg Config, recorder kafka.EventRecorder) error {
	if !k.enabled() || cfg.KafkaConsumerGroup == "" {
		return nil
	}

	consumer, err := kafka.NewConsumer(cfg.Brokers(), cfg.KafkaConsumerGroup, []string{cfg.KafkaEventsTopic},
		kafka.NewAuditHandler(recorder, k.logger.WithField("component", "bill-audit")),
		kafka.WithConsumerLogger(k.logger.WithField("group", cfg.KafkaConsumerGroup)),
		kafka.WithDeadLetter(k.producer, cfg.KafkaDLQTopic),
	)
	if err != nil {
		return err
	}
	if err := consumer.Start(ctx); err != nil {
		_ = consumer.Stop()
		return fmt.Errorf("start audit consumer: %w", err)
	}
	k.consumer = consumer
	return nil
}

// close останавливает consumer раньше producer, через который идут его dead letter.
func (k *kafkaRuntime) close() {
	if k == nil {
		return
	}
	if k.consumer != nil {
		if err := k.consumer.Stop(); err != nil {
			k.logger.WithError(err).Warn("audit consumer stop failed")
		}
		k.consumer = nil
	}
	if k.producer != nil {
		if err := k.producer.Close(); err != nil {
			k.logger.WithError(err).Warn("kafka producer close failed")
		}
		k.producer = nil
	}
}
