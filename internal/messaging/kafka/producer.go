package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// NewProducerConfig возвращает идемпотентные настройки producer с ack-all, общие для
// сервиса и утилиты повтора DLQ.
func NewProducerConfig(clientID string) *sarama.Config {
	config := sarama.NewConfig()
	if clientID != "" {
		config.ClientID = clientID
	}
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	// идемпотентность требует одного запроса в полёте на соединение
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	return config
}

// Header строит заголовок записи.
func Header(key, value string) sarama.RecordHeader {
	return sarama.RecordHeader{Key: []byte(key), Value: []byte(value)}
}

// Producer синхронно отправляет JSON-записи.
type Producer struct {
	sync   sarama.SyncProducer
	logger *log.Entry
}

func NewProducer(brokers []string, clientID string) (*Producer, error) {
	sync, err := sarama.NewSyncProducer(brokers, NewProducerConfig(clientID))
	if err != nil {
		return nil, fmt.Errorf("connect kafka producer: %w", err)
	}
	return newProducer(sync), nil
}

func newProducer(sync sarama.SyncProducer) *Producer {
	return &Producer{sync: sync, logger: log.WithField("component", "kafka-producer")}
}

// PublishEvent отправляет event как JSON с ключом key. Вызов возвращается, когда каждая
// in-sync реплика получила запись.
func (p *Producer) PublishEvent(topic, key string, event any, headers ...sarama.RecordHeader) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %T for %s: %w", event, topic, err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Headers:   headers,
		Timestamp: time.Now(),
	}
	partition, offset, err := p.sync.SendMessage(msg)
	fields := log.Fields{"topic": topic, "key": key}
	if err != nil {
		p.logger.WithError(err).WithFields(fields).Error("kafka send failed")
		return fmt.Errorf("send to %s: %w", topic, err)
	}

	fields["partition"], fields["offset"] = partition, offset
	p.logger.WithFields(fields).Debug("kafka record sent")
	return nil
}

func (p *Producer) Close() error {
	if err := p.sync.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
