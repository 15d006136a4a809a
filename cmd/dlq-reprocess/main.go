// Command dlq-reprocess возвращает события счетов из DLQ обратно в топик
// событий счетов. Без -execute только показывает, что было бы отправлено.
//
// Понимает оба вида dead letter: записи, от которых отказался audit consumer,
// и outbox-события, которые relay не смог опубликовать. Повтор можно сузить
// до одного счёта (-bill) или одного типа события (-event-type).
package main

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmops/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/farmops/internal/service/outbox"
)

const (
	defaultLimit = 100
	defaultIdle  = 2 * time.Second
)

// errNotReplayable помечает записи, не являющиеся dead letter ни consumer, ни outbox.
var errNotReplayable = errors.New("record is not a bill dead letter")

type options struct {
	brokers   []string
	source    string
	target    string
	limit     int
	execute   bool
	tail      bool
	idle      time.Duration
	billID    string
	eventType string
}

// matches применяет фильтры -bill и -event-type.
func (o options) matches(c candidate) bool {
	if o.billID != "" && c.billID != o.billID {
		return false
	}
	return o.eventType == "" || c.eventType == o.eventType
}

func (o options) mode() string {
	if o.execute {
		return "execute"
	}
	return "dry-run"
}

// candidate хранит dead letter, декодированный обратно в запись для повторной публикации.
type candidate struct {
	topic     string
	key       string
	value     []byte
	billID    string
	eventType string
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type replayProducer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

// consumerSource сужает sarama.Consumer до partitionSource.
type consumerSource struct {
	sarama.Consumer
}

func (c consumerSource) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	return c.Consumer.ConsumePartition(topic, partition, offset)
}

// kafkaHandles владеет соединениями одного запуска. В dry-run producer равен nil.
type kafkaHandles struct {
	offsets  offsetClient
	source   partitionSource
	producer replayProducer
}

func (h kafkaHandles) close() {
	for _, c := range []interface{ Close() error }{h.producer, h.source, h.offsets} {
		if c != nil {
			_ = c.Close()
		}
	}
}

var dialKafka = func(opts options) (kafkaHandles, error) {
	cfg := sarama.NewConfig()
	cfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(opts.brokers, cfg)
	if err != nil {
		return kafkaHandles{}, fmt.Errorf("connect to kafka: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return kafkaHandles{}, fmt.Errorf("open dlq consumer: %w", err)
	}
	handles := kafkaHandles{offsets: client, source: consumerSource{consumer}}
	if !opts.execute {
		return handles, nil
	}

	producer, err := sarama.NewSyncProducer(opts.brokers, kafka.NewProducerConfig("farm-dlq-reprocess"))
	if err != nil {
		handles.close()
		return kafkaHandles{}, fmt.Errorf("open replay producer: %w", err)
	}
	handles.producer = producer
	return handles, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	_ = godotenv.Load()
	opts, err := parseOptions(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if _, err := run(context.Background(), opts); err != nil {
		fmt.Fprintf(os.Stderr, "dlq replay failed: %v\n", err)
		os.Exit(1)
	}
}

func parseOptions(args []string, getenv func(string) string) (options, error) {
	var (
		opts    options
		brokers string
	)

	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.StringVar(&brokers, "brokers", "", "comma-separated Kafka brokers (default $KAFKA_BROKERS)")
	fs.StringVar(&opts.source, "source-topic", kafka.TopicDeadLetterQueue, "dead-letter topic to scan")
	fs.StringVar(&opts.target, "target-topic", kafka.TopicBillEvents, "topic outbox dead letters are replayed to")
	fs.IntVar(&opts.limit, "limit", defaultLimit, "max records to scan across all partitions")
	fs.BoolVar(&opts.execute, "execute", false, "publish replays instead of listing them")
	fs.BoolVar(&opts.tail, "from-newest", false, "scan only the newest -limit records of each partition")
	fs.DurationVar(&opts.idle, "idle-timeout", defaultIdle, "stop reading a partition after this long without records")
	fs.StringVar(&opts.billID, "bill", "", "replay only events of this bill")
	fs.StringVar(&opts.eventType, "event-type", "", "replay only this event type, e.g. bill.approved")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if strings.TrimSpace(brokers) == "" {
		brokers = getenv("KAFKA_BROKERS")
	}
	opts.brokers = splitBrokers(brokers)
	opts.source = strings.TrimSpace(opts.source)
	opts.target = strings.TrimSpace(opts.target)
	opts.billID = strings.TrimSpace(opts.billID)
	opts.eventType = strings.TrimSpace(opts.eventType)

	switch {
	case len(opts.brokers) == 0:
		return options{}, errors.New("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	case opts.source == "":
		return options{}, errors.New("-source-topic is required")
	case opts.target == "":
		return options{}, errors.New("-target-topic is required")
	case opts.limit <= 0:
		return options{}, errors.New("-limit must be positive")
	case opts.idle <= 0:
		return options{}, errors.New("-idle-timeout must be positive")
	}
	return opts, nil
}

func splitBrokers(raw string) []string {
	var brokers []string
	for _, part := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(part); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, opts options) (tally, error) {
	handles, err := dialKafka(opts)
	if err != nil {
		return tally{}, err
	}
	defer handles.close()

	r := &replayer{
		opts:     opts,
		offsets:  handles.offsets,
		source:   handles.source,
		producer: handles.producer,
		logger:   log.WithFields(log.Fields{"source_topic": opts.source, "mode": opts.mode()}),
	}
	return r.run(ctx)
}

// tally считает, что произошло с просмотренными записями.
type tally struct {
	scanned  int
	replayed int
	skipped  int
	filtered int
}

func (t *tally) merge(other tally) {
	t.scanned += other.scanned
	t.replayed += other.replayed
	t.skipped += other.skipped
	t.filtered += other.filtered
}

type replayer struct {
	opts     options
	offsets  offsetClient
	source   partitionSource
	producer replayProducer
	logger   *log.Entry
}

func (r *replayer) run(ctx context.Context) (tally, error) {
	var total tally
	if r.offsets == nil || r.source == nil {
		return total, errors.New("kafka client and consumer are required")
	}
	if r.opts.execute && r.producer == nil {
		return total, errors.New("execute mode needs a producer")
	}

	partitions, err := r.offsets.Partitions(r.opts.source)
	if err != nil {
		return total, fmt.Errorf("partitions of %s: %w", r.opts.source, err)
	}
	slices.Sort(partitions)

	r.logger.WithFields(log.Fields{
		"partitions": len(partitions),
		"limit":      r.opts.limit,
		"bill_id":    r.opts.billID,
		"event_type": r.opts.eventType,
	}).Info("scanning dead letters")

	for _, partition := range partitions {
		budget := r.opts.limit - total.scanned
		if budget <= 0 {
			break
		}
		part, err := r.drainPartition(ctx, partition, budget)
		total.merge(part)
		if err != nil {
			return total, err
		}
	}

	r.logger.WithFields(log.Fields{
		"scanned":  total.scanned,
		"replayed": total.replayed,
		"skipped":  total.skipped,
		"filtered": total.filtered,
	}).Info("dlq replay finished")
	return total, nil
}

// window возвращает диапазон offset-ов [start, end) для чтения из partition.
func (r *replayer) window(partition int32, budget int) (int64, int64, error) {
	oldest, err := r.offsets.GetOffset(r.opts.source, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	newest, err := r.offsets.GetOffset(r.opts.source, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	if r.opts.tail {
		return max(oldest, newest-int64(budget)), newest, nil
	}
	return oldest, newest, nil
}

func (r *replayer) drainPartition(ctx context.Context, partition int32, budget int) (tally, error) {
	var t tally

	start, end, err := r.window(partition, budget)
	if err != nil || start >= end {
		return t, err
	}

	pc, err := r.source.ConsumePartition(r.opts.source, partition, start)
	if err != nil {
		return t, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.opts.idle)
	defer idle.Stop()

	for t.scanned < budget {
		select {
		case <-ctx.Done():
			return t, ctx.Err()
		case <-idle.C:
			return t, nil
		case cerr := <-pc.Errors():
			if cerr != nil {
				return t, fmt.Errorf("partition %d: %w", partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= end {
				return t, nil
			}
			idle.Reset(r.opts.idle)

			t.scanned++
			if err := r.handle(msg, &t); err != nil {
				return t, err
			}
			if msg.Offset+1 >= end {
				return t, nil
			}
		}
	}
	return t, nil
}

func (r *replayer) handle(msg *sarama.ConsumerMessage, t *tally) error {
	logger := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	c, err := decodeDeadLetter(msg.Value, r.opts.target)
	if err != nil {
		if !errors.Is(err, errNotReplayable) {
			logger.WithError(err).Warn("skip malformed dead letter")
		}
		t.skipped++
		return nil
	}
	if !r.opts.matches(c) {
		t.filtered++
		return nil
	}

	logger = logger.WithFields(log.Fields{
		"bill_id":      c.billID,
		"event_type":   c.eventType,
		"target_topic": c.topic,
	})
	if !r.opts.execute {
		logger.Info("would replay")
		t.replayed++
		return nil
	}

	if _, _, err := r.producer.SendMessage(c.message(r.opts.source)); err != nil {
		return fmt.Errorf("replay offset %d of partition %d: %w", msg.Offset, msg.Partition, err)
	}
	logger.Debug("replayed")
	t.replayed++
	return nil
}

// message собирает запись для публикации; исходный топик передаётся в заголовке.
func (c candidate) message(source string) *sarama.ProducerMessage {
	return &sarama.ProducerMessage{
		Topic:     c.topic,
		Key:       sarama.StringEncoder(c.key),
		Value:     sarama.ByteEncoder(c.value),
		Timestamp: time.Now().UTC(),
		Headers: []sarama.RecordHeader{
			{Key: []byte(kafka.HeaderOriginalTopic), Value: []byte(source)},
		},
	}
}

// decodeDeadLetter превращает dead letter обратно в исходно опубликованную запись.
// Dead letter consumer-а содержит исходную запись как есть; dead letter outbox
// содержит событие счёта, payload которого является конвертом outbox dead letter;
// конверт разворачивается и кодируется заново как свежее событие счёта.
func decodeDeadLetter(value []byte, fallbackTopic string) (candidate, error) {
	var consumed kafka.ConsumerDLQMessage
	if json.Unmarshal(value, &consumed) == nil && consumed.OriginalValue != "" {
		c := candidate{
			topic:  cmp.Or(strings.TrimSpace(consumed.OriginalTopic), fallbackTopic),
			key:    consumed.OriginalKey,
			value:  []byte(consumed.OriginalValue),
			billID: consumed.OriginalKey,
		}
		if event, err := kafka.ParseBillEvent(&sarama.ConsumerMessage{Value: c.value}); err == nil {
			c.billID = cmp.Or(event.BillID, c.billID)
			c.eventType = event.EventType
		}
		return c, nil
	}

	wrapper, err := kafka.ParseBillEvent(&sarama.ConsumerMessage{Value: value})
	if err != nil || len(wrapper.Payload) == 0 {
		return candidate{}, errNotReplayable
	}
	original, err := outbox.DecodeDLQ(wrapper.Payload)
	if err != nil {
		return candidate{}, err
	}
	if len(original.Payload) == 0 {
		return candidate{}, fmt.Errorf("outbox dead letter %s has no original payload", original.ID)
	}

	event := kafka.NewBillEvent(original)
	encoded, err := json.Marshal(event)
	if err != nil {
		return candidate{}, fmt.Errorf("encode replay of %s: %w", original.ID, err)
	}
	return candidate{
		topic:     fallbackTopic,
		key:       event.Key(),
		value:     encoded,
		billID:    event.BillID,
		eventType: event.EventType,
	}, nil
}
