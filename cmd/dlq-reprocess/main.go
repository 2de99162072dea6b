package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/app"
	"github.com/vladislavdragonenkov/orders/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

var errUnsupportedLetter = errors.New("unsupported dlq message")

// config — параметры повторной отправки писем из orders.dlq.
type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	// originalTopic, если задан, ограничивает повтор письмами из этого топика.
	originalTopic string
	limit         int
	execute       bool
	idleTimeout   time.Duration
}

func parseConfig(args []string, getenv func(string) string) (config, error) {
	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	cfg := config{}
	brokers := fs.String("brokers", "", "Kafka brokers, comma-separated (fallback: KAFKA_BROKERS)")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "topic with dead letters")
	fs.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicOrderEvents, "topic for replayed outbox events")
	fs.StringVar(&cfg.originalTopic, "original-topic", "", "replay only letters that came from this topic")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of letters to scan")
	fs.BoolVar(&cfg.execute, "execute", false, "publish letters; without it only candidates are logged")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this long without messages")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	raw := *brokers
	if strings.TrimSpace(raw) == "" && getenv != nil {
		raw = getenv("KAFKA_BROKERS")
	}
	cfg.brokers = app.ParseBrokers(raw)

	switch {
	case len(cfg.brokers) == 0:
		return config{}, errors.New("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	case strings.TrimSpace(cfg.sourceTopic) == "":
		return config{}, errors.New("-source-topic is required")
	case strings.TrimSpace(cfg.targetTopic) == "":
		return config{}, errors.New("-target-topic is required")
	case cfg.limit <= 0:
		return config{}, errors.New("-limit must be positive")
	case cfg.idleTimeout <= 0:
		return config{}, errors.New("-idle-timeout must be positive")
	}
	return cfg, nil
}

// letter — восстановленное исходное сообщение, готовое к повторной отправке.
type letter struct {
	topic     string
	key       string
	eventType string
	value     []byte
}

func (l letter) headers() []sarama.RecordHeader {
	if l.eventType == "" {
		return nil
	}
	return []sarama.RecordHeader{{Key: []byte(kafka.HeaderEventType), Value: []byte(l.eventType)}}
}

// outboxFailure — payload письма, которое outbox worker не смог доставить.
type outboxFailure struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

// decodeLetter разбирает письмо DLQ. Письма consumer возвращаются в исходный
// топик как есть, события outbox пересобираются и уходят в eventsTopic.
func decodeLetter(msg *sarama.ConsumerMessage, eventsTopic string) (letter, error) {
	var dead kafka.DeadLetter
	if err := json.Unmarshal(msg.Value, &dead); err == nil && dead.OriginalValue != "" {
		topic := strings.TrimSpace(dead.OriginalTopic)
		if topic == "" {
			topic = eventsTopic
		}
		return letter{topic: topic, key: dead.OriginalKey, value: []byte(dead.OriginalValue)}, nil
	}

	envelope, err := kafka.ParseOutboxEnvelope(msg)
	if err != nil || len(envelope.Payload) == 0 {
		return letter{}, errUnsupportedLetter
	}

	var failure outboxFailure
	if err := json.Unmarshal(envelope.Payload, &failure); err != nil {
		return letter{}, fmt.Errorf("decode outbox failure: %w", err)
	}
	if len(failure.Payload) == 0 {
		return letter{}, errors.New("outbox failure has no event payload")
	}

	event := kafka.OutboxEnvelope{
		ID:            pick(failure.OutboxID, envelope.ID),
		AggregateType: pick(failure.AggregateType, envelope.AggregateType),
		AggregateID:   pick(failure.AggregateID, envelope.AggregateID),
		EventType:     pick(failure.EventType, envelope.EventType),
		Payload:       failure.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	value, err := json.Marshal(event)
	if err != nil {
		return letter{}, fmt.Errorf("encode order event: %w", err)
	}
	return letter{
		topic:     eventsTopic,
		key:       pick(event.AggregateID, event.ID),
		eventType: event.EventType,
		value:     value,
	}, nil
}

func pick(preferred, fallback string) string {
	if strings.TrimSpace(preferred) != "" {
		return preferred
	}
	return fallback
}

// replayStats — итог прохода по DLQ.
type replayStats struct {
	Scanned  int
	Replayed int
	Skipped  int
}

// replayer читает DLQ по partition и переотправляет письма через producer.
// Без producer работает в режиме dry-run.
type replayer struct {
	cfg      config
	consumer sarama.Consumer
	producer *kafka.Producer
	logger   *log.Entry
	stats    replayStats
}

func (r *replayer) Run(ctx context.Context) (replayStats, error) {
	partitions, err := r.consumer.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return r.stats, fmt.Errorf("list partitions of %s: %w", r.cfg.sourceTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		if r.stats.Scanned >= r.cfg.limit {
			break
		}
		if err := r.drainPartition(ctx, partition); err != nil {
			return r.stats, err
		}
	}
	return r.stats, nil
}

func (r *replayer) drainPartition(ctx context.Context, partition int32) error {
	pc, err := r.consumer.ConsumePartition(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for r.stats.Scanned < r.cfg.limit {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle.C:
			return nil
		case cerr, ok := <-pc.Errors():
			if ok && cerr != nil {
				return fmt.Errorf("partition %d: %w", partition, cerr.Err)
			}
		case msg, ok := <-pc.Messages():
			if !ok {
				return nil
			}
			if err := r.handle(msg); err != nil {
				return err
			}
			// Письма, пришедшие после старта прохода, не трогаем.
			if msg.Offset+1 >= pc.HighWaterMarkOffset() {
				return nil
			}
			idle.Reset(r.cfg.idleTimeout)
		}
	}
	return nil
}

func (r *replayer) handle(msg *sarama.ConsumerMessage) error {
	r.stats.Scanned++
	entry := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	l, err := decodeLetter(msg, r.cfg.targetTopic)
	if err != nil {
		r.stats.Skipped++
		entry.WithError(err).Warn("skip dlq message")
		return nil
	}
	if r.cfg.originalTopic != "" && l.topic != r.cfg.originalTopic {
		r.stats.Skipped++
		return nil
	}

	entry = entry.WithFields(log.Fields{"target_topic": l.topic, "key": l.key, "event_type": l.eventType})
	if r.producer == nil {
		entry.Info("dlq replay candidate")
		r.stats.Replayed++
		return nil
	}
	if err := r.producer.PublishRaw(l.topic, l.key, l.value, l.headers()...); err != nil {
		return fmt.Errorf("replay offset %d: %w", msg.Offset, err)
	}
	r.stats.Replayed++
	return nil
}

var openKafka = func(cfg config) (sarama.Consumer, *kafka.Producer, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true
	consumer, err := sarama.NewConsumer(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	if !cfg.execute {
		return consumer, nil, nil
	}

	producer, err := kafka.NewProducer(cfg.brokers)
	if err != nil {
		_ = consumer.Close()
		return nil, nil, err
	}
	return consumer, producer, nil
}

func run(ctx context.Context, cfg config, logger *log.Entry) (replayStats, error) {
	consumer, producer, err := openKafka(cfg)
	if err != nil {
		return replayStats{}, err
	}
	defer func() {
		if producer != nil {
			_ = producer.Close()
		}
		_ = consumer.Close()
	}()

	r := &replayer{cfg: cfg, consumer: consumer, producer: producer, logger: logger}
	return r.Run(ctx)
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	logger := log.WithField("component", "dlq-reprocess")

	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		logger.WithError(err).Fatal("invalid arguments")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithFields(log.Fields{
		"source_topic":   cfg.sourceTopic,
		"original_topic": cfg.originalTopic,
		"limit":          cfg.limit,
		"execute":        cfg.execute,
	}).Info("starting dlq replay")

	stats, err := run(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("dlq replay failed")
	}
	logger.WithFields(log.Fields{
		"scanned":  stats.Scanned,
		"replayed": stats.Replayed,
		"skipped":  stats.Skipped,
	}).Info("dlq replay finished")
}
