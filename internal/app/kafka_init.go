package app

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
	"github.com/vladislavdragonenkov/orders/internal/service/outbox"
)

// kafkaRuntime объединяет producer, outbox worker и consumer событий оплаты.
type kafkaRuntime struct {
	producer *kafka.Producer
	consumer *kafka.Consumer
	worker   *outbox.Worker

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// initKafka создаёт producer и outbox worker. Consumer подключается отдельно,
// когда сервис заказов уже собран.
func initKafka(cfg Config, outboxRepo domain.OutboxRepository, logger *log.Entry) (*kafkaRuntime, error) {
	if !cfg.KafkaEnabled() {
		return nil, nil
	}

	producer, err := kafka.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		return nil, err
	}
	logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer initialized")

	worker := outbox.NewWorker(
		outboxRepo,
		kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents),
		outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)),
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithMetrics(metrics.NewOutboxMetrics(nil)),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)

	return &kafkaRuntime{producer: producer, worker: worker}, nil
}

// attachPaymentConsumer подписывает сервис на события успешной оплаты.
func (k *kafkaRuntime) attachPaymentConsumer(cfg Config, confirmer kafka.PaymentConfirmer, logger *log.Entry) error {
	handler := kafka.NewPaymentSucceededHandler(confirmer, logger.WithField("component", "payment-events"))
	consumer, err := kafka.NewConsumer(
		cfg.KafkaBrokers,
		cfg.KafkaGroupID,
		[]string{kafka.TopicPaymentSucceeded},
		handler,
		kafka.WithDLQ(k.producer),
		kafka.WithConsumerLogger(logger.WithField("component", "kafka-consumer")),
	)
	if err != nil {
		return fmt.Errorf("init payment consumer: %w", err)
	}
	k.consumer = consumer
	return nil
}

// start запускает outbox worker и consumer до вызова stop.
func (k *kafkaRuntime) start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	k.cancel = cancel

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		k.worker.Run(runCtx)
	}()

	if k.consumer != nil {
		if err := k.consumer.Start(runCtx); err != nil {
			return err
		}
	}
	return nil
}

// stop останавливает consumer, дожидается worker и закрывает producer.
func (k *kafkaRuntime) stop(logger *log.Entry) {
	if k == nil {
		return
	}
	if k.cancel != nil {
		k.cancel()
	}
	if k.consumer != nil {
		if err := k.consumer.Stop(); err != nil {
			logger.WithError(err).Warn("failed to stop kafka consumer")
		}
	}
	k.wg.Wait()

	if k.producer != nil {
		if err := k.producer.Close(); err != nil {
			logger.WithError(err).Warn("failed to close kafka producer")
		} else {
			logger.Info("kafka producer closed")
		}
	}
}
