// Package kafka публикует события заказов в Kafka и принимает события оплаты.
package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

// Topics для Kafka
const (
	TopicOrderEvents      = "orders.events"
	TopicDeadLetterQueue  = "orders.dlq"
	TopicPaymentSucceeded = "payments.succeeded"
)

// Kafka headers
const (
	HeaderEventType     = "x-event-type"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OutboxEnvelope — сообщение о событии заказа в топике orders.events.
type OutboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// PaymentSucceededEvent — уведомление платёжного сервиса об успешной оплате.
type PaymentSucceededEvent struct {
	OrderID         string `json:"orderId"`
	StripePaymentID string `json:"stripePaymentId"`
	ReceiptURL      string `json:"receiptUrl"`
}

// DeadLetter — сообщение, которое не удалось обработать.
type DeadLetter struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	ErrorMessage      string `json:"error_message"`
	FailedAt          string `json:"failed_at"`
	Attempts          int    `json:"attempts"`
}

// ParsePaymentSucceeded разбирает событие оплаты и проверяет обязательные поля.
func ParsePaymentSucceeded(message *sarama.ConsumerMessage) (*PaymentSucceededEvent, error) {
	var event PaymentSucceededEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment event: %w", err)
	}
	if strings.TrimSpace(event.OrderID) == "" || strings.TrimSpace(event.StripePaymentID) == "" {
		return nil, fmt.Errorf("payment event must contain orderId and stripePaymentId")
	}
	if _, err := uuid.Parse(event.OrderID); err != nil {
		return nil, fmt.Errorf("payment event orderId must be a valid uuid: %w", err)
	}
	return &event, nil
}

// ParseOutboxEnvelope разбирает событие заказа из orders.events.
func ParseOutboxEnvelope(message *sarama.ConsumerMessage) (*OutboxEnvelope, error) {
	var envelope OutboxEnvelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order event: %w", err)
	}
	if envelope.EventType == "" {
		envelope.EventType = headerValue(message.Headers, HeaderEventType)
	}
	return &envelope, nil
}

func headerValue(headers []*sarama.RecordHeader, key string) string {
	for _, header := range headers {
		if header != nil && string(header.Key) == key {
			return string(header.Value)
		}
	}
	return ""
}
