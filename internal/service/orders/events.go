package orders

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// OrderEventPayload — тело события жизненного цикла, уходящего в outbox.
type OrderEventPayload struct {
	OrderID        string    `json:"order_id"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	TotalAmount    string    `json:"total_amount"`
	TotalItems     int       `json:"total_items"`
	Paid           bool      `json:"paid"`
	ChargeID       string    `json:"charge_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func (s *Service) emitEvent(ctx context.Context, eventType string, order domain.Order, previousStatus string) {
	if s.outbox == nil {
		return
	}

	payload := OrderEventPayload{
		OrderID:        order.ID,
		Status:         string(order.Status),
		PreviousStatus: previousStatus,
		TotalAmount:    order.TotalAmount.StringFixed(2),
		TotalItems:     order.TotalItems,
		Paid:           order.Paid,
		OccurredAt:     order.UpdatedAt,
	}
	if order.StripeChargeID != nil {
		payload.ChargeID = *order.StripeChargeID
	}

	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       data,
	}
	if _, err := s.outbox.Enqueue(ctx, msg); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("enqueue event failed")
		return
	}
	s.metrics.RecordOutboxEvent()
}

// appendTimeline пишет событие истории; ошибка только логируется.
func (s *Service) appendTimeline(ctx context.Context, orderID, eventType, reason string) {
	if s.timeline == nil {
		return
	}

	event := domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   reason,
		Occurred: time.Now().UTC(),
	}
	if err := s.timeline.Append(ctx, event); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"event":    eventType,
		}).Warn("failed to append timeline event")
		return
	}
	s.metrics.RecordTimelineEvent()
}
