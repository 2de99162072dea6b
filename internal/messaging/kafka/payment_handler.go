package kafka

import (
	"context"
	"errors"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// PaymentConfirmer применяет подтверждение оплаты к заказу.
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, confirmation domain.PaymentConfirmation) (domain.Order, error)
}

// NewPaymentSucceededHandler возвращает обработчик топика payments.succeeded.
// Неизвестный заказ логируется и подтверждается, битое сообщение уходит в DLQ без повторов.
func NewPaymentSucceededHandler(confirmer PaymentConfirmer, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "payment-events")
	}

	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		event, err := ParsePaymentSucceeded(message)
		if err != nil {
			return Permanent(err)
		}

		entry := logger.WithFields(log.Fields{
			"order_id":   event.OrderID,
			"payment_id": event.StripePaymentID,
		})

		order, err := confirmer.ConfirmPayment(ctx, domain.PaymentConfirmation{
			OrderID:    event.OrderID,
			ChargeID:   event.StripePaymentID,
			ReceiptURL: event.ReceiptURL,
		})
		switch {
		case err == nil:
			entry.WithField("status", order.Status).Info("payment event applied")
			return nil
		case domain.IsNotFound(err):
			entry.Warn("payment event for unknown order skipped")
			return nil
		case errors.Is(err, domain.ErrInvalidInput):
			return Permanent(err)
		default:
			return err
		}
	}
}
