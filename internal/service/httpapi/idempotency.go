package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

const (
	// IdempotencyKeyHeader — заголовок с ключом идемпотентности создания заказа.
	IdempotencyKeyHeader = "Idempotency-Key"
	// IdempotentReplayHeader выставляется, когда ответ взят из кэша.
	IdempotentReplayHeader = "Idempotent-Replayed"
)

// createOrderIdempotent резервирует ключ, выполняет создание и сохраняет успешный ответ.
// Ошибочный ответ освобождает ключ, чтобы клиент мог повторить запрос.
func (h *Handler) createOrderIdempotent(w http.ResponseWriter, r *http.Request, key string, body []byte, req createOrderRequest) {
	ctx := r.Context()
	logger := h.logger.WithField("idempotency_key", key)

	record, err := h.idem.CreateProcessing(ctx, key, requestHash(body), h.idemTTL)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		writeError(w, http.StatusUnprocessableEntity, "idempotency key is already used with different request payload")
		return
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		h.replay(w, record)
		return
	default:
		logger.WithError(err).Warn("idempotency store unavailable, processing without replay protection")
		status, payload := h.runCreate(ctx, req)
		writeJSON(w, status, payload)
		return
	}

	status, payload := h.runCreate(ctx, req)
	if status != http.StatusCreated {
		if err := h.idem.Release(context.WithoutCancel(ctx), key); err != nil {
			logger.WithError(err).Warn("failed to release idempotency key")
		}
		writeJSON(w, status, payload)
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		logger.WithError(err).Error("failed to encode create response")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.idem.MarkDone(context.WithoutCancel(ctx), key, data, status, h.idemTTL); err != nil {
		logger.WithError(err).Warn("failed to store idempotent response")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}

func (h *Handler) replay(w http.ResponseWriter, record domain.IdempotencyRecord) {
	switch record.Status {
	case domain.IdempotencyStatusDone:
		if len(record.ResponseBody) == 0 || record.HTTPStatus == 0 {
			writeError(w, http.StatusInternalServerError, "idempotency cache is empty")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(IdempotentReplayHeader, "true")
		w.WriteHeader(record.HTTPStatus)
		_, _ = w.Write(append(record.ResponseBody, '\n'))
	case domain.IdempotencyStatusProcessing:
		writeError(w, http.StatusConflict, "request with the same idempotency key is already processing")
	default:
		writeError(w, http.StatusInternalServerError, "unknown idempotency record status")
	}
}

// requestHash нормализует тело запроса через JSON, чтобы форматирование не влияло на хэш.
func requestHash(body []byte) string {
	var normalized any
	data := body
	if err := json.Unmarshal(body, &normalized); err == nil {
		if encoded, err := json.Marshal(normalized); err == nil {
			data = encoded
		}
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
