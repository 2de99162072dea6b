package domain

import "time"

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing означает, что запрос принят и ещё обрабатывается.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone означает, что запрос завершён успешно и ответ сохранён.
	IdempotencyStatusDone IdempotencyStatus = "done"
)

// IdempotencyRecord хранит состояние обработки запроса на создание заказа.
type IdempotencyRecord struct {
	Key          string            `json:"key"`
	RequestHash  string            `json:"request_hash"`
	ResponseBody []byte            `json:"response_body,omitempty"`
	HTTPStatus   int               `json:"http_status,omitempty"`
	Status       IdempotencyStatus `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone:
		return true
	default:
		return false
	}
}
