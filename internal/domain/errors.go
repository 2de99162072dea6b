package domain

import "errors"

var (
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("total amount must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// ErrItemQtyTooLarge — количество позиции больше MaxItemQuantity.
	ErrItemQtyTooLarge = errors.New("item quantity exceeds limit")
	// ErrTotalItemsOutOfRange — общее количество товаров вне 0..MaxTotalItems.
	ErrTotalItemsOutOfRange = errors.New("order total items out of range")
	// Ошибка отсутствующего идентификатора товара.
	ErrProductIDRequired = errors.New("item product id is required")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order total amount does not match items sum")
	// Ошибка несоответствия количества товаров и позиций.
	ErrTotalItemsMismatch = errors.New("order total items does not match items quantity")
	// ErrUnknownStatus возвращается для строки, не являющейся статусом заказа.
	ErrUnknownStatus = errors.New("unknown order status")

	// ErrInvalidInput — некорректная форма запроса или идентификатора.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidProducts — каталог не подтвердил товары заказа.
	ErrInvalidProducts = errors.New("invalid products")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists — заказ с таким ID уже сохранён.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrLookupFailed — каталог товаров недоступен или ответил ошибкой.
	ErrLookupFailed = errors.New("product lookup failed")
	// ErrPaymentSessionFailed — платёжный сервис недоступен или ответил ошибкой.
	ErrPaymentSessionFailed = errors.New("payment session creation failed")
	// ErrOrderCreationFailed — обобщённая ошибка создания заказа; причина только в логах.
	ErrOrderCreationFailed = errors.New("order creation failed, check service logs")
	// ErrInvalidStatusTransition — переход между статусами запрещён.
	ErrInvalidStatusTransition = errors.New("invalid order status transition")

	// ErrIdempotencyKeyAlreadyExists возвращается, если ключ уже использован.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch возвращается при повторе ключа с другим payload.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different payload")
	// ErrIdempotencyKeyRequired — пустой ключ идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsIdempotencyConflict проверяет, относится ли ошибка к конфликту ключа идемпотентности.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// IsNotFound проверяет, означает ли ошибка отсутствие заказа.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound)
}
