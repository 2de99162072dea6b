package httpapi

import (
	"errors"
	"net/http"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// statusFromError сопоставляет доменную ошибку с HTTP-кодом и сообщением для клиента.
// Внутренние причины наружу не попадают.
func statusFromError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrInvalidProducts):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrOrderCreationFailed):
		return http.StatusBadRequest, domain.ErrOrderCreationFailed.Error()
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, domain.ErrOrderNotFound.Error()
	case errors.Is(err, domain.ErrInvalidStatusTransition):
		return http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrLookupFailed):
		return http.StatusBadGateway, domain.ErrLookupFailed.Error()
	case errors.Is(err, domain.ErrPaymentSessionFailed):
		return http.StatusBadGateway, domain.ErrPaymentSessionFailed.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
