// Package httpapi реализует REST API заказов поверх chi.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
)

const (
	defaultRequestTimeout = 15 * time.Second
	maxBodyBytes          = 1 << 20
)

// OrderService — сценарии заказов, которые использует HTTP API.
type OrderService interface {
	CreateOrderWithPayment(ctx context.Context, items []domain.ItemInput) (orders.CreateResult, error)
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	ListOrders(ctx context.Context, filter domain.ListFilter) (domain.OrderPage, error)
	ChangeStatus(ctx context.Context, id string, status domain.OrderStatus) (domain.Order, error)
	ConfirmPayment(ctx context.Context, confirmation domain.PaymentConfirmation) (domain.Order, error)
	GetTimeline(ctx context.Context, id string) ([]domain.TimelineEvent, error)
}

// Handler обслуживает HTTP-маршруты заказов.
type Handler struct {
	service        OrderService
	idem           domain.IdempotencyRepository
	idemTTL        time.Duration
	requestTimeout time.Duration
	logger         *log.Entry
}

// Option настраивает Handler.
type Option func(*Handler)

// WithIdempotency включает обработку заголовка Idempotency-Key при создании заказа.
func WithIdempotency(repo domain.IdempotencyRepository, ttl time.Duration) Option {
	return func(h *Handler) {
		h.idem = repo
		if ttl > 0 {
			h.idemTTL = ttl
		}
	}
}

// WithRequestTimeout задаёт таймаут обработки запроса.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(h *Handler) {
		if timeout > 0 {
			h.requestTimeout = timeout
		}
	}
}

// WithLogger задаёт логгер обработчика.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler создаёт обработчик HTTP API.
func NewHandler(service OrderService, opts ...Option) *Handler {
	h := &Handler{
		service:        service,
		idemTTL:        24 * time.Hour,
		requestTimeout: defaultRequestTimeout,
		logger:         log.WithField("component", "http-api"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router собирает chi-роутер со всеми маршрутами заказов.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(h.requestTimeout))
	h.Register(r)
	return r
}

// Register добавляет маршруты заказов в существующий роутер.
func (h *Handler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Post("/create", h.createOrder)
		r.Get("/", h.listOrders)
		r.Put("/status", h.changeStatus)
		r.Post("/payment/succeeded", h.paymentSucceeded)
		r.Get("/{id}", h.getOrder)
		r.Get("/{id}/timeline", h.getTimeline)
	})
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if msg := validateCreateRequest(req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if key == "" || h.idem == nil {
		status, payload := h.runCreate(r.Context(), req)
		writeJSON(w, status, payload)
		return
	}

	h.createOrderIdempotent(w, r, key, body, req)
}

// runCreate выполняет создание заказа и возвращает код и тело ответа.
func (h *Handler) runCreate(ctx context.Context, req createOrderRequest) (int, any) {
	result, err := h.service.CreateOrderWithPayment(ctx, toItemInputs(req.Items))
	if err != nil {
		status, msg := statusFromError(err)
		return status, ErrorResponse{Status: status, Message: msg}
	}
	return http.StatusCreated, CreateOrderResponse{
		Order:          toOrderDTO(result.Order),
		PaymentSession: result.PaymentSession,
	}
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "get order")
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(order))
}

func (h *Handler) getTimeline(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	events, err := h.service.GetTimeline(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "get timeline")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.service.ListOrders(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, err, "list orders")
		return
	}

	resp := ListOrdersResponse{
		Data: make([]OrderDTO, 0, len(page.Orders)),
		Meta: PageMeta{Total: page.Total, Page: page.Page, LastPage: page.LastPage},
	}
	for _, order := range page.Orders {
		resp.Data = append(resp.Data, toOrderDTO(order))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request) {
	var req changeStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := uuid.Parse(req.ID); err != nil {
		writeError(w, http.StatusBadRequest, "id must be a valid uuid")
		return
	}
	status, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("status must be one of %s", joinStatuses()))
		return
	}

	order, err := h.service.ChangeStatus(r.Context(), req.ID, status)
	if err != nil {
		h.writeServiceError(w, err, "change status")
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(order))
}

func (h *Handler) paymentSucceeded(w http.ResponseWriter, r *http.Request) {
	var req paymentSucceededRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := uuid.Parse(req.OrderID); err != nil {
		writeError(w, http.StatusBadRequest, "orderId must be a valid uuid")
		return
	}
	if strings.TrimSpace(req.StripePaymentID) == "" {
		writeError(w, http.StatusBadRequest, "stripePaymentId is required")
		return
	}
	if strings.TrimSpace(req.ReceiptURL) == "" {
		writeError(w, http.StatusBadRequest, "receiptUrl is required")
		return
	}

	order, err := h.service.ConfirmPayment(r.Context(), domain.PaymentConfirmation{
		OrderID:    req.OrderID,
		ChargeID:   req.StripePaymentID,
		ReceiptURL: req.ReceiptURL,
	})
	if err != nil {
		h.writeServiceError(w, err, "confirm payment")
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(order))
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error, operation string) {
	status, msg := statusFromError(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithField("operation", operation).Error("request failed")
	}
	writeError(w, status, msg)
}

func validateCreateRequest(req createOrderRequest) string {
	if len(req.Items) == 0 {
		return "items must contain at least one item"
	}
	for i, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return fmt.Sprintf("items[%d].productId is required", i)
		}
		if item.Quantity <= 0 {
			return fmt.Sprintf("items[%d].quantity must be a positive integer", i)
		}
	}
	return ""
}

func parseListFilter(r *http.Request) (domain.ListFilter, error) {
	query := r.URL.Query()
	var filter domain.ListFilter

	if raw := query.Get("status"); raw != "" {
		status, err := domain.ParseOrderStatus(raw)
		if err != nil {
			return filter, fmt.Errorf("status must be one of %s", joinStatuses())
		}
		filter.Status = &status
	}

	var err error
	if filter.Page, err = positiveQueryInt(query.Get("page"), "page"); err != nil {
		return filter, err
	}
	if filter.Limit, err = positiveQueryInt(query.Get("limit"), "limit"); err != nil {
		return filter, err
	}
	return filter, nil
}

// positiveQueryInt разбирает необязательный положительный параметр; пустое значение даёт 0.
func positiveQueryInt(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return value, nil
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "id must be a valid uuid")
		return "", false
	}
	return id, true
}

func joinStatuses() string {
	names := make([]string, 0, len(domain.OrderStatuses))
	for _, status := range domain.OrderStatuses {
		names = append(names, string(status))
	}
	return strings.Join(names, ", ")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "request body is required")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, ErrorResponse{Status: code, Message: message})
}
