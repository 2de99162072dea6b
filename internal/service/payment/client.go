// Package payment создаёт платёжные сессии во внешнем платёжном сервисе.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

const (
	defaultTimeout   = 5 * time.Second
	maxResponseBytes = 1 << 20
)

// Client — HTTP-клиент платёжного сервиса.
type Client struct {
	url        string
	httpClient *http.Client
	logger     *log.Entry
}

// Option настраивает Client.
type Option func(*Client)

// WithHTTPClient задаёт собственный http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLogger задаёт логгер клиента.
func WithLogger(logger *log.Entry) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient создаёт клиента для endpoint создания платёжной сессии.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:        url,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     log.WithField("component", "payment-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateSession отправляет позиции заказа и возвращает ответ сервиса без изменений.
func (c *Client) CreateSession(ctx context.Context, sessionReq domain.PaymentSessionRequest) (domain.PaymentSession, error) {
	if sessionReq.Items == nil {
		sessionReq.Items = []domain.PaymentLineItem{}
	}
	body, err := json.Marshal(sessionReq)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", domain.ErrPaymentSessionFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrPaymentSessionFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPaymentSessionFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrPaymentSessionFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: payment service responded with status %d", domain.ErrPaymentSessionFailed, resp.StatusCode)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: response is not valid json", domain.ErrPaymentSessionFailed)
	}

	c.logger.WithField("order_id", sessionReq.OrderID).Debug("payment session created")
	return domain.PaymentSession(raw), nil
}

var _ domain.PaymentGateway = (*Client)(nil)
