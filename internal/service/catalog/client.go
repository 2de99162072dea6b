// Package catalog обращается к внешнему каталогу товаров.
package catalog

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
	defaultTimeout = 5 * time.Second
	// maxResponseBytes ограничивает размер ответа каталога.
	maxResponseBytes = 4 << 20
)

// Client — HTTP-клиент каталога товаров.
type Client struct {
	url        string
	httpClient *http.Client
	logger     *log.Entry
}

// Option настраивает Client.
type Option func(*Client)

// WithHTTPClient задаёт собственный http.Client (таймауты, транспорт).
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

// NewClient создаёт клиента для endpoint поиска товаров по идентификаторам.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:        url,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     log.WithField("component", "catalog-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type findProductsRequest struct {
	ProductIDs []string `json:"productIds"`
}

// FindProducts отправляет уникальные идентификаторы в каталог и возвращает найденные товары.
// Отсутствующие в каталоге товары в ответ не попадают.
func (c *Client) FindProducts(ctx context.Context, ids []string) ([]domain.Product, error) {
	ids = domain.UniqueProductIDs(ids)
	if len(ids) == 0 {
		return []domain.Product{}, nil
	}

	body, err := json.Marshal(findProductsRequest{ProductIDs: ids})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", domain.ErrLookupFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrLookupFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrLookupFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, fmt.Errorf("%w: catalog responded with status %d", domain.ErrLookupFailed, resp.StatusCode)
	}

	var products []domain.Product
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&products); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrLookupFailed, err)
	}
	if products == nil {
		products = []domain.Product{}
	}

	c.logger.WithFields(log.Fields{
		"requested": len(ids),
		"found":     len(products),
	}).Debug("catalog lookup completed")

	return products, nil
}

var _ domain.ProductCatalog = (*Client)(nil)
