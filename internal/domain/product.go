package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Product — запись внешнего каталога товаров (только чтение).
type Product struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// IndexProducts строит индекс товаров по идентификатору.
func IndexProducts(products []Product) map[string]Product {
	byID := make(map[string]Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return byID
}

// UniqueProductIDs убирает дубликаты, сохраняя порядок первого вхождения.
func UniqueProductIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}

// MissingProductIDs возвращает запрошенные идентификаторы, которых нет в ответе каталога.
func MissingProductIDs(requested []string, products []Product) []string {
	byID := IndexProducts(products)
	var missing []string
	for _, id := range UniqueProductIDs(requested) {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// PaymentLineItem — строка платёжной сессии.
type PaymentLineItem struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// MarshalJSON пишет цену числом JSON, а не строкой.
func (i PaymentLineItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name     string      `json:"name"`
		Price    json.Number `json:"price"`
		Quantity int         `json:"quantity"`
	}{
		Name:     i.Name,
		Price:    json.Number(i.Price.String()),
		Quantity: i.Quantity,
	})
}

// PaymentSessionRequest — запрос на создание платёжной сессии.
type PaymentSessionRequest struct {
	OrderID  string            `json:"orderId"`
	Currency string            `json:"currency"`
	Items    []PaymentLineItem `json:"items"`
}

// PaymentSession — непрозрачный дескриптор сессии от платёжного сервиса.
type PaymentSession json.RawMessage

// MarshalJSON отдаёт дескриптор без изменений.
func (s PaymentSession) MarshalJSON() ([]byte, error) {
	if len(s) == 0 {
		return []byte("null"), nil
	}
	return json.RawMessage(s).MarshalJSON()
}

// UnmarshalJSON сохраняет дескриптор как есть.
func (s *PaymentSession) UnmarshalJSON(data []byte) error {
	*s = append((*s)[0:0], data...)
	return nil
}
