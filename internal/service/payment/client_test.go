package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

func TestClient_CreateSession(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"cancelUrl":"c","successUrl":"s","url":"u"}`))
	}))
	defer srv.Close()

	session, err := NewClient(srv.URL).CreateSession(context.Background(), domain.PaymentSessionRequest{
		OrderID:  "order-1",
		Currency: "usd",
		Items: []domain.PaymentLineItem{
			{Name: "Keyboard", Price: decimal.RequireFromString("49.99"), Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if received["orderId"] != "order-1" || received["currency"] != "usd" {
		t.Fatalf("unexpected request body: %+v", received)
	}
	items, ok := received["items"].([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("unexpected items: %+v", received["items"])
	}
	item := items[0].(map[string]any)
	if item["name"] != "Keyboard" || item["quantity"] != float64(2) {
		t.Fatalf("unexpected item: %+v", item)
	}
	if price, ok := item["price"].(float64); !ok || price != 49.99 {
		t.Fatalf("price must be a JSON number, got %#v", item["price"])
	}

	encoded, err := json.Marshal(session)
	if err != nil {
		t.Fatalf("marshal session: %v", err)
	}
	if string(encoded) != `{"cancelUrl":"c","successUrl":"s","url":"u"}` {
		t.Fatalf("session must be passed through unchanged, got %s", encoded)
	}
}

func TestClient_CreateSessionFailures(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
		"invalid json": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not json"))
		},
	}

	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(handler)
			defer srv.Close()

			_, err := NewClient(srv.URL).CreateSession(context.Background(), domain.PaymentSessionRequest{OrderID: "o"})
			if !errors.Is(err, domain.ErrPaymentSessionFailed) {
				t.Fatalf("expected ErrPaymentSessionFailed, got %v", err)
			}
		})
	}
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url).CreateSession(context.Background(), domain.PaymentSessionRequest{OrderID: "o"})
	if !errors.Is(err, domain.ErrPaymentSessionFailed) {
		t.Fatalf("expected ErrPaymentSessionFailed, got %v", err)
	}
}

func TestMockGateway(t *testing.T) {
	mock := NewMockGateway()

	if _, err := mock.CreateSession(context.Background(), domain.PaymentSessionRequest{OrderID: "o-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mock.Err = domain.ErrPaymentSessionFailed
	if _, err := mock.CreateSession(context.Background(), domain.PaymentSessionRequest{OrderID: "o-2"}); err == nil {
		t.Fatal("expected error")
	}

	if mock.Calls() != 2 {
		t.Fatalf("unexpected call counter: %d", mock.Calls())
	}
}
