package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

func TestClient_FindProducts(t *testing.T) {
	var received findProductsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"1","name":"Keyboard","price":49.99},{"id":"2","name":"Mouse","price":"10.5"}]`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	products, err := client.FindProducts(context.Background(), []string{"1", "2", "1", "3"})
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2", "3"}, received.ProductIDs, "ids are de-duplicated in request order")
	require.Len(t, products, 2)
	assert.Equal(t, "Keyboard", products[0].Name)
	assert.True(t, products[0].Price.Equal(decimal.RequireFromString("49.99")))
	assert.True(t, products[1].Price.Equal(decimal.RequireFromString("10.5")))
}

func TestClient_EmptyInputSkipsCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	products, err := NewClient(srv.URL).FindProducts(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, products)
	assert.False(t, called)
}

func TestClient_EmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	products, err := NewClient(srv.URL).FindProducts(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.NotNil(t, products)
	assert.Empty(t, products)
}

func TestClient_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "non-2xx",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusBadGateway)
			},
		},
		{
			name: "undecodable body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"not":"an array"`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewClient(srv.URL).FindProducts(context.Background(), []string{"1"})
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrLookupFailed))
		})
	}
}

func TestClient_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}))
	_, err := client.FindProducts(context.Background(), []string{"1"})
	require.ErrorIs(t, err, domain.ErrLookupFailed)
}

func TestMockCatalog(t *testing.T) {
	mock := NewMockCatalog(domain.Product{ID: "1", Name: "Keyboard", Price: decimal.NewFromInt(10)})

	products, err := mock.FindProducts(context.Background(), []string{"1", "2"})
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, 1, mock.CallCount())

	mock.Err = domain.ErrLookupFailed
	_, err = mock.FindProducts(context.Background(), []string{"1"})
	require.ErrorIs(t, err, domain.ErrLookupFailed)
}
