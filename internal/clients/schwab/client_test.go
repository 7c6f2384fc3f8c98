package schwab

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradenotify/internal/retry"
)

func TestGetOrdersSendsAuthAndWindow(t *testing.T) {
	var gotAuth, gotFrom, gotStatus string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotFrom = r.URL.Query().Get("fromEnteredTime")
		gotStatus = r.URL.Query().Get("status")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"orderId": 42, "status": "FILLED", "quantity": 1, "filledQuantity": 1, "price": 1.5,
			 "orderLegCollection": [{"instruction": "BUY_TO_OPEN",
			   "instrument": {"symbol": "ORCL  260213C00149000", "underlyingSymbol": "ORCL", "assetType": "OPTION"}}]}
		]`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "token-abc", 5*time.Second, zerolog.Nop())

	orders, err := client.GetOrders(context.Background(), 7*24*time.Hour, "FILLED")
	require.NoError(t, err)
	require.Len(t, orders, 1)

	assert.Equal(t, "Bearer token-abc", gotAuth)
	assert.NotEmpty(t, gotFrom)
	assert.Equal(t, "FILLED", gotStatus)

	require.NotNil(t, orders[0].OrderID)
	assert.Equal(t, int64(42), *orders[0].OrderID)
	assert.Equal(t, "ORCL", orders[0].OrderLegs[0].Instrument.UnderlyingSymbol)
}

func TestGetOrdersAuthFailureIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"expired token"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(server.URL, "stale", 5*time.Second, zerolog.Nop())

	_, err := client.GetOrders(context.Background(), time.Hour, "")
	require.Error(t, err)

	var fatal *retry.FatalError
	assert.True(t, errors.As(err, &fatal))
}

func TestGetOrdersServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, "token", 5*time.Second, zerolog.Nop())

	_, err := client.GetOrders(context.Background(), time.Hour, "")
	require.Error(t, err)

	var fatal *retry.FatalError
	assert.False(t, errors.As(err, &fatal))
}

func TestGetOptionPositionsFiltersAndKeys(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "positions", r.URL.Query().Get("fields"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"securitiesAccount": {"accountNumber": "123", "positions": [
				{"longQuantity": 2, "instrument": {"assetType": "OPTION", "symbol": "ORCL  260213C00149000", "underlyingSymbol": "ORCL"}},
				{"longQuantity": 100, "instrument": {"assetType": "EQUITY", "symbol": "AAPL"}},
				{"shortQuantity": 1, "instrument": {"assetType": "OPTION", "symbol": "MSFT  260320P00400000"}}
			]}}
		]`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "token", 5*time.Second, zerolog.Nop())

	positions, err := client.GetOptionPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)

	orcl, ok := positions["ORCL"]
	require.True(t, ok)
	assert.Equal(t, 2.0, orcl.Quantity())

	// Positions without an underlyingSymbol fall back to the symbol root.
	msft, ok := positions["MSFT"]
	require.True(t, ok)
	assert.Equal(t, -1.0, msft.Quantity())

	_, hasEquity := positions["AAPL"]
	assert.False(t, hasEquity)
}
