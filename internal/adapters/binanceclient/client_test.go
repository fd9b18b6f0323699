package binanceclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copyTrader/internal/adapters/logger"
	"copyTrader/internal/domain"
	"copyTrader/internal/ports"
)

const solMint = "So11111111111111111111111111111111111111112"

type fakeVenue struct {
	mu          sync.Mutex
	orderParams map[string]string
	orderStatus int
	orderBody   string
	markBody    string
}

func (f *fakeVenue) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/premiumIndex", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(f.markBody))
	})
	mux.HandleFunc("/fapi/v1/order", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.mu.Lock()
		f.orderParams = map[string]string{}
		for _, k := range []string{"symbol", "side", "type", "timeInForce", "quantity", "price", "newClientOrderId", "newOrderRespType"} {
			f.orderParams[k] = r.Form.Get(k)
		}
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if f.orderStatus != 0 {
			w.WriteHeader(f.orderStatus)
		}
		_, _ = w.Write([]byte(f.orderBody))
	})
	return mux
}

func setup(t *testing.T, venue *fakeVenue) *Client {
	t.Helper()
	srv := httptest.NewServer(venue.handler())
	t.Cleanup(srv.Close)

	c, err := New(Config{
		APIKey:            "key",
		SecretKey:         "secret",
		BaseURL:           srv.URL,
		Symbols:           map[string]string{solMint: "solusdt"},
		QuantityPrecision: 2,
		PricePrecision:    2,
		Logger:            logger.NewNop(),
	})
	require.NoError(t, err)
	return c
}

func TestNew_RequiresLogger(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestClient_MarkPrice(t *testing.T) {
	venue := &fakeVenue{markBody: `[{"symbol":"SOLUSDT","markPrice":"150.25","indexPrice":"150.20","lastFundingRate":"0.0001","time":1700000000000}]`}
	c := setup(t, venue)

	price, err := c.MarkPrice(context.Background(), solMint)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("150.25").Equal(price))

	_, err = c.MarkPrice(context.Background(), "unmapped")
	assert.ErrorIs(t, err, ports.ErrPriceUnavailable)
}

func TestClient_SubmitPlacesIOCLimitAtBound(t *testing.T) {
	venue := &fakeVenue{
		orderBody: `{"orderId":42,"symbol":"SOLUSDT","status":"FILLED","clientOrderId":"cid","price":"151.50",
			"avgPrice":"150.30","origQty":"2.34","executedQty":"2.34","updateTime":1700000000000,
			"timeInForce":"IOC","type":"LIMIT","side":"BUY"}`,
	}
	c := setup(t, venue)

	fill, err := c.Submit(context.Background(), domain.OrderRequest{
		ClientOrderID:  "cid",
		Side:           domain.Buy,
		Asset:          solMint,
		Quantity:       decimal.RequireFromString("2.349"),
		SlippageBps:    decimal.NewFromInt(100),
		ReferencePrice: decimal.NewFromInt(150),
	})
	require.NoError(t, err)

	assert.Equal(t, "42", fill.ConfirmationID)
	assert.True(t, decimal.RequireFromString("2.34").Equal(fill.Quantity))
	assert.True(t, decimal.RequireFromString("150.30").Equal(fill.Price))
	assert.Equal(t, int64(1700000000000), fill.Timestamp.UnixMilli())

	venue.mu.Lock()
	defer venue.mu.Unlock()
	assert.Equal(t, "SOLUSDT", venue.orderParams["symbol"])
	assert.Equal(t, "BUY", venue.orderParams["side"])
	assert.Equal(t, "LIMIT", venue.orderParams["type"])
	assert.Equal(t, "IOC", venue.orderParams["timeInForce"])
	assert.Equal(t, "2.34", venue.orderParams["quantity"], "quantity truncated to precision")
	assert.Equal(t, "151.5", venue.orderParams["price"], "150 * 1.01")
	assert.Equal(t, "cid", venue.orderParams["newClientOrderId"])
}

func TestClient_LimitPriceRoundsTowardReference(t *testing.T) {
	c := &Client{pricePrecision: 2}
	ref := decimal.RequireFromString("33.333")
	bps := decimal.NewFromInt(50)

	buy := c.limitPrice(domain.Buy, ref, bps)   // 33.499665
	sell := c.limitPrice(domain.Sell, ref, bps) // 33.166335
	assert.Equal(t, "33.49", buy.String())
	assert.Equal(t, "33.17", sell.String())
}

func TestClient_SubmitFailures(t *testing.T) {
	tests := []struct {
		name    string
		venue   *fakeVenue
		req     domain.OrderRequest
		wantErr []error
	}{
		{
			name:  "unfilled IOC",
			venue: &fakeVenue{orderBody: `{"orderId":7,"symbol":"SOLUSDT","status":"EXPIRED","executedQty":"0","avgPrice":"0.00000","updateTime":1}`},
			req: domain.OrderRequest{
				Side: domain.Sell, Asset: solMint, Quantity: decimal.NewFromInt(1),
				SlippageBps: decimal.NewFromInt(10), ReferencePrice: decimal.NewFromInt(100),
			},
			wantErr: []error{ports.ErrExecutionFailure},
		},
		{
			name:  "margin insufficient",
			venue: &fakeVenue{orderStatus: http.StatusBadRequest, orderBody: `{"code":-2019,"msg":"Margin is insufficient."}`},
			req: domain.OrderRequest{
				Side: domain.Buy, Asset: solMint, Quantity: decimal.NewFromInt(1),
				SlippageBps: decimal.NewFromInt(10), ReferencePrice: decimal.NewFromInt(100),
			},
			wantErr: []error{ports.ErrExecutionFailure, ports.ErrInsufficientFunds},
		},
		{
			name:  "unmapped asset",
			venue: &fakeVenue{},
			req: domain.OrderRequest{
				Side: domain.Buy, Asset: "unknown", Quantity: decimal.NewFromInt(1),
			},
			wantErr: []error{ports.ErrExecutionFailure, ports.ErrUnknownAsset},
		},
		{
			name:  "quantity below precision",
			venue: &fakeVenue{},
			req: domain.OrderRequest{
				Side: domain.Buy, Asset: solMint, Quantity: decimal.RequireFromString("0.001"),
				ReferencePrice: decimal.NewFromInt(100),
			},
			wantErr: []error{ports.ErrExecutionFailure, ports.ErrInvalidQuantity},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := setup(t, tt.venue)
			_, err := c.Submit(context.Background(), tt.req)
			require.Error(t, err)
			var execErr *ports.ExecutionError
			assert.True(t, errors.As(err, &execErr))
			for _, want := range tt.wantErr {
				assert.ErrorIs(t, err, want)
			}
		})
	}
}
