package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"liquidity_engine/internal/core"
	apperrors "liquidity_engine/pkg/errors"
	httpclient "liquidity_engine/pkg/http"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, fields ...interface{})               {}
func (m *mockLogger) Info(msg string, fields ...interface{})                {}
func (m *mockLogger) Warn(msg string, fields ...interface{})                {}
func (m *mockLogger) Error(msg string, fields ...interface{})               {}
func (m *mockLogger) Fatal(msg string, fields ...interface{})               {}
func (m *mockLogger) WithField(key string, value interface{}) core.ILogger  { return m }
func (m *mockLogger) WithFields(fields map[string]interface{}) core.ILogger { return m }

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestPriceFromDecimal(t *testing.T) {
	p, err := core.PriceFromDecimal(decimal.RequireFromString("2150.123456789"))
	require.NoError(t, err)
	assert.Equal(t, core.Price(215_012_345_678), p)

	_, err = core.PriceFromDecimal(decimal.RequireFromString("1e20"))
	assert.Error(t, err)
}

func TestOracle_CurrentPrice(t *testing.T) {
	observed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/price", r.URL.Path)
		assert.Equal(t, "Bearer feed-key", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, priceResponse{Price: "2150.5", Timestamp: observed.UnixMilli()})
	}))
	defer server.Close()

	o := NewOracle(httpclient.Options{BaseURL: server.URL, Signer: httpclient.BearerSigner("feed-key")}, time.Minute, &mockLogger{})
	o.now = func() time.Time { return observed.Add(30 * time.Second) }

	obs, err := o.CurrentPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.Price(215_050_000_000), obs.Price)
	assert.Equal(t, core.PriceDecimals, obs.Decimals)
	assert.True(t, observed.Equal(obs.ObservedAt))

	o.now = func() time.Time { return observed.Add(2 * time.Minute) }
	_, err = o.CurrentPrice(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNetwork)
}

func TestOracle_RetriesTransientFailures(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, priceResponse{Price: "1000"})
	}))
	defer server.Close()

	o := NewOracle(httpclient.Options{BaseURL: server.URL, MaxRetries: 2}, 0, &mockLogger{})
	obs, err := o.CurrentPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.Price(100_000_000_000), obs.Price)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestOracle_MalformedPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, priceResponse{Price: "n/a"})
	}))
	defer server.Close()

	o := NewOracle(httpclient.Options{BaseURL: server.URL}, 0, &mockLogger{})
	_, err := o.CurrentPrice(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNetwork)
}

func TestVenue_QuoteAndExecute(t *testing.T) {
	deadline := time.Now().Add(30 * time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/quote":
			var req quoteRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, []string{"WETH", "USDC"}, req.Path)
			assert.Equal(t, "1000", req.AmountIn)
			writeJSON(w, http.StatusOK, amountResponse{AmountOut: "1005"})
		case "/swap":
			var req executeRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "990", req.MinAmountOut)
			assert.Equal(t, deadline.UnixMilli(), req.Deadline)
			writeJSON(w, http.StatusOK, amountResponse{AmountOut: "1004"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	v := NewVenue("venue-x", httpclient.Options{BaseURL: server.URL}, &mockLogger{})
	assert.Equal(t, "venue-x", v.Name())
	path := []core.AssetID{"WETH", "USDC"}

	out, err := v.Quote(context.Background(), path, sdkmath.NewInt(1_000))
	require.NoError(t, err)
	assert.Equal(t, int64(1_005), out.Int64())

	out, err = v.Execute(context.Background(), path, sdkmath.NewInt(1_000), sdkmath.NewInt(990), deadline)
	require.NoError(t, err)
	assert.Equal(t, int64(1_004), out.Int64())
}

func TestVenue_ExecuteRejections(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{codeSlippage, apperrors.ErrSlippageExceeded},
		{codeDeadline, apperrors.ErrDeadlineExpired},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusConflict, errorBody{Code: tt.code, Message: "rejected"})
			}))
			defer server.Close()

			v := NewVenue("venue-x", httpclient.Options{BaseURL: server.URL}, &mockLogger{})
			_, err := v.Execute(context.Background(), []core.AssetID{"A", "B"}, sdkmath.NewInt(1), sdkmath.NewInt(1), time.Now())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestVenue_SwapIsNeverRetried(t *testing.T) {
	var quotes, swaps int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/quote" {
			atomic.AddInt32(&quotes, 1)
		} else {
			atomic.AddInt32(&swaps, 1)
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	v := NewVenue("venue-x", httpclient.Options{BaseURL: server.URL, MaxRetries: 2}, &mockLogger{})
	path := []core.AssetID{"A", "B"}

	_, err := v.Execute(context.Background(), path, sdkmath.NewInt(1), sdkmath.NewInt(1), time.Now().Add(time.Second))
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&swaps))

	_, err = v.Quote(context.Background(), path, sdkmath.NewInt(1))
	assert.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&quotes))
}

func TestVenue_RejectsNegativeQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, amountResponse{AmountOut: "-5"})
	}))
	defer server.Close()

	v := NewVenue("venue-x", httpclient.Options{BaseURL: server.URL}, &mockLogger{})
	_, err := v.Quote(context.Background(), []core.AssetID{"A", "B"}, sdkmath.NewInt(1))
	assert.ErrorIs(t, err, apperrors.ErrNetwork)
}

func TestPool_AddAndRemove(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/liquidity/add":
			var req addLiquidityRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "10000", req.AmountA)
			assert.Equal(t, "30000", req.AmountB)
			writeJSON(w, http.StatusOK, receiptResponse{AmountA: "10000", AmountB: "20000", Units: "14142"})
		case "/liquidity/remove":
			var req removeLiquidityRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "14142", req.Units)
			writeJSON(w, http.StatusConflict, errorBody{Code: codeDeadline, Message: "too late"})
		}
	}))
	defer server.Close()

	p := NewPool("pool", httpclient.Options{BaseURL: server.URL})
	receipt, err := p.AddLiquidity(context.Background(), sdkmath.NewInt(10_000), sdkmath.NewInt(30_000), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), receipt.AmountA.Int64())
	assert.Equal(t, int64(20_000), receipt.AmountB.Int64())
	assert.Equal(t, int64(14_142), receipt.Units.Int64())

	_, err = p.RemoveLiquidity(context.Background(), receipt.Units, time.Now())
	assert.ErrorIs(t, err, apperrors.ErrDeadlineExpired)
}

func TestLedger(t *testing.T) {
	transferCh := make(chan transferRequest, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/balance":
			assert.Equal(t, "engine", r.URL.Query().Get("account"))
			assert.Equal(t, "USDC", r.URL.Query().Get("asset"))
			writeJSON(w, http.StatusOK, balanceResponse{Balance: "30000"})
		case "/approve":
			var req approveRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if req.Amount == "0" {
				writeJSON(w, http.StatusBadRequest, errorBody{Message: "zero allowance"})
				return
			}
			w.WriteHeader(http.StatusNoContent)
		case "/transfer":
			var req transferRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			transferCh <- req
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer server.Close()

	ctx := context.Background()
	l := NewLedger("engine", httpclient.Options{BaseURL: server.URL})

	bal, err := l.BalanceOf(ctx, "USDC")
	require.NoError(t, err)
	assert.Equal(t, int64(30_000), bal.Int64())

	require.NoError(t, l.Approve(ctx, "USDC", "venue-a", sdkmath.NewInt(10)))
	assert.ErrorIs(t, l.Approve(ctx, "USDC", "venue-a", sdkmath.ZeroInt()), apperrors.ErrLedgerRejected)

	require.NoError(t, l.Transfer(ctx, "USDC", "treasury", sdkmath.NewInt(5)))
	assert.Equal(t, transferRequest{Asset: "USDC", From: "engine", To: "treasury", Amount: "5"}, <-transferCh)
}
