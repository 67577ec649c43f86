package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"liquidity_engine/internal/auth"
	"liquidity_engine/internal/core"
	"liquidity_engine/internal/engine"
	"liquidity_engine/internal/infrastructure/health"
	"liquidity_engine/internal/trading/liquidity"
	"liquidity_engine/internal/trading/policy"
	"liquidity_engine/internal/trading/router"
	apperrors "liquidity_engine/pkg/errors"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
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

const apiKey = "operator-key"

var _ Engine = (*engine.Engine)(nil)

var assets = core.AssetSet{A: "WETH", B: "USDC", PoolShare: "LP"}

// MockEngine stubs the read side and records operator calls
type MockEngine struct {
	mock.Mock
	position core.Position
	policy   core.PolicyConfig
	last     *engine.TickReport
}

func (m *MockEngine) Ready() bool                  { return true }
func (m *MockEngine) Snapshot() core.Position      { return m.position }
func (m *MockEngine) Policy() core.PolicyConfig    { return m.policy }
func (m *MockEngine) Phase() engine.Phase          { return engine.PhaseIdle }
func (m *MockEngine) LastTick() *engine.TickReport { return m.last }
func (m *MockEngine) Venues() []string             { return []string{"venue-a", "venue-b"} }

func (m *MockEngine) CheckUpkeep(ctx context.Context) (engine.Upkeep, error) {
	args := m.Called()
	return args.Get(0).(engine.Upkeep), args.Error(1)
}

func (m *MockEngine) Tick(ctx context.Context, now time.Time) (engine.TickReport, error) {
	args := m.Called()
	return args.Get(0).(engine.TickReport), args.Error(1)
}

func (m *MockEngine) ProvideLiquidity(ctx context.Context, caller string, amountA, amountB sdkmath.Int) (core.LiquidityReceipt, error) {
	args := m.Called(caller, amountA.String(), amountB.String())
	return args.Get(0).(core.LiquidityReceipt), args.Error(1)
}

func (m *MockEngine) RemoveLiquidity(ctx context.Context, caller string, units sdkmath.Int) (core.LiquidityReceipt, error) {
	args := m.Called(caller, units.String())
	return args.Get(0).(core.LiquidityReceipt), args.Error(1)
}

func (m *MockEngine) Rebalance(ctx context.Context, caller string, price core.Price) (liquidity.RebalanceResult, error) {
	args := m.Called(caller, price)
	return args.Get(0).(liquidity.RebalanceResult), args.Error(1)
}

func (m *MockEngine) Swap(ctx context.Context, caller string, intent core.TradeIntent) (router.ExecutionResult, error) {
	args := m.Called(caller, intent.AmountIn.String(), intent.Route, intent.MinAcceptableOut.String())
	return args.Get(0).(router.ExecutionResult), args.Error(1)
}

func (m *MockEngine) TriggerStopLoss(ctx context.Context, caller string) (liquidity.Withdrawal, error) {
	args := m.Called(caller)
	return args.Get(0).(liquidity.Withdrawal), args.Error(1)
}

func (m *MockEngine) Mitigate(ctx context.Context, caller string, signal core.VolatilitySignal) (liquidity.Withdrawal, error) {
	args := m.Called(caller, signal.ImpermanentLossBps, signal.ThresholdBps)
	return args.Get(0).(liquidity.Withdrawal), args.Error(1)
}

func (m *MockEngine) UpdateMaxOrderSize(ctx context.Context, caller string, v int64) error {
	return m.Called("max_order_size", caller, v).Error(0)
}

func (m *MockEngine) UpdateMinProfitThreshold(ctx context.Context, caller string, v int64) error {
	return m.Called("min_profit_threshold_bps", caller, v).Error(0)
}

func (m *MockEngine) UpdateRebalanceThreshold(ctx context.Context, caller string, v int64) error {
	return m.Called("rebalance_threshold_bps", caller, v).Error(0)
}

func (m *MockEngine) UpdateStopLossThreshold(ctx context.Context, caller string, v int64) error {
	return m.Called("stop_loss_threshold_bps", caller, v).Error(0)
}

func (m *MockEngine) UpdateMitigationThreshold(ctx context.Context, caller string, v int64) error {
	return m.Called("mitigation_threshold_bps", caller, v).Error(0)
}

type staticEvents []core.Event

func (s staticEvents) Recent(n int) []core.Event {
	if n > len(s) {
		n = len(s)
	}
	return s[len(s)-n:]
}

func newTestServer(t *testing.T, eng *MockEngine, events EventSource, hm core.IHealthMonitor) *httptest.Server {
	t.Helper()
	authz := auth.NewAuthorizer([]string{apiKey}, 1000, &mockLogger{})
	s := NewServer(":0", Deps{Engine: eng, Authorizer: authz, Events: events, Health: hm, Logger: &mockLogger{}})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func newEngine() *MockEngine {
	pos := core.NewPosition(assets)
	pos.BalanceA = sdkmath.NewInt(9_000)
	pos.LastReferencePrice = 1000 * 100_000_000
	return &MockEngine{
		position: pos,
		policy: core.PolicyConfig{
			MaxOrderSize:           sdkmath.NewInt(100_000),
			MitigationThresholdBps: 500,
		},
	}
}

func call(t *testing.T, ts *httptest.Server, method, path, key, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if key != "" {
		req.Header.Set(auth.HeaderAPIKey, key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestServer_Status(t *testing.T) {
	eng := newEngine()
	eng.last = &engine.TickReport{
		TickID:     "tick-1",
		Price:      1021 * 100_000_000,
		Evaluation: policy.Evaluation{Decision: core.DecisionRebalance, PriceDiffBps: 210},
		Action:     core.DecisionRebalance,
	}
	ts := newTestServer(t, eng, nil, nil)

	resp, body := call(t, ts, http.MethodGet, "/status", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ready"])
	assert.Equal(t, "IDLE", body["phase"])

	pos := body["position"].(map[string]interface{})
	assert.Equal(t, "9000", pos["balance_a"])
	assert.Equal(t, "0", pos["balance_b"])

	last := body["last_tick"].(map[string]interface{})
	assert.Equal(t, "REBALANCE", last["action"])
	assert.Equal(t, float64(210), last["price_diff_bps"])
}

func TestServer_HealthReflectsCriticalChecks(t *testing.T) {
	hm := health.NewHealthManager(&mockLogger{})
	hm.Register("oracle", func() error { return nil })
	ts := newTestServer(t, newEngine(), nil, hm)

	resp, body := call(t, ts, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])

	hm.Register("oracle", func() error { return errors.New("stale") })
	resp, body = call(t, ts, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, map[string]interface{}{"oracle": "unhealthy: stale"}, body["components"])
}

func TestServer_Upkeep(t *testing.T) {
	eng := newEngine()
	eng.On("CheckUpkeep").Return(engine.Upkeep{
		Needed:     true,
		Price:      800 * 100_000_000,
		Evaluation: policy.Evaluation{Decision: core.DecisionStopLoss, PriceDiffBps: 2000, Adverse: true},
	}, nil).Once()
	ts := newTestServer(t, eng, nil, nil)

	resp, body := call(t, ts, http.MethodGet, "/upkeep", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["needed"])
	assert.Equal(t, "STOP_LOSS", body["decision"])
	eng.AssertExpectations(t)
}

func TestServer_OperatorRoutesRequireKey(t *testing.T) {
	eng := newEngine()
	ts := newTestServer(t, eng, nil, nil)

	for _, key := range []string{"", "wrong"} {
		resp, _ := call(t, ts, http.MethodPost, "/v1/stop-loss", key, "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	eng.AssertNotCalled(t, "TriggerStopLoss", mock.Anything)
}

func TestServer_Rebalance(t *testing.T) {
	eng := newEngine()
	price := core.Price(1834_25_000_000)
	eng.On("Rebalance", apiKey, price).Return(liquidity.RebalanceResult{
		Price:    price,
		Provided: &core.LiquidityReceipt{AmountA: sdkmath.NewInt(10), AmountB: sdkmath.NewInt(20), Units: sdkmath.NewInt(14)},
	}, nil).Once()
	ts := newTestServer(t, eng, nil, nil)

	resp, body := call(t, ts, http.MethodPost, "/v1/rebalance", apiKey, `{"price":"1834.25"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(price), body["price"])
	assert.Equal(t, "14", body["provided"].(map[string]interface{})["units"])
	assert.Nil(t, body["removed"])

	resp, _ = call(t, ts, http.MethodPost, "/v1/rebalance", apiKey, `{"price":"abc"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = call(t, ts, http.MethodPost, "/v1/rebalance", apiKey, `{"price":"1","extra":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	eng.AssertExpectations(t)
}

func TestServer_LiquidityRoutes(t *testing.T) {
	eng := newEngine()
	receipt := core.LiquidityReceipt{AmountA: sdkmath.NewInt(10_000), AmountB: sdkmath.NewInt(20_000), Units: sdkmath.NewInt(14_142)}
	eng.On("ProvideLiquidity", apiKey, "10000", "30000").Return(receipt, nil).Once()
	eng.On("RemoveLiquidity", apiKey, "99999999").
		Return(core.LiquidityReceipt{}, errors.Join(errors.New("units exceed held"), apperrors.ErrInvalidInput)).Once()
	ts := newTestServer(t, eng, nil, nil)

	resp, body := call(t, ts, http.MethodPost, "/v1/liquidity/provide", apiKey, `{"amount_a":"10000","amount_b":"30000"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "20000", body["amount_b"])

	resp, body = call(t, ts, http.MethodPost, "/v1/liquidity/remove", apiKey, `{"units":"99999999"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "units exceed held")

	resp, _ = call(t, ts, http.MethodPost, "/v1/liquidity/remove", apiKey, `{"units":"1.5"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	eng.AssertExpectations(t)
}

func TestServer_Swap(t *testing.T) {
	eng := newEngine()
	route := []core.AssetID{"WETH", "USDC"}
	eng.On("Swap", apiKey, "1000", route, "0").Return(router.ExecutionResult{
		Status:    router.StatusExecuted,
		Venue:     "venue-b",
		AssetIn:   "WETH",
		AssetOut:  "USDC",
		AmountIn:  sdkmath.NewInt(1000),
		AmountOut: sdkmath.NewInt(1005),
		Quoted:    sdkmath.NewInt(1005),
		MinOut:    sdkmath.NewInt(1000),
		EdgeBps:   sdkmath.NewInt(50),
		Quotes: []core.VenueQuote{
			{VenueID: "venue-a", AmountOut: sdkmath.NewInt(990)},
			{VenueID: "venue-c", Err: apperrors.ErrVenueUnavailable},
		},
	}, nil).Once()
	eng.On("Swap", apiKey, "1000", route, "5000").
		Return(router.ExecutionResult{}, apperrors.ErrVenueUnavailable).Once()
	ts := newTestServer(t, eng, nil, nil)

	resp, body := call(t, ts, http.MethodPost, "/v1/swap", apiKey, `{"amount_in":"1000","route":["WETH","USDC"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "venue-b", body["venue"])
	assert.Equal(t, "1005", body["amount_out"])
	quotes := body["quotes"].([]interface{})
	require.Len(t, quotes, 2)
	assert.Equal(t, "990", quotes[0].(map[string]interface{})["amount_out"])
	assert.NotEmpty(t, quotes[1].(map[string]interface{})["error"])

	resp, _ = call(t, ts, http.MethodPost, "/v1/swap", apiKey, `{"amount_in":"1000","route":["WETH","USDC"],"min_out":"5000"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	eng.AssertExpectations(t)
}

func TestServer_StopLossAndMitigate(t *testing.T) {
	eng := newEngine()
	wd := liquidity.Withdrawal{Units: sdkmath.NewInt(7), AmountA: sdkmath.NewInt(5), AmountB: sdkmath.NewInt(9)}
	eng.On("TriggerStopLoss", apiKey).Return(wd, nil).Once()
	eng.On("Mitigate", apiKey, uint64(700), uint64(500)).Return(wd, nil).Once()
	ts := newTestServer(t, eng, nil, nil)

	resp, body := call(t, ts, http.MethodPost, "/v1/stop-loss", apiKey, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "7", body["units"])

	resp, body = call(t, ts, http.MethodPost, "/v1/mitigate", apiKey, `{"impermanent_loss_bps":700}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "9", body["amount_b"])
	eng.AssertExpectations(t)
}

func TestServer_PolicyUpdate(t *testing.T) {
	eng := newEngine()
	eng.On("UpdateRebalanceThreshold", "rebalance_threshold_bps", apiKey, int64(250)).Return(nil).Once()
	eng.On("UpdateStopLossThreshold", "stop_loss_threshold_bps", apiKey, int64(-1)).
		Return(apperrors.ErrInvalidInput).Once()
	ts := newTestServer(t, eng, nil, nil)

	resp, _ := call(t, ts, http.MethodPut, "/v1/policy", apiKey, `{"field":"rebalance_threshold_bps","value":250}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = call(t, ts, http.MethodPut, "/v1/policy", apiKey, `{"field":"stop_loss_threshold_bps","value":-1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = call(t, ts, http.MethodPut, "/v1/policy", apiKey, `{"field":"leverage","value":3}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	eng.AssertExpectations(t)
}

func TestServer_TickConflict(t *testing.T) {
	eng := newEngine()
	eng.On("Tick").Return(engine.TickReport{}, apperrors.ErrTickInProgress).Once()
	ts := newTestServer(t, eng, nil, nil)

	resp, _ := call(t, ts, http.MethodPost, "/v1/tick", apiKey, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServer_Events(t *testing.T) {
	events := staticEvents{
		{ID: "1", Type: core.EventRebalanced},
		{ID: "2", Type: core.EventStopLossTriggered},
		{ID: "3", Type: core.EventImpermanentLossMitigation},
	}
	ts := newTestServer(t, newEngine(), events, nil)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/events?limit=2", nil)
	req.Header.Set(auth.HeaderAPIKey, apiKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out []core.Event
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out, 2)
	assert.Equal(t, "2", out[0].ID)

	bad, _ := call(t, ts, http.MethodGet, "/v1/events?limit=-1", apiKey, "")
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperrors.ErrInsufficientBalance, http.StatusBadRequest},
		{apperrors.ErrUnauthorized, http.StatusUnauthorized},
		{apperrors.ErrEngineStopped, http.StatusServiceUnavailable},
		{apperrors.ErrLiquidityFailed, http.StatusBadGateway},
		{apperrors.ErrSlippageExceeded, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
