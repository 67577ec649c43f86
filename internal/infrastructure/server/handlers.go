package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"liquidity_engine/internal/auth"
	"liquidity_engine/internal/core"
	apperrors "liquidity_engine/pkg/errors"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
	maxBodyBytes      = 1 << 16
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps engine sentinels onto HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrInvalidInput), errors.Is(err, apperrors.ErrInsufficientBalance):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrTickInProgress):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrEngineStopped), errors.Is(err, apperrors.ErrDegenerateState):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperrors.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, apperrors.ErrVenueUnavailable),
		errors.Is(err, apperrors.ErrExecutionFailed),
		errors.Is(err, apperrors.ErrSlippageExceeded),
		errors.Is(err, apperrors.ErrDeadlineExpired),
		errors.Is(err, apperrors.ErrLiquidityFailed),
		errors.Is(err, apperrors.ErrLedgerRejected),
		errors.Is(err, apperrors.ErrNetwork):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.Error("Operator request failed", "path", r.URL.Path, "request_id", auth.RequestID(r.Context()), "error", err)
	} else {
		s.logger.Warn("Operator request rejected", "path", r.URL.Path, "request_id", auth.RequestID(r.Context()), "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: bad request body: %v", apperrors.ErrInvalidInput, err)
	}
	return nil
}

func parseAmount(field, v string) (sdkmath.Int, error) {
	amount, ok := sdkmath.NewIntFromString(v)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("%w: %s %q is not an integer", apperrors.ErrInvalidInput, field, v)
	}
	return amount, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		return
	}
	status, label := http.StatusOK, "healthy"
	if !s.deps.Health.IsHealthy() {
		status, label = http.StatusServiceUnavailable, "unhealthy"
	}
	writeJSON(w, status, map[string]interface{}{
		"status":     label,
		"components": s.deps.Health.GetStatus(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	e := s.deps.Engine
	writeJSON(w, http.StatusOK, statusView{
		Ready:    e.Ready(),
		Phase:    e.Phase().String(),
		Position: e.Snapshot(),
		Policy:   e.Policy(),
		Venues:   e.Venues(),
		LastTick: viewTick(e.LastTick()),
	})
}

func (s *Server) handleUpkeep(w http.ResponseWriter, r *http.Request) {
	u, err := s.deps.Engine.CheckUpkeep(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewUpkeep(u))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		writeJSON(w, http.StatusOK, []core.Event{})
		return
	}
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.fail(w, r, fmt.Errorf("%w: limit %q", apperrors.ErrInvalidInput, raw))
			return
		}
		limit = min(n, maxEventLimit)
	}
	events := s.deps.Events.Recent(limit)
	if events == nil {
		events = []core.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Engine.Tick(r.Context(), time.Now())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewTick(&report))
}

type rebalanceRequest struct {
	// Price is a decimal string, e.g. "1834.25"
	Price string `json:"price"`
}

func (s *Server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	var req rebalanceRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	d, err := decimal.NewFromString(req.Price)
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: price %q", apperrors.ErrInvalidInput, req.Price))
		return
	}
	price, err := core.PriceFromDecimal(d)
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err))
		return
	}
	res, err := s.deps.Engine.Rebalance(r.Context(), auth.CallerFromContext(r.Context()), price)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewRebalance(&res))
}

type provideRequest struct {
	AmountA string `json:"amount_a"`
	AmountB string `json:"amount_b"`
}

func (s *Server) handleProvide(w http.ResponseWriter, r *http.Request) {
	var req provideRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	a, err := parseAmount("amount_a", req.AmountA)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	b, err := parseAmount("amount_b", req.AmountB)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	receipt, err := s.deps.Engine.ProvideLiquidity(r.Context(), auth.CallerFromContext(r.Context()), a, b)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewReceipt(&receipt))
}

type removeRequest struct {
	Units string `json:"units"`
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	var req removeRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	units, err := parseAmount("units", req.Units)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	receipt, err := s.deps.Engine.RemoveLiquidity(r.Context(), auth.CallerFromContext(r.Context()), units)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewReceipt(&receipt))
}

type swapRequest struct {
	AmountIn string         `json:"amount_in"`
	Route    []core.AssetID `json:"route"`
	MinOut   string         `json:"min_out"`
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	in, err := parseAmount("amount_in", req.AmountIn)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	minOut := sdkmath.ZeroInt()
	if req.MinOut != "" {
		if minOut, err = parseAmount("min_out", req.MinOut); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	intent := core.TradeIntent{AmountIn: in, Route: req.Route, MinAcceptableOut: minOut}
	res, err := s.deps.Engine.Swap(r.Context(), auth.CallerFromContext(r.Context()), intent)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewExecution(&res))
}

func (s *Server) handleStopLoss(w http.ResponseWriter, r *http.Request) {
	wd, err := s.deps.Engine.TriggerStopLoss(r.Context(), auth.CallerFromContext(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewWithdrawal(&wd))
}

type mitigateRequest struct {
	ImpermanentLossBps uint64 `json:"impermanent_loss_bps"`
}

func (s *Server) handleMitigate(w http.ResponseWriter, r *http.Request) {
	var req mitigateRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	signal := core.VolatilitySignal{
		ImpermanentLossBps: req.ImpermanentLossBps,
		ThresholdBps:       s.deps.Engine.Policy().MitigationThresholdBps,
		ObservedAt:         time.Now(),
	}
	wd, err := s.deps.Engine.Mitigate(r.Context(), auth.CallerFromContext(r.Context()), signal)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewWithdrawal(&wd))
}

type policyRequest struct {
	Field string `json:"field"`
	Value int64  `json:"value"`
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	e := s.deps.Engine
	ctx, caller := r.Context(), auth.CallerFromContext(r.Context())

	var err error
	switch req.Field {
	case "max_order_size":
		err = e.UpdateMaxOrderSize(ctx, caller, req.Value)
	case "min_profit_threshold_bps":
		err = e.UpdateMinProfitThreshold(ctx, caller, req.Value)
	case "rebalance_threshold_bps":
		err = e.UpdateRebalanceThreshold(ctx, caller, req.Value)
	case "stop_loss_threshold_bps":
		err = e.UpdateStopLossThreshold(ctx, caller, req.Value)
	case "mitigation_threshold_bps":
		err = e.UpdateMitigationThreshold(ctx, caller, req.Value)
	default:
		err = fmt.Errorf("%w: unknown policy field %q", apperrors.ErrInvalidInput, req.Field)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e.Policy())
}
