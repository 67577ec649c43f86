// Package server exposes the engine over HTTP: unauthenticated health, status
// and metrics, and an operator API behind the API-key middleware.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"liquidity_engine/internal/auth"
	"liquidity_engine/internal/core"
	"liquidity_engine/internal/engine"
	"liquidity_engine/internal/trading/liquidity"
	"liquidity_engine/internal/trading/router"

	sdkmath "cosmossdk.io/math"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Engine is the part of *engine.Engine the API drives
type Engine interface {
	Ready() bool
	Snapshot() core.Position
	Policy() core.PolicyConfig
	Phase() engine.Phase
	LastTick() *engine.TickReport
	Venues() []string
	CheckUpkeep(ctx context.Context) (engine.Upkeep, error)
	Tick(ctx context.Context, now time.Time) (engine.TickReport, error)

	ProvideLiquidity(ctx context.Context, caller string, amountA, amountB sdkmath.Int) (core.LiquidityReceipt, error)
	RemoveLiquidity(ctx context.Context, caller string, units sdkmath.Int) (core.LiquidityReceipt, error)
	Rebalance(ctx context.Context, caller string, price core.Price) (liquidity.RebalanceResult, error)
	Swap(ctx context.Context, caller string, intent core.TradeIntent) (router.ExecutionResult, error)
	TriggerStopLoss(ctx context.Context, caller string) (liquidity.Withdrawal, error)
	Mitigate(ctx context.Context, caller string, signal core.VolatilitySignal) (liquidity.Withdrawal, error)

	UpdateMaxOrderSize(ctx context.Context, caller string, v int64) error
	UpdateMinProfitThreshold(ctx context.Context, caller string, v int64) error
	UpdateRebalanceThreshold(ctx context.Context, caller string, v int64) error
	UpdateStopLossThreshold(ctx context.Context, caller string, v int64) error
	UpdateMitigationThreshold(ctx context.Context, caller string, v int64) error
}

// EventSource serves the recent audit trail
type EventSource interface {
	Recent(n int) []core.Event
}

// Deps wires a Server. Events and Health are optional.
type Deps struct {
	Engine     Engine
	Authorizer *auth.Authorizer
	Events     EventSource
	Health     core.IHealthMonitor
	Logger     core.ILogger
}

type Server struct {
	addr   string
	deps   Deps
	logger core.ILogger

	mu  sync.Mutex
	srv *http.Server
}

func NewServer(addr string, deps Deps) *Server {
	return &Server{
		addr:   addr,
		deps:   deps,
		logger: deps.Logger.WithField("component", "api_server"),
	}
}

// Handler builds the route table
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /upkeep", s.handleUpkeep)
	mux.Handle("GET /metrics", promhttp.Handler())

	op := http.NewServeMux()
	op.HandleFunc("GET /v1/events", s.handleEvents)
	op.HandleFunc("POST /v1/tick", s.handleTick)
	op.HandleFunc("POST /v1/rebalance", s.handleRebalance)
	op.HandleFunc("POST /v1/liquidity/provide", s.handleProvide)
	op.HandleFunc("POST /v1/liquidity/remove", s.handleRemove)
	op.HandleFunc("POST /v1/swap", s.handleSwap)
	op.HandleFunc("POST /v1/stop-loss", s.handleStopLoss)
	op.HandleFunc("POST /v1/mitigate", s.handleMitigate)
	op.HandleFunc("PUT /v1/policy", s.handlePolicy)
	mux.Handle("/v1/", s.deps.Authorizer.HTTPMiddleware(op))

	return mux
}

// Start serves in the background; failures other than shutdown are logged
func (s *Server) Start() {
	s.mu.Lock()
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.srv
	s.mu.Unlock()

	go func() {
		s.logger.Info("Starting API server", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server failed", "error", err)
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
