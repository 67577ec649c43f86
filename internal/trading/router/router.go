// Package router implements best-execution routing across an open list of venues
package router

import (
	"context"
	"fmt"
	"time"

	"liquidity_engine/internal/core"
	"liquidity_engine/internal/trading/position"
	"liquidity_engine/pkg/concurrency"
	apperrors "liquidity_engine/pkg/errors"
	"liquidity_engine/pkg/telemetry"

	sdkmath "cosmossdk.io/math"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Status distinguishes an executed swap from a deliberate no-op
type Status int

const (
	StatusExecuted Status = iota
	StatusNoProfitableRoute
)

func (s Status) String() string {
	switch s {
	case StatusExecuted:
		return "EXECUTED"
	case StatusNoProfitableRoute:
		return "NO_PROFITABLE_ROUTE"
	default:
		return "UNKNOWN"
	}
}

// ExecutionResult reports one routing decision
type ExecutionResult struct {
	Status    Status
	Venue     string
	AssetIn   core.AssetID
	AssetOut  core.AssetID
	AmountIn  sdkmath.Int
	AmountOut sdkmath.Int
	// Quoted is the winning quote; MinOut the floor passed to the venue
	Quoted  sdkmath.Int
	MinOut  sdkmath.Int
	EdgeBps sdkmath.Int
	Quotes  []core.VenueQuote
}

// Config holds router tuning
type Config struct {
	QuoteTimeout      time.Duration
	ExecutionDeadline time.Duration
	MaxSlippageBps    uint64
}

// Router quotes every venue in parallel, executes on the single best one, and
// reconciles the fill into the position
type Router struct {
	venues   []core.IVenue
	ledger   core.ILedger
	recorder core.IEventRecorder
	pool     *concurrency.WorkerPool
	cfg      Config
	logger   core.ILogger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewRouter creates a router. Venue priority is its index in venues.
func NewRouter(venues []core.IVenue, ledger core.ILedger, recorder core.IEventRecorder, pool *concurrency.WorkerPool, cfg Config, logger core.ILogger) *Router {
	if cfg.QuoteTimeout <= 0 {
		cfg.QuoteTimeout = 2 * time.Second
	}
	if cfg.ExecutionDeadline <= 0 {
		cfg.ExecutionDeadline = 30 * time.Second
	}
	return &Router{
		venues:   venues,
		ledger:   ledger,
		recorder: recorder,
		pool:     pool,
		cfg:      cfg,
		logger:   logger.WithField("component", "router"),
		tracer:   telemetry.GetTracer("router"),
		now:      time.Now,
	}
}

// Venues returns the configured venue names in priority order
func (r *Router) Venues() []string {
	names := make([]string, len(r.venues))
	for i, v := range r.venues {
		names[i] = v.Name()
	}
	return names
}

// Validate checks an intent against the policy and position without any external call
func Validate(intent core.TradeIntent, policy core.PolicyConfig, pos core.Position) error {
	if intent.AmountIn.IsNil() || !intent.AmountIn.IsPositive() {
		return fmt.Errorf("%w: amountIn must be positive", apperrors.ErrInvalidInput)
	}
	if !policy.MaxOrderSize.IsNil() && intent.AmountIn.GT(policy.MaxOrderSize) {
		return fmt.Errorf("%w: amountIn %s exceeds max order size %s", apperrors.ErrInvalidInput, intent.AmountIn, policy.MaxOrderSize)
	}
	if len(intent.Route) < 2 {
		return fmt.Errorf("%w: route needs at least two assets", apperrors.ErrInvalidInput)
	}
	if intent.AssetIn() == intent.AssetOut() {
		return fmt.Errorf("%w: route starts and ends at %s", apperrors.ErrInvalidInput, intent.AssetIn())
	}
	if !pos.Assets.Contains(intent.AssetIn()) || !pos.Assets.Contains(intent.AssetOut()) {
		return fmt.Errorf("%w: route endpoints must be held assets", apperrors.ErrInvalidInput)
	}
	if !intent.MinAcceptableOut.IsNil() && intent.MinAcceptableOut.IsNegative() {
		return fmt.Errorf("%w: negative minimum output", apperrors.ErrInvalidInput)
	}
	if bal := pos.Balance(intent.AssetIn()); intent.AmountIn.GT(bal) {
		return fmt.Errorf("%w: %s balance %s < %s", apperrors.ErrInsufficientBalance, intent.AssetIn(), bal, intent.AmountIn)
	}
	return nil
}

// Route runs one routing decision. NoProfitableRoute is a result, not an error.
// The position is mutated only after the winning venue confirms the fill.
func (r *Router) Route(ctx context.Context, st *position.State, policy core.PolicyConfig, intent core.TradeIntent) (ExecutionResult, error) {
	ctx, span := r.tracer.Start(ctx, "Route", trace.WithAttributes(
		attribute.String("asset_in", string(intent.AssetIn())),
		attribute.String("asset_out", string(intent.AssetOut())),
	))
	defer span.End()

	if err := Validate(intent, policy, st.Snapshot()); err != nil {
		span.RecordError(err)
		return ExecutionResult{}, err
	}
	if len(r.venues) == 0 {
		return ExecutionResult{}, fmt.Errorf("%w: no venues configured", apperrors.ErrVenueUnavailable)
	}

	result := ExecutionResult{
		Status:   StatusNoProfitableRoute,
		AssetIn:  intent.AssetIn(),
		AssetOut: intent.AssetOut(),
		AmountIn: intent.AmountIn,
	}
	result.Quotes = r.QuoteAll(ctx, intent.Route, intent.AmountIn)

	ranked := rankQuotes(result.Quotes)
	if len(ranked) == 0 {
		span.SetStatus(codes.Error, "no venue responded")
		return result, fmt.Errorf("%w: all %d venues failed to quote", apperrors.ErrVenueUnavailable, len(r.venues))
	}

	best := ranked[0]
	result.Venue = best.VenueID
	result.Quoted = best.AmountOut

	edge, pass := profitGate(ranked, intent, policy.MinProfitThresholdBps)
	result.EdgeBps = edge
	if !pass {
		r.logger.Info("No profitable route",
			"best_venue", best.VenueID, "best_out", best.AmountOut.String(),
			"edge_bps", edge.String(), "responders", len(ranked))
		span.SetAttributes(attribute.String("status", result.Status.String()))
		return result, nil
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	venue := r.venues[best.Priority]
	out, minOut, err := r.execute(ctx, venue, intent, best.AmountOut)
	result.MinOut = minOut
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "execution failed")
		telemetry.GetGlobalMetrics().RecordSwap(ctx, venue.Name(), "failed", 0)
		r.logger.Error("Swap execution failed", "venue", venue.Name(), "error", err)
		return result, err
	}

	// The venue has filled; from here the position must follow regardless of cancellation
	ctx = context.WithoutCancel(ctx)
	if err := st.ApplySwap(intent.AssetIn(), intent.AssetOut(), intent.AmountIn, out); err != nil {
		r.logger.Error("CRITICAL: venue filled but position update failed", "venue", venue.Name(), "error", err)
		return result, fmt.Errorf("%w: reconcile fill: %w", apperrors.ErrExecutionFailed, err)
	}

	result.Status = StatusExecuted
	result.AmountOut = out

	if err := r.recorder.Record(ctx, core.Event{
		Type:      core.EventSwapExecuted,
		AssetIn:   intent.AssetIn(),
		AssetOut:  intent.AssetOut(),
		AmountIn:  core.Amount(intent.AmountIn),
		AmountOut: core.Amount(out),
		Venue:     venue.Name(),
	}); err != nil {
		r.logger.Error("Failed to record swap event", "error", err)
	}

	volume, _ := intent.AmountIn.BigInt().Float64()
	telemetry.GetGlobalMetrics().RecordSwap(ctx, venue.Name(), "ok", volume)
	r.logger.Info("Swap executed",
		"venue", venue.Name(), "asset_in", intent.AssetIn(), "asset_out", intent.AssetOut(),
		"amount_in", intent.AmountIn.String(), "amount_out", out.String(), "edge_bps", edge.String())
	span.SetAttributes(attribute.String("venue", venue.Name()), attribute.String("status", result.Status.String()))
	return result, nil
}

// execute approves the spend and calls the venue. There is no fallback venue.
func (r *Router) execute(ctx context.Context, venue core.IVenue, intent core.TradeIntent, quoted sdkmath.Int) (sdkmath.Int, sdkmath.Int, error) {
	minOut := slippageFloor(quoted, intent.MinAcceptableOut, r.cfg.MaxSlippageBps)

	if err := r.ledger.Approve(ctx, intent.AssetIn(), venue.Name(), intent.AmountIn); err != nil {
		return sdkmath.Int{}, minOut, fmt.Errorf("%w: approve %s for %s: %w", apperrors.ErrExecutionFailed, intent.AssetIn(), venue.Name(), err)
	}
	// First ledger mutation issued: run to completion
	ctx = context.WithoutCancel(ctx)

	deadline := r.now().Add(r.cfg.ExecutionDeadline)
	out, err := venue.Execute(ctx, intent.Route, intent.AmountIn, minOut, deadline)
	if err != nil {
		r.revoke(ctx, intent.AssetIn(), venue.Name())
		return sdkmath.Int{}, minOut, fmt.Errorf("%w: venue %s: %w", apperrors.ErrExecutionFailed, venue.Name(), err)
	}
	if out.IsNil() || out.IsNegative() {
		r.revoke(ctx, intent.AssetIn(), venue.Name())
		return sdkmath.Int{}, minOut, fmt.Errorf("%w: venue %s reported invalid fill", apperrors.ErrExecutionFailed, venue.Name())
	}
	if out.LT(minOut) {
		r.logger.Warn("Venue filled below the requested minimum", "venue", venue.Name(), "out", out.String(), "min_out", minOut.String())
	}
	return out, minOut, nil
}

// revoke clears the allowance left on a venue that did not fill
func (r *Router) revoke(ctx context.Context, asset core.AssetID, spender string) {
	if err := r.ledger.Approve(ctx, asset, spender, sdkmath.ZeroInt()); err != nil {
		r.logger.Warn("Failed to revoke venue allowance", "venue", spender, "asset", asset, "error", err)
	}
}

type quoteResult struct {
	out sdkmath.Int
	err error
}

// QuoteAll queries every venue concurrently. A venue that errors or exceeds the
// quote timeout is reported with Err set and never delays the others.
func (r *Router) QuoteAll(ctx context.Context, path []core.AssetID, amountIn sdkmath.Int) []core.VenueQuote {
	quotes := make([]core.VenueQuote, len(r.venues))
	tasks := make([]func(), len(r.venues))

	for i, venue := range r.venues {
		i, venue := i, venue
		tasks[i] = func() {
			quotes[i] = r.quoteOne(ctx, i, venue, path, amountIn)
		}
	}

	if r.pool != nil {
		r.pool.FanOut(tasks...)
	} else {
		done := make(chan struct{}, len(tasks))
		for _, task := range tasks {
			go func(fn func()) {
				fn()
				done <- struct{}{}
			}(task)
		}
		for range tasks {
			<-done
		}
	}
	return quotes
}

func (r *Router) quoteOne(ctx context.Context, priority int, venue core.IVenue, path []core.AssetID, amountIn sdkmath.Int) core.VenueQuote {
	qctx, cancel := context.WithTimeout(ctx, r.cfg.QuoteTimeout)
	defer cancel()

	start := time.Now()
	ch := make(chan quoteResult, 1)
	go func() {
		out, err := venue.Quote(qctx, path, amountIn)
		ch <- quoteResult{out: out, err: err}
	}()

	q := core.VenueQuote{VenueID: venue.Name(), Priority: priority}
	select {
	case res := <-ch:
		q.AmountOut, q.Err = res.out, res.err
	case <-qctx.Done():
		q.Err = qctx.Err()
	}
	q.Latency = time.Since(start)

	outcome := "ok"
	switch {
	case q.Err != nil:
		outcome = "error"
		if qctx.Err() != nil {
			outcome = "timeout"
		}
		q.Err = fmt.Errorf("%w: %s: %w", apperrors.ErrVenueUnavailable, venue.Name(), q.Err)
		r.logger.Warn("Venue excluded from routing", "venue", venue.Name(), "outcome", outcome, "error", q.Err)
	case q.AmountOut.IsNil():
		outcome = "error"
		q.Err = fmt.Errorf("%w: %s returned no amount", apperrors.ErrVenueUnavailable, venue.Name())
	}
	telemetry.GetGlobalMetrics().RecordQuote(ctx, venue.Name(), outcome, float64(q.Latency.Microseconds())/1000)
	return q
}
