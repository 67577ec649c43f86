// Package engine runs the tick state machine that drives the threshold policy,
// the rebalance controller and the execution router over one position.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"liquidity_engine/internal/alert"
	"liquidity_engine/internal/auth"
	"liquidity_engine/internal/core"
	"liquidity_engine/internal/trading/liquidity"
	"liquidity_engine/internal/trading/policy"
	"liquidity_engine/internal/trading/position"
	"liquidity_engine/internal/trading/router"
	apperrors "liquidity_engine/pkg/errors"
	"liquidity_engine/pkg/telemetry"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Deps wires an Engine. Store, Volatility and Alerter are optional.
type Deps struct {
	Assets     core.AssetSet
	Oracle     core.IOracle
	Ledger     core.ILedger
	Router     *router.Router
	Controller *liquidity.Controller
	Settings   *policy.Settings
	Authorizer *auth.Authorizer
	Store      core.IPositionStore
	Volatility core.IVolatilitySource
	Alerter    Alerter
	Logger     core.ILogger
}

// TickReport describes one pass through the state machine
type TickReport struct {
	TickID     string
	StartedAt  time.Time
	Price      core.Price
	Evaluation policy.Evaluation

	// Action is the decision actually dispatched; Mitigate when the mitigation check fired
	Action     core.Decision
	Signal     *core.VolatilitySignal
	Rebalance  *liquidity.RebalanceResult
	Withdrawal *liquidity.Withdrawal

	// Warning carries non-fatal conditions such as ErrDegenerateState
	Warning  error
	Duration time.Duration
}

// Upkeep is the read-only answer to "does the engine need to tick"
type Upkeep struct {
	Needed     bool
	Price      core.Price
	Evaluation policy.Evaluation
}

// Engine owns the position and serializes every mutation of it
type Engine struct {
	assets     core.AssetSet
	oracle     core.IOracle
	ledger     core.ILedger
	router     *router.Router
	controller *liquidity.Controller
	settings   *policy.Settings
	authorizer *auth.Authorizer
	store      core.IPositionStore
	volatility core.IVolatilitySource
	alerter    Alerter
	logger     core.ILogger
	tracer     trace.Tracer

	state *position.State

	// mu is the single-tick lock; operator calls take it too
	mu       sync.Mutex
	phase    atomic.Int32
	started  atomic.Bool
	stopped  atomic.Bool
	lastTick atomic.Pointer[TickReport]
}

func New(d Deps) (*Engine, error) {
	switch {
	case d.Oracle == nil:
		return nil, fmt.Errorf("%w: oracle is required", apperrors.ErrInvalidInput)
	case d.Ledger == nil:
		return nil, fmt.Errorf("%w: ledger is required", apperrors.ErrInvalidInput)
	case d.Router == nil:
		return nil, fmt.Errorf("%w: router is required", apperrors.ErrInvalidInput)
	case d.Controller == nil:
		return nil, fmt.Errorf("%w: controller is required", apperrors.ErrInvalidInput)
	case d.Settings == nil:
		return nil, fmt.Errorf("%w: policy settings are required", apperrors.ErrInvalidInput)
	case d.Authorizer == nil:
		return nil, fmt.Errorf("%w: authorizer is required", apperrors.ErrInvalidInput)
	case d.Assets.A == "" || d.Assets.B == "" || d.Assets.PoolShare == "":
		return nil, fmt.Errorf("%w: assets A, B and pool share are required", apperrors.ErrInvalidInput)
	}

	return &Engine{
		assets:     d.Assets,
		oracle:     d.Oracle,
		ledger:     d.Ledger,
		router:     d.Router,
		controller: d.Controller,
		settings:   d.Settings,
		authorizer: d.Authorizer,
		store:      d.Store,
		volatility: d.Volatility,
		alerter:    d.Alerter,
		logger:     d.Logger.WithField("component", "engine"),
		tracer:     telemetry.GetTracer("engine"),
		state:      position.NewState(d.Assets),
	}, nil
}

// Start restores the persisted position, or funds a fresh one from ledger balances
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped.Load() {
		return apperrors.ErrEngineStopped
	}
	if e.started.Load() {
		return fmt.Errorf("engine already started")
	}

	onLedger, err := e.ledgerPosition(ctx)
	if err != nil {
		return fmt.Errorf("failed to read ledger balances: %w", err)
	}

	var restored *core.Position
	if e.store != nil {
		restored, err = e.store.LoadPosition(ctx)
		if err != nil {
			return fmt.Errorf("failed to load position: %w", err)
		}
	}

	if restored != nil {
		if err := e.state.Restore(*restored); err != nil {
			return fmt.Errorf("failed to restore position: %w", err)
		}
		e.logger.Info("Position restored", "reference", restored.LastReferencePrice.String(),
			"pool_share_units", restored.PoolShareUnits.String())
		e.reconcile(onLedger)
	} else {
		if err := e.state.Restore(onLedger); err != nil {
			return fmt.Errorf("failed to fund position: %w", err)
		}
		e.logger.Info("No persisted position, funded from ledger",
			"balance_a", onLedger.BalanceA.String(), "balance_b", onLedger.BalanceB.String(),
			"balance_c", onLedger.BalanceC.String(), "pool_share_units", onLedger.PoolShareUnits.String())
	}

	e.publishBalances()
	e.started.Store(true)
	return nil
}

// Stop rejects further ticks and waits for the one in flight
func (e *Engine) Stop() error {
	if e.stopped.Swap(true) {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logger.Info("Engine stopped", "position", e.state.Snapshot().PoolShareUnits.String())
	return nil
}

// Tick runs one pass: price, evaluate, dispatch, return to idle. A tick already
// in progress makes this call fail with ErrTickInProgress rather than queue.
func (e *Engine) Tick(ctx context.Context, now time.Time) (TickReport, error) {
	if e.stopped.Load() {
		return TickReport{}, apperrors.ErrEngineStopped
	}
	if !e.mu.TryLock() {
		return TickReport{}, apperrors.ErrTickInProgress
	}
	defer e.mu.Unlock()
	defer e.setPhase(PhaseIdle)

	report := TickReport{TickID: uuid.New().String(), StartedAt: now}
	ctx = core.WithTickID(ctx, report.TickID)
	ctx, span := e.tracer.Start(ctx, "Tick", trace.WithAttributes(attribute.String("tick_id", report.TickID)))
	defer span.End()

	start := time.Now()
	err := e.tick(ctx, now, &report)
	report.Duration = time.Since(start)
	e.lastTick.Store(&report)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, "tick failed")
		e.logger.Error("Tick failed", "tick_id", report.TickID, "decision", report.Evaluation.Decision.String(), "error", err)
	} else if report.Warning != nil {
		outcome = "degenerate"
	}
	telemetry.GetGlobalMetrics().RecordTick(ctx, outcome, float64(report.Duration.Microseconds())/1000)
	span.SetAttributes(attribute.String("action", report.Action.String()))
	return report, err
}

func (e *Engine) tick(ctx context.Context, now time.Time, report *TickReport) error {
	e.setPhase(PhaseEvaluating)

	obs, err := e.oracle.CurrentPrice(ctx)
	if err != nil {
		return fmt.Errorf("oracle: %w", err)
	}
	report.Price = obs.Price

	pos := e.state.Snapshot()
	cfg := e.settings.Get()
	eval := policy.Evaluate(pos, cfg, obs.Price)
	report.Evaluation = eval
	report.Action = dispatchable(pos, eval.Decision)

	metrics := telemetry.GetGlobalMetrics()
	metrics.SetPriceDeviation(eval.PriceDiffBps)
	metrics.RecordDecision(ctx, eval.Decision.String())

	if eval.Degenerate {
		report.Warning = apperrors.ErrDegenerateState
		e.logger.Warn("Reference price not initialized, holding", "price", obs.Price.String())
		return nil
	}

	e.logger.Debug("Policy evaluated", "price", obs.Price.String(), "reference", pos.LastReferencePrice.String(),
		"diff_bps", eval.PriceDiffBps, "adverse", eval.Adverse, "decision", eval.Decision.String())

	switch report.Action {
	case core.DecisionRebalance:
		e.setPhase(PhaseRebalanceInFlight)
		res, err := e.controller.Rebalance(ctx, e.state, cfg, obs.Price, now)
		report.Rebalance = &res
		return e.afterMutation(ctx, "rebalance", err)

	case core.DecisionStopLoss:
		e.setPhase(PhaseStopLossInFlight)
		w, err := e.controller.StopLoss(ctx, e.state, obs.Price)
		report.Withdrawal = &w
		return e.afterMutation(ctx, "stop_loss", err)

	case core.DecisionNone:
		if eval.Decision == core.DecisionStopLoss {
			e.logger.Debug("Stop-loss holds with no pool share left", "price", obs.Price.String())
			return nil
		}
		if e.volatility == nil {
			return nil
		}
		e.setPhase(PhaseMitigationCheck)
		signal, err := e.volatility.Signal(ctx, pos, obs)
		if err != nil {
			// The mitigation check is advisory; a missing signal never fails the tick
			e.logger.Warn("Volatility signal unavailable", "error", err)
			return nil
		}
		report.Signal = &signal
		if !policy.ShouldMitigate(pos, signal) {
			return nil
		}
		report.Action = core.DecisionMitigate
		metrics.RecordDecision(ctx, core.DecisionMitigate.String())
		w, err := e.controller.Mitigate(ctx, e.state, signal, obs.Price)
		report.Withdrawal = &w
		return e.afterMutation(ctx, "mitigate", err)
	}
	return nil
}

// CheckUpkeep answers whether a tick would act now, using the same evaluation as Tick.
// The oracle is read first; the position is read under the tick lock so an
// answer never reflects a tick halfway through its mutations.
func (e *Engine) CheckUpkeep(ctx context.Context) (Upkeep, error) {
	obs, err := e.oracle.CurrentPrice(ctx)
	if err != nil {
		return Upkeep{}, fmt.Errorf("oracle: %w", err)
	}

	e.mu.Lock()
	pos := e.state.Snapshot()
	e.mu.Unlock()

	eval := policy.Evaluate(pos, e.settings.Get(), obs.Price)
	return Upkeep{
		Needed:     dispatchable(pos, eval.Decision) != core.DecisionNone,
		Price:      obs.Price,
		Evaluation: eval,
	}, nil
}

// dispatchable drops a withdrawal decision when there is no pool share to withdraw
func dispatchable(pos core.Position, d core.Decision) core.Decision {
	switch d {
	case core.DecisionStopLoss, core.DecisionMitigate:
		if pos.PoolShareUnits.IsNil() || !pos.PoolShareUnits.IsPositive() {
			return core.DecisionNone
		}
	}
	return d
}

// Snapshot returns a copy of the position
func (e *Engine) Snapshot() core.Position {
	return e.state.Snapshot()
}

// Policy returns the current policy configuration
func (e *Engine) Policy() core.PolicyConfig {
	return e.settings.Get()
}

// Phase returns where the state machine currently is
func (e *Engine) Phase() Phase {
	return Phase(e.phase.Load())
}

// LastTick returns the report of the most recent tick, or nil
func (e *Engine) LastTick() *TickReport {
	return e.lastTick.Load()
}

// Venues lists the routed venues in priority order
func (e *Engine) Venues() []string {
	return e.router.Venues()
}

// Ready reports whether Start completed and Stop has not been called
func (e *Engine) Ready() bool {
	return e.started.Load() && !e.stopped.Load()
}

func (e *Engine) setPhase(p Phase) {
	e.phase.Store(int32(p))
}

// afterMutation persists and publishes on success and raises an alert on failure
func (e *Engine) afterMutation(ctx context.Context, op string, err error) error {
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		e.alertFailure(ctx, op, err)
		return fmt.Errorf("%s: %w", op, err)
	}
	e.persist(ctx)
	e.publishBalances()
	return nil
}

func (e *Engine) persist(ctx context.Context) {
	if e.store == nil {
		return
	}
	if err := e.store.SavePosition(ctx, e.state.Snapshot()); err != nil {
		e.logger.Error("Failed to persist position", "error", err)
	}
}

func (e *Engine) alertFailure(ctx context.Context, op string, err error) {
	if e.alerter == nil {
		return
	}
	if !errors.Is(err, apperrors.ErrExecutionFailed) && !errors.Is(err, apperrors.ErrLiquidityFailed) {
		return
	}
	e.alerter.Alert(ctx, "Engine operation failed", err.Error(), alert.Error, map[string]string{
		"operation": op,
		"tick_id":   core.TickIDFromContext(ctx),
	})
}

func (e *Engine) publishBalances() {
	pos := e.state.Snapshot()
	m := telemetry.GetGlobalMetrics()
	m.SetBalance(string(e.assets.A), toFloat(pos.BalanceA))
	m.SetBalance(string(e.assets.B), toFloat(pos.BalanceB))
	if e.assets.C != "" {
		m.SetBalance(string(e.assets.C), toFloat(pos.BalanceC))
	}
	m.SetBalance(string(e.assets.PoolShare), toFloat(pos.PoolShareUnits))
}

// ledgerPosition reads the held balances and the pool-share balance from the ledger
func (e *Engine) ledgerPosition(ctx context.Context) (core.Position, error) {
	pos := core.NewPosition(e.assets)
	targets := []struct {
		asset core.AssetID
		dst   *sdkmath.Int
	}{
		{e.assets.A, &pos.BalanceA},
		{e.assets.B, &pos.BalanceB},
		{e.assets.C, &pos.BalanceC},
		{e.assets.PoolShare, &pos.PoolShareUnits},
	}
	for _, t := range targets {
		if t.asset == "" {
			continue
		}
		bal, err := e.ledger.BalanceOf(ctx, t.asset)
		if err != nil {
			return pos, fmt.Errorf("%s: %w", t.asset, err)
		}
		*t.dst = bal
	}
	return pos, nil
}

// reconcile logs drift between the restored position and the ledger; the restored
// position is kept as is
func (e *Engine) reconcile(onLedger core.Position) {
	pos := e.state.Snapshot()
	pairs := []struct {
		asset     core.AssetID
		held, got sdkmath.Int
	}{
		{e.assets.A, pos.BalanceA, onLedger.BalanceA},
		{e.assets.B, pos.BalanceB, onLedger.BalanceB},
		{e.assets.C, pos.BalanceC, onLedger.BalanceC},
		{e.assets.PoolShare, pos.PoolShareUnits, onLedger.PoolShareUnits},
	}
	for _, p := range pairs {
		if p.asset == "" {
			continue
		}
		if p.got.LT(p.held) {
			e.logger.Warn("Ledger holds less than the restored position", "asset", p.asset,
				"position", p.held.String(), "ledger", p.got.String())
		}
	}
}

func toFloat(v sdkmath.Int) float64 {
	if v.IsNil() {
		return 0
	}
	f, _ := v.BigInt().Float64()
	return f
}
