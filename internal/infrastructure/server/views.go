package server

import (
	"time"

	"liquidity_engine/internal/core"
	"liquidity_engine/internal/engine"
	"liquidity_engine/internal/trading/liquidity"
	"liquidity_engine/internal/trading/router"

	sdkmath "cosmossdk.io/math"
)

type receiptView struct {
	AmountA sdkmath.Int `json:"amount_a"`
	AmountB sdkmath.Int `json:"amount_b"`
	Units   sdkmath.Int `json:"units"`
}

func viewReceipt(r *core.LiquidityReceipt) *receiptView {
	if r == nil {
		return nil
	}
	return &receiptView{AmountA: r.AmountA, AmountB: r.AmountB, Units: r.Units}
}

type quoteView struct {
	Venue     string       `json:"venue"`
	AmountOut *sdkmath.Int `json:"amount_out,omitempty"`
	LatencyMs int64        `json:"latency_ms"`
	Error     string       `json:"error,omitempty"`
}

type executionView struct {
	Status    string       `json:"status"`
	Venue     string       `json:"venue,omitempty"`
	AssetIn   core.AssetID `json:"asset_in"`
	AssetOut  core.AssetID `json:"asset_out"`
	AmountIn  sdkmath.Int  `json:"amount_in"`
	AmountOut sdkmath.Int  `json:"amount_out"`
	Quoted    sdkmath.Int  `json:"quoted"`
	MinOut    sdkmath.Int  `json:"min_out"`
	EdgeBps   sdkmath.Int  `json:"edge_bps"`
	Quotes    []quoteView  `json:"quotes"`
}

func viewExecution(r *router.ExecutionResult) *executionView {
	if r == nil {
		return nil
	}
	v := &executionView{
		Status:    r.Status.String(),
		Venue:     r.Venue,
		AssetIn:   r.AssetIn,
		AssetOut:  r.AssetOut,
		AmountIn:  r.AmountIn,
		AmountOut: r.AmountOut,
		Quoted:    r.Quoted,
		MinOut:    r.MinOut,
		EdgeBps:   r.EdgeBps,
		Quotes:    make([]quoteView, 0, len(r.Quotes)),
	}
	for _, q := range r.Quotes {
		qv := quoteView{Venue: q.VenueID, LatencyMs: q.Latency.Milliseconds()}
		if q.OK() {
			out := q.AmountOut
			qv.AmountOut = &out
		} else if q.Err != nil {
			qv.Error = q.Err.Error()
		}
		v.Quotes = append(v.Quotes, qv)
	}
	return v
}

type rebalanceView struct {
	Price    core.Price     `json:"price"`
	Removed  *receiptView   `json:"removed,omitempty"`
	Swap     *executionView `json:"swap,omitempty"`
	Provided *receiptView   `json:"provided,omitempty"`
}

func viewRebalance(r *liquidity.RebalanceResult) *rebalanceView {
	if r == nil {
		return nil
	}
	return &rebalanceView{
		Price:    r.Price,
		Removed:  viewReceipt(r.Removed),
		Swap:     viewExecution(r.Swap),
		Provided: viewReceipt(r.Provided),
	}
}

type withdrawalView struct {
	Units   sdkmath.Int `json:"units"`
	AmountA sdkmath.Int `json:"amount_a"`
	AmountB sdkmath.Int `json:"amount_b"`
}

func viewWithdrawal(w *liquidity.Withdrawal) *withdrawalView {
	if w == nil {
		return nil
	}
	return &withdrawalView{Units: w.Units, AmountA: w.AmountA, AmountB: w.AmountB}
}

type tickView struct {
	TickID       string          `json:"tick_id"`
	StartedAt    time.Time       `json:"started_at"`
	Price        core.Price      `json:"price"`
	Decision     string          `json:"decision"`
	Action       string          `json:"action"`
	PriceDiffBps uint64          `json:"price_diff_bps"`
	Adverse      bool            `json:"adverse"`
	ILBps        *uint64         `json:"impermanent_loss_bps,omitempty"`
	Rebalance    *rebalanceView  `json:"rebalance,omitempty"`
	Withdrawal   *withdrawalView `json:"withdrawal,omitempty"`
	Warning      string          `json:"warning,omitempty"`
	DurationMs   int64           `json:"duration_ms"`
}

func viewTick(r *engine.TickReport) *tickView {
	if r == nil {
		return nil
	}
	v := &tickView{
		TickID:       r.TickID,
		StartedAt:    r.StartedAt,
		Price:        r.Price,
		Decision:     r.Evaluation.Decision.String(),
		Action:       r.Action.String(),
		PriceDiffBps: r.Evaluation.PriceDiffBps,
		Adverse:      r.Evaluation.Adverse,
		Rebalance:    viewRebalance(r.Rebalance),
		Withdrawal:   viewWithdrawal(r.Withdrawal),
		DurationMs:   r.Duration.Milliseconds(),
	}
	if r.Signal != nil {
		il := r.Signal.ImpermanentLossBps
		v.ILBps = &il
	}
	if r.Warning != nil {
		v.Warning = r.Warning.Error()
	}
	return v
}

type statusView struct {
	Ready    bool              `json:"ready"`
	Phase    string            `json:"phase"`
	Position core.Position     `json:"position"`
	Policy   core.PolicyConfig `json:"policy"`
	Venues   []string          `json:"venues"`
	LastTick *tickView         `json:"last_tick,omitempty"`
}

type upkeepView struct {
	Needed       bool       `json:"needed"`
	Price        core.Price `json:"price"`
	Decision     string     `json:"decision"`
	PriceDiffBps uint64     `json:"price_diff_bps"`
	Degenerate   bool       `json:"degenerate"`
}

func viewUpkeep(u engine.Upkeep) upkeepView {
	return upkeepView{
		Needed:       u.Needed,
		Price:        u.Price,
		Decision:     u.Evaluation.Decision.String(),
		PriceDiffBps: u.Evaluation.PriceDiffBps,
		Degenerate:   u.Evaluation.Degenerate,
	}
}
