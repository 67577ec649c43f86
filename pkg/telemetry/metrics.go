package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricTicksTotal         = "liquidity_engine_ticks_total"
	MetricDecisionsTotal     = "liquidity_engine_decisions_total"
	MetricQuotesTotal        = "liquidity_engine_quotes_total"
	MetricSwapsTotal         = "liquidity_engine_swaps_total"
	MetricSwapVolumeTotal    = "liquidity_engine_swap_volume_total"
	MetricLatencyVenue       = "liquidity_engine_latency_venue_ms"
	MetricLatencyTick        = "liquidity_engine_latency_tick_ms"
	MetricPositionBalance    = "liquidity_engine_position_balance"
	MetricPriceDeviationBps  = "liquidity_engine_price_deviation_bps"
	MetricImpermanentLossBps = "liquidity_engine_impermanent_loss_bps"
	MetricCircuitBreakerOpen = "liquidity_engine_circuit_breaker_open"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	TicksTotal         metric.Int64Counter
	DecisionsTotal     metric.Int64Counter
	QuotesTotal        metric.Int64Counter
	SwapsTotal         metric.Int64Counter
	SwapVolumeTotal    metric.Float64Counter
	LatencyVenue       metric.Float64Histogram
	LatencyTick        metric.Float64Histogram
	PositionBalance    metric.Float64ObservableGauge
	PriceDeviationBps  metric.Int64ObservableGauge
	ImpermanentLossBps metric.Int64ObservableGauge
	CircuitBreakerOpen metric.Int64ObservableGauge

	// State for observable gauges
	mu              sync.RWMutex
	balanceMap      map[string]float64
	deviationBps    int64
	impermanentLoss int64
	cbOpenMap       map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = newMetricsHolder()
	})
	return globalMetrics
}

func newMetricsHolder() *MetricsHolder {
	return &MetricsHolder{
		balanceMap: make(map[string]float64),
		cbOpenMap:  make(map[string]int64),
	}
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.TicksTotal, err = meter.Int64Counter(MetricTicksTotal, metric.WithDescription("Scheduler ticks by outcome"))
	if err != nil {
		return err
	}

	m.DecisionsTotal, err = meter.Int64Counter(MetricDecisionsTotal, metric.WithDescription("Policy decisions by kind"))
	if err != nil {
		return err
	}

	m.QuotesTotal, err = meter.Int64Counter(MetricQuotesTotal, metric.WithDescription("Venue quote requests by venue and result"))
	if err != nil {
		return err
	}

	m.SwapsTotal, err = meter.Int64Counter(MetricSwapsTotal, metric.WithDescription("Routed swaps by venue and result"))
	if err != nil {
		return err
	}

	m.SwapVolumeTotal, err = meter.Float64Counter(MetricSwapVolumeTotal, metric.WithDescription("Input volume routed through venues"))
	if err != nil {
		return err
	}

	m.LatencyVenue, err = meter.Float64Histogram(MetricLatencyVenue, metric.WithDescription("Latency of venue calls"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.LatencyTick, err = meter.Float64Histogram(MetricLatencyTick, metric.WithDescription("Duration of a full evaluation tick"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	// Observables
	m.PositionBalance, err = meter.Float64ObservableGauge(MetricPositionBalance, metric.WithDescription("Current held balance per asset"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for asset, val := range m.balanceMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("asset", asset)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.PriceDeviationBps, err = meter.Int64ObservableGauge(MetricPriceDeviationBps, metric.WithDescription("Deviation of the oracle price from the reference price"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.deviationBps)
			return nil
		}))
	if err != nil {
		return err
	}

	m.ImpermanentLossBps, err = meter.Int64ObservableGauge(MetricImpermanentLossBps, metric.WithDescription("Last observed impermanent loss of the pool position"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.impermanentLoss)
			return nil
		}))
	if err != nil {
		return err
	}

	m.CircuitBreakerOpen, err = meter.Int64ObservableGauge(MetricCircuitBreakerOpen, metric.WithDescription("Circuit breaker open state (1=open, 0=closed)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for name, val := range m.cbOpenMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("component", name)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state

func (m *MetricsHolder) SetBalance(asset string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balanceMap[asset] = value
}

func (m *MetricsHolder) SetPriceDeviation(bps uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deviationBps = int64(bps)
}

func (m *MetricsHolder) SetImpermanentLoss(bps uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.impermanentLoss = int64(bps)
}

func (m *MetricsHolder) SetCircuitBreakerOpen(component string, open bool) {
	val := int64(0)
	if open {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cbOpenMap[component] = val
}

func (m *MetricsHolder) GetBalances() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64, len(m.balanceMap))
	for k, v := range m.balanceMap {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetPriceDeviation() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deviationBps
}

// The counter helpers are safe to call before InitMetrics; uninitialized instruments are skipped.

func (m *MetricsHolder) RecordTick(ctx context.Context, outcome string, elapsedMs float64) {
	if m.TicksTotal != nil {
		m.TicksTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	if m.LatencyTick != nil {
		m.LatencyTick.Record(ctx, elapsedMs)
	}
}

func (m *MetricsHolder) RecordDecision(ctx context.Context, decision string) {
	if m.DecisionsTotal != nil {
		m.DecisionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", decision)))
	}
}

func (m *MetricsHolder) RecordQuote(ctx context.Context, venue, result string, elapsedMs float64) {
	attrs := metric.WithAttributes(attribute.String("venue", venue), attribute.String("result", result))
	if m.QuotesTotal != nil {
		m.QuotesTotal.Add(ctx, 1, attrs)
	}
	if m.LatencyVenue != nil {
		m.LatencyVenue.Record(ctx, elapsedMs, metric.WithAttributes(attribute.String("venue", venue), attribute.String("op", "quote")))
	}
}

func (m *MetricsHolder) RecordSwap(ctx context.Context, venue, result string, volume float64) {
	if m.SwapsTotal != nil {
		m.SwapsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("venue", venue), attribute.String("result", result)))
	}
	if m.SwapVolumeTotal != nil && result == "ok" {
		m.SwapVolumeTotal.Add(ctx, volume, metric.WithAttributes(attribute.String("venue", venue)))
	}
}
