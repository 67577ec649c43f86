package policy

import (
	"fmt"
	"sync"

	"liquidity_engine/internal/core"
	apperrors "liquidity_engine/pkg/errors"

	sdkmath "cosmossdk.io/math"
)

// Settings holds the live PolicyConfig. Each update replaces one field atomically;
// negative inputs are rejected here so Evaluate never sees them.
type Settings struct {
	mu  sync.RWMutex
	cfg core.PolicyConfig
}

// NewSettings validates and wraps an initial config
func NewSettings(cfg core.PolicyConfig) (*Settings, error) {
	if cfg.MaxOrderSize.IsNil() || !cfg.MaxOrderSize.IsPositive() {
		return nil, fmt.Errorf("%w: max order size must be positive", apperrors.ErrInvalidInput)
	}
	return &Settings{cfg: cfg}, nil
}

// Get returns a copy of the current config
func (s *Settings) Get() core.PolicyConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Settings) UpdateMaxOrderSize(v int64) error {
	if v < 0 {
		return negative("max order size", v)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.MaxOrderSize = sdkmath.NewInt(v)
	return nil
}

func (s *Settings) UpdateMinProfitThreshold(v int64) error {
	return s.updateBps("min profit threshold", v, func(c *core.PolicyConfig, bps uint64) { c.MinProfitThresholdBps = bps })
}

func (s *Settings) UpdateRebalanceThreshold(v int64) error {
	return s.updateBps("rebalance threshold", v, func(c *core.PolicyConfig, bps uint64) { c.RebalanceThresholdBps = bps })
}

func (s *Settings) UpdateStopLossThreshold(v int64) error {
	return s.updateBps("stop-loss threshold", v, func(c *core.PolicyConfig, bps uint64) { c.StopLossThresholdBps = bps })
}

func (s *Settings) UpdateMitigationThreshold(v int64) error {
	return s.updateBps("mitigation threshold", v, func(c *core.PolicyConfig, bps uint64) { c.MitigationThresholdBps = bps })
}

func (s *Settings) updateBps(name string, v int64, set func(*core.PolicyConfig, uint64)) error {
	if v < 0 {
		return negative(name, v)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set(&s.cfg, uint64(v))
	return nil
}

func negative(name string, v int64) error {
	return fmt.Errorf("%w: %s must be non-negative, got %d", apperrors.ErrInvalidInput, name, v)
}
