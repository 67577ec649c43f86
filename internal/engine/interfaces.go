package engine

import (
	"context"
	"time"

	"liquidity_engine/internal/alert"
)

// Ticker is what a schedule drives
type Ticker interface {
	Tick(ctx context.Context, now time.Time) (TickReport, error)
	CheckUpkeep(ctx context.Context) (Upkeep, error)
}

// Alerter receives operator alerts for failures the engine cannot resolve itself
type Alerter interface {
	Alert(ctx context.Context, title, message string, level alert.AlertLevel, fields map[string]string)
}
