package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"liquidity_engine/internal/core"
	apperrors "liquidity_engine/pkg/errors"
	"liquidity_engine/pkg/websocket"

	"github.com/shopspring/decimal"
)

type subscribeRequest struct {
	Op      string `json:"op"`
	Channel string `json:"channel"`
}

// StreamOracle caches the latest price pushed over a websocket feed and falls
// back to a polling oracle when the cached price is missing or stale
type StreamOracle struct {
	client   *websocket.Client
	fallback core.IOracle
	maxAge   time.Duration
	now      func() time.Time
	latest   atomic.Pointer[core.PriceObservation]
	logger   core.ILogger
}

// NewStreamOracle subscribes to channel on url once Start is called. fallback may be nil.
func NewStreamOracle(url, channel string, header http.Header, maxAge time.Duration, fallback core.IOracle, logger core.ILogger) *StreamOracle {
	o := &StreamOracle{
		fallback: fallback,
		maxAge:   maxAge,
		now:      time.Now,
		logger:   logger.WithField("component", "stream_oracle"),
	}
	opts := websocket.Options{URL: url, Header: header}
	if channel != "" {
		opts.OnConnected = func(c *websocket.Client) error {
			return c.Send(subscribeRequest{Op: "subscribe", Channel: channel})
		}
	}
	o.client = websocket.NewClient(opts, o.handle, logger)
	return o
}

func (o *StreamOracle) Start() {
	o.client.Start()
}

func (o *StreamOracle) Stop() {
	o.client.Stop()
}

// Connected reports whether the feed is currently attached
func (o *StreamOracle) Connected() bool {
	return o.client.Connected()
}

func (o *StreamOracle) CurrentPrice(ctx context.Context) (core.PriceObservation, error) {
	if obs := o.latest.Load(); obs != nil && o.fresh(*obs) {
		return *obs, nil
	}
	if o.fallback != nil {
		return o.fallback.CurrentPrice(ctx)
	}
	return core.PriceObservation{}, fmt.Errorf("%w: no fresh price on the feed", apperrors.ErrNetwork)
}

func (o *StreamOracle) fresh(obs core.PriceObservation) bool {
	return o.maxAge <= 0 || o.now().Sub(obs.ObservedAt) <= o.maxAge
}

func (o *StreamOracle) handle(message []byte) {
	var tick priceResponse
	if err := json.Unmarshal(message, &tick); err != nil || tick.Price == "" {
		// Acks and heartbeats share the channel
		return
	}
	d, err := decimal.NewFromString(tick.Price)
	if err != nil {
		o.logger.Warn("Malformed price on feed", "price", tick.Price)
		return
	}
	price, err := core.PriceFromDecimal(d)
	if err != nil || price <= 0 {
		o.logger.Warn("Price on feed out of range", "price", tick.Price)
		return
	}
	observed := o.now()
	if tick.Timestamp > 0 {
		observed = time.UnixMilli(tick.Timestamp)
	}
	if prev := o.latest.Load(); prev != nil && observed.Before(prev.ObservedAt) {
		return
	}
	o.latest.Store(&core.PriceObservation{Price: price, Decimals: core.PriceDecimals, ObservedAt: observed})
}
