package mock

import (
	"context"
	"sync"
	"time"

	"liquidity_engine/internal/core"
)

// Oracle returns a settable price
type Oracle struct {
	price core.Price
	err   error
	calls int
	clock func() time.Time
	mu    sync.Mutex
}

func NewOracle(price core.Price) *Oracle {
	return &Oracle{price: price, clock: time.Now}
}

// SetPrice changes the price reported from now on
func (o *Oracle) SetPrice(p core.Price) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.price = p
}

// SetError makes CurrentPrice fail until cleared with nil
func (o *Oracle) SetError(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

// Calls returns how many times CurrentPrice was invoked
func (o *Oracle) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

func (o *Oracle) CurrentPrice(ctx context.Context) (core.PriceObservation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.err != nil {
		return core.PriceObservation{}, o.err
	}
	return core.PriceObservation{
		Price:      o.price,
		Decimals:   core.PriceDecimals,
		ObservedAt: o.clock(),
	}, nil
}
