package remote

import (
	"context"
	"fmt"
	"time"

	"liquidity_engine/internal/core"
	apperrors "liquidity_engine/pkg/errors"
	httpclient "liquidity_engine/pkg/http"

	"github.com/shopspring/decimal"
)

// Oracle reads the reference price from GET /price
type Oracle struct {
	client *httpclient.Client
	maxAge time.Duration
	now    func() time.Time
	logger core.ILogger
}

// NewOracle creates an oracle client. Reads are idempotent, so opts.MaxRetries applies.
// A positive maxAge rejects observations older than it.
func NewOracle(opts httpclient.Options, maxAge time.Duration, logger core.ILogger) *Oracle {
	if opts.Name == "" {
		opts.Name = "oracle"
	}
	return &Oracle{
		client: httpclient.NewClient(opts),
		maxAge: maxAge,
		now:    time.Now,
		logger: logger.WithField("component", "remote_oracle"),
	}
}

func (o *Oracle) CurrentPrice(ctx context.Context) (core.PriceObservation, error) {
	var resp priceResponse
	if err := o.client.GetJSON(ctx, "/price", nil, &resp); err != nil {
		return core.PriceObservation{}, err
	}

	d, err := decimal.NewFromString(resp.Price)
	if err != nil {
		return core.PriceObservation{}, fmt.Errorf("%w: malformed price %q", apperrors.ErrNetwork, resp.Price)
	}
	price, err := core.PriceFromDecimal(d)
	if err != nil {
		return core.PriceObservation{}, fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
	}

	observed := o.now()
	if resp.Timestamp > 0 {
		observed = time.UnixMilli(resp.Timestamp)
	}
	if o.maxAge > 0 && o.now().Sub(observed) > o.maxAge {
		o.logger.Warn("Stale oracle price", "price", price.String(), "observed_at", observed)
		return core.PriceObservation{}, fmt.Errorf("%w: price observed at %s is stale", apperrors.ErrNetwork, observed.Format(time.RFC3339))
	}

	return core.PriceObservation{Price: price, Decimals: core.PriceDecimals, ObservedAt: observed}, nil
}
