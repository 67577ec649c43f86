// Package adapter builds the oracle, ledger, venues and pool named in configuration
package adapter

import (
	"fmt"
	"net/http"

	"liquidity_engine/internal/adapter/remote"
	"liquidity_engine/internal/config"
	"liquidity_engine/internal/core"
	"liquidity_engine/internal/mock"
	httpclient "liquidity_engine/pkg/http"
)

// Set is every external collaborator of the engine
type Set struct {
	Oracle core.IOracle
	Ledger core.ILedger
	Venues []core.IVenue
	Pool   core.IPoolVenue

	// Feed is the websocket price feed behind Oracle, if configured; the caller starts and stops it
	Feed *remote.StreamOracle
}

// Build creates the adapters. Mock venues and the mock pool settle on the mock ledger.
func Build(cfg *config.Config, logger core.ILogger) (*Set, error) {
	set := &Set{}

	var paper *mock.Ledger
	switch cfg.Ledger.Type {
	case "mock":
		balances, err := config.ParseAmounts(cfg.Ledger.Balances)
		if err != nil {
			return nil, fmt.Errorf("ledger balances: %w", err)
		}
		account := cfg.Ledger.Account
		if account == "" {
			account = "engine"
		}
		paper = mock.NewLedger(account)
		for asset, amount := range balances {
			paper.Mint(account, asset, amount)
		}
		set.Ledger = paper
		logger.Warn("Using mock ledger (paper trading)", "account", account)
	case "remote":
		set.Ledger = remote.NewLedger(cfg.Ledger.Account, httpclient.Options{
			Name:    "ledger",
			BaseURL: cfg.Ledger.BaseURL,
			Timeout: cfg.Ledger.Timeout,
			Signer:  httpclient.BearerSigner(cfg.Ledger.APIKey.Reveal()),
		})
	default:
		return nil, fmt.Errorf("unsupported ledger type: %s", cfg.Ledger.Type)
	}

	oracle, err := buildOracle(cfg.Oracle, logger)
	if err != nil {
		return nil, err
	}
	set.Oracle = oracle
	if cfg.Oracle.Type == "remote" && cfg.Oracle.StreamURL != "" {
		header := http.Header{}
		if key := cfg.Oracle.APIKey.Reveal(); key != "" {
			header.Set("Authorization", "Bearer "+key)
		}
		set.Feed = remote.NewStreamOracle(cfg.Oracle.StreamURL, cfg.Oracle.StreamChannel, header, cfg.Oracle.MaxAge, oracle, logger)
		set.Oracle = set.Feed
	}

	for _, vc := range cfg.Venues {
		venue, err := buildVenue(vc, paper, logger)
		if err != nil {
			return nil, err
		}
		set.Venues = append(set.Venues, venue)
	}

	pool, err := buildPool(cfg.Pool, cfg.AssetSet(), paper)
	if err != nil {
		return nil, err
	}
	set.Pool = pool

	logger.Info("Adapters ready", "ledger", cfg.Ledger.Type, "oracle", cfg.Oracle.Type,
		"pool", cfg.Pool.Type, "venues", len(set.Venues))
	return set, nil
}

func buildOracle(cfg config.OracleConfig, logger core.ILogger) (core.IOracle, error) {
	switch cfg.Type {
	case "mock":
		return mock.NewOracle(core.Price(cfg.MockPrice)), nil
	case "remote":
		return remote.NewOracle(httpclient.Options{
			Name:       "oracle",
			BaseURL:    cfg.BaseURL,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
			Signer:     httpclient.BearerSigner(cfg.APIKey.Reveal()),
		}, cfg.MaxAge, logger), nil
	default:
		return nil, fmt.Errorf("unsupported oracle type: %s", cfg.Type)
	}
}

func buildVenue(cfg config.VenueConfig, paper *mock.Ledger, logger core.ILogger) (core.IVenue, error) {
	switch cfg.Type {
	case "mock":
		reserves, err := config.ParseAmounts(cfg.Reserves)
		if err != nil {
			return nil, fmt.Errorf("venue %s reserves: %w", cfg.Name, err)
		}
		return mock.NewVenue(cfg.Name, paper, cfg.FeeBps, reserves), nil
	case "remote":
		return remote.NewVenue(cfg.Name, httpclient.Options{
			BaseURL:           cfg.BaseURL,
			Timeout:           cfg.Timeout,
			MaxRetries:        1,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
			Signer:            httpclient.BearerSigner(cfg.APIKey.Reveal()),
		}, logger), nil
	default:
		return nil, fmt.Errorf("unsupported venue type %q for %s", cfg.Type, cfg.Name)
	}
}

func buildPool(cfg config.PoolConfig, assets core.AssetSet, paper *mock.Ledger) (core.IPoolVenue, error) {
	switch cfg.Type {
	case "mock":
		if paper == nil {
			return nil, fmt.Errorf("mock pool requires the mock ledger")
		}
		a, err := config.ParseAmount(cfg.ReserveA)
		if err != nil {
			return nil, fmt.Errorf("pool reserve_a: %w", err)
		}
		b, err := config.ParseAmount(cfg.ReserveB)
		if err != nil {
			return nil, fmt.Errorf("pool reserve_b: %w", err)
		}
		return mock.NewPool(cfg.Name, paper, assets, a, b), nil
	case "remote":
		return remote.NewPool(cfg.Name, httpclient.Options{
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
			Signer:  httpclient.BearerSigner(cfg.APIKey.Reveal()),
		}), nil
	default:
		return nil, fmt.Errorf("unsupported pool type: %s", cfg.Type)
	}
}
