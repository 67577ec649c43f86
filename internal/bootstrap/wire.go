package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"liquidity_engine/internal/adapter"
	"liquidity_engine/internal/alert"
	"liquidity_engine/internal/auth"
	"liquidity_engine/internal/core"
	"liquidity_engine/internal/engine"
	"liquidity_engine/internal/engine/schedule"
	"liquidity_engine/internal/events"
	grpchealth "liquidity_engine/internal/infrastructure/grpc"
	"liquidity_engine/internal/infrastructure/health"
	"liquidity_engine/internal/infrastructure/metrics"
	"liquidity_engine/internal/infrastructure/server"
	"liquidity_engine/internal/store"
	"liquidity_engine/internal/trading/liquidity"
	"liquidity_engine/internal/trading/monitor"
	"liquidity_engine/internal/trading/policy"
	"liquidity_engine/internal/trading/router"
	"liquidity_engine/pkg/concurrency"
	apperrors "liquidity_engine/pkg/errors"
	"liquidity_engine/pkg/liveserver"
	"liquidity_engine/pkg/retry"
)

// Components is the fully wired engine with its surfaces
type Components struct {
	Engine    *engine.Engine
	Adapters  *adapter.Set
	Events    *events.Log
	Store     *store.SQLStore
	Alerts    *alert.AlertManager
	Health    *health.HealthManager
	Authz     *auth.Authorizer
	Hub       *liveserver.Hub
	Stream    *liveserver.EventSink
	Scheduler *schedule.Scheduler

	cfg        *Config
	logger     core.ILogger
	quotePool  *concurrency.WorkerPool
	eventPool  *concurrency.WorkerPool
	seedPolicy retry.RetryPolicy
}

// Wire builds every component named in cfg. Nothing is started.
func Wire(ctx context.Context, cfg *Config, logger core.ILogger) (*Components, error) {
	c := &Components{cfg: cfg, logger: logger, seedPolicy: retry.DefaultPolicy}

	set, err := adapter.Build(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("adapters: %w", err)
	}
	c.Adapters = set

	c.quotePool = concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "quotes",
		MaxWorkers:  cfg.Concurrency.QuotePoolSize,
		MaxCapacity: cfg.Concurrency.QuotePoolBuffer,
	}, logger)
	c.eventPool = concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "event-sinks",
		MaxWorkers:  cfg.Concurrency.EventPoolSize,
		MaxCapacity: cfg.Concurrency.EventPoolBuffer,
	}, logger)

	c.Events = events.NewLog(c.eventPool, 0, logger)

	if cfg.Storage.Driver != "" && cfg.Storage.Driver != "none" {
		st, err := store.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN.Reveal(), logger)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("store: %w", err)
		}
		c.Store = st
		c.Events.AddSink(st)
	}

	c.Alerts = alert.NewAlertManager(logger)
	if cfg.Alerts.SlackWebhook != "" {
		c.Alerts.AddChannel(alert.NewSlackChannel(cfg.Alerts.SlackWebhook.Reveal()))
	}
	if cfg.Alerts.TelegramToken != "" && cfg.Alerts.TelegramChatID != "" {
		c.Alerts.AddChannel(alert.NewTelegramChannel(cfg.Alerts.TelegramToken.Reveal(), cfg.Alerts.TelegramChatID))
	}
	if c.Alerts.Channels() > 0 {
		c.Events.AddSink(alert.NewEventSink(c.Alerts))
	}

	c.Hub = liveserver.NewHub(logger, liveserver.DefaultReplay)
	c.Stream = liveserver.NewEventSink(c.Hub)
	c.Events.AddSink(c.Stream)

	corePolicy, err := cfg.CorePolicy()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("policy: %w", err)
	}
	settings, err := policy.NewSettings(corePolicy)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("policy: %w", err)
	}

	rt := router.NewRouter(set.Venues, set.Ledger, c.Events, c.quotePool, router.Config{
		QuoteTimeout:      cfg.Router.QuoteTimeout,
		ExecutionDeadline: cfg.Router.ExecutionDeadline,
		MaxSlippageBps:    cfg.Router.MaxSlippageBps,
	}, logger)

	strategy, err := liquidity.NewStrategy(cfg.Liquidity.Strategy)
	if err != nil {
		c.Close()
		return nil, err
	}
	controller, err := liquidity.NewController(set.Pool, set.Ledger, c.Events, rt, liquidity.Config{
		Strategy:              cfg.Liquidity.Strategy,
		StopLossWithdrawBps:   cfg.Liquidity.StopLossWithdrawBps,
		MitigationWithdrawBps: cfg.Liquidity.MitigationWithdrawBps,
		OperationDeadline:     cfg.Liquidity.OperationDeadline,
	}, logger, liquidity.WithStrategy(strategy))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("controller: %w", err)
	}

	c.Authz = auth.NewAuthorizer(cfg.OperatorKeyStrings(), 0, logger)

	d := engine.Deps{
		Assets:     cfg.AssetSet(),
		Oracle:     set.Oracle,
		Ledger:     set.Ledger,
		Router:     rt,
		Controller: controller,
		Settings:   settings,
		Authorizer: c.Authz,
		Volatility: monitor.NewILMonitor(func() uint64 { return settings.Get().MitigationThresholdBps }, logger),
		Alerter:    c.Alerts,
		Logger:     logger,
	}
	if c.Store != nil {
		d.Store = c.Store
	}
	eng, err := engine.New(d)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("engine: %w", err)
	}
	c.Engine = eng

	c.Scheduler, err = schedule.New(&publishingTicker{engine: eng, stream: c.Stream}, schedule.Config{
		Cron:           cfg.Schedule.Cron,
		Interval:       cfg.Schedule.Interval,
		UpkeepInterval: cfg.Schedule.UpkeepInterval,
	}, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	c.Health = health.NewHealthManager(logger)
	c.Health.Register("engine", func() error {
		if !eng.Ready() {
			return apperrors.ErrEngineStopped
		}
		return nil
	})
	c.Health.Register("oracle", func() error {
		checkCtx, cancel := context.WithTimeout(context.Background(), cfg.Router.QuoteTimeout)
		defer cancel()
		_, err := set.Oracle.CurrentPrice(checkCtx)
		return err
	})
	if c.Store != nil {
		c.Health.Register("store", func() error {
			checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return c.Store.Ping(checkCtx)
		})
	}
	if set.Feed != nil {
		c.Health.RegisterOptional("price_stream", func() error {
			if !set.Feed.Connected() {
				return errors.New("disconnected")
			}
			return nil
		})
	}

	return c, nil
}

// Start restores or funds the position and seeds the reference price when configured
func (c *Components) Start(ctx context.Context) error {
	if c.Adapters.Feed != nil {
		c.Adapters.Feed.Start()
	}
	if err := c.Engine.Start(ctx); err != nil {
		return fmt.Errorf("engine start: %w", err)
	}
	if c.cfg.App.SeedFromOracle && c.Engine.Snapshot().LastReferencePrice == 0 {
		if err := c.seedReference(ctx); err != nil {
			return err
		}
	}
	c.Stream.Publish(liveserver.TypePosition, c.Engine.Snapshot())
	return nil
}

func (c *Components) seedReference(ctx context.Context) error {
	keys := c.cfg.OperatorKeyStrings()
	if len(keys) == 0 {
		return fmt.Errorf("%w: seeding requires an operator key", apperrors.ErrUnauthorized)
	}

	var obs core.PriceObservation
	err := retry.Do(ctx, c.seedPolicy, retry.Unless(apperrors.ErrInvalidInput), func() error {
		var err error
		obs, err = c.Adapters.Oracle.CurrentPrice(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("seed reference price: %w", err)
	}
	if _, err := c.Engine.Rebalance(ctx, keys[0], obs.Price); err != nil {
		return fmt.Errorf("seed reference price: %w", err)
	}
	c.logger.Info("Seeded reference price from oracle", "price", obs.Price.String())
	return nil
}

// Runners returns the long-running parts: the scheduler, the stream hub and every
// listener whose port is configured
func (c *Components) Runners() []Runner {
	tel := c.cfg.Telemetry
	runners := []Runner{
		c.Scheduler,
		RunnerFunc(func(ctx context.Context) error {
			c.Hub.Run(ctx)
			return nil
		}),
	}

	if tel.HealthPort > 0 {
		api := server.NewServer(addr(tel.HealthPort), server.Deps{
			Engine:     c.Engine,
			Authorizer: c.Authz,
			Events:     c.Events,
			Health:     c.Health,
			Logger:     c.logger,
		})
		runners = append(runners, RunnerFunc(func(ctx context.Context) error {
			api.Start()
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return api.Stop(shutdownCtx)
		}))
	}
	if tel.EnableMetrics && tel.MetricsPort > 0 && tel.MetricsPort != tel.HealthPort {
		runners = append(runners, metrics.NewServer(tel.MetricsPort, c.logger))
	}
	if tel.GRPCHealthPort > 0 {
		gh := grpchealth.NewHealthServer(c.Health, c.Authz, 0, c.logger)
		runners = append(runners, RunnerFunc(func(ctx context.Context) error {
			return gh.ListenAndServe(ctx, addr(tel.GRPCHealthPort))
		}))
	}
	if tel.StreamPort > 0 {
		stream := liveserver.NewServer(c.Hub, liveserver.Options{
			Addr:           addr(tel.StreamPort),
			AllowedOrigins: []string{"*"},
			RateLimit:      5,
			RateBurst:      10,
		}, c.logger)
		runners = append(runners, RunnerFunc(stream.Start))
	}
	return runners
}

// Close stops the engine, drains event delivery and releases resources
func (c *Components) Close() {
	if c.Engine != nil {
		_ = c.Engine.Stop()
	}
	if c.Adapters != nil && c.Adapters.Feed != nil {
		c.Adapters.Feed.Stop()
	}
	if c.Events != nil {
		c.Events.Flush()
	}
	if c.Alerts != nil {
		c.Alerts.Wait()
	}
	if c.quotePool != nil {
		c.quotePool.Stop()
	}
	if c.eventPool != nil {
		c.eventPool.Stop()
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			c.logger.Warn("Failed to close store", "error", err)
		}
	}
}

func addr(port int) string {
	return net.JoinHostPort("", strconv.Itoa(port))
}

// publishingTicker streams every tick outcome and the resulting position
type publishingTicker struct {
	engine *engine.Engine
	stream *liveserver.EventSink
}

func (p *publishingTicker) Tick(ctx context.Context, now time.Time) (engine.TickReport, error) {
	report, err := p.engine.Tick(ctx, now)
	if errors.Is(err, apperrors.ErrTickInProgress) || errors.Is(err, apperrors.ErrEngineStopped) {
		return report, err
	}

	summary := map[string]interface{}{
		"tick_id":        report.TickID,
		"price":          report.Price,
		"decision":       report.Evaluation.Decision.String(),
		"action":         report.Action.String(),
		"price_diff_bps": report.Evaluation.PriceDiffBps,
		"duration_ms":    report.Duration.Milliseconds(),
	}
	if err != nil {
		summary["error"] = err.Error()
	} else if report.Warning != nil {
		summary["warning"] = report.Warning.Error()
	}
	p.stream.Publish(liveserver.TypeTick, summary)
	p.stream.Publish(liveserver.TypePosition, p.engine.Snapshot())
	return report, err
}

func (p *publishingTicker) CheckUpkeep(ctx context.Context) (engine.Upkeep, error) {
	return p.engine.CheckUpkeep(ctx)
}
