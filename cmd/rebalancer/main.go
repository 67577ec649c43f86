package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"liquidity_engine/internal/bootstrap"
	"liquidity_engine/pkg/telemetry"

	"github.com/joho/godotenv"
)

var (
	configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile    = flag.String("env", ".env", "Optional dotenv file loaded before the config is expanded")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	if envConfig := os.Getenv("CONFIG_FILE"); envConfig != "" {
		*configFile = envConfig
	}
	// A missing .env is normal outside development
	if _, err := os.Stat(*envFile); err == nil {
		if err := godotenv.Load(*envFile); err != nil {
			return fmt.Errorf("load %s: %w", *envFile, err)
		}
	}

	app, err := bootstrap.NewApp(*configFile)
	if err != nil {
		return err
	}
	logger := app.Logger

	if tc := app.Cfg.Telemetry; tc.EnableMetrics || tc.EnableTracing {
		tel, err := telemetry.Setup(telemetry.Options{
			ServiceName: app.Cfg.App.Name,
			Metrics:     tc.EnableMetrics,
			Tracing:     tc.EnableTracing,
		})
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tel.Shutdown(ctx); err != nil {
				logger.Warn("Telemetry shutdown failed", "error", err)
			}
		}()
	}

	startCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	components, err := bootstrap.Wire(startCtx, app.Cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	if err := components.Start(startCtx); err != nil {
		return err
	}
	logger.Info("Liquidity engine started",
		"venues", components.Engine.Venues(),
		"reference", components.Engine.Snapshot().LastReferencePrice.String())

	return app.Run(components.Runners()...)
}
