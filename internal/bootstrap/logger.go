package bootstrap

import (
	"strings"

	"liquidity_engine/internal/core"
	"liquidity_engine/pkg/logging"
)

// InitLogger builds the zap logger from configuration and installs it globally
func InitLogger(cfg *Config) (*logging.ZapLogger, core.ILogger, error) {
	var opts []logging.Option
	if cfg.System.LogFormat == "json" {
		opts = append(opts, logging.WithJSON())
	}

	zl, err := logging.NewZapLogger(strings.ToUpper(cfg.System.LogLevel), opts...)
	if err != nil {
		return nil, nil, err
	}
	logging.SetGlobalLogger(zl)

	return zl, zl.WithField("app", cfg.App.Name), nil
}
