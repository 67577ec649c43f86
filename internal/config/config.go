// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"liquidity_engine/internal/core"

	sdkmath "cosmossdk.io/math"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App         AppConfig         `yaml:"app"`
	Assets      AssetsConfig      `yaml:"assets"`
	Policy      PolicyConfig      `yaml:"policy"`
	Router      RouterConfig      `yaml:"router"`
	Liquidity   LiquidityConfig   `yaml:"liquidity"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Venues      []VenueConfig     `yaml:"venues"`
	Pool        PoolConfig        `yaml:"pool"`
	Oracle      OracleConfig      `yaml:"oracle"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Storage     StorageConfig     `yaml:"storage"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	System      SystemConfig      `yaml:"system"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name string `yaml:"name"`
	// OperatorKeys are the caller identities allowed to mutate the engine
	OperatorKeys []Secret `yaml:"operator_keys"`
	// SeedFromOracle sets the first reference price from the oracle when none was restored
	SeedFromOracle bool `yaml:"seed_from_oracle"`
}

// AssetsConfig names the held assets and the pool-share token
type AssetsConfig struct {
	A         string `yaml:"a"`
	B         string `yaml:"b"`
	C         string `yaml:"c"`
	PoolShare string `yaml:"pool_share"`
}

// PolicyConfig holds the initial threshold policy. Amounts are decimal integer strings.
type PolicyConfig struct {
	MaxOrderSize           string `yaml:"max_order_size"`
	MinProfitThresholdBps  uint64 `yaml:"min_profit_threshold_bps"`
	RebalanceThresholdBps  uint64 `yaml:"rebalance_threshold_bps"`
	StopLossThresholdBps   uint64 `yaml:"stop_loss_threshold_bps"`
	MitigationThresholdBps uint64 `yaml:"mitigation_threshold_bps"`
}

// RouterConfig contains execution router settings
type RouterConfig struct {
	QuoteTimeout      time.Duration `yaml:"quote_timeout"`
	ExecutionDeadline time.Duration `yaml:"execution_deadline"`
	MaxSlippageBps    uint64        `yaml:"max_slippage_bps"`
}

// LiquidityConfig contains rebalance controller settings
type LiquidityConfig struct {
	// Strategy is the rebalance adjustment: "none" or "redeploy"
	Strategy              string        `yaml:"strategy"`
	StopLossWithdrawBps   uint64        `yaml:"stop_loss_withdraw_bps"`
	MitigationWithdrawBps uint64        `yaml:"mitigation_withdraw_bps"`
	OperationDeadline     time.Duration `yaml:"operation_deadline"`
}

// ScheduleConfig drives the tick loop; Cron wins over Interval when both are set
type ScheduleConfig struct {
	Cron     string        `yaml:"cron"`
	Interval time.Duration `yaml:"interval"`
	// UpkeepInterval polls CheckUpkeep between scheduled ticks; zero disables polling
	UpkeepInterval time.Duration `yaml:"upkeep_interval"`
}

// VenueConfig describes one execution venue. Order defines priority.
type VenueConfig struct {
	Name              string            `yaml:"name"`
	Type              string            `yaml:"type"` // mock | remote
	BaseURL           string            `yaml:"base_url"`
	APIKey            Secret            `yaml:"api_key"`
	Timeout           time.Duration     `yaml:"timeout"`
	RequestsPerSecond float64           `yaml:"requests_per_second"`
	Burst             int               `yaml:"burst"`
	FeeBps            uint64            `yaml:"fee_bps"`
	Reserves          map[string]string `yaml:"reserves"` // mock only
}

// PoolConfig describes the liquidity pool venue
type PoolConfig struct {
	Name     string        `yaml:"name"`
	Type     string        `yaml:"type"` // mock | remote
	BaseURL  string        `yaml:"base_url"`
	APIKey   Secret        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
	ReserveA string        `yaml:"reserve_a"` // mock only
	ReserveB string        `yaml:"reserve_b"` // mock only
}

// OracleConfig describes the price source
type OracleConfig struct {
	Type       string        `yaml:"type"` // mock | remote
	BaseURL    string        `yaml:"base_url"`
	APIKey     Secret        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	MaxAge     time.Duration `yaml:"max_age"`
	MockPrice  int64         `yaml:"mock_price"`

	// StreamURL attaches a websocket price feed; BaseURL is polled when it goes stale
	StreamURL     string `yaml:"stream_url"`
	StreamChannel string `yaml:"stream_channel"`
}

// LedgerConfig describes the settlement ledger
type LedgerConfig struct {
	Type     string            `yaml:"type"` // mock | remote
	BaseURL  string            `yaml:"base_url"`
	APIKey   Secret            `yaml:"api_key"`
	Timeout  time.Duration     `yaml:"timeout"`
	Account  string            `yaml:"account"`
	Balances map[string]string `yaml:"balances"` // mock only
}

// StorageConfig selects the position/journal store
type StorageConfig struct {
	Driver string `yaml:"driver"` // none | sqlite3 | postgres
	DSN    Secret `yaml:"dsn"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	EnableMetrics bool `yaml:"enable_metrics"`
	// EnableTracing exports spans and bridged logs to stdout
	EnableTracing  bool `yaml:"enable_tracing"`
	MetricsPort    int  `yaml:"metrics_port"`
	HealthPort     int  `yaml:"health_port"`
	GRPCHealthPort int  `yaml:"grpc_health_port"`
	StreamPort     int  `yaml:"stream_port"`
}

// AlertsConfig contains alert channel credentials
type AlertsConfig struct {
	SlackWebhook   Secret `yaml:"slack_webhook"`
	TelegramToken  Secret `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // console | json
}

// ConcurrencyConfig contains worker pool settings
type ConcurrencyConfig struct {
	QuotePoolSize   int `yaml:"quote_pool_size"`
	QuotePoolBuffer int `yaml:"quote_pool_buffer"`
	EventPoolSize   int `yaml:"event_pool_size"`
	EventPoolBuffer int `yaml:"event_pool_buffer"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse expands environment variables, applies defaults and validates
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	// Defaults fill scalar settings only; collections and credentials come from the file
	config := DefaultConfig()
	config.App.OperatorKeys = nil
	config.Venues = nil
	config.Ledger.Balances = nil
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Venues {
		if c.Venues[i].Timeout == 0 {
			c.Venues[i].Timeout = c.Router.QuoteTimeout
		}
	}
	if c.Pool.Name == "" {
		c.Pool.Name = "pool"
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateAppConfig,
		c.validateAssets,
		c.validatePolicy,
		c.validateRouter,
		c.validateLiquidity,
		c.validateSchedule,
		c.validateVenues,
		c.validateAdapters,
		c.validateStorage,
		c.validateSystemConfig,
	}

	var errors []string
	for _, validate := range validators {
		if err := validate(); err != nil {
			errors = append(errors, err.Error())
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateAppConfig() error {
	if len(c.App.OperatorKeys) == 0 {
		return ValidationError{
			Field:   "app.operator_keys",
			Message: "at least one operator key is required",
		}
	}
	for i, k := range c.App.OperatorKeys {
		if k == "" {
			return ValidationError{
				Field:   fmt.Sprintf("app.operator_keys[%d]", i),
				Message: "operator key must not be empty",
			}
		}
	}
	return nil
}

func (c *Config) validateAssets() error {
	if c.Assets.A == "" || c.Assets.B == "" {
		return ValidationError{Field: "assets", Message: "assets a and b are required"}
	}
	if c.Assets.PoolShare == "" {
		return ValidationError{Field: "assets.pool_share", Message: "pool share token is required"}
	}
	seen := map[string]bool{}
	for _, a := range []string{c.Assets.A, c.Assets.B, c.Assets.C, c.Assets.PoolShare} {
		if a == "" {
			continue
		}
		if seen[a] {
			return ValidationError{Field: "assets", Value: a, Message: "asset ids must be distinct"}
		}
		seen[a] = true
	}
	return nil
}

func (c *Config) validatePolicy() error {
	max, err := ParseAmount(c.Policy.MaxOrderSize)
	if err != nil || !max.IsPositive() {
		return ValidationError{
			Field:   "policy.max_order_size",
			Value:   c.Policy.MaxOrderSize,
			Message: "must be a positive integer amount",
		}
	}
	return nil
}

func (c *Config) validateRouter() error {
	if c.Router.QuoteTimeout <= 0 {
		return ValidationError{Field: "router.quote_timeout", Value: c.Router.QuoteTimeout, Message: "must be positive"}
	}
	if c.Router.ExecutionDeadline <= 0 {
		return ValidationError{Field: "router.execution_deadline", Value: c.Router.ExecutionDeadline, Message: "must be positive"}
	}
	if c.Router.MaxSlippageBps > core.BpsDenominator {
		return ValidationError{Field: "router.max_slippage_bps", Value: c.Router.MaxSlippageBps, Message: "must be at most 10000"}
	}
	return nil
}

func (c *Config) validateLiquidity() error {
	validStrategies := []string{"none", "redeploy"}
	if !contains(validStrategies, c.Liquidity.Strategy) {
		return ValidationError{
			Field:   "liquidity.strategy",
			Value:   c.Liquidity.Strategy,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validStrategies, ", ")),
		}
	}
	if c.Liquidity.StopLossWithdrawBps > core.BpsDenominator {
		return ValidationError{Field: "liquidity.stop_loss_withdraw_bps", Value: c.Liquidity.StopLossWithdrawBps, Message: "must be at most 10000"}
	}
	if c.Liquidity.MitigationWithdrawBps > core.BpsDenominator {
		return ValidationError{Field: "liquidity.mitigation_withdraw_bps", Value: c.Liquidity.MitigationWithdrawBps, Message: "must be at most 10000"}
	}
	return nil
}

func (c *Config) validateSchedule() error {
	if c.Schedule.Cron != "" {
		if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
			return ValidationError{Field: "schedule.cron", Value: c.Schedule.Cron, Message: err.Error()}
		}
		return nil
	}
	if c.Schedule.Interval <= 0 {
		return ValidationError{Field: "schedule", Message: "either cron or a positive interval is required"}
	}
	return nil
}

func (c *Config) validateVenues() error {
	if len(c.Venues) == 0 {
		return ValidationError{Field: "venues", Message: "at least one venue must be configured"}
	}
	names := map[string]bool{}
	for i, v := range c.Venues {
		field := fmt.Sprintf("venues[%d]", i)
		if v.Name == "" {
			return ValidationError{Field: field + ".name", Message: "venue name is required"}
		}
		if names[v.Name] {
			return ValidationError{Field: field + ".name", Value: v.Name, Message: "venue names must be unique"}
		}
		names[v.Name] = true
		if err := validateAdapterType(field, v.Type, v.BaseURL); err != nil {
			return err
		}
		if v.FeeBps >= core.BpsDenominator {
			return ValidationError{Field: field + ".fee_bps", Value: v.FeeBps, Message: "must be below 10000"}
		}
	}
	return nil
}

func (c *Config) validateAdapters() error {
	if err := validateAdapterType("pool", c.Pool.Type, c.Pool.BaseURL); err != nil {
		return err
	}
	if err := validateAdapterType("oracle", c.Oracle.Type, c.Oracle.BaseURL); err != nil {
		return err
	}
	if err := validateAdapterType("ledger", c.Ledger.Type, c.Ledger.BaseURL); err != nil {
		return err
	}
	if c.Ledger.Type == "remote" && c.Ledger.Account == "" {
		return ValidationError{Field: "ledger.account", Message: "account is required for a remote ledger"}
	}
	if c.Pool.Type == "mock" && c.Ledger.Type != "mock" {
		return ValidationError{Field: "pool.type", Value: c.Pool.Type, Message: "a mock pool settles on the mock ledger"}
	}
	if c.Schedule.UpkeepInterval < 0 {
		return ValidationError{Field: "schedule.upkeep_interval", Value: c.Schedule.UpkeepInterval, Message: "must not be negative"}
	}
	return nil
}

func validateAdapterType(field, typ, baseURL string) error {
	switch typ {
	case "mock":
		return nil
	case "remote":
		if baseURL == "" {
			return ValidationError{Field: field + ".base_url", Message: "base url is required for remote adapters"}
		}
		return nil
	default:
		return ValidationError{Field: field + ".type", Value: typ, Message: "must be one of: mock, remote"}
	}
}

func (c *Config) validateStorage() error {
	switch c.Storage.Driver {
	case "", "none":
		return nil
	case "sqlite3", "postgres":
		if c.Storage.DSN == "" {
			return ValidationError{Field: "storage.dsn", Message: "dsn is required when a storage driver is set"}
		}
		return nil
	default:
		return ValidationError{Field: "storage.driver", Value: c.Storage.Driver, Message: "must be one of: none, sqlite3, postgres"}
	}
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	if c.System.LogFormat != "" && c.System.LogFormat != "console" && c.System.LogFormat != "json" {
		return ValidationError{Field: "system.log_format", Value: c.System.LogFormat, Message: "must be console or json"}
	}
	return nil
}

// AssetSet converts the assets section into the core representation
func (c *Config) AssetSet() core.AssetSet {
	return core.AssetSet{
		A:         core.AssetID(c.Assets.A),
		B:         core.AssetID(c.Assets.B),
		C:         core.AssetID(c.Assets.C),
		PoolShare: core.AssetID(c.Assets.PoolShare),
	}
}

// CorePolicy converts the policy section; call after Validate
func (c *Config) CorePolicy() (core.PolicyConfig, error) {
	max, err := ParseAmount(c.Policy.MaxOrderSize)
	if err != nil {
		return core.PolicyConfig{}, err
	}
	return core.PolicyConfig{
		MaxOrderSize:           max,
		MinProfitThresholdBps:  c.Policy.MinProfitThresholdBps,
		RebalanceThresholdBps:  c.Policy.RebalanceThresholdBps,
		StopLossThresholdBps:   c.Policy.StopLossThresholdBps,
		MitigationThresholdBps: c.Policy.MitigationThresholdBps,
	}, nil
}

// OperatorKeyStrings returns the raw operator keys
func (c *Config) OperatorKeyStrings() []string {
	keys := make([]string, 0, len(c.App.OperatorKeys))
	for _, k := range c.App.OperatorKeys {
		keys = append(keys, string(k))
	}
	return keys
}

// ParseAmount parses a non-negative decimal integer amount
func ParseAmount(s string) (sdkmath.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return sdkmath.ZeroInt(), nil
	}
	v, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("invalid amount %q", s)
	}
	if v.IsNegative() {
		return sdkmath.Int{}, fmt.Errorf("negative amount %q", s)
	}
	return v, nil
}

// ParseAmounts parses a map of asset id to amount
func ParseAmounts(in map[string]string) (map[core.AssetID]sdkmath.Int, error) {
	out := make(map[core.AssetID]sdkmath.Int, len(in))
	for k, v := range in {
		amt, err := ParseAmount(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[core.AssetID(k)] = amt
	}
	return out, nil
}

// String returns a YAML representation with secrets redacted
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns a paper-trading configuration used by tests and as the base for parsing
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:           "liquidity_engine",
			OperatorKeys:   []Secret{"operator"},
			SeedFromOracle: true,
		},
		Assets: AssetsConfig{
			A:         "WETH",
			B:         "USDC",
			PoolShare: "WETH-USDC-LP",
		},
		Policy: PolicyConfig{
			MaxOrderSize:           "1000000000000",
			MinProfitThresholdBps:  10,
			RebalanceThresholdBps:  200,
			StopLossThresholdBps:   300,
			MitigationThresholdBps: 500,
		},
		Router: RouterConfig{
			QuoteTimeout:      2 * time.Second,
			ExecutionDeadline: 30 * time.Second,
			MaxSlippageBps:    50,
		},
		Liquidity: LiquidityConfig{
			Strategy:              "none",
			StopLossWithdrawBps:   10000,
			MitigationWithdrawBps: 5000,
			OperationDeadline:     30 * time.Second,
		},
		Schedule: ScheduleConfig{
			Interval: time.Minute,
		},
		Venues: []VenueConfig{
			{Name: "venue-a", Type: "mock", FeeBps: 30, Timeout: 2 * time.Second,
				Reserves: map[string]string{"WETH": "1000000000000", "USDC": "2000000000000000"}},
			{Name: "venue-b", Type: "mock", FeeBps: 5, Timeout: 2 * time.Second,
				Reserves: map[string]string{"WETH": "500000000000", "USDC": "1000000000000000"}},
		},
		Pool: PoolConfig{
			Name:     "pool",
			Type:     "mock",
			ReserveA: "1000000000000",
			ReserveB: "2000000000000000",
		},
		Oracle: OracleConfig{
			Type:      "mock",
			MockPrice: 200000000000,
		},
		Ledger: LedgerConfig{
			Type:     "mock",
			Account:  "engine",
			Balances: map[string]string{"WETH": "10000000000", "USDC": "20000000000000"},
		},
		Storage: StorageConfig{
			Driver: "none",
		},
		Telemetry: TelemetryConfig{
			EnableMetrics: true,
			MetricsPort:   9090,
			HealthPort:    8080,
		},
		System: SystemConfig{
			LogLevel:  "INFO",
			LogFormat: "console",
		},
		Concurrency: ConcurrencyConfig{
			QuotePoolSize:   8,
			QuotePoolBuffer: 64,
			EventPoolSize:   4,
			EventPoolBuffer: 256,
		},
	}
}
