package bootstrap

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"liquidity_engine/internal/config"
)

// Config is an alias for the project's main configuration struct
type Config = config.Config

// LoadConfig delegates to the project's config loader
func LoadConfig(path string) (*Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	// Pre-flight Checks
	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}

	return cfg, nil
}

type endpoint struct {
	name   string
	url    string
	hasKey bool
}

// checkPreFlight performs environment checks beyond schema validation
func checkPreFlight(cfg *Config) error {
	if cfg.Storage.Driver == "sqlite3" {
		if err := checkSQLiteDir(string(cfg.Storage.DSN)); err != nil {
			return err
		}
	}

	// Credentials must not travel in plaintext beyond the local host
	endpoints := []endpoint{
		{"oracle", cfg.Oracle.BaseURL, cfg.Oracle.APIKey != ""},
		{"ledger", cfg.Ledger.BaseURL, cfg.Ledger.APIKey != ""},
		{"pool", cfg.Pool.BaseURL, cfg.Pool.APIKey != ""},
	}
	for _, v := range cfg.Venues {
		endpoints = append(endpoints, endpoint{"venue " + v.Name, v.BaseURL, v.APIKey != ""})
	}
	for _, ep := range endpoints {
		if ep.hasKey && ep.url != "" && !secureEndpoint(ep.url) {
			return fmt.Errorf("%s: refusing to send an api key over plaintext to %s", ep.name, ep.url)
		}
	}
	return nil
}

func checkSQLiteDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("sqlite directory not found: %s", dir)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("sqlite path parent is not a directory: %s", dir)
	}
	return nil
}

func secureEndpoint(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme == "https" || u.Scheme == "wss" {
		return true
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
