package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Selection strategies for the account pool.
const (
	StrategyRandom     = "random"
	StrategyRoundRobin = "round-robin"
	StrategyLeastUsed  = "least-used"
)

// Config holds the gateway configuration. Values come from an optional
// YAML file, overridden by AIPROXY_* environment variables, with defaults
// filling the rest.
type Config struct {
	Host          string `yaml:"host"`
	Port          string `yaml:"port"`
	DBPath        string `yaml:"db_path"`
	AdminPassword string `yaml:"admin_password"`

	Pool PoolConfig `yaml:"account_pool"`
}

// PoolConfig controls account selection, health tracking and retry.
type PoolConfig struct {
	// MaxRetryAttempts bounds upstream attempts per relay call. 0 means a
	// single attempt with no failover.
	MaxRetryAttempts int    `yaml:"max_retry_attempts"`
	EnableRetry      *bool  `yaml:"enable_retry"`
	SelectionStrategy string `yaml:"selection_strategy"` // random, round-robin, least-used

	HealthCheckInterval    time.Duration `yaml:"health_check_interval"`
	AccountSyncInterval    time.Duration `yaml:"account_sync_interval"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`
	HealthThreshold        int           `yaml:"health_threshold"`
	TokenRefreshLeadTime   time.Duration `yaml:"token_refresh_lead_time"`
	RecoveryCooldown       time.Duration `yaml:"recovery_cooldown"`
	HealthStaleAfter       time.Duration `yaml:"health_stale_after"`
}

// EffectiveMaxRetries returns the attempt budget honoring the retry switch.
func (p PoolConfig) EffectiveMaxRetries() int {
	if p.EnableRetry != nil && !*p.EnableRetry {
		return 1
	}
	if p.MaxRetryAttempts < 1 {
		return 1
	}
	return p.MaxRetryAttempts
}

// Load reads the config file at path (optional), applies environment
// overrides and defaults. An empty path skips the file entirely.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if !validStrategy(cfg.Pool.SelectionStrategy) {
		return nil, fmt.Errorf("unknown selection strategy %q", cfg.Pool.SelectionStrategy)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("AIPROXY_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("AIPROXY_ADMIN_PASSWORD"); v != "" {
		cfg.AdminPassword = v
	}
	if v := os.Getenv("AIPROXY_MAX_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.MaxRetryAttempts = n
		}
	}
	if v := os.Getenv("AIPROXY_ENABLE_RETRY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Pool.EnableRetry = &b
		}
	}
	if v := os.Getenv("AIPROXY_SELECTION_STRATEGY"); v != "" {
		cfg.Pool.SelectionStrategy = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "aiproxy.db"
	}
	p := &cfg.Pool
	if p.MaxRetryAttempts == 0 {
		p.MaxRetryAttempts = 3
	}
	if p.EnableRetry == nil {
		t := true
		p.EnableRetry = &t
	}
	if p.SelectionStrategy == "" {
		p.SelectionStrategy = StrategyRandom
	}
	if p.HealthCheckInterval == 0 {
		p.HealthCheckInterval = 5 * time.Minute
	}
	if p.AccountSyncInterval == 0 {
		p.AccountSyncInterval = 30 * time.Second
	}
	if p.MaxConsecutiveFailures == 0 {
		p.MaxConsecutiveFailures = 5
	}
	if p.HealthThreshold == 0 {
		p.HealthThreshold = 3
	}
	if p.TokenRefreshLeadTime == 0 {
		p.TokenRefreshLeadTime = 30 * time.Minute
	}
	if p.RecoveryCooldown == 0 {
		p.RecoveryCooldown = 5 * time.Minute
	}
	if p.HealthStaleAfter == 0 {
		p.HealthStaleAfter = 10 * time.Minute
	}
}

func validStrategy(s string) bool {
	switch s {
	case StrategyRandom, StrategyRoundRobin, StrategyLeastUsed:
		return true
	}
	return false
}
