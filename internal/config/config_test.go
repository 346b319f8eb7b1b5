package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Host != "127.0.0.1" || cfg.Port != "8080" {
		t.Errorf("unexpected listen defaults: %s:%s", cfg.Host, cfg.Port)
	}
	if cfg.Pool.MaxRetryAttempts != 3 {
		t.Errorf("expected 3 retry attempts, got %d", cfg.Pool.MaxRetryAttempts)
	}
	if cfg.Pool.SelectionStrategy != StrategyRandom {
		t.Errorf("expected random strategy, got %s", cfg.Pool.SelectionStrategy)
	}
	if cfg.Pool.MaxConsecutiveFailures != 5 || cfg.Pool.HealthThreshold != 3 {
		t.Errorf("unexpected health thresholds: %d/%d", cfg.Pool.MaxConsecutiveFailures, cfg.Pool.HealthThreshold)
	}
	if cfg.Pool.TokenRefreshLeadTime != 30*time.Minute {
		t.Errorf("expected 30m refresh lead, got %s", cfg.Pool.TokenRefreshLeadTime)
	}
	if cfg.Pool.RecoveryCooldown != 5*time.Minute {
		t.Errorf("expected 5m recovery cooldown, got %s", cfg.Pool.RecoveryCooldown)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aiproxy.yaml")
	content := []byte("port: \"9090\"\naccount_pool:\n  max_retry_attempts: 5\n  selection_strategy: least-used\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Port)
	}
	if cfg.Pool.MaxRetryAttempts != 5 {
		t.Errorf("expected 5 retry attempts, got %d", cfg.Pool.MaxRetryAttempts)
	}
	if cfg.Pool.SelectionStrategy != StrategyLeastUsed {
		t.Errorf("expected least-used, got %s", cfg.Pool.SelectionStrategy)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
	if cfg.DBPath != "aiproxy.db" {
		t.Errorf("expected default db path, got %s", cfg.DBPath)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7000")
	t.Setenv("AIPROXY_MAX_RETRY_ATTEMPTS", "7")
	t.Setenv("AIPROXY_ENABLE_RETRY", "false")
	t.Setenv("AIPROXY_SELECTION_STRATEGY", "round-robin")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Port != "7000" {
		t.Errorf("expected port 7000, got %s", cfg.Port)
	}
	if cfg.Pool.MaxRetryAttempts != 7 {
		t.Errorf("expected 7 retry attempts, got %d", cfg.Pool.MaxRetryAttempts)
	}
	if cfg.Pool.EnableRetry == nil || *cfg.Pool.EnableRetry {
		t.Error("expected retry disabled via env")
	}
	if cfg.Pool.SelectionStrategy != StrategyRoundRobin {
		t.Errorf("expected round-robin, got %s", cfg.Pool.SelectionStrategy)
	}
}

func TestLoadRejectsUnknownStrategy(t *testing.T) {
	t.Setenv("AIPROXY_SELECTION_STRATEGY", "weighted")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestEffectiveMaxRetries(t *testing.T) {
	off := false
	on := true
	tests := []struct {
		name string
		pool PoolConfig
		want int
	}{
		{"retry disabled", PoolConfig{MaxRetryAttempts: 5, EnableRetry: &off}, 1},
		{"retry enabled", PoolConfig{MaxRetryAttempts: 5, EnableRetry: &on}, 5},
		{"zero attempts", PoolConfig{MaxRetryAttempts: 0, EnableRetry: &on}, 1},
		{"negative attempts", PoolConfig{MaxRetryAttempts: -2, EnableRetry: &on}, 1},
		{"nil switch defaults on", PoolConfig{MaxRetryAttempts: 3}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pool.EffectiveMaxRetries(); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}
