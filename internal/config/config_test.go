package config

import (
	"testing"
	"time"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Fatalf("default server port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Name != "deskflow" {
		t.Fatalf("default database name = %q, want deskflow", cfg.Database.Name)
	}
	if cfg.Escalation.ScanInterval != 5*time.Minute {
		t.Fatalf("default scan interval = %s, want 5m", cfg.Escalation.ScanInterval)
	}
	if cfg.Escalation.Workers <= 0 {
		t.Fatalf("default worker count must be positive, got %d", cfg.Escalation.Workers)
	}
	if cfg.Escalation.LockKey == "" {
		t.Fatal("default lock key must be set")
	}
	if cfg.Monitoring.Tracing.Enabled {
		t.Fatal("tracing should be off by default")
	}
	if !cfg.Security.RateLimiting.Enabled {
		t.Fatal("rate limiting should be on by default")
	}
}

func TestInitLogger_LevelsAndFormats(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Log.Output = "stdout"

	for _, level := range []string{"debug", "info", "warn", "error"} {
		cfg.Log.Level = level
		if err := InitLogger(cfg); err != nil {
			t.Fatalf("InitLogger level=%s: %v", level, err)
		}
	}
	cfg.Log.Format = "text"
	if err := InitLogger(cfg); err != nil {
		t.Fatalf("InitLogger text format: %v", err)
	}
}
