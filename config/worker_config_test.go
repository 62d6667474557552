package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "")
	t.Setenv("SYNC_DEFAULT_LIMIT", "")
	t.Setenv("SYNC_MAX_LIMIT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.IsDevelopment() {
		t.Errorf("Environment = %q, want development", cfg.Environment)
	}
	if cfg.SyncDefaultLimit != 10 || cfg.SyncMaxLimit != 50 {
		t.Errorf("limits = %d/%d, want 10/50", cfg.SyncDefaultLimit, cfg.SyncMaxLimit)
	}
	if cfg.SyncInterval != 15*time.Minute {
		t.Errorf("SyncInterval = %v, want 15m", cfg.SyncInterval)
	}
	if cfg.WorkerID == "" {
		t.Errorf("WorkerID is empty")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SYNC_DEFAULT_LIMIT", "5")
	t.Setenv("SYNC_MAX_LIMIT", "20")
	t.Setenv("SYNC_ACCOUNT_TIMEOUT", "45s")
	t.Setenv("SCHEDULER_ENABLED", "false")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SyncDefaultLimit != 5 || cfg.SyncMaxLimit != 20 {
		t.Errorf("limits = %d/%d, want 5/20", cfg.SyncDefaultLimit, cfg.SyncMaxLimit)
	}
	if cfg.SyncAccountTimeout != 45*time.Second {
		t.Errorf("SyncAccountTimeout = %v, want 45s", cfg.SyncAccountTimeout)
	}
	if cfg.SchedulerEnabled {
		t.Errorf("SchedulerEnabled = true, want false")
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %v, want two trimmed origins", cfg.AllowedOrigins)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"zero default limit", map[string]string{"SYNC_DEFAULT_LIMIT": "0"}},
		{"max below default", map[string]string{"SYNC_DEFAULT_LIMIT": "30", "SYNC_MAX_LIMIT": "10"}},
		{"production without jwt secret", map[string]string{"ENV": "production", "JWT_SECRET": ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Errorf("Load() error = nil, want error")
			}
		})
	}
}
