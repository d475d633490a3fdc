package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Messaging.ExpirationWindow != 10*time.Second {
		t.Errorf("expected 10s expiration window, got %v", cfg.Messaging.ExpirationWindow)
	}
	if cfg.Messaging.RetryCount != 5 {
		t.Errorf("expected 5 retries, got %d", cfg.Messaging.RetryCount)
	}
	if cfg.Companion.RecycleInterval != 5*time.Minute {
		t.Errorf("expected 5m recycle, got %v", cfg.Companion.RecycleInterval)
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "wndlink.yaml", `
app:
  id: crm
  user_id: u-42
  developer_users: [u-42]
messaging:
  retry_count: 3
  codec: msgpack
logs:
  max_entries: 50
storage:
  driver: memory
`)

	t.Setenv("WNDLINK_MSG_EXPIRATION_WINDOW", "2s")
	t.Setenv("WNDLINK_GATEWAY_PORT", "9000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.App.ID != "crm" || cfg.App.UserID != "u-42" {
		t.Errorf("unexpected app config %+v", cfg.App)
	}
	if cfg.Messaging.RetryCount != 3 {
		t.Errorf("expected retry count from file, got %d", cfg.Messaging.RetryCount)
	}
	if cfg.Messaging.ExpirationWindow != 2*time.Second {
		t.Errorf("expected env override 2s, got %v", cfg.Messaging.ExpirationWindow)
	}
	if cfg.Gateway.Port != 9000 {
		t.Errorf("expected env port 9000, got %d", cfg.Gateway.Port)
	}
	// Untouched defaults survive the merge.
	if cfg.Messaging.SweepInterval != time.Second {
		t.Errorf("expected default sweep interval, got %v", cfg.Messaging.SweepInterval)
	}
	if !cfg.IsDeveloper() {
		t.Error("expected u-42 to be a developer user")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logs.MaxEntries != 100 {
		t.Errorf("expected default max entries, got %d", cfg.Logs.MaxEntries)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty app id", func(c *Config) { c.App.ID = "" }},
		{"zero retries", func(c *Config) { c.Messaging.RetryCount = 0 }},
		{"bad codec", func(c *Config) { c.Messaging.Codec = "xml" }},
		{"bad mode", func(c *Config) { c.Companion.Mode = "popup" }},
		{"bad cron", func(c *Config) { c.Logs.RetentionSchedule = "every hour" }},
		{"bad driver", func(c *Config) { c.Storage.Driver = "redis" }},
		{"zero cap", func(c *Config) { c.Logs.MaxEntries = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "wndlink.yaml")
	cfg := DefaultConfig()
	cfg.App.ID = "orders"
	cfg.Storage.Driver = "memory"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.App.ID != "orders" || loaded.Storage.Driver != "memory" {
		t.Errorf("unexpected loaded config: app=%q driver=%q", loaded.App.ID, loaded.Storage.Driver)
	}
}
