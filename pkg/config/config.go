// Package config loads wndlink configuration.
//
// Precedence, lowest first: built-in defaults, the YAML file, then WNDLINK_*
// environment variables. The CLI loads a .env file before calling Load, so
// values from .env behave like regular environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is looked up in the working directory and in ~/.wndlink.
const DefaultFileName = "wndlink.yaml"

type Config struct {
	App       AppConfig       `yaml:"app" envPrefix:"APP_"`
	Messaging MessagingConfig `yaml:"messaging" envPrefix:"MSG_"`
	Companion CompanionConfig `yaml:"companion" envPrefix:"COMPANION_"`
	Logs      LogsConfig      `yaml:"logs" envPrefix:"LOGS_"`
	Storage   StorageConfig   `yaml:"storage" envPrefix:"STORAGE_"`
	RecordAPI RecordAPIConfig `yaml:"record_api" envPrefix:"RECORD_API_"`
	Gateway   GatewayConfig   `yaml:"gateway" envPrefix:"GATEWAY_"`
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
}

// AppConfig identifies the application and the signed-in user. Storage keys
// are namespaced by both.
type AppConfig struct {
	ID             string   `yaml:"id" env:"ID"`
	UserID         string   `yaml:"user_id" env:"USER_ID"`
	AccountID      string   `yaml:"account_id" env:"ACCOUNT_ID"`
	DeveloperUsers []string `yaml:"developer_users" env:"DEVELOPER_USERS" envSeparator:","`
}

type MessagingConfig struct {
	ExpirationWindow  time.Duration `yaml:"expiration_window" env:"EXPIRATION_WINDOW"`
	RetryCount        int           `yaml:"retry_count" env:"RETRY_COUNT"`
	SweepInterval     time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
	// Codec selects the WebSocket frame encoding: "json" or "msgpack".
	Codec string `yaml:"codec" env:"CODEC"`
}

type CompanionConfig struct {
	Enabled         bool          `yaml:"enabled" env:"ENABLED"`
	Route           string        `yaml:"route" env:"ROUTE"`
	ReadyTimeout    time.Duration `yaml:"ready_timeout" env:"READY_TIMEOUT"`
	RecycleInterval time.Duration `yaml:"recycle_interval" env:"RECYCLE_INTERVAL"`
	// Mode is "inprocess" (companion runs as a goroutine) or "remote"
	// (a separate `wndlink companion` process dials the gateway).
	Mode string `yaml:"mode" env:"MODE"`
}

type LogsConfig struct {
	Enabled                bool          `yaml:"enabled" env:"ENABLED"`
	MaxEntries             int           `yaml:"max_entries" env:"MAX_ENTRIES"`
	Slack                  int           `yaml:"slack" env:"SLACK"`
	RetentionSchedule      string        `yaml:"retention_schedule" env:"RETENTION_SCHEDULE"`
	HighPriorityInterval   time.Duration `yaml:"high_priority_interval" env:"HIGH_PRIORITY_INTERVAL"`
	LowPriorityInterval    time.Duration `yaml:"low_priority_interval" env:"LOW_PRIORITY_INTERVAL"`
	DevLowPriorityInterval time.Duration `yaml:"dev_low_priority_interval" env:"DEV_LOW_PRIORITY_INTERVAL"`
	AgeThreshold           time.Duration `yaml:"age_threshold" env:"AGE_THRESHOLD"`
	DevAgeThreshold        time.Duration `yaml:"dev_age_threshold" env:"DEV_AGE_THRESHOLD"`
	StaleSentTimeout       time.Duration `yaml:"stale_sent_timeout" env:"STALE_SENT_TIMEOUT"`
	ToastText              string        `yaml:"toast_text" env:"TOAST_TEXT"`
	ToastTimeout           time.Duration `yaml:"toast_timeout" env:"TOAST_TIMEOUT"`
}

type StorageConfig struct {
	// Driver is "memory", "file" or "sqlite".
	Driver string `yaml:"driver" env:"DRIVER"`
	Path   string `yaml:"path" env:"PATH"`
}

// RecordAPIConfig points at the remote record store. Views are the write
// targets: logs go to LogsView, heartbeats and preferences to AccountView.
type RecordAPIConfig struct {
	BaseURL     string        `yaml:"base_url" env:"BASE_URL"`
	APIKey      string        `yaml:"api_key" env:"API_KEY"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
	LogsView    string        `yaml:"logs_view" env:"LOGS_VIEW"`
	AccountView string        `yaml:"account_view" env:"ACCOUNT_VIEW"`
	Fields      RecordFields  `yaml:"fields" envPrefix:"FIELD_"`
}

// RecordFields maps logical log/account attributes to remote field keys.
type RecordFields struct {
	LogID       string `yaml:"log_id" env:"LOG_ID"`
	LogType     string `yaml:"log_type" env:"LOG_TYPE"`
	LogDetails  string `yaml:"log_details" env:"LOG_DETAILS"`
	LogDateTime string `yaml:"log_date_time" env:"LOG_DATE_TIME"`
	LogAccount  string `yaml:"log_account" env:"LOG_ACCOUNT"`
	Heartbeat   string `yaml:"heartbeat" env:"HEARTBEAT"`
	Preferences string `yaml:"preferences" env:"PREFERENCES"`
}

type GatewayConfig struct {
	Host   string `yaml:"host" env:"HOST"`
	Port   int    `yaml:"port" env:"PORT"`
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// URL is where a remote companion dials the gateway.
	URL string `yaml:"url" env:"URL"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
	File  string `yaml:"file" env:"FILE"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			ID: "wndlink",
		},
		Messaging: MessagingConfig{
			ExpirationWindow:  10 * time.Second,
			RetryCount:        5,
			SweepInterval:     time.Second,
			HeartbeatInterval: time.Minute,
			Codec:             "json",
		},
		Companion: CompanionConfig{
			Enabled:         true,
			Route:           "/iframewnd",
			ReadyTimeout:    60 * time.Second,
			RecycleInterval: 5 * time.Minute,
			Mode:            "inprocess",
		},
		Logs: LogsConfig{
			Enabled:                true,
			MaxEntries:             100,
			Slack:                  10,
			RetentionSchedule:      "@hourly",
			HighPriorityInterval:   10 * time.Second,
			LowPriorityInterval:    time.Minute,
			DevLowPriorityInterval: 10 * time.Second,
			AgeThreshold:           60 * time.Minute,
			DevAgeThreshold:        3 * time.Minute,
			StaleSentTimeout:       5 * time.Minute,
			ToastText:              "Email sent",
			ToastTimeout:           10 * time.Second,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   filepath.Join(homeDir(), ".wndlink", "store.db"),
		},
		RecordAPI: RecordAPIConfig{
			Timeout: 15 * time.Second,
			Fields: RecordFields{
				LogID:       "log_id",
				LogType:     "log_type",
				LogDetails:  "details",
				LogDateTime: "date_time",
				LogAccount:  "account",
				Heartbeat:   "heartbeat",
				Preferences: "preferences",
			},
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18791,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (optional) and
// the environment. An empty path searches the default locations; a missing
// file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = findDefaultPath()
	}
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "WNDLINK_"}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Save writes the config as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate rejects values the runtime cannot work with.
func (c *Config) Validate() error {
	if c.App.ID == "" {
		return fmt.Errorf("app.id is required")
	}
	if c.Messaging.ExpirationWindow <= 0 {
		return fmt.Errorf("messaging.expiration_window must be positive")
	}
	if c.Messaging.RetryCount < 1 {
		return fmt.Errorf("messaging.retry_count must be at least 1")
	}
	if c.Messaging.SweepInterval <= 0 || c.Messaging.HeartbeatInterval <= 0 {
		return fmt.Errorf("messaging intervals must be positive")
	}
	switch c.Messaging.Codec {
	case "json", "msgpack":
	default:
		return fmt.Errorf("messaging.codec must be json or msgpack, got %q", c.Messaging.Codec)
	}
	switch c.Companion.Mode {
	case "inprocess", "remote":
	default:
		return fmt.Errorf("companion.mode must be inprocess or remote, got %q", c.Companion.Mode)
	}
	if c.Logs.MaxEntries < 1 || c.Logs.Slack < 0 {
		return fmt.Errorf("logs.max_entries must be >= 1 and logs.slack >= 0")
	}
	if c.Logs.RetentionSchedule != "" && !gronx.New().IsValid(c.Logs.RetentionSchedule) {
		return fmt.Errorf("logs.retention_schedule %q is not a valid cron expression", c.Logs.RetentionSchedule)
	}
	switch c.Storage.Driver {
	case "memory", "file", "sqlite":
	default:
		return fmt.Errorf("storage.driver must be memory, file or sqlite, got %q", c.Storage.Driver)
	}
	return nil
}

// IsDeveloper reports whether the configured user gets developer timings.
func (c *Config) IsDeveloper() bool {
	for _, u := range c.App.DeveloperUsers {
		if u != "" && u == c.App.UserID {
			return true
		}
	}
	return false
}

// GatewayAddr returns host:port for the API listener.
func (c *Config) GatewayAddr() string {
	return fmt.Sprintf("%s:%d", c.Gateway.Host, c.Gateway.Port)
}

func findDefaultPath() string {
	candidates := []string{
		DefaultFileName,
		filepath.Join(homeDir(), ".wndlink", DefaultFileName),
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return home
}
