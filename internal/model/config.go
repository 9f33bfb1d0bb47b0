package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ServerConfig locates the REST backend and the push endpoint.
type ServerConfig struct {
	// APIBaseURL is the root URL of the REST backend (e.g., http://localhost:8000).
	APIBaseURL string `mapstructure:"api_base_url" yaml:"api_base_url" validate:"required,url"`

	// APIPrefix is prepended to every REST path.
	APIPrefix string `mapstructure:"api_prefix" yaml:"api_prefix"`

	// WSBaseURL is the root URL of the push endpoint (ws:// or wss://).
	WSBaseURL string `mapstructure:"ws_base_url" yaml:"ws_base_url" validate:"required,url"`

	// RequestsPerSecond paces outbound REST calls.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second" validate:"gt=0"`

	// RequestBurst is the token-bucket burst size for REST calls.
	RequestBurst int `mapstructure:"request_burst" yaml:"request_burst" validate:"gte=1"`
}

// LiveConfig controls the live connection's reconnect behaviour.
type LiveConfig struct {
	BackoffInitialMs  int     `mapstructure:"backoff_initial_ms" yaml:"backoff_initial_ms" validate:"gt=0"`
	BackoffMaxMs      int     `mapstructure:"backoff_max_ms" yaml:"backoff_max_ms" validate:"gtefield=BackoffInitialMs"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier" yaml:"backoff_multiplier" validate:"gte=1"`
	DialTimeoutSec    int     `mapstructure:"dial_timeout_sec" yaml:"dial_timeout_sec" validate:"gt=0"`
}

// InboxConfig controls the notification drawer's paging and timing.
type InboxConfig struct {
	PageSize          int `mapstructure:"page_size" yaml:"page_size" validate:"gte=1,lte=100"`
	ExitDelayMs       int `mapstructure:"exit_delay_ms" yaml:"exit_delay_ms" validate:"gte=0"`
	ResyncIntervalSec int `mapstructure:"resync_interval_sec" yaml:"resync_interval_sec" validate:"gte=0"`
	ToastSec          int `mapstructure:"toast_sec" yaml:"toast_sec" validate:"gt=0"`
}

// DisplayConfig holds UI/rendering preferences.
type DisplayConfig struct {
	Theme string `mapstructure:"theme" yaml:"theme"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Server    ServerConfig  `mapstructure:"server" yaml:"server"`
	Live      LiveConfig    `mapstructure:"live" yaml:"live"`
	Inbox     InboxConfig   `mapstructure:"inbox" yaml:"inbox"`
	Display   DisplayConfig `mapstructure:"display" yaml:"display"`
	CachePath string        `mapstructure:"cache_path" yaml:"cache_path"`
}

// Backoff returns the initial and maximum reconnect delays.
func (c LiveConfig) Backoff() (time.Duration, time.Duration) {
	return time.Duration(c.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.BackoffMaxMs) * time.Millisecond
}

// DialTimeout returns the connection attempt watchdog.
func (c LiveConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutSec) * time.Second
}

// ExitDelay returns the cosmetic delay before a delete is sent.
func (c InboxConfig) ExitDelay() time.Duration {
	return time.Duration(c.ExitDelayMs) * time.Millisecond
}

// ResyncInterval returns how often the unread count is reconciled.
// Zero disables the periodic resync.
func (c InboxConfig) ResyncInterval() time.Duration {
	return time.Duration(c.ResyncIntervalSec) * time.Second
}

// ToastTTL returns how long a toast stays on screen.
func (c InboxConfig) ToastTTL() time.Duration {
	return time.Duration(c.ToastSec) * time.Second
}

var configValidator = validator.New()

// Validate checks the configuration for values that would break the client.
func (c *AppConfig) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		ve, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}
		var msgs []string
		for _, fe := range ve {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed '%s'", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/zenkoo/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// DefaultCachePath returns the default SQLite cache location.
func DefaultCachePath() string {
	return filepath.Join(configDir(), "cache.db")
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "zenkoo")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			APIBaseURL:        "http://localhost:8000",
			APIPrefix:         "/api",
			WSBaseURL:         "ws://localhost:8000",
			RequestsPerSecond: 10,
			RequestBurst:      10,
		},
		Live: LiveConfig{
			BackoffInitialMs:  2000,
			BackoffMaxMs:      30000,
			BackoffMultiplier: 1,
			DialTimeoutSec:    10,
		},
		Inbox: InboxConfig{
			PageSize:          10,
			ExitDelayMs:       200,
			ResyncIntervalSec: 60,
			ToastSec:          4,
		},
		Display: DisplayConfig{
			Theme: "default",
		},
		CachePath: DefaultCachePath(),
	}
}

// setDefaults mirrors defaultAppConfig into v so missing keys and
// environment overrides resolve to sensible values.
func setDefaults(v *viper.Viper) {
	d := defaultAppConfig()
	v.SetDefault("server.api_base_url", d.Server.APIBaseURL)
	v.SetDefault("server.api_prefix", d.Server.APIPrefix)
	v.SetDefault("server.ws_base_url", d.Server.WSBaseURL)
	v.SetDefault("server.requests_per_second", d.Server.RequestsPerSecond)
	v.SetDefault("server.request_burst", d.Server.RequestBurst)
	v.SetDefault("live.backoff_initial_ms", d.Live.BackoffInitialMs)
	v.SetDefault("live.backoff_max_ms", d.Live.BackoffMaxMs)
	v.SetDefault("live.backoff_multiplier", d.Live.BackoffMultiplier)
	v.SetDefault("live.dial_timeout_sec", d.Live.DialTimeoutSec)
	v.SetDefault("inbox.page_size", d.Inbox.PageSize)
	v.SetDefault("inbox.exit_delay_ms", d.Inbox.ExitDelayMs)
	v.SetDefault("inbox.resync_interval_sec", d.Inbox.ResyncIntervalSec)
	v.SetDefault("inbox.toast_sec", d.Inbox.ToastSec)
	v.SetDefault("display.theme", d.Display.Theme)
	v.SetDefault("cache_path", d.CachePath)
}

// NewViper returns a viper instance with defaults and ZENKOO_* environment
// overrides (e.g., ZENKOO_SERVER_API_BASE_URL) configured.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("zenkoo")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, defaults and environment overrides apply.
func LoadConfig(path string) (*AppConfig, error) {
	return LoadConfigWith(NewViper(), path)
}

// LoadConfigWith is LoadConfig on a caller-prepared viper instance, so
// command-line flags bound by the caller take precedence.
func LoadConfigWith(v *viper.Viper, path string) (*AppConfig, error) {
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		_, isPathErr := err.(*os.PathError)
		_, isNotFound := err.(viper.ConfigFileNotFoundError)
		if !isPathErr && !isNotFound {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.Server.APIBaseURL = strings.TrimRight(cfg.Server.APIBaseURL, "/")
	cfg.Server.WSBaseURL = strings.TrimRight(cfg.Server.WSBaseURL, "/")
	if cfg.Server.APIPrefix != "" && !strings.HasPrefix(cfg.Server.APIPrefix, "/") {
		cfg.Server.APIPrefix = "/" + cfg.Server.APIPrefix
	}
	cfg.Server.APIPrefix = strings.TrimRight(cfg.Server.APIPrefix, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("server", cfg.Server)
	v.Set("live", cfg.Live)
	v.Set("inbox", cfg.Inbox)
	v.Set("display", cfg.Display)
	v.Set("cache_path", cfg.CachePath)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
