package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed config.toml.sample
var configTemplate string

const (
	DefaultAPIBaseURL   = "https://calender.brooklynwebdesign.nl/api/endpoints"
	DefaultAuthEndpoint = "chat/pusher_auth.php"
	DefaultListen       = "127.0.0.1:7420"
	DefaultLocale       = "nl"
)

// Environment variables that override the config file.
const (
	EnvAuthToken  = "CALCHAT_AUTH_TOKEN"
	EnvAPIBaseURL = "CALCHAT_API_BASE_URL"
	EnvPusherKey  = "CALCHAT_PUSHER_KEY"
)

type Config struct {
	StorageDir    string              `toml:"storage_dir"`
	APIBaseURL    string              `toml:"api_base_url"`
	Locale        string              `toml:"locale"`
	DebugServices []string            `toml:"debug_services"`
	Realtime      RealtimeConfig      `toml:"realtime"`
	Push          PushConfig          `toml:"push"`
	Notifications NotificationsConfig `toml:"notifications"`
	Backend       BackendConfig       `toml:"backend"`
	Server        ServerConfig        `toml:"server"`
}

type RealtimeConfig struct {
	Key             string   `toml:"key"`
	Cluster         string   `toml:"cluster"`
	Host            string   `toml:"host,omitempty"`
	AuthEndpoint    string   `toml:"auth_endpoint"`
	ActivityTimeout Duration `toml:"activity_timeout"`
	PongTimeout     Duration `toml:"pong_timeout"`
	InitialBackoff  Duration `toml:"initial_backoff"`
	MaxBackoff      Duration `toml:"max_backoff"`
}

type PushConfig struct {
	AppID        string   `toml:"app_id"`
	LinkAttempts int      `toml:"link_attempts"`
	LinkInterval Duration `toml:"link_interval"`
}

type NotificationsConfig struct {
	Icon       string `toml:"icon"`
	Badge      string `toml:"badge"`
	Vibrate    []int  `toml:"vibrate"`
	DeepLink   string `toml:"deep_link"`
	Permission string `toml:"permission"`
	Terminal   bool   `toml:"terminal"`
}

type BackendConfig struct {
	Timeout   Duration `toml:"timeout"`
	RateLimit float64  `toml:"rate_limit"`
	Burst     int      `toml:"burst"`
	Cache     bool     `toml:"cache"`
}

type ServerConfig struct {
	Listen string `toml:"listen"`
}

type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// GetDefaultConfig returns a config with every default applied. It does not
// touch the filesystem.
func GetDefaultConfig() *Config {
	cfg := newConfig()
	cfg.applyDefaults()
	return cfg
}

// newConfig returns a config with the boolean defaults that TOML cannot
// distinguish from an explicit false.
func newConfig() *Config {
	return &Config{
		Notifications: NotificationsConfig{Terminal: true},
		Backend:       BackendConfig{Cache: true},
	}
}

func (c *Config) applyDefaults() {
	if c.APIBaseURL == "" {
		c.APIBaseURL = DefaultAPIBaseURL
	}
	if c.Locale == "" {
		c.Locale = DefaultLocale
	}

	r := &c.Realtime
	if r.Cluster == "" {
		r.Cluster = "eu"
	}
	if r.AuthEndpoint == "" {
		r.AuthEndpoint = DefaultAuthEndpoint
	}
	if r.ActivityTimeout.Duration == 0 {
		r.ActivityTimeout = Duration{120 * time.Second}
	}
	if r.PongTimeout.Duration == 0 {
		r.PongTimeout = Duration{30 * time.Second}
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = Duration{time.Second}
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = Duration{30 * time.Second}
	}

	p := &c.Push
	if p.LinkAttempts <= 0 {
		p.LinkAttempts = 50
	}
	if p.LinkInterval.Duration == 0 {
		p.LinkInterval = Duration{100 * time.Millisecond}
	}

	n := &c.Notifications
	if n.Icon == "" {
		n.Icon = "/icon-192.png"
	}
	if n.Badge == "" {
		n.Badge = "/icon-192.png"
	}
	if n.Vibrate == nil {
		n.Vibrate = []int{200, 100, 200}
	}
	if n.DeepLink == "" {
		n.DeepLink = "/chat/{conversation}"
	}
	if n.Permission == "" {
		n.Permission = "granted"
	}

	b := &c.Backend
	if b.Timeout.Duration == 0 {
		b.Timeout = Duration{15 * time.Second}
	}
	if b.RateLimit <= 0 {
		b.RateLimit = 10
	}
	if b.Burst <= 0 {
		b.Burst = 5
	}

	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
}

// applyEnv overlays environment overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIBaseURL); v != "" {
		c.APIBaseURL = v
	}
	if v := os.Getenv(EnvPusherKey); v != "" {
		c.Realtime.Key = v
	}
}

// LoadConfig reads configPath, loads a sibling .env file if present, and
// fills defaults. A missing config file yields the defaults.
func LoadConfig(configPath string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(configPath), ".env")); err != nil {
		return nil, err
	}

	cfg := newConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshaling config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if cfg.StorageDir == "" {
		storageDir, err := GetDefaultStorageDir()
		if err != nil {
			return nil, fmt.Errorf("getting default storage directory: %w", err)
		}
		cfg.StorageDir = storageDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv loads KEY=VALUE pairs without overriding variables already set.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	if !strings.HasPrefix(c.APIBaseURL, "http://") && !strings.HasPrefix(c.APIBaseURL, "https://") {
		return fmt.Errorf("api_base_url must be an http(s) URL, got %q", c.APIBaseURL)
	}
	switch c.Notifications.Permission {
	case "granted", "denied", "default":
	default:
		return fmt.Errorf("notifications.permission must be granted, denied or default, got %q", c.Notifications.Permission)
	}
	if c.Realtime.MaxBackoff.Duration < c.Realtime.InitialBackoff.Duration {
		return fmt.Errorf("realtime.max_backoff (%s) is lower than realtime.initial_backoff (%s)",
			c.Realtime.MaxBackoff, c.Realtime.InitialBackoff)
	}
	return nil
}

func (c *Config) SaveConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(configPath, data, 0600)
}

func (c *Config) SaveTemplateConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	template, err := c.generateConfigTemplate()
	if err != nil {
		return fmt.Errorf("generating config template: %w", err)
	}
	return os.WriteFile(configPath, []byte(template), 0600)
}

func (c *Config) generateConfigTemplate() (string, error) {
	storageDir := c.StorageDir
	if storageDir == "" {
		var err error
		storageDir, err = GetDefaultStorageDir()
		if err != nil {
			return "", fmt.Errorf("getting default storage directory: %w", err)
		}
	}

	return strings.Replace(configTemplate, "/home/user/.local/share/calchat", storageDir, 1), nil
}

// DBPath returns the sqlite database path inside the storage directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.StorageDir, "calchat.db")
}

// GetDefaultStorageDir returns $XDG_DATA_HOME/calchat (or ~/.local/share/calchat),
// creating it when missing.
func GetDefaultStorageDir() (string, error) {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	dir := filepath.Join(dataDir, "calchat")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("creating storage directory %s: %w", dir, err)
	}
	return dir, nil
}

// GetConfigDir returns $XDG_CONFIG_HOME/calchat (or ~/.config/calchat).
func GetConfigDir() (string, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting user home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	dir := filepath.Join(configDir, "calchat")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("creating config directory %s: %w", dir, err)
	}
	return dir, nil
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.toml"), nil
}
