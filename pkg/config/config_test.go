package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv(EnvAPIBaseURL, "")
	t.Setenv(EnvPusherKey, "")

	cfg, err := LoadConfig(filepath.Join(dir, "missing.toml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.APIBaseURL != DefaultAPIBaseURL {
		t.Errorf("api base url = %q", cfg.APIBaseURL)
	}
	if cfg.Realtime.Cluster != "eu" {
		t.Errorf("cluster = %q", cfg.Realtime.Cluster)
	}
	if cfg.Push.LinkAttempts != 50 || cfg.Push.LinkInterval.Duration != 100*time.Millisecond {
		t.Errorf("push defaults = %+v", cfg.Push)
	}
	if !cfg.Notifications.Terminal || !cfg.Backend.Cache {
		t.Errorf("boolean defaults lost: terminal=%v cache=%v", cfg.Notifications.Terminal, cfg.Backend.Cache)
	}
	if want := filepath.Join(dir, "data", "calchat"); cfg.StorageDir != want {
		t.Errorf("storage dir = %q, want %q", cfg.StorageDir, want)
	}
}

func TestLoadConfigFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
storage_dir = "` + filepath.ToSlash(dir) + `"
locale = "en"
debug_services = ["pusher"]

[realtime]
key = "from-file"
activity_timeout = "45s"

[notifications]
terminal = false
permission = "denied"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvPusherKey, "from-env")
	t.Setenv(EnvAPIBaseURL, "")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Realtime.Key != "from-env" {
		t.Errorf("env should override key, got %q", cfg.Realtime.Key)
	}
	if cfg.Realtime.ActivityTimeout.Duration != 45*time.Second {
		t.Errorf("activity timeout = %s", cfg.Realtime.ActivityTimeout)
	}
	if cfg.Notifications.Terminal {
		t.Errorf("explicit terminal=false was overridden")
	}
	if cfg.Notifications.Permission != "denied" {
		t.Errorf("permission = %q", cfg.Notifications.Permission)
	}
	if cfg.Locale != "en" || len(cfg.DebugServices) != 1 {
		t.Errorf("locale/debug = %q/%v", cfg.Locale, cfg.DebugServices)
	}
}

func TestLoadConfigDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)
	t.Setenv(EnvPusherKey, "")
	os.Unsetenv(EnvPusherKey)
	t.Setenv(EnvAPIBaseURL, "")
	os.Unsetenv(EnvAPIBaseURL)

	env := EnvAPIBaseURL + "=http://localhost:9000/api\n" + EnvPusherKey + "=dotenv-key\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Unsetenv(EnvAPIBaseURL)
		os.Unsetenv(EnvPusherKey)
	})

	cfg, err := LoadConfig(filepath.Join(dir, "config.toml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.APIBaseURL != "http://localhost:9000/api" {
		t.Errorf("api base url = %q", cfg.APIBaseURL)
	}
	if cfg.Realtime.Key != "dotenv-key" {
		t.Errorf("key = %q", cfg.Realtime.Key)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad url", func(c *Config) { c.APIBaseURL = "ftp://x" }, "api_base_url"},
		{"bad permission", func(c *Config) { c.Notifications.Permission = "maybe" }, "notifications.permission"},
		{"backoff order", func(c *Config) { c.Realtime.MaxBackoff = Duration{time.Millisecond} }, "max_backoff"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSaveTemplateConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.toml")

	cfg := GetDefaultConfig()
	cfg.StorageDir = filepath.Join(dir, "store")
	if err := cfg.SaveTemplateConfig(path); err != nil {
		t.Fatalf("SaveTemplateConfig: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig template: %v", err)
	}
	if loaded.StorageDir != cfg.StorageDir {
		t.Errorf("storage dir = %q, want %q", loaded.StorageDir, cfg.StorageDir)
	}
	if loaded.Server.Listen != DefaultListen {
		t.Errorf("listen = %q", loaded.Server.Listen)
	}
}
