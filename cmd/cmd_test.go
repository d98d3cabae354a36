package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rubiojr/calchat/pkg/config"
	"github.com/rubiojr/calchat/pkg/log"
	"github.com/rubiojr/calchat/pkg/notify"
	"github.com/rubiojr/calchat/pkg/realtime"
)

func setupConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv(config.EnvAuthToken, "")
	t.Setenv(config.EnvAPIBaseURL, "")
	t.Setenv(config.EnvPusherKey, "")
	return filepath.Join(dir, "config.toml")
}

func TestInitConfigWritesTemplateAndToken(t *testing.T) {
	path := setupConfig(t)

	if err := initConfig(path, "secret-token"); err != nil {
		t.Fatalf("initConfig: %v", err)
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	tok, err := newCredentials(cfg).Token()
	if err != nil || tok != "secret-token" {
		t.Fatalf("token = %q, %v", tok, err)
	}

	t.Setenv(config.EnvAuthToken, "env-token")
	if tok, _ := newCredentials(cfg).Token(); tok != "env-token" {
		t.Fatalf("environment should win, got %q", tok)
	}
}

func TestRunMigrations(t *testing.T) {
	path := setupConfig(t)
	if err := initConfig(path, ""); err != nil {
		t.Fatal(err)
	}

	if err := RunMigrations(path, true); err != nil {
		t.Fatalf("status on missing database: %v", err)
	}
	if err := RunMigrations(path, false); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := RunMigrations(path, false); err != nil {
		t.Fatalf("re-apply: %v", err)
	}
	if err := RunMigrations(path, true); err != nil {
		t.Fatalf("status: %v", err)
	}
}

func TestLoadAppOpensStoreAndBackend(t *testing.T) {
	path := setupConfig(t)
	if err := initConfig(path, ""); err != nil {
		t.Fatal(err)
	}

	a, err := loadApp(path)
	if err != nil {
		t.Fatalf("loadApp: %v", err)
	}
	defer a.Close()

	if _, err := os.Stat(a.cfg.DBPath()); err != nil {
		t.Fatalf("database not created: %v", err)
	}
	if got := a.backend.URL("/get_tasks.php"); !strings.HasSuffix(got, "/api/endpoints/get_tasks.php") {
		t.Fatalf("backend url = %q", got)
	}

	coord := a.newCoordinator(coordinatorDeps{gate: notify.NewGate(notify.PermissionGranted)})
	if coord.Status().Active {
		t.Fatalf("coordinator active before InitSession")
	}
}

func TestReloadAppliesNotificationSettings(t *testing.T) {
	path := setupConfig(t)
	if err := initConfig(path, ""); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	gate := notify.NewGate(notify.PermissionGranted)
	dispatcher := realtime.NewDispatcher(realtime.DispatcherOptions{Permission: gate, Settings: notificationSettings(cfg)})
	state := &reloadable{cfg: cfg, gate: gate, dispatcher: dispatcher}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	updated := strings.Replace(string(data), `permission = "granted"`, `permission = "denied"`, 1)
	updated = strings.Replace(updated, `locale = "nl"`, `locale = "en"`, 1)
	updated = strings.Replace(updated, `debug_services = []`, `debug_services = ["cmd_reload_test"]`, 1)
	if err := os.WriteFile(path, []byte(updated), 0600); err != nil {
		t.Fatal(err)
	}
	defer log.SetDebugServices(nil)

	if err := state.reload(path); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if gate.Permission() != notify.PermissionDenied {
		t.Fatalf("permission = %s", gate.Permission())
	}
	if n := dispatcher.Build(realtime.InboundEvent{ConversationID: "7"}); n.Title != "New message" {
		t.Fatalf("title after locale reload = %q", n.Title)
	}
	if !log.DebugEnabledFor("cmd_reload_test") {
		t.Fatalf("debug services not applied")
	}
}

func TestFormatHelpers(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{3 * 1024 * 1024, "3.0 MB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if checkbox(true) != "[x]" || checkbox(false) != "[ ]" {
		t.Errorf("checkbox marks wrong")
	}
}
