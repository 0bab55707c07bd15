package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Session.RestartAfterMS != 55000 {
		t.Fatalf("expected 55s restart window, got %d", cfg.Session.RestartAfterMS)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("expected sqlite storage, got %s", cfg.Storage.Driver)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scribe.yaml")
	data := []byte(`
storage:
  driver: badger
  path: ./kv
session:
  default_speaker: Host
  restart_after_ms: 60000
stt:
  mode: exec
  command: "whisper-cli --json"
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.Driver != "badger" || cfg.Storage.Path != "./kv" {
		t.Fatalf("unexpected storage config %+v", cfg.Storage)
	}
	if cfg.Session.DefaultSpeaker != "Host" || cfg.Session.RestartAfterMS != 60000 {
		t.Fatalf("unexpected session config %+v", cfg.Session)
	}
	if cfg.Session.SettleDelayMS != 300 {
		t.Fatalf("expected default settle delay preserved, got %d", cfg.Session.SettleDelayMS)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SCRIBE_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("SCRIBE_BUS_USERNAME", "alice")
	t.Setenv("SCRIBE_BUS_PASSWORD", "secret")
	t.Setenv("SCRIBE_BUS_TLS_INSECURE", "true")
	t.Setenv("SCRIBE_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("SCRIBE_STORAGE_DRIVER", "memory")
	t.Setenv("SCRIBE_JOURNAL_RETENTION_MODE", "persistent")
	t.Setenv("SCRIBE_JOURNAL_RETENTION_DAYS", "7")
	t.Setenv("SCRIBE_JOURNAL_MAX_SESSIONS", "123")
	t.Setenv("SCRIBE_JOURNAL_VACUUM_ON_START", "true")
	t.Setenv("SCRIBE_STT_LOCALES", "en-US,de-DE")
	t.Setenv("SCRIBE_SESSION_SETTLE_DELAY_MS", "750")
	t.Setenv("SCRIBE_PERMISSIONS_MICROPHONE", "denied")
	t.Setenv("SCRIBE_EXPORT_MARGIN_MM", "25.5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("expected storage driver override")
	}
	if cfg.Journal.RetentionMode != "persistent" || cfg.Journal.RetentionDays != 7 || cfg.Journal.MaxSessions != 123 {
		t.Fatalf("expected journal overrides, got %+v", cfg.Journal)
	}
	if !cfg.Journal.VacuumOnStart {
		t.Fatalf("expected journal vacuum flag override")
	}
	if len(cfg.STT.Locales) != 2 || cfg.STT.Locales[1] != "de-DE" {
		t.Fatalf("expected locales override, got %v", cfg.STT.Locales)
	}
	if cfg.Session.SettleDelayMS != 750 {
		t.Fatalf("expected settle delay override")
	}
	if cfg.Permissions.Microphone != "denied" {
		t.Fatalf("expected microphone permission override")
	}
	if cfg.Export.MarginMM != 25.5 {
		t.Fatalf("expected export margin override, got %v", cfg.Export.MarginMM)
	}
}

func TestValidateRejectsUnknownModes(t *testing.T) {
	t.Setenv("SCRIBE_STT_MODE", "cloud")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown stt mode")
	}
}

func TestValidateRequiresExecCommand(t *testing.T) {
	t.Setenv("SCRIBE_STT_MODE", "exec")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error when exec mode has no command")
	}
}

func TestValidatePermissionValues(t *testing.T) {
	t.Setenv("SCRIBE_PERMISSIONS_RECOGNITION", "maybe")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for invalid permission value")
	}
}

func TestExampleConfigMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "scribe.yaml"))
	if err != nil {
		t.Fatalf("load example config: %v", err)
	}
	def := Default()
	if cfg.Session != def.Session || cfg.Storage != def.Storage || cfg.Journal != def.Journal {
		t.Fatalf("example config drifted from defaults: %+v", cfg)
	}
	if cfg.STT.Mode != def.STT.Mode || cfg.Audio != def.Audio || cfg.Export != def.Export {
		t.Fatalf("example config drifted from defaults: %+v", cfg)
	}
}
