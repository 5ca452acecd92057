package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "123:abc"
  send_timeout: "3s"
bridge:
  events: ["session:start", "tool:post"]
  retry_schedule: "@every 30s"
queue:
  capacity: 50
  ttl: "30m"
  max_retries: 3
pairing:
  enabled: true
  code: "secret"
logging:
  level: debug
  console: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Bridge.Events) != 2 || cfg.Bridge.Events[1] != "tool:post" {
		t.Fatalf("events = %v", cfg.Bridge.Events)
	}
	if cfg.Queue.Capacity != 50 || cfg.Queue.TTL != "30m" || cfg.Queue.MaxRetries != 3 {
		t.Fatalf("queue = %+v", cfg.Queue)
	}
	if !cfg.Pairing.Enabled || cfg.Pairing.Code != "secret" {
		t.Fatalf("pairing = %+v", cfg.Pairing)
	}

	d, err := ParseDurationOrDefault("telegram.send_timeout", cfg.Telegram.SendTimeout, 5*time.Second)
	if err != nil || d != 3*time.Second {
		t.Fatalf("send_timeout = %v, %v", d, err)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "123:abc"
  tokne_typo: "oops"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoadRequiresToken(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
queue:
  capacity: 10
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing telegram.token")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "123:abc"
queue:
  ttl: "one hour"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestLoadRequiresCodeWhenPairingEnabled(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "123:abc"
pairing:
  enabled: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for pairing without code")
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"telegram": {"token": "123:abc"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
}

func TestPairingFileDefault(t *testing.T) {
	t.Parallel()
	var cfg Config
	if got := cfg.PairingFile(); got != filepath.Join(".tgbridge", "pairing.json") {
		t.Fatalf("PairingFile() = %q", got)
	}
	cfg.Pairing.File = "/var/lib/bridge/pairing.json"
	if got := cfg.PairingFile(); got != "/var/lib/bridge/pairing.json" {
		t.Fatalf("PairingFile() = %q", got)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"5s", 5 * time.Second, false},
		{"1h30m", 90 * time.Minute, false},
		{"-1s", 0, true},
		{"nope", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDurationField("test", tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDurationField(%q) err = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseDurationField(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestDefaultEvents(t *testing.T) {
	t.Parallel()
	got := DefaultEvents()
	if len(got) != 6 {
		t.Fatalf("DefaultEvents() = %d entries, want 6", len(got))
	}
	if got[0] != "session:start" || got[5] != "tool:post" {
		t.Fatalf("DefaultEvents() = %v", got)
	}
}
