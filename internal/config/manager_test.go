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
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: /tmp/reminders.db
dispatcher:
  poll: 1m
  grace_period: 24h
  batch_limit: 50
delivery:
  channel: log
http:
  enabled: true
  addr: 127.0.0.1:9999
`)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Storage.EffectiveDriver() != "sqlite" || cfg.Storage.Path != "/tmp/reminders.db" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if g, err := cfg.Dispatcher.EffectiveGrace(); err != nil || g != 24*time.Hour {
		t.Fatalf("grace = %v, %v", g, err)
	}
	if cfg.Dispatcher.BatchLimit != 50 || cfg.HTTP.Addr != "127.0.0.1:9999" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if m.Get() != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json",
		`{"storage":{"driver":"memory"},"dispatcher":{"poll":"cron:*/5 9-18 * * *"},"delivery":{"channel":"log"}}`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	spec, err := ParsePollSpec(cfg.Dispatcher.EffectivePoll())
	if err != nil || spec.Kind != PollCron {
		t.Fatalf("poll = %+v, %v", spec, err)
	}
}

func TestLoadRejections(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		body string
	}{
		{"unknown field", "c.json", `{"storrage":{"driver":"memory"}}`},
		{"trailing data", "c.json", `{"delivery":{"channel":"log"}} {"x":1}`},
		{"bad driver", "c.yaml", "storage:\n  driver: postgres\n"},
		{"bad channel", "c.yaml", "delivery:\n  channel: carrier-pigeon\n"},
		{"bad poll", "c.yaml", "dispatcher:\n  poll: sometimes\n"},
		{"telegram without token", "c.yaml", "delivery:\n  channel: telegram\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.file, tc.body)
			if _, err := NewManager(path).Load(); err == nil {
				t.Fatal("bad config accepted")
			}
		})
	}
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	// An otherwise-empty file still needs a storage section: the sqlite
	// default refuses to invent a database path.
	if _, err := NewManager(writeConfig(t, "empty.yaml", "{}\n")).Load(); err == nil {
		t.Fatal("sqlite driver without a path accepted")
	}
	if d := (StorageConfig{}).EffectiveDriver(); d != "sqlite" {
		t.Fatalf("default driver = %q", d)
	}

	path := writeConfig(t, "config.yaml", "storage:\n  driver: memory\n")
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Dispatcher.EffectiveEnabled() || cfg.Dispatcher.EffectivePoll() != "30s" {
		t.Fatalf("dispatcher defaults = %+v", cfg.Dispatcher)
	}
	if cfg.Dispatcher.EffectiveBatchLimit() != 100 || cfg.Dispatcher.EffectiveRatePerSec() != 5 {
		t.Fatalf("dispatcher defaults = %+v", cfg.Dispatcher)
	}
	if cfg.Delivery.EffectiveChannel() != "log" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.HTTP.EffectiveAddr() != "127.0.0.1:8484" {
		t.Fatalf("http addr = %q", cfg.HTTP.EffectiveAddr())
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", "storage:\n  driver: memory\n")
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	m.Commit(cfg)
	m.publish(cfg)

	select {
	case got := <-sub:
		if got != cfg {
			t.Fatal("subscriber received a different config")
		}
	case <-time.After(time.Second):
		t.Fatal("no publish received")
	}
}
