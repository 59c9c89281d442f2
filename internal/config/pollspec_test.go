package config

import (
	"testing"
	"time"
)

func TestParsePollSpecVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		raw   string
		kind  PollKind
		every time.Duration
		cron  string
	}{
		{name: "duration", raw: "30s", kind: PollInterval, every: 30 * time.Second},
		{name: "compound duration", raw: "2m30s", kind: PollInterval, every: 2*time.Minute + 30*time.Second},
		{name: "prefixed interval", raw: "interval:45s", kind: PollInterval, every: 45 * time.Second},
		{name: "cron", raw: "*/5 * * * *", kind: PollCron, cron: "*/5 * * * *"},
		{name: "business hours cron", raw: "*/5 9-18 * * *", kind: PollCron, cron: "*/5 9-18 * * *"},
		{name: "descriptor", raw: "@hourly", kind: PollCron, cron: "@hourly"},
		{name: "prefixed cron", raw: "cron:0 * * * *", kind: PollCron, cron: "0 * * * *"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePollSpec(tt.raw)
			if err != nil {
				t.Fatalf("ParsePollSpec(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if tt.kind == PollInterval && got.Every != tt.every {
				t.Fatalf("Every = %v, want %v", got.Every, tt.every)
			}
			if tt.kind == PollCron && got.Cron != tt.cron {
				t.Fatalf("Cron = %q, want %q", got.Cron, tt.cron)
			}
		})
	}
}

func TestParsePollSpecInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-spec", "500ms", "* * *", "cron:"} {
		if _, err := ParsePollSpec(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Storage:    StorageConfig{Driver: "sqlite", Path: "./remindd.db"},
			Dispatcher: DispatcherConfig{Poll: "30s"},
			Delivery:   DeliveryConfig{Channel: "log"},
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "unknown storage driver", mutate: func(c *Config) { c.Storage.Driver = "postgres" }},
		{name: "sqlite without path", mutate: func(c *Config) { c.Storage.Path = "" }},
		{name: "bad poll spec", mutate: func(c *Config) { c.Dispatcher.Poll = "whenever" }},
		{name: "bad grace period", mutate: func(c *Config) { c.Dispatcher.GracePeriod = "two days" }},
		{name: "unknown channel", mutate: func(c *Config) { c.Delivery.Channel = "carrier-pigeon" }},
		{name: "telegram without token", mutate: func(c *Config) {
			c.Delivery.Channel = "telegram"
			c.Delivery.Telegram = &TelegramConfig{ChatID: 42}
		}},
		{name: "telegram without chat", mutate: func(c *Config) {
			c.Delivery.Channel = "telegram"
			c.Delivery.Telegram = &TelegramConfig{Token: "t"}
		}},
		{name: "bad http timeout", mutate: func(c *Config) { c.HTTP.ReadTimeout = "fast" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
