package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the full daemon configuration. One file, JSON or YAML;
// both are decoded strictly so typos fail loudly instead of silently
// falling back to defaults.
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Dispatcher DispatcherConfig `json:"dispatcher"`
	Delivery   DeliveryConfig   `json:"delivery"`
	HTTP       HTTPConfig       `json:"http,omitempty"`
	Pprof      PprofConfig      `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console bool          `json:"console"`
	File    FileLogConfig `json:"file,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the reminder store.
//
// Driver values:
//   - "sqlite": durable SQLite database file (default)
//   - "memory": in-process store, lost on restart (dev/tests)
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DispatcherConfig controls the polling loop.
//
// Poll accepts either a Go duration ("30s", "2m") or a cron expression
// ("*/5 9-18 * * *" to poll only during business hours).
//
// All other durations are Go duration strings.
//
// Defaults (when fields are omitted/zero):
//   - enabled: true
//   - poll: "30s"
//   - grace_period: "48h"
//   - batch_limit: 100
//   - rate_per_sec: 5
type DispatcherConfig struct {
	Enabled     *bool  `json:"enabled,omitempty"`
	Poll        string `json:"poll,omitempty"`
	GracePeriod string `json:"grace_period,omitempty"`
	BatchLimit  int    `json:"batch_limit,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
}

// DeliveryConfig selects the outbound delivery channel.
//
// Channel values:
//   - "log": write the delivery to the structured log (default; dev)
//   - "telegram": send via a Telegram bot
type DeliveryConfig struct {
	Channel  string          `json:"channel,omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
}

// HTTPConfig controls the HTTP API server.
//
// Security note: prefer binding to localhost; the API carries no
// authentication of its own.
type HTTPConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty"` // default: "127.0.0.1:8484"
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// PprofConfig controls the optional profiling endpoint. A non-loopback
// bind is refused unless a token is set or allow_insecure is explicit.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// ---- effective values ----

func (c DispatcherConfig) EffectiveEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

func (c DispatcherConfig) EffectivePoll() string {
	if strings.TrimSpace(c.Poll) == "" {
		return "30s"
	}
	return strings.TrimSpace(c.Poll)
}

func (c DispatcherConfig) EffectiveGrace() (time.Duration, error) {
	return ParseDurationOrDefault("dispatcher.grace_period", c.GracePeriod, 48*time.Hour)
}

func (c DispatcherConfig) EffectiveBatchLimit() int {
	if c.BatchLimit <= 0 {
		return 100
	}
	return c.BatchLimit
}

func (c DispatcherConfig) EffectiveRatePerSec() int {
	if c.RatePerSec <= 0 {
		return 5
	}
	return c.RatePerSec
}

func (c StorageConfig) EffectiveDriver() string {
	d := strings.ToLower(strings.TrimSpace(c.Driver))
	if d == "" {
		return "sqlite"
	}
	return d
}

func (c DeliveryConfig) EffectiveChannel() string {
	ch := strings.ToLower(strings.TrimSpace(c.Channel))
	if ch == "" {
		return "log"
	}
	return ch
}

func (c HTTPConfig) EffectiveAddr() string {
	if strings.TrimSpace(c.Addr) == "" {
		return "127.0.0.1:8484"
	}
	return strings.TrimSpace(c.Addr)
}

// Validate checks cross-field constraints and all duration strings.
// It is also installed as the ConfigManager's pre-commit validator so a
// broken file edit never reaches running components.
func (c *Config) Validate() error {
	switch c.Storage.EffectiveDriver() {
	case "sqlite":
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required for the sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}

	if _, err := ParsePollSpec(c.Dispatcher.EffectivePoll()); err != nil {
		return fmt.Errorf("dispatcher.poll: %w", err)
	}
	if _, err := c.Dispatcher.EffectiveGrace(); err != nil {
		return err
	}

	switch c.Delivery.EffectiveChannel() {
	case "log":
	case "telegram":
		if c.Delivery.Telegram == nil || strings.TrimSpace(c.Delivery.Telegram.Token) == "" {
			return fmt.Errorf("delivery.telegram.token is required for the telegram channel")
		}
		if c.Delivery.Telegram.ChatID == 0 {
			return fmt.Errorf("delivery.telegram.chat_id is required for the telegram channel")
		}
	default:
		return fmt.Errorf("delivery.channel: unknown channel %q", c.Delivery.Channel)
	}

	for _, f := range []struct{ path, raw string }{
		{"http.read_timeout", c.HTTP.ReadTimeout},
		{"http.write_timeout", c.HTTP.WriteTimeout},
		{"http.idle_timeout", c.HTTP.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}
