// Package dispatch runs the periodic reminder dispatcher: scan due
// pending reminders, claim each with a compare-and-swap, deliver best
// effort, and sweep unacknowledged sent reminders to missed after the
// grace window.
//
// Multiple dispatcher replicas may run against the same store; the CAS
// claim makes racing on the same due reminder harmless.
package dispatch

import (
	"time"

	"remindd/internal/config"
)

// Config controls the polling loop. Derive it from the daemon config with
// FromConfig; zero values get the documented defaults there.
type Config struct {
	Enabled bool

	// Poll is the cycle trigger: a fixed interval or a cron expression.
	Poll config.PollSpec

	// Grace is how long a sent reminder may wait for completion before
	// the sweep declares it missed, measured from sent_at.
	Grace time.Duration

	// BatchLimit bounds how many due reminders one cycle claims.
	BatchLimit int

	// RatePerSec caps delivery sends.
	RatePerSec int
}

// FromConfig resolves the raw daemon config into an effective dispatcher
// config. The caller validated it already; parse errors here fall back to
// defaults rather than failing.
func FromConfig(c config.DispatcherConfig) Config {
	spec, err := config.ParsePollSpec(c.EffectivePoll())
	if err != nil {
		spec = config.PollSpec{Kind: config.PollInterval, Every: 30 * time.Second}
	}
	grace, err := c.EffectiveGrace()
	if err != nil {
		grace = 48 * time.Hour
	}
	return Config{
		Enabled:    c.EffectiveEnabled(),
		Poll:       spec,
		Grace:      grace,
		BatchLimit: c.EffectiveBatchLimit(),
		RatePerSec: c.EffectiveRatePerSec(),
	}
}
