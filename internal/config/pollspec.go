package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// PollKind describes the normalized kind of a poll spec string.
type PollKind int

const (
	PollInterval PollKind = iota
	PollCron
)

// PollSpec is a parsed dispatcher.poll value.
//
// Supported forms:
//   - Interval duration: "30s", "2m30s"
//   - Cron (crontab.guru-style): "*/5 * * * *", "@hourly", "*/5 9-18 * * *"
//
// Optional prefixes "interval:" and "cron:" force one interpretation.
type PollSpec struct {
	Kind  PollKind
	Every time.Duration
	Cron  string
}

// standard 5-field parser plus @descriptors, matching what the dispatcher
// registers with.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParsePollSpec parses a poll spec string into either an interval or a
// validated cron expression.
func ParsePollSpec(raw string) (PollSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return PollSpec{}, fmt.Errorf("poll spec required")
	}

	low := strings.ToLower(s)
	if strings.HasPrefix(low, "cron:") {
		expr := strings.TrimSpace(s[len("cron:"):])
		return parseCronSpec(expr)
	}
	if strings.HasPrefix(low, "interval:") {
		return parseIntervalSpec(strings.TrimSpace(s[len("interval:"):]))
	}

	// Heuristic: whitespace or a leading '@' means cron.
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return parseCronSpec(s)
	}
	return parseIntervalSpec(s)
}

func parseCronSpec(expr string) (PollSpec, error) {
	if expr == "" {
		return PollSpec{}, fmt.Errorf("cron expression required")
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return PollSpec{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return PollSpec{Kind: PollCron, Cron: expr}, nil
}

func parseIntervalSpec(v string) (PollSpec, error) {
	if v == "" {
		return PollSpec{}, fmt.Errorf("interval required")
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return PollSpec{}, fmt.Errorf("invalid poll spec %q (use a duration like '30s' or a cron expression like '*/5 * * * *')", v)
	}
	if d < time.Second {
		return PollSpec{}, fmt.Errorf("poll interval must be >= 1s")
	}
	return PollSpec{Kind: PollInterval, Every: d}, nil
}
