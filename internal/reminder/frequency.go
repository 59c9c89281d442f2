package reminder

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Frequency is the recurrence policy of a reminder. The zero value is
// one-time (no successor).
//
// Canonical string forms:
//   - "one-time" (aliases: "once", "")
//   - "daily", "weekly", "biweekly", "monthly" (sugar for 1/7/14/30 days)
//   - "every-N-days" for N in [1, 365] ("every-3-days", "every-1-days" is
//     normalized to "daily")
type Frequency struct {
	// IntervalDays is 0 for one-time, otherwise the fixed day interval.
	IntervalDays int
}

const maxIntervalDays = 365

var reEveryNDays = regexp.MustCompile(`^every-(\d{1,3})-days?$`)

// ParseFrequency parses the canonical forms above. Unknown or out-of-range
// values fail with ErrValidation.
func ParseFrequency(raw string) (Frequency, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "", "once", "one-time", "onetime":
		return Frequency{}, nil
	case "daily", "every-day":
		return Frequency{IntervalDays: 1}, nil
	case "weekly":
		return Frequency{IntervalDays: 7}, nil
	case "biweekly":
		return Frequency{IntervalDays: 14}, nil
	case "monthly":
		return Frequency{IntervalDays: 30}, nil
	}
	if m := reEveryNDays.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > maxIntervalDays {
			return Frequency{}, fmt.Errorf("%w: frequency interval out of range in %q", ErrValidation, raw)
		}
		return Frequency{IntervalDays: n}, nil
	}
	return Frequency{}, fmt.Errorf(
		"%w: invalid frequency %q (use 'one-time', 'daily', 'weekly', 'biweekly', 'monthly' or 'every-N-days')",
		ErrValidation, raw,
	)
}

func (f Frequency) OneTime() bool { return f.IntervalDays == 0 }

// Recurring reports whether sending/completing this reminder spawns a
// successor record.
func (f Frequency) Recurring() bool { return f.IntervalDays > 0 }

// String returns the canonical form, preferring named presets.
func (f Frequency) String() string {
	switch f.IntervalDays {
	case 0:
		return "one-time"
	case 1:
		return "daily"
	case 7:
		return "weekly"
	case 14:
		return "biweekly"
	case 30:
		return "monthly"
	}
	return fmt.Sprintf("every-%d-days", f.IntervalDays)
}

// NextDate returns base plus the fixed interval. It is pure date
// arithmetic: if the system was down and the result is already in the
// past, the dispatcher picks the successor up on its next cycle instead of
// skipping it. Callers must not invoke this for one-time frequencies.
func (f Frequency) NextDate(base time.Time) time.Time {
	return base.Add(time.Duration(f.IntervalDays) * 24 * time.Hour)
}

func (f Frequency) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

func (f *Frequency) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseFrequency(s)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
