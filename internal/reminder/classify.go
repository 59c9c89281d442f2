package reminder

import "time"

// Bucket is the urgency classification of a reminder at a point in time.
type Bucket string

const (
	BucketNone     Bucket = "none"
	BucketOverdue  Bucket = "overdue"
	BucketDueSoon  Bucket = "due-soon"
	BucketUpcoming Bucket = "upcoming"
)

// DueSoonWindow is how far ahead of the scheduled date a pending reminder
// counts as due-soon.
const DueSoonWindow = 24 * time.Hour

// Classify maps a record and a clock reading to exactly one urgency
// bucket. It is a pure function: no side effects, same inputs same output.
// Only pending reminders have an urgency; everything else is BucketNone.
func Classify(r Reminder, now time.Time) Bucket {
	if r.Status != StatusPending {
		return BucketNone
	}
	until := r.ScheduledAt.Sub(now)
	switch {
	case until < 0:
		return BucketOverdue
	case until <= DueSoonWindow:
		return BucketDueSoon
	default:
		return BucketUpcoming
	}
}

// Due reports whether a pending reminder is ready for dispatch. "Due"
// deliberately ignores sub-second precision: scheduledAt <= now.
func Due(r Reminder, now time.Time) bool {
	return r.Status == StatusPending && !r.ScheduledAt.After(now)
}
