package storage

import (
	"context"
	"strings"
	"time"

	"remindd/internal/reminder"
)

// Config configures storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Filter narrows List and CountByStatus queries. Zero fields match
// everything.
type Filter struct {
	EntityID string
	Statuses []reminder.Status

	// Scheduled date range; zero means unbounded on that side.
	From time.Time
	To   time.Time

	// ClientName is a case-insensitive substring match on the
	// denormalized client snapshot name.
	ClientName string
}

// Page is offset/limit pagination. Limit <= 0 means DefaultPageLimit.
type Page struct {
	Offset int
	Limit  int
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

func (p Page) clamp() Page {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

// ListResult is one page of reminders plus the unpaginated total.
type ListResult struct {
	Items []reminder.Reminder
	Total int
}

// TransitionUpdate carries the side effects applied atomically with a
// status transition.
type TransitionUpdate struct {
	// Now stamps updated_at and the audit row.
	Now time.Time

	// IncrementSent bumps sent_count and records sent_at; set on the
	// pending->sent edge only.
	IncrementSent bool

	// Actor identifies who drove the transition ("dispatcher", "api") in
	// the audit trail.
	Actor string
}

// Patch is a partial update of a pending reminder. Nil fields are left
// untouched.
type Patch struct {
	ScheduledAt *time.Time
	Frequency   *reminder.Frequency
	Priority    *reminder.Priority
	Notes       *string
	Client      *reminder.ClientSnapshot
}

// ChainState is the rollup the service needs to decide whether a new
// reminder continues the entity's current chain or starts a fresh one.
type ChainState struct {
	ChainID   string
	SentCount int  // chain counter: max sent_count across the chain
	Completed bool // any completed record in the chain
}

// transportActor marks audit rows written by RecordDeliveryFailure.
const transportActor = "transport"

// TransitionRecord is one audit row. Append-only; never consulted by the
// state machine itself. A delivery failure is recorded as a row whose
// From equals To, with the failure detail in Note.
type TransitionRecord struct {
	ReminderID string
	From       reminder.Status
	To         reminder.Status
	Actor      string
	At         time.Time
	Note       string
}

// Store is the persistence API shared by the service, the dispatcher and
// the stats aggregator.
//
// Error contract: unknown ids surface reminder.ErrNotFound; a Transition
// whose from-status no longer matches surfaces reminder.ErrConflict; I/O
// failures surface reminder.ErrStore. All wrapped, matchable with
// errors.Is.
type Store interface {
	Create(ctx context.Context, r *reminder.Reminder) error
	Get(ctx context.Context, id string) (reminder.Reminder, error)

	// Transition atomically moves id from -> to and applies up. It is the
	// only way status changes.
	Transition(ctx context.Context, id string, from, to reminder.Status, up TransitionUpdate) (reminder.Reminder, error)

	// UpdatePending patches a reminder while its status is still pending
	// (CAS on the status, like Transition).
	UpdatePending(ctx context.Context, id string, patch Patch, now time.Time) (reminder.Reminder, error)

	// ListDue returns pending reminders with scheduled_at <= now, ordered
	// by scheduled_at then id so dispatch order is reproducible.
	ListDue(ctx context.Context, now time.Time, limit int) ([]reminder.Reminder, error)

	// ListSentBefore returns sent reminders whose sent_at is at or before
	// cutoff (the missed sweep input), in the same deterministic order.
	ListSentBefore(ctx context.Context, cutoff time.Time) ([]reminder.Reminder, error)

	List(ctx context.Context, f Filter, p Page) (ListResult, error)
	ListByEntity(ctx context.Context, entityID string) ([]reminder.Reminder, error)
	CountByStatus(ctx context.Context, f Filter) (map[reminder.Status]int, error)

	// AwaitingResponse returns the distinct entity ids whose most recent
	// recurrence chain reached sentCount >= threshold without any
	// completed record in that chain.
	AwaitingResponse(ctx context.Context, threshold int) ([]string, error)

	// ChainState describes the entity's most recent recurrence chain;
	// ok is false when the entity has no reminders yet.
	ChainState(ctx context.Context, entityID string) (ChainState, bool, error)

	// RecordDeliveryFailure appends an audit row for a failed delivery
	// attempt. The reminder's status is untouched.
	RecordDeliveryFailure(ctx context.Context, reminderID string, at time.Time, detail string) error

	// History returns the audit trail for one reminder, oldest first.
	History(ctx context.Context, reminderID string) ([]TransitionRecord, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config) (Store, error) {
	switch normalizeDriver(cfg.Driver) {
	case "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg)
	default:
		return nil, &unknownDriverError{driver: cfg.Driver}
	}
}

type unknownDriverError struct{ driver string }

func (e *unknownDriverError) Error() string { return "unknown storage driver: " + e.driver }

func normalizeDriver(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	if d == "" {
		return "sqlite"
	}
	return d
}
