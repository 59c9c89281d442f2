package reminders

import (
	"context"
	"time"

	"remindd/internal/reminder"
)

// EntityProvider is the surrounding CRUD system. The service consults it
// exactly once, at creation time, to confirm the entity exists and to
// grab a contact snapshot when the caller did not supply one.
type EntityProvider interface {
	// Lookup returns the entity's current contact fields, or
	// reminder.ErrNotFound for an unknown entity id.
	Lookup(ctx context.Context, entityID string) (reminder.ClientSnapshot, error)
}

// AcceptAllEntities treats every entity id as valid with no contact
// details. Used when the surrounding system is not wired in.
type AcceptAllEntities struct{}

func (AcceptAllEntities) Lookup(context.Context, string) (reminder.ClientSnapshot, error) {
	return reminder.ClientSnapshot{}, nil
}

// CreateParams carries the raw creation request. Frequency and Priority
// arrive as strings from the boundary and are parsed into the closed
// enums here.
type CreateParams struct {
	EntityID    string
	ScheduledAt time.Time
	Frequency   string
	Priority    string
	Notes       string

	// Client, when non-nil, overrides the entity provider's snapshot.
	Client *reminder.ClientSnapshot
}

// UpdateParams is a partial update; nil fields stay untouched. Only legal
// while the reminder is still pending.
type UpdateParams struct {
	ScheduledAt *time.Time
	Frequency   *string
	Priority    *string
	Notes       *string
	Client      *reminder.ClientSnapshot
}

// ListParams mirrors the store filter with boundary-level (string) status
// values plus pagination.
type ListParams struct {
	EntityID   string
	Statuses   []string
	From       time.Time
	To         time.Time
	ClientName string
	Offset     int
	Limit      int
}

// Page is one page of reminders.
type Page struct {
	Items  []reminder.Reminder `json:"items"`
	Total  int                 `json:"total"`
	Offset int                 `json:"offset"`
	Limit  int                 `json:"limit"`
}

// EntityStats is the per-entity rollup.
type EntityStats struct {
	EntityID     string             `json:"entity_id"`
	NextReminder *reminder.Reminder `json:"next_reminder,omitempty"`
	Upcoming     int                `json:"upcoming"`
	Completed    int                `json:"completed"`
	Missed       int                `json:"missed"`
	SuccessRatio float64            `json:"success_ratio"`
}

// DashboardStats is the aggregate rollup over a filter.
type DashboardStats struct {
	Upcoming         int      `json:"upcoming"`
	DueSoon          int      `json:"due_soon"`
	Overdue          int      `json:"overdue"`
	Completed        int      `json:"completed"`
	Missed           int      `json:"missed"`
	Total            int      `json:"total"`
	AwaitingResponse []string `json:"awaiting_response"`
	SuccessRatio     float64  `json:"success_ratio"`
}

// AwaitingThreshold is how many delivery attempts a chain needs, with no
// completion anywhere in it, before its entity counts as
// awaiting-response.
const AwaitingThreshold = 3
