// Package reminder holds the domain model for follow-up reminders: the
// record itself, the closed status/frequency/priority enumerations, the
// urgency classifier, and the recurrence calculator.
//
// Everything here is pure. Persistence lives in internal/storage, policy
// (who may transition when) in internal/services.
package reminder

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a single reminder record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusCompleted Status = "completed"
	StatusMissed    Status = "missed"
	StatusCancelled Status = "cancelled"
)

// ParseStatus rejects anything outside the closed set.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case StatusPending, StatusSent, StatusCompleted, StatusMissed, StatusCancelled:
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrValidation, raw)
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusMissed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition encodes the state machine edges. The send-now shortcut is
// the same pending->sent edge the dispatcher uses, so it needs no special
// case here.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusSent || to == StatusCancelled
	case StatusSent:
		return to == StatusCompleted || to == StatusMissed || to == StatusCancelled
	}
	return false
}

// Priority is informational only; it never affects scheduling order.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func ParsePriority(raw string) (Priority, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return PriorityMedium, nil
	}
	p := Priority(s)
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown priority %q", ErrValidation, raw)
}

// ClientSnapshot is a frozen copy of the client's contact fields taken at
// creation time. It is never live-synced with the entity provider.
type ClientSnapshot struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

func (c ClientSnapshot) IsZero() bool {
	return c.Name == "" && c.Email == "" && c.Phone == ""
}

// Reminder is one scheduled follow-up record. Terminal records are kept
// forever; recurrence creates a fresh record instead of reusing one.
type Reminder struct {
	ID       string `json:"id"`
	EntityID string `json:"entity_id"`

	// ChainID groups the records of one unanswered follow-up thread:
	// recurrence successors inherit it, and a manually created reminder
	// continues the entity's open chain until a completion closes it.
	ChainID string `json:"chain_id"`

	ScheduledAt time.Time `json:"scheduled_at"`
	Status      Status    `json:"status"`
	Frequency   Frequency `json:"frequency"`
	Priority    Priority  `json:"priority"`
	Notes       string    `json:"notes,omitempty"`

	// SentCount counts delivery attempts across the whole recurrence chain.
	// Successors inherit it; it never decreases.
	SentCount int `json:"sent_count"`

	// SentAt is set on the pending->sent transition. The missed sweep's
	// grace window is measured from here.
	SentAt time.Time `json:"sent_at,omitzero"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Client ClientSnapshot `json:"client,omitzero"`
}

// Successor builds the next record in the recurrence chain, scheduled by
// the recurrence calculator from this record's own scheduled date. It must
// only be called for recurring reminders.
func (r Reminder) Successor(now time.Time) Reminder {
	next := r.Frequency.NextDate(r.ScheduledAt)
	return Reminder{
		EntityID:    r.EntityID,
		ChainID:     r.ChainID,
		ScheduledAt: next,
		Status:      StatusPending,
		Frequency:   r.Frequency,
		Priority:    r.Priority,
		Notes:       r.Notes,
		SentCount:   r.SentCount,
		CreatedAt:   now,
		UpdatedAt:   now,
		Client:      r.Client,
	}
}
