// Package transport defines the outbound delivery collaborator.
//
// The core never cares how a reminder physically reaches the client; it
// hands a record to a Transport and moves on. Delivery failure is logged
// and counted but never rolls back a status transition.
package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"remindd/internal/reminder"
)

// Transport sends one reminder to the outside world.
type Transport interface {
	// Name identifies the channel in logs and metrics ("log", "telegram").
	Name() string

	// Send delivers the reminder. Implementations should honor ctx and
	// return promptly; the dispatcher treats errors as best-effort losses.
	Send(ctx context.Context, r reminder.Reminder) error
}

// Func adapts a function to a Transport, mostly for tests.
type Func struct {
	Channel string
	SendFn  func(ctx context.Context, r reminder.Reminder) error
}

func (f Func) Name() string { return f.Channel }

func (f Func) Send(ctx context.Context, r reminder.Reminder) error {
	if f.SendFn == nil {
		return nil
	}
	return f.SendFn(ctx, r)
}

// FormatText renders the plain-text body shared by the channel adapters.
func FormatText(r reminder.Reminder) string {
	var b strings.Builder
	b.WriteString("Follow-up reminder")
	if r.Client.Name != "" {
		b.WriteString(" for ")
		b.WriteString(r.Client.Name)
	}
	fmt.Fprintf(&b, "\nDue: %s", r.ScheduledAt.Format(time.RFC1123))
	fmt.Fprintf(&b, "\nPriority: %s", r.Priority)
	if r.Notes != "" {
		b.WriteString("\n\n")
		b.WriteString(r.Notes)
	}
	return b.String()
}
