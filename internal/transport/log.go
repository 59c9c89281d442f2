package transport

import (
	"context"

	"remindd/internal/reminder"
	logx "remindd/pkg/logx"
)

// logTransport writes deliveries to the structured log. It is the default
// channel and the sane choice for development: everything downstream
// (status transitions, sentCount, missed sweeps) behaves exactly as with a
// real channel.
type logTransport struct {
	log logx.Logger
}

func NewLog(log logx.Logger) Transport {
	return &logTransport{log: log}
}

func (t *logTransport) Name() string { return "log" }

func (t *logTransport) Send(_ context.Context, r reminder.Reminder) error {
	t.log.Info("reminder delivered",
		logx.String("reminder_id", r.ID),
		logx.String("entity_id", r.EntityID),
		logx.String("client", r.Client.Name),
		logx.Time("scheduled_at", r.ScheduledAt),
		logx.Int("sent_count", r.SentCount),
	)
	return nil
}
