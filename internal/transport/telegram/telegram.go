// Package telegram delivers reminders through a Telegram bot.
package telegram

import (
	"context"
	"fmt"
	"time"

	tele "gopkg.in/telebot.v4"

	"remindd/internal/reminder"
	"remindd/internal/transport"
	logx "remindd/pkg/logx"
)

type Config struct {
	Token  string
	ChatID int64
}

type Adapter struct {
	bot  *tele.Bot
	chat *tele.Chat
	log  logx.Logger
}

// New validates the token against the Telegram API and returns the
// adapter. The bot is outbound-only; no poller is started.
func New(cfg Config, log logx.Logger) (*Adapter, error) {
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{
		bot:  b,
		chat: &tele.Chat{ID: cfg.ChatID},
		log:  log,
	}, nil
}

func (a *Adapter) Name() string { return "telegram" }

// Send posts the reminder text to the configured chat. telebot calls are
// not context-aware, so the send runs in a goroutine and the result is
// collected through a channel; an expired ctx abandons the call.
func (a *Adapter) Send(ctx context.Context, r reminder.Reminder) error {
	text := transport.FormatText(r)

	done := make(chan error, 1)
	start := time.Now()
	go func() {
		_, err := a.bot.Send(a.chat, text, &tele.SendOptions{DisableWebPagePreview: true})
		done <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
		a.log.Debug("telegram delivery ok",
			logx.String("reminder_id", r.ID),
			logx.Duration("took", time.Since(start)),
		)
		return nil
	}
}
