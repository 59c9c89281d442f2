package dispatch

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"remindd/internal/reminder"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

const dispatcherActor = "dispatcher"

// RunCycle executes one poll cycle: the due scan followed by the missed
// sweep. It is exported so tests (and an eventual admin endpoint) can
// drive cycles with a controlled clock instead of waiting on the trigger.
//
// A failure on one reminder never blocks the rest of the batch; store
// errors are logged and counted, and the cycle simply runs again on the
// next tick.
func (s *Service) RunCycle(ctx context.Context) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	stopCh := s.stopCh
	s.mu.Unlock()

	start := time.Now()
	now := s.clock.Now()

	sent := s.dispatchDue(ctx, stopCh, cfg, lim, now)
	missed := s.sweepMissed(ctx, stopCh, cfg, now)

	s.met.DispatchCycles.Inc()
	s.met.DispatchSeconds.Observe(time.Since(start).Seconds())
	if sent > 0 || missed > 0 {
		s.log.Info("dispatch cycle finished",
			logx.Int("sent", sent),
			logx.Int("missed", missed),
			logx.Duration("took", time.Since(start)),
		)
	} else {
		s.log.Debug("dispatch cycle idle", logx.Duration("took", time.Since(start)))
	}
}

// dispatchDue claims and delivers every due pending reminder, in
// ascending (scheduledAt, id) order so a given store snapshot always
// dispatches identically.
func (s *Service) dispatchDue(ctx context.Context, stopCh <-chan struct{}, cfg Config, lim *rate.Limiter, now time.Time) int {
	due, err := s.store.ListDue(ctx, now, cfg.BatchLimit)
	if err != nil {
		s.met.StoreErrors.Inc()
		s.log.Error("due scan failed; retrying next cycle", logx.Err(err))
		return 0
	}

	sent := 0
	for _, r := range due {
		if stopping(ctx, stopCh) {
			break
		}

		claimed, err := s.store.Transition(ctx, r.ID, reminder.StatusPending, reminder.StatusSent,
			storage.TransitionUpdate{Now: now, IncrementSent: true, Actor: dispatcherActor})
		switch {
		case errors.Is(err, reminder.ErrConflict), errors.Is(err, reminder.ErrNotFound):
			// Another actor (user action or a replica) got there first.
			s.met.ClaimConflicts.Inc()
			s.log.Debug("due reminder already claimed", logx.String("reminder_id", r.ID))
			continue
		case err != nil:
			s.met.StoreErrors.Inc()
			s.log.Error("claim failed; skipping item", logx.String("reminder_id", r.ID), logx.Err(err))
			continue
		}

		sent++
		s.met.RemindersSent.Inc()

		// Best effort from here: the reminder is sent regardless of what
		// the channel does.
		if err := lim.Wait(ctx); err != nil {
			s.log.Warn("delivery skipped (shutdown)", logx.String("reminder_id", claimed.ID))
			continue
		}
		if err := s.tr.Send(ctx, claimed); err != nil {
			s.met.DeliveryErrors.Inc()
			s.log.Warn("delivery failed",
				logx.String("reminder_id", claimed.ID),
				logx.String("channel", s.tr.Name()),
				logx.Err(err),
			)
			if aerr := s.store.RecordDeliveryFailure(ctx, claimed.ID, now, err.Error()); aerr != nil {
				s.met.StoreErrors.Inc()
				s.log.Error("delivery failure not recorded", logx.String("reminder_id", claimed.ID), logx.Err(aerr))
			}
			continue
		}
		s.log.Debug("reminder dispatched",
			logx.String("reminder_id", claimed.ID),
			logx.String("entity_id", claimed.EntityID),
			logx.Int("sent_count", claimed.SentCount),
		)
	}
	return sent
}

// sweepMissed flips sent reminders that sat unacknowledged past the
// grace window to missed. No successor is created on a miss; that takes
// a human decision.
func (s *Service) sweepMissed(ctx context.Context, stopCh <-chan struct{}, cfg Config, now time.Time) int {
	cutoff := now.Add(-cfg.Grace)
	stale, err := s.store.ListSentBefore(ctx, cutoff)
	if err != nil {
		s.met.StoreErrors.Inc()
		s.log.Error("missed sweep scan failed; retrying next cycle", logx.Err(err))
		return 0
	}

	missed := 0
	for _, r := range stale {
		if stopping(ctx, stopCh) {
			break
		}
		_, err := s.store.Transition(ctx, r.ID, reminder.StatusSent, reminder.StatusMissed,
			storage.TransitionUpdate{Now: now, Actor: dispatcherActor})
		switch {
		case errors.Is(err, reminder.ErrConflict), errors.Is(err, reminder.ErrNotFound):
			// Completed or cancelled in the meantime; nothing to sweep.
			continue
		case err != nil:
			s.met.StoreErrors.Inc()
			s.log.Error("miss transition failed; skipping item", logx.String("reminder_id", r.ID), logx.Err(err))
			continue
		}
		missed++
		s.met.RemindersMissed.Inc()
		s.log.Info("reminder missed (grace window elapsed)",
			logx.String("reminder_id", r.ID),
			logx.String("entity_id", r.EntityID),
			logx.Time("sent_at", r.SentAt),
		)
	}
	return missed
}

func stopping(ctx context.Context, stopCh <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	default:
	}
	if stopCh == nil {
		return false
	}
	select {
	case <-stopCh:
		return true
	default:
		return false
	}
}
