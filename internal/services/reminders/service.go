package reminders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"remindd/internal/reminder"
	"remindd/internal/storage"
	"remindd/internal/transport"
	logx "remindd/pkg/logx"
)

const apiActor = "api"

type Service struct {
	store    storage.Store
	clock    reminder.Clock
	tr       transport.Transport
	entities EntityProvider
	log      logx.Logger
}

func New(store storage.Store, clock reminder.Clock, tr transport.Transport, entities EntityProvider, log logx.Logger) *Service {
	if clock == nil {
		clock = reminder.SystemClock()
	}
	if entities == nil {
		entities = AcceptAllEntities{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, clock: clock, tr: tr, entities: entities, log: log}
}

// Create validates the request, snapshots the client contact fields, and
// stores a fresh pending reminder.
//
// Chain rule: a new reminder continues the entity's most recent chain
// (inheriting the chain's delivery counter) as long as that chain has no
// completed record. Once the client responded, the next reminder starts a
// fresh chain with the counter reset.
func (s *Service) Create(ctx context.Context, p CreateParams) (reminder.Reminder, error) {
	if strings.TrimSpace(p.EntityID) == "" {
		return reminder.Reminder{}, fmt.Errorf("%w: entity id is required", reminder.ErrValidation)
	}
	now := s.clock.Now()
	if !p.ScheduledAt.After(now) {
		return reminder.Reminder{}, fmt.Errorf("%w: scheduled date must be in the future", reminder.ErrValidation)
	}
	freq, err := reminder.ParseFrequency(p.Frequency)
	if err != nil {
		return reminder.Reminder{}, err
	}
	prio, err := reminder.ParsePriority(p.Priority)
	if err != nil {
		return reminder.Reminder{}, err
	}

	snap, err := s.entities.Lookup(ctx, p.EntityID)
	if err != nil {
		if errors.Is(err, reminder.ErrNotFound) {
			return reminder.Reminder{}, fmt.Errorf("%w: unknown entity %s", reminder.ErrValidation, p.EntityID)
		}
		return reminder.Reminder{}, fmt.Errorf("%w: entity lookup: %v", reminder.ErrStore, err)
	}
	if p.Client != nil {
		snap = *p.Client
	}

	chainID := uuid.NewString()
	sentCount := 0
	if chain, ok, err := s.store.ChainState(ctx, p.EntityID); err != nil {
		return reminder.Reminder{}, err
	} else if ok && !chain.Completed {
		chainID = chain.ChainID
		sentCount = chain.SentCount
	}

	r := reminder.Reminder{
		ID:          uuid.NewString(),
		EntityID:    p.EntityID,
		ChainID:     chainID,
		ScheduledAt: p.ScheduledAt,
		Status:      reminder.StatusPending,
		Frequency:   freq,
		Priority:    prio,
		Notes:       p.Notes,
		SentCount:   sentCount,
		CreatedAt:   now,
		UpdatedAt:   now,
		Client:      snap,
	}
	if err := s.store.Create(ctx, &r); err != nil {
		return reminder.Reminder{}, err
	}
	s.log.Info("reminder created",
		logx.String("reminder_id", r.ID),
		logx.String("entity_id", r.EntityID),
		logx.Time("scheduled_at", r.ScheduledAt),
		logx.String("frequency", r.Frequency.String()),
	)
	return r, nil
}

// Update patches a pending reminder. A reminder that has already left
// pending cannot be edited; the caller sees an invalid-transition error,
// never a silent coercion.
func (s *Service) Update(ctx context.Context, id string, p UpdateParams) (reminder.Reminder, error) {
	now := s.clock.Now()

	var patch storage.Patch
	if p.ScheduledAt != nil {
		if !p.ScheduledAt.After(now) {
			return reminder.Reminder{}, fmt.Errorf("%w: scheduled date must be in the future", reminder.ErrValidation)
		}
		patch.ScheduledAt = p.ScheduledAt
	}
	if p.Frequency != nil {
		freq, err := reminder.ParseFrequency(*p.Frequency)
		if err != nil {
			return reminder.Reminder{}, err
		}
		patch.Frequency = &freq
	}
	if p.Priority != nil {
		prio, err := reminder.ParsePriority(*p.Priority)
		if err != nil {
			return reminder.Reminder{}, err
		}
		patch.Priority = &prio
	}
	patch.Notes = p.Notes
	patch.Client = p.Client

	rec, err := s.store.UpdatePending(ctx, id, patch, now)
	if errors.Is(err, reminder.ErrConflict) {
		return reminder.Reminder{}, s.conflictToInvalid(ctx, id, err)
	}
	return rec, err
}

// Cancel is legal from pending or sent.
func (s *Service) Cancel(ctx context.Context, id string) (reminder.Reminder, error) {
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return reminder.Reminder{}, err
	}
	if !reminder.CanTransition(cur.Status, reminder.StatusCancelled) {
		return reminder.Reminder{}, fmt.Errorf("%w: cannot cancel a %s reminder", reminder.ErrInvalidTransition, cur.Status)
	}
	rec, err := s.transitionOnceRetried(ctx, id, cur.Status, reminder.StatusCancelled, storage.TransitionUpdate{
		Now: s.clock.Now(), Actor: apiActor,
	})
	if err != nil {
		return reminder.Reminder{}, err
	}
	s.log.Info("reminder cancelled", logx.String("reminder_id", id))
	return rec, nil
}

// Complete acknowledges a sent reminder. For recurring frequencies it
// also creates the successor record: same chain, inherited sentCount,
// next date computed from the completed reminder's own scheduled date.
func (s *Service) Complete(ctx context.Context, id string) (reminder.Reminder, error) {
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return reminder.Reminder{}, err
	}
	if cur.Status != reminder.StatusSent {
		return reminder.Reminder{}, fmt.Errorf("%w: cannot complete a %s reminder (only sent)", reminder.ErrInvalidTransition, cur.Status)
	}
	now := s.clock.Now()
	rec, err := s.transitionOnceRetried(ctx, id, reminder.StatusSent, reminder.StatusCompleted, storage.TransitionUpdate{
		Now: now, Actor: apiActor,
	})
	if err != nil {
		return reminder.Reminder{}, err
	}
	s.log.Info("reminder completed", logx.String("reminder_id", id), logx.String("entity_id", rec.EntityID))

	if rec.Frequency.Recurring() {
		succ := rec.Successor(now)
		succ.ID = uuid.NewString()
		if err := s.store.Create(ctx, &succ); err != nil {
			// The completion itself is committed; surface the failure.
			return rec, fmt.Errorf("completion recorded but successor not created: %w", err)
		}
		s.log.Info("recurrence successor created",
			logx.String("reminder_id", succ.ID),
			logx.String("predecessor_id", rec.ID),
			logx.Time("scheduled_at", succ.ScheduledAt),
		)
	}
	return rec, nil
}

// SendNow fires a pending reminder immediately, independent of its
// scheduled date. Delivery failure is logged, not surfaced: the reminder
// is sent from the system's point of view either way.
func (s *Service) SendNow(ctx context.Context, id string) (reminder.Reminder, error) {
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return reminder.Reminder{}, err
	}
	if cur.Status != reminder.StatusPending {
		return reminder.Reminder{}, fmt.Errorf("%w: cannot send a %s reminder (only pending)", reminder.ErrInvalidTransition, cur.Status)
	}
	rec, err := s.transitionOnceRetried(ctx, id, reminder.StatusPending, reminder.StatusSent, storage.TransitionUpdate{
		Now: s.clock.Now(), Actor: apiActor, IncrementSent: true,
	})
	if err != nil {
		return reminder.Reminder{}, err
	}

	if s.tr != nil {
		if err := s.tr.Send(ctx, rec); err != nil {
			s.log.Warn("send-now delivery failed",
				logx.String("reminder_id", rec.ID),
				logx.String("channel", s.tr.Name()),
				logx.Err(fmt.Errorf("%w: %v", reminder.ErrTransport, err)),
			)
			if aerr := s.store.RecordDeliveryFailure(ctx, rec.ID, s.clock.Now(), err.Error()); aerr != nil {
				s.log.Error("delivery failure not recorded", logx.String("reminder_id", rec.ID), logx.Err(aerr))
			}
		}
	}
	s.log.Info("reminder sent on demand", logx.String("reminder_id", rec.ID), logx.Int("sent_count", rec.SentCount))
	return rec, nil
}

func (s *Service) Get(ctx context.Context, id string) (reminder.Reminder, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) History(ctx context.Context, id string) ([]storage.TransitionRecord, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.History(ctx, id)
}

// List returns one filtered, paginated page.
func (s *Service) List(ctx context.Context, p ListParams) (Page, error) {
	f := storage.Filter{
		EntityID:   p.EntityID,
		From:       p.From,
		To:         p.To,
		ClientName: p.ClientName,
	}
	for _, raw := range p.Statuses {
		st, err := reminder.ParseStatus(raw)
		if err != nil {
			return Page{}, err
		}
		f.Statuses = append(f.Statuses, st)
	}
	pg := storage.Page{Offset: p.Offset, Limit: p.Limit}
	res, err := s.store.List(ctx, f, pg)
	if err != nil {
		return Page{}, err
	}
	limit := p.Limit
	if limit <= 0 {
		limit = storage.DefaultPageLimit
	}
	return Page{Items: res.Items, Total: res.Total, Offset: p.Offset, Limit: limit}, nil
}

// transitionOnceRetried applies the service-layer conflict policy: a lost
// CAS race is retried exactly once after a re-read. If the target status
// is still reachable from the re-read status, the retry starts from that
// status (a cancel losing the pending->sent race to the dispatcher still
// cancels); otherwise the race is reported as an invalid transition. A
// second lost race surfaces the conflict.
func (s *Service) transitionOnceRetried(ctx context.Context, id string, from, to reminder.Status, up storage.TransitionUpdate) (reminder.Reminder, error) {
	rec, err := s.store.Transition(ctx, id, from, to, up)
	if !errors.Is(err, reminder.ErrConflict) {
		return rec, err
	}

	cur, gerr := s.store.Get(ctx, id)
	if gerr != nil {
		return reminder.Reminder{}, gerr
	}
	if !reminder.CanTransition(cur.Status, to) {
		return reminder.Reminder{}, fmt.Errorf("%w: reminder %s is now %s, cannot move to %s",
			reminder.ErrInvalidTransition, id, cur.Status, to)
	}
	return s.store.Transition(ctx, id, cur.Status, to, up)
}

// conflictToInvalid rewrites an update-time conflict into the error the
// caller can act on: the reminder has moved past pending.
func (s *Service) conflictToInvalid(ctx context.Context, id string, orig error) error {
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return orig
	}
	return fmt.Errorf("%w: cannot edit a %s reminder (only pending)", reminder.ErrInvalidTransition, cur.Status)
}

// successRatio never divides by zero: no outcomes yet means ratio 0.
func successRatio(completed, missed int) float64 {
	if completed+missed == 0 {
		return 0
	}
	return float64(completed) / float64(completed+missed)
}
