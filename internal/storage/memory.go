package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"remindd/internal/reminder"
)

// memoryStore keeps everything in process memory. It honors the same CAS
// contract as the sqlite driver, so the dispatcher/service race tests run
// against it directly.
type memoryStore struct {
	mu    sync.Mutex
	recs  map[string]reminder.Reminder
	audit []TransitionRecord
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memoryStore{recs: make(map[string]reminder.Reminder)}
}

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) Create(_ context.Context, r *reminder.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[r.ID]; ok {
		return fmt.Errorf("%w: duplicate id %s", reminder.ErrStore, r.ID)
	}
	s.recs[r.ID] = *r
	return nil
}

func (s *memoryStore) Get(_ context.Context, id string) (reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[id]
	if !ok {
		return reminder.Reminder{}, fmt.Errorf("%w: id %s", reminder.ErrNotFound, id)
	}
	return r, nil
}

func (s *memoryStore) Transition(_ context.Context, id string, from, to reminder.Status, up TransitionUpdate) (reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[id]
	if !ok {
		return reminder.Reminder{}, fmt.Errorf("%w: id %s", reminder.ErrNotFound, id)
	}
	if r.Status != from {
		return reminder.Reminder{}, fmt.Errorf("%w: id %s is %s, expected %s", reminder.ErrConflict, id, r.Status, from)
	}
	r.Status = to
	r.UpdatedAt = up.Now
	if up.IncrementSent {
		r.SentCount++
		r.SentAt = up.Now
	}
	s.recs[id] = r
	s.audit = append(s.audit, TransitionRecord{
		ReminderID: id, From: from, To: to, Actor: up.Actor, At: up.Now,
	})
	return r, nil
}

func (s *memoryStore) UpdatePending(_ context.Context, id string, patch Patch, now time.Time) (reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[id]
	if !ok {
		return reminder.Reminder{}, fmt.Errorf("%w: id %s", reminder.ErrNotFound, id)
	}
	if r.Status != reminder.StatusPending {
		return reminder.Reminder{}, fmt.Errorf("%w: id %s is %s, expected pending", reminder.ErrConflict, id, r.Status)
	}
	if patch.ScheduledAt != nil {
		r.ScheduledAt = *patch.ScheduledAt
	}
	if patch.Frequency != nil {
		r.Frequency = *patch.Frequency
	}
	if patch.Priority != nil {
		r.Priority = *patch.Priority
	}
	if patch.Notes != nil {
		r.Notes = *patch.Notes
	}
	if patch.Client != nil {
		r.Client = *patch.Client
	}
	r.UpdatedAt = now
	s.recs[id] = r
	return r, nil
}

func (s *memoryStore) ListDue(_ context.Context, now time.Time, limit int) ([]reminder.Reminder, error) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []reminder.Reminder
	for _, r := range s.recs {
		if reminder.Due(r, now) {
			out = append(out, r)
		}
	}
	sortSchedule(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) ListSentBefore(_ context.Context, cutoff time.Time) ([]reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []reminder.Reminder
	for _, r := range s.recs {
		if r.Status == reminder.StatusSent && !r.SentAt.IsZero() && !r.SentAt.After(cutoff) {
			out = append(out, r)
		}
	}
	sortSchedule(out)
	return out, nil
}

func (s *memoryStore) List(_ context.Context, f Filter, p Page) (ListResult, error) {
	p = p.clamp()
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []reminder.Reminder
	for _, r := range s.recs {
		if matches(r, f) {
			all = append(all, r)
		}
	}
	sortSchedule(all)
	total := len(all)
	if p.Offset >= total {
		return ListResult{Total: total}, nil
	}
	end := p.Offset + p.Limit
	if end > total {
		end = total
	}
	return ListResult{Items: all[p.Offset:end], Total: total}, nil
}

func (s *memoryStore) ListByEntity(_ context.Context, entityID string) ([]reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []reminder.Reminder
	for _, r := range s.recs {
		if r.EntityID == entityID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memoryStore) CountByStatus(_ context.Context, f Filter) (map[reminder.Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[reminder.Status]int)
	for _, r := range s.recs {
		if matches(r, f) {
			out[r.Status]++
		}
	}
	return out, nil
}

func (s *memoryStore) AwaitingResponse(_ context.Context, threshold int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// newest record per entity decides which chain is "current"
	latest := make(map[string]reminder.Reminder)
	for _, r := range s.recs {
		cur, ok := latest[r.EntityID]
		if !ok || r.CreatedAt.After(cur.CreatedAt) ||
			(r.CreatedAt.Equal(cur.CreatedAt) && r.ID > cur.ID) {
			latest[r.EntityID] = r
		}
	}

	var out []string
	for entityID, newest := range latest {
		maxSent := 0
		completed := false
		for _, r := range s.recs {
			if r.ChainID != newest.ChainID {
				continue
			}
			if r.SentCount > maxSent {
				maxSent = r.SentCount
			}
			if r.Status == reminder.StatusCompleted {
				completed = true
			}
		}
		if maxSent >= threshold && !completed {
			out = append(out, entityID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *memoryStore) ChainState(_ context.Context, entityID string) (ChainState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var newest reminder.Reminder
	found := false
	for _, r := range s.recs {
		if r.EntityID != entityID {
			continue
		}
		if !found || r.CreatedAt.After(newest.CreatedAt) ||
			(r.CreatedAt.Equal(newest.CreatedAt) && r.ID > newest.ID) {
			newest = r
			found = true
		}
	}
	if !found {
		return ChainState{}, false, nil
	}

	st := ChainState{ChainID: newest.ChainID}
	for _, r := range s.recs {
		if r.ChainID != st.ChainID {
			continue
		}
		if r.SentCount > st.SentCount {
			st.SentCount = r.SentCount
		}
		if r.Status == reminder.StatusCompleted {
			st.Completed = true
		}
	}
	return st, true, nil
}

func (s *memoryStore) RecordDeliveryFailure(_ context.Context, reminderID string, at time.Time, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[reminderID]
	if !ok {
		return fmt.Errorf("%w: id %s", reminder.ErrNotFound, reminderID)
	}
	s.audit = append(s.audit, TransitionRecord{
		ReminderID: reminderID, From: r.Status, To: r.Status, Actor: transportActor, At: at, Note: detail,
	})
	return nil
}

func (s *memoryStore) History(_ context.Context, reminderID string) ([]TransitionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TransitionRecord
	for _, tr := range s.audit {
		if tr.ReminderID == reminderID {
			out = append(out, tr)
		}
	}
	return out, nil
}

func matches(r reminder.Reminder, f Filter) bool {
	if f.EntityID != "" && r.EntityID != f.EntityID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if r.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.From.IsZero() && r.ScheduledAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.ScheduledAt.After(f.To) {
		return false
	}
	if f.ClientName != "" &&
		!strings.Contains(strings.ToLower(r.Client.Name), strings.ToLower(f.ClientName)) {
		return false
	}
	return true
}

func sortSchedule(rs []reminder.Reminder) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].ScheduledAt.Equal(rs[j].ScheduledAt) {
			return rs[i].ScheduledAt.Before(rs[j].ScheduledAt)
		}
		return rs[i].ID < rs[j].ID
	})
}
