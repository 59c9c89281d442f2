package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"remindd/internal/reminder"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func mkReminder(id, entity, chain string, at time.Time, st reminder.Status) reminder.Reminder {
	return reminder.Reminder{
		ID:          id,
		EntityID:    entity,
		ChainID:     chain,
		ScheduledAt: at,
		Status:      st,
		Frequency:   reminder.Frequency{IntervalDays: 7},
		Priority:    reminder.PriorityMedium,
		CreatedAt:   at.Add(-time.Hour),
		UpdatedAt:   at.Add(-time.Hour),
	}
}

func TestTransitionCAS(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r := mkReminder("r1", "e1", "c1", now, reminder.StatusPending)
			if err := st.Create(ctx, &r); err != nil {
				t.Fatalf("create: %v", err)
			}

			got, err := st.Transition(ctx, "r1", reminder.StatusPending, reminder.StatusSent,
				TransitionUpdate{Now: now, IncrementSent: true, Actor: "dispatcher"})
			if err != nil {
				t.Fatalf("transition: %v", err)
			}
			if got.Status != reminder.StatusSent || got.SentCount != 1 {
				t.Fatalf("got status=%v sent_count=%d", got.Status, got.SentCount)
			}
			if got.SentAt.IsZero() {
				t.Fatal("sent_at not recorded")
			}

			// Losing writer observes a conflict, not silence.
			_, err = st.Transition(ctx, "r1", reminder.StatusPending, reminder.StatusCancelled,
				TransitionUpdate{Now: now})
			if !errors.Is(err, reminder.ErrConflict) {
				t.Fatalf("expected ErrConflict, got %v", err)
			}

			// Unknown id is NotFound, not Conflict.
			_, err = st.Transition(ctx, "nope", reminder.StatusPending, reminder.StatusSent,
				TransitionUpdate{Now: now})
			if !errors.Is(err, reminder.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			// Audit trail recorded exactly one row.
			hist, err := st.History(ctx, "r1")
			if err != nil {
				t.Fatalf("history: %v", err)
			}
			if len(hist) != 1 || hist[0].From != reminder.StatusPending || hist[0].To != reminder.StatusSent {
				t.Fatalf("unexpected history: %+v", hist)
			}
			if hist[0].Actor != "dispatcher" {
				t.Fatalf("actor = %q", hist[0].Actor)
			}
		})
	}
}

func TestRecordDeliveryFailure(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r := mkReminder("r1", "e1", "c1", now, reminder.StatusPending)
			if err := st.Create(ctx, &r); err != nil {
				t.Fatalf("create: %v", err)
			}
			if _, err := st.Transition(ctx, "r1", reminder.StatusPending, reminder.StatusSent,
				TransitionUpdate{Now: now, IncrementSent: true, Actor: "dispatcher"}); err != nil {
				t.Fatalf("transition: %v", err)
			}

			if err := st.RecordDeliveryFailure(ctx, "r1", now.Add(time.Second), "bot offline"); err != nil {
				t.Fatalf("record failure: %v", err)
			}
			if err := st.RecordDeliveryFailure(ctx, "nope", now, "x"); !errors.Is(err, reminder.ErrNotFound) {
				t.Fatalf("unknown id: err = %v, want ErrNotFound", err)
			}

			// Status untouched, failure appended after the claim row.
			got, err := st.Get(ctx, "r1")
			if err != nil || got.Status != reminder.StatusSent {
				t.Fatalf("get: %+v, %v", got, err)
			}
			hist, err := st.History(ctx, "r1")
			if err != nil {
				t.Fatalf("history: %v", err)
			}
			if len(hist) != 2 {
				t.Fatalf("history rows = %d, want 2", len(hist))
			}
			failure := hist[1]
			if failure.From != reminder.StatusSent || failure.To != reminder.StatusSent {
				t.Fatalf("failure row = %+v, must not record a status change", failure)
			}
			if failure.Actor != "transport" || failure.Note != "bot offline" {
				t.Fatalf("failure row = %+v", failure)
			}
		})
	}
}

func TestUpdatePendingOnly(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r := mkReminder("r1", "e1", "c1", now.Add(time.Hour), reminder.StatusPending)
			if err := st.Create(ctx, &r); err != nil {
				t.Fatalf("create: %v", err)
			}

			newAt := now.Add(48 * time.Hour)
			notes := "changed"
			got, err := st.UpdatePending(ctx, "r1", Patch{ScheduledAt: &newAt, Notes: &notes}, now)
			if err != nil {
				t.Fatalf("update: %v", err)
			}
			if got.ScheduledAt.UnixMilli() != newAt.UnixMilli() || got.Notes != "changed" {
				t.Fatalf("patch not applied: %+v", got)
			}

			if _, err := st.Transition(ctx, "r1", reminder.StatusPending, reminder.StatusCancelled,
				TransitionUpdate{Now: now}); err != nil {
				t.Fatalf("cancel: %v", err)
			}
			if _, err := st.UpdatePending(ctx, "r1", Patch{Notes: &notes}, now); !errors.Is(err, reminder.ErrConflict) {
				t.Fatalf("expected ErrConflict after cancel, got %v", err)
			}
		})
	}
}

func TestListDueOrdering(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			// Same due date: id breaks the tie. Later date sorts after.
			recs := []reminder.Reminder{
				mkReminder("b", "e1", "c1", now.Add(-time.Minute), reminder.StatusPending),
				mkReminder("a", "e2", "c2", now.Add(-time.Minute), reminder.StatusPending),
				mkReminder("c", "e3", "c3", now.Add(-time.Hour), reminder.StatusPending),
				mkReminder("d", "e4", "c4", now.Add(time.Hour), reminder.StatusPending),
				mkReminder("e", "e5", "c5", now.Add(-time.Hour), reminder.StatusSent),
			}
			for i := range recs {
				if err := st.Create(ctx, &recs[i]); err != nil {
					t.Fatalf("create %s: %v", recs[i].ID, err)
				}
			}

			due, err := st.ListDue(ctx, now, 0)
			if err != nil {
				t.Fatalf("list due: %v", err)
			}
			var ids []string
			for _, r := range due {
				ids = append(ids, r.ID)
			}
			want := []string{"c", "a", "b"}
			if len(ids) != len(want) {
				t.Fatalf("ids = %v, want %v", ids, want)
			}
			for i := range want {
				if ids[i] != want[i] {
					t.Fatalf("ids = %v, want %v", ids, want)
				}
			}
		})
	}
}

func TestListFilters(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r1 := mkReminder("r1", "e1", "c1", now, reminder.StatusPending)
			r1.Client = reminder.ClientSnapshot{Name: "Acme Corp"}
			r2 := mkReminder("r2", "e1", "c2", now.Add(72*time.Hour), reminder.StatusCompleted)
			r3 := mkReminder("r3", "e2", "c3", now, reminder.StatusPending)
			r3.Client = reminder.ClientSnapshot{Name: "Globex"}
			for _, r := range []*reminder.Reminder{&r1, &r2, &r3} {
				if err := st.Create(ctx, r); err != nil {
					t.Fatalf("create: %v", err)
				}
			}

			res, err := st.List(ctx, Filter{EntityID: "e1"}, Page{})
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if res.Total != 2 {
				t.Fatalf("entity filter total = %d, want 2", res.Total)
			}

			res, err = st.List(ctx, Filter{Statuses: []reminder.Status{reminder.StatusPending}}, Page{})
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if res.Total != 2 {
				t.Fatalf("status filter total = %d, want 2", res.Total)
			}

			res, err = st.List(ctx, Filter{ClientName: "acme"}, Page{})
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if res.Total != 1 || res.Items[0].ID != "r1" {
				t.Fatalf("client filter = %+v", res)
			}

			res, err = st.List(ctx, Filter{From: now.Add(time.Hour)}, Page{})
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if res.Total != 1 || res.Items[0].ID != "r2" {
				t.Fatalf("date filter = %+v", res)
			}

			// Pagination clamps and reports the full total.
			res, err = st.List(ctx, Filter{}, Page{Limit: 2})
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if res.Total != 3 || len(res.Items) != 2 {
				t.Fatalf("page total=%d len=%d", res.Total, len(res.Items))
			}
		})
	}
}

func TestChainState(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, ok, err := st.ChainState(ctx, "nobody"); err != nil || ok {
				t.Fatalf("empty entity: ok=%v err=%v", ok, err)
			}

			// Older chain completed; newer chain has two sends.
			r1 := mkReminder("r1", "e1", "chain-old", now, reminder.StatusCompleted)
			r1.SentCount = 5
			r1.CreatedAt = now.Add(-72 * time.Hour)
			r2 := mkReminder("r2", "e1", "chain-new", now, reminder.StatusMissed)
			r2.SentCount = 2
			r2.CreatedAt = now.Add(-24 * time.Hour)
			r3 := mkReminder("r3", "e1", "chain-new", now.Add(time.Hour), reminder.StatusPending)
			r3.SentCount = 2
			r3.CreatedAt = now
			for _, r := range []*reminder.Reminder{&r1, &r2, &r3} {
				if err := st.Create(ctx, r); err != nil {
					t.Fatalf("create: %v", err)
				}
			}

			chain, ok, err := st.ChainState(ctx, "e1")
			if err != nil || !ok {
				t.Fatalf("chain state: ok=%v err=%v", ok, err)
			}
			if chain.ChainID != "chain-new" || chain.SentCount != 2 || chain.Completed {
				t.Fatalf("chain = %+v", chain)
			}
		})
	}
}

func TestAwaitingResponse(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// e1: chain reached 3 sends, never completed -> awaiting.
			r1 := mkReminder("r1", "e1", "chain-1", now, reminder.StatusMissed)
			r1.SentCount = 3
			// e2: chain reached 4 sends but one record completed -> not awaiting.
			r2 := mkReminder("r2", "e2", "chain-2", now, reminder.StatusCompleted)
			r2.SentCount = 4
			// e3: only 2 sends -> not awaiting.
			r3 := mkReminder("r3", "e3", "chain-3", now, reminder.StatusSent)
			r3.SentCount = 2
			r3.SentAt = now
			// e4: an old ignored chain hit 3, but a NEWER chain is active
			// with 0 sends -> not awaiting (only the latest chain counts).
			r4a := mkReminder("r4a", "e4", "chain-4a", now, reminder.StatusMissed)
			r4a.SentCount = 3
			r4a.CreatedAt = now.Add(-48 * time.Hour)
			r4b := mkReminder("r4b", "e4", "chain-4b", now.Add(time.Hour), reminder.StatusPending)
			r4b.CreatedAt = now

			for _, r := range []*reminder.Reminder{&r1, &r2, &r3, &r4a, &r4b} {
				if err := st.Create(ctx, r); err != nil {
					t.Fatalf("create: %v", err)
				}
			}

			got, err := st.AwaitingResponse(ctx, 3)
			if err != nil {
				t.Fatalf("awaiting: %v", err)
			}
			if len(got) != 1 || got[0] != "e1" {
				t.Fatalf("awaiting = %v, want [e1]", got)
			}
		})
	}
}
