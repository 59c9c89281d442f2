package reminders

import (
	"context"

	"remindd/internal/reminder"
	"remindd/internal/storage"
)

// DashboardStats derives the aggregate dashboard view. Bucket counts come
// from classifying every pending reminder matching the filter against the
// injected clock; terminal counts come straight from the store.
func (s *Service) DashboardStats(ctx context.Context, p ListParams) (DashboardStats, error) {
	f := storage.Filter{
		EntityID:   p.EntityID,
		From:       p.From,
		To:         p.To,
		ClientName: p.ClientName,
	}

	counts, err := s.store.CountByStatus(ctx, f)
	if err != nil {
		return DashboardStats{}, err
	}

	now := s.clock.Now()
	var stats DashboardStats
	pendingFilter := f
	pendingFilter.Statuses = []reminder.Status{reminder.StatusPending}
	for offset := 0; ; offset += storage.MaxPageLimit {
		res, err := s.store.List(ctx, pendingFilter, storage.Page{Offset: offset, Limit: storage.MaxPageLimit})
		if err != nil {
			return DashboardStats{}, err
		}
		for _, r := range res.Items {
			switch reminder.Classify(r, now) {
			case reminder.BucketOverdue:
				stats.Overdue++
			case reminder.BucketDueSoon:
				stats.DueSoon++
			case reminder.BucketUpcoming:
				stats.Upcoming++
			}
		}
		if offset+len(res.Items) >= res.Total || len(res.Items) == 0 {
			break
		}
	}

	stats.Completed = counts[reminder.StatusCompleted]
	stats.Missed = counts[reminder.StatusMissed]
	for _, n := range counts {
		stats.Total += n
	}
	stats.SuccessRatio = successRatio(stats.Completed, stats.Missed)

	awaiting, err := s.store.AwaitingResponse(ctx, AwaitingThreshold)
	if err != nil {
		return DashboardStats{}, err
	}
	stats.AwaitingResponse = awaiting
	return stats, nil
}

// EntityStats rolls up one entity's history: the next pending reminder,
// bucket-agnostic pending count, terminal counts, and the success ratio.
func (s *Service) EntityStats(ctx context.Context, entityID string) (EntityStats, error) {
	recs, err := s.store.ListByEntity(ctx, entityID)
	if err != nil {
		return EntityStats{}, err
	}

	stats := EntityStats{EntityID: entityID}
	var next *reminder.Reminder
	for i := range recs {
		r := recs[i]
		switch r.Status {
		case reminder.StatusPending:
			stats.Upcoming++
			if next == nil || r.ScheduledAt.Before(next.ScheduledAt) {
				next = &recs[i]
			}
		case reminder.StatusCompleted:
			stats.Completed++
		case reminder.StatusMissed:
			stats.Missed++
		}
	}
	stats.NextReminder = next
	stats.SuccessRatio = successRatio(stats.Completed, stats.Missed)
	return stats, nil
}
