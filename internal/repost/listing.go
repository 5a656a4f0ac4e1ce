package repost

import (
	"context"
	"fmt"
	"sort"
)

// ListJobs returns jobs ordered by publish time. Scheduled jobs are numbered
// 1..n in that order; the numbering is recomputed on every call.
func (s *Service) ListJobs(ctx context.Context, chatID int64, limit int) ([]Entry, error) {
	jobs, err := s.store.ListJobs(ctx, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	out := make([]Entry, 0, len(jobs))
	ordinal := 0
	for _, j := range jobs {
		e := Entry{Job: j}
		if j.Status == StatusScheduled {
			ordinal++
			e.Ordinal = ordinal
		}
		out = append(out, e)
	}
	return out, nil
}

// DeleteByOrdinals deletes scheduled jobs by their current ordinal. Ordinals
// outside [1, n] are reported and skipped.
func (s *Service) DeleteByOrdinals(ctx context.Context, chatID int64, ordinals []int) (DeleteResult, error) {
	ids, err := s.store.ScheduledIDs(ctx, chatID)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("load scheduled jobs: %w", err)
	}
	res := DeleteResult{Available: len(ids)}

	seen := make(map[int]struct{}, len(ordinals))
	targets := make([]int64, 0, len(ordinals))
	for _, n := range ordinals {
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		if n < 1 || n > len(ids) {
			res.OutOfRange = append(res.OutOfRange, n)
			continue
		}
		targets = append(targets, ids[n-1])
	}
	sort.Ints(res.OutOfRange)
	if len(targets) == 0 {
		return res, nil
	}

	res.Deleted, err = s.store.DeleteScheduled(ctx, chatID, targets)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("delete jobs: %w", err)
	}
	return res, nil
}

func (s *Service) ClearPublished(ctx context.Context, chatID int64) (int, error) {
	return s.store.DeleteByStatus(ctx, chatID, StatusPublished)
}

func (s *Service) ClearAll(ctx context.Context, chatID int64) (int, error) {
	return s.store.DeleteAll(ctx, chatID)
}

// Upcoming returns the next n scheduled jobs at or after now.
func (s *Service) Upcoming(ctx context.Context, chatID int64, n int) ([]Job, error) {
	return s.store.UpcomingJobs(ctx, chatID, TruncateMinute(s.now()), n)
}
