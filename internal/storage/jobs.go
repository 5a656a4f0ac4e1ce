package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"reposter/internal/repost"
)

const jobColumns = `j.id, j.chat_id, j.source_chat_id, j.source_message_id, j.publish_at, j.status, j.created_at, j.published_at`

// InsertJobs inserts jobs in one transaction and ignores uniqueness conflicts.
func (s *SQLStore) InsertJobs(ctx context.Context, jobs []repost.Job) (int, error) {
	if len(jobs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(
		`INSERT INTO repost_jobs (chat_id, source_chat_id, source_message_id, publish_at, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (chat_id, source_chat_id, source_message_id, publish_at) DO NOTHING`))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	created := 0
	for _, j := range jobs {
		createdAt := j.CreatedAt
		if createdAt.IsZero() {
			createdAt = s.now()
		}
		res, err := stmt.ExecContext(ctx,
			j.ChatID, j.SourceChatID, j.SourceMessageID,
			repost.TruncateMinute(j.PublishAt).Unix(), int(repost.StatusScheduled), createdAt.Unix(),
		)
		if err != nil {
			return 0, fmt.Errorf("insert job at %s: %w", j.PublishAt.Format(time.RFC3339), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		created += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return created, nil
}

// DueJobs selects scheduled jobs with publish_at exactly at and resolves the
// destination through the target binding.
func (s *SQLStore) DueJobs(ctx context.Context, at time.Time) ([]repost.DueJob, error) {
	var rows []dueRow
	q := s.db.Rebind(`SELECT ` + jobColumns + `, COALESCE(t.target_chat_id, j.chat_id) AS destination
		FROM repost_jobs j
		LEFT JOIN chat_targets t ON t.chat_id = j.chat_id
		WHERE j.status = ? AND j.publish_at = ?
		ORDER BY j.id`)
	if err := s.db.SelectContext(ctx, &rows, q, int(repost.StatusScheduled), repost.TruncateMinute(at).Unix()); err != nil {
		return nil, err
	}
	out := make([]repost.DueJob, 0, len(rows))
	for _, r := range rows {
		out = append(out, repost.DueJob{Job: r.job(), Destination: r.Destination})
	}
	return out, nil
}

func (s *SQLStore) MarkPublished(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE repost_jobs SET status = ?, published_at = ? WHERE id = ? AND status = ?`),
		int(repost.StatusPublished), at.Unix(), id, int(repost.StatusScheduled))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ListJobs returns all of a tenant's jobs by publish time. limit <= 0 means no limit.
func (s *SQLStore) ListJobs(ctx context.Context, chatID int64, limit int) ([]repost.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM repost_jobs j WHERE j.chat_id = ? ORDER BY j.publish_at, j.id`
	args := []any{chatID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.selectJobs(ctx, q, args...)
}

func (s *SQLStore) UpcomingJobs(ctx context.Context, chatID int64, from time.Time, limit int) ([]repost.Job, error) {
	if limit <= 0 {
		limit = 3
	}
	return s.selectJobs(ctx,
		`SELECT `+jobColumns+` FROM repost_jobs j
		 WHERE j.chat_id = ? AND j.status = ? AND j.publish_at >= ?
		 ORDER BY j.publish_at, j.id LIMIT ?`,
		chatID, int(repost.StatusScheduled), from.Unix(), limit)
}

// ScheduledIDs returns scheduled job ids in ordinal order.
func (s *SQLStore) ScheduledIDs(ctx context.Context, chatID int64) ([]int64, error) {
	var ids []int64
	err := s.db.SelectContext(ctx, &ids, s.db.Rebind(
		`SELECT id FROM repost_jobs WHERE chat_id = ? AND status = ? ORDER BY publish_at, id`),
		chatID, int(repost.StatusScheduled))
	return ids, err
}

// DeleteScheduled deletes the given ids of chatID that are still scheduled.
func (s *SQLStore) DeleteScheduled(ctx context.Context, chatID int64, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	q, args, err := sqlx.In(`DELETE FROM repost_jobs WHERE chat_id = ? AND status = ? AND id IN (?)`,
		chatID, int(repost.StatusScheduled), ids)
	if err != nil {
		return 0, err
	}
	return s.exec(ctx, q, args...)
}

func (s *SQLStore) DeleteByStatus(ctx context.Context, chatID int64, status repost.Status) (int, error) {
	return s.exec(ctx, `DELETE FROM repost_jobs WHERE chat_id = ? AND status = ?`, chatID, int(status))
}

func (s *SQLStore) DeleteAll(ctx context.Context, chatID int64) (int, error) {
	return s.exec(ctx, `DELETE FROM repost_jobs WHERE chat_id = ?`, chatID)
}

func (s *SQLStore) selectJobs(ctx context.Context, q string, args ...any) ([]repost.Job, error) {
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	out := make([]repost.Job, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.job())
	}
	return out, nil
}

func (s *SQLStore) exec(ctx context.Context, q string, args ...any) (int, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
