package storage

import (
	"database/sql"
	"errors"
	"time"

	"reposter/internal/repost"
)

var ErrUnknownDriver = errors.New("unknown storage driver")

// Config configures storage.
//
// Driver values:
//   - "sqlite": Path is the database file
//   - "postgres": DSN is a lib/pq connection string
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means 5s
	MaxOpenConn int           // postgres only; 0 means 8
}

type jobRow struct {
	ID              int64         `db:"id"`
	ChatID          int64         `db:"chat_id"`
	SourceChatID    int64         `db:"source_chat_id"`
	SourceMessageID int           `db:"source_message_id"`
	PublishAt       int64         `db:"publish_at"`
	Status          int           `db:"status"`
	CreatedAt       int64         `db:"created_at"`
	PublishedAt     sql.NullInt64 `db:"published_at"`
}

func (r jobRow) job() repost.Job {
	j := repost.Job{
		ID:              r.ID,
		ChatID:          r.ChatID,
		SourceChatID:    r.SourceChatID,
		SourceMessageID: r.SourceMessageID,
		PublishAt:       time.Unix(r.PublishAt, 0).UTC(),
		Status:          repost.Status(r.Status),
		CreatedAt:       time.Unix(r.CreatedAt, 0).UTC(),
	}
	if r.PublishedAt.Valid {
		j.PublishedAt = time.Unix(r.PublishedAt.Int64, 0).UTC()
	}
	return j
}

type dueRow struct {
	jobRow
	Destination int64 `db:"destination"`
}

type settingsRow struct {
	ChatID       int64          `db:"chat_id"`
	PublishTimes sql.NullString `db:"publish_times"`
	DaysOffset   sql.NullInt64  `db:"days_offset"`
	Timezone     sql.NullString `db:"timezone"`
	SendMode     sql.NullString `db:"send_mode"`
}

type targetRow struct {
	ChatID         int64          `db:"chat_id"`
	TargetChatID   int64          `db:"target_chat_id"`
	TargetUsername sql.NullString `db:"target_username"`
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}
