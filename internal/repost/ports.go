package repost

import (
	"context"
	"time"
)

// JobStore persists repost jobs.
type JobStore interface {
	// InsertJobs inserts jobs, ignoring duplicates of the uniqueness key, and
	// returns how many rows were new.
	InsertJobs(ctx context.Context, jobs []Job) (int, error)
	// DueJobs returns scheduled jobs whose publish_at equals at, with destination resolved.
	DueJobs(ctx context.Context, at time.Time) ([]DueJob, error)
	// MarkPublished moves a scheduled job to published. It reports false when
	// the job was gone or already published.
	MarkPublished(ctx context.Context, id int64, at time.Time) (bool, error)

	ListJobs(ctx context.Context, chatID int64, limit int) ([]Job, error)
	ScheduledIDs(ctx context.Context, chatID int64) ([]int64, error)
	UpcomingJobs(ctx context.Context, chatID int64, from time.Time, limit int) ([]Job, error)
	DeleteScheduled(ctx context.Context, chatID int64, ids []int64) (int, error)
	DeleteByStatus(ctx context.Context, chatID int64, status Status) (int, error)
	DeleteAll(ctx context.Context, chatID int64) (int, error)
}

// SettingsStore persists tenant settings and target bindings. Each setter
// upserts a single column.
type SettingsStore interface {
	GetSettings(ctx context.Context, chatID int64) (StoredSettings, bool, error)
	SetPublishTimes(ctx context.Context, chatID int64, times string) error
	SetDaysOffset(ctx context.Context, chatID int64, days int) error
	SetTimezone(ctx context.Context, chatID int64, tz string) error
	SetSendMode(ctx context.Context, chatID int64, mode SendMode) error

	GetTarget(ctx context.Context, chatID int64) (TargetBinding, bool, error)
	SetTarget(ctx context.Context, b TargetBinding) error
}

// Store is the full persistence surface.
type Store interface {
	JobStore
	SettingsStore
}

// Transport delivers content. Send failures must be *DeliveryError.
type Transport interface {
	ChatExists(ctx context.Context, chatID int64) (bool, error)
	Send(ctx context.Context, to int64, src Source, mode SendMode) error
}

// Directory resolves chats for presentation and target binding.
type Directory interface {
	DisplayName(ctx context.Context, chatID int64) (string, error)
	// ResolveUsername resolves "@name" to a chat id and canonical username.
	ResolveUsername(ctx context.Context, username string) (int64, string, error)
}
