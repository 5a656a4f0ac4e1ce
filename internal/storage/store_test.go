package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reposter/internal/repost"
	logx "reposter/pkg/logx"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	st, err := Open(context.Background(), Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "reposter.db"),
	}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func jobAt(chatID int64, msgID int, at time.Time) repost.Job {
	return repost.Job{
		ChatID:          chatID,
		SourceChatID:    chatID,
		SourceMessageID: msgID,
		PublishAt:       at,
		Status:          repost.StatusScheduled,
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mysql"}, logx.Nop())
	require.ErrorIs(t, err, ErrUnknownDriver)
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")
	for i := 0; i < 2; i++ {
		st, err := Open(context.Background(), Config{Driver: "sqlite", Path: path}, logx.Nop())
		require.NoError(t, err)
		require.Equal(t, "sqlite", st.Driver())
		require.NoError(t, st.Close())
	}
}

func TestInsertJobs_IgnoresDuplicates(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	jobs := []repost.Job{jobAt(1, 10, at), jobAt(1, 10, at.Add(time.Hour))}
	n, err := st.InsertJobs(ctx, jobs)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = st.InsertJobs(ctx, jobs)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	all, err := st.ListJobs(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].PublishAt.Equal(at))
	assert.Equal(t, repost.StatusScheduled, all[0].Status)
}

func TestDueJobs_EqualityAndDestination(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	_, err := st.InsertJobs(ctx, []repost.Job{
		jobAt(1, 10, at),
		jobAt(2, 20, at),
		jobAt(1, 11, at.Add(time.Minute)),
	})
	require.NoError(t, err)
	require.NoError(t, st.SetTarget(ctx, repost.TargetBinding{ChatID: 2, TargetChatID: -100200}))

	due, err := st.DueJobs(ctx, at.Add(30*time.Second))
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, int64(1), due[0].Destination)
	assert.Equal(t, int64(-100200), due[1].Destination)

	none, err := st.DueJobs(ctx, at.Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMarkPublished_OnlyOnce(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	_, err := st.InsertJobs(ctx, []repost.Job{jobAt(1, 10, at)})
	require.NoError(t, err)

	due, err := st.DueJobs(ctx, at)
	require.NoError(t, err)
	require.Len(t, due, 1)

	ok, err := st.MarkPublished(ctx, due[0].ID, at)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = st.MarkPublished(ctx, due[0].ID, at)
	require.NoError(t, err)
	assert.False(t, ok)

	due, err = st.DueJobs(ctx, at)
	require.NoError(t, err)
	assert.Empty(t, due)

	all, err := st.ListJobs(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, repost.StatusPublished, all[0].Status)
	assert.True(t, all[0].PublishedAt.Equal(at))
}

func TestDeletes(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	_, err := st.InsertJobs(ctx, []repost.Job{
		jobAt(1, 10, at),
		jobAt(1, 10, at.Add(time.Hour)),
		jobAt(1, 10, at.Add(2*time.Hour)),
		jobAt(3, 30, at),
	})
	require.NoError(t, err)

	ids, err := st.ScheduledIDs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, ids, 3)

	_, err = st.MarkPublished(ctx, ids[0], at)
	require.NoError(t, err)

	// published job is not removed by DeleteScheduled
	n, err := st.DeleteScheduled(ctx, 1, []int64{ids[0], ids[1]})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = st.DeleteByStatus(ctx, 1, repost.StatusPublished)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = st.DeleteAll(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	other, err := st.ListJobs(ctx, 3, 0)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestUpcomingJobs(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var jobs []repost.Job
	for i := 0; i < 5; i++ {
		jobs = append(jobs, jobAt(1, 10, at.Add(time.Duration(i)*time.Hour)))
	}
	_, err := st.InsertJobs(ctx, jobs)
	require.NoError(t, err)

	up, err := st.UpcomingJobs(ctx, 1, at.Add(time.Hour), 3)
	require.NoError(t, err)
	require.Len(t, up, 3)
	assert.True(t, up[0].PublishAt.Equal(at.Add(time.Hour)))
	assert.True(t, up[2].PublishAt.Equal(at.Add(3*time.Hour)))
}

func TestSettings_ColumnUpserts(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	_, ok, err := st.GetSettings(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.SetTimezone(ctx, 7, "Europe/Berlin"))
	row, ok, err := st.GetSettings(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Europe/Berlin", row.Timezone)
	assert.Empty(t, row.PublishTimes)
	assert.Zero(t, row.DaysOffset)

	require.NoError(t, st.SetPublishTimes(ctx, 7, "09:00,18:00"))
	require.NoError(t, st.SetDaysOffset(ctx, 7, 3))
	require.NoError(t, st.SetSendMode(ctx, 7, repost.ModeCopy))

	row, _, err = st.GetSettings(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, repost.StoredSettings{
		ChatID:       7,
		PublishTimes: "09:00,18:00",
		DaysOffset:   3,
		Timezone:     "Europe/Berlin",
		SendMode:     "copy",
	}, row)
}

func TestTarget_Upsert(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	_, ok, err := st.GetTarget(ctx, 5)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.SetTarget(ctx, repost.TargetBinding{ChatID: 5, TargetChatID: -1001, TargetUsername: "@first"}))
	require.NoError(t, st.SetTarget(ctx, repost.TargetBinding{ChatID: 5, TargetChatID: -1002}))

	b, ok, err := st.GetTarget(ctx, 5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, repost.TargetBinding{ChatID: 5, TargetChatID: -1002}, b)
}
