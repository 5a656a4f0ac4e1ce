//go:build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"reposter/internal/repost"
	logx "reposter/pkg/logx"
)

func setupPostgres(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("reposter"),
		postgres.WithUsername("reposter"),
		postgres.WithPassword("reposter"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	st, err := Open(ctx, Config{Driver: "postgres", DSN: dsn}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestPostgres_JobLifecycle(t *testing.T) {
	ctx := context.Background()
	st := setupPostgres(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	n, err := st.InsertJobs(ctx, []repost.Job{jobAt(1, 10, at), jobAt(1, 10, at)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, st.SetTarget(ctx, repost.TargetBinding{ChatID: 1, TargetChatID: -100}))
	due, err := st.DueJobs(ctx, at)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, int64(-100), due[0].Destination)

	ok, err := st.MarkPublished(ctx, due[0].ID, at)
	require.NoError(t, err)
	assert.True(t, ok)

	ids, err := st.ScheduledIDs(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, ids)

	deleted, err := st.DeleteByStatus(ctx, 1, repost.StatusPublished)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}

func TestPostgres_Settings(t *testing.T) {
	ctx := context.Background()
	st := setupPostgres(t)

	require.NoError(t, st.SetPublishTimes(ctx, 9, "10:00"))
	require.NoError(t, st.SetSendMode(ctx, 9, repost.ModeCopy))
	row, ok, err := st.GetSettings(ctx, 9)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "10:00", row.PublishTimes)
	assert.Equal(t, "copy", row.SendMode)
	assert.Empty(t, row.Timezone)
}
