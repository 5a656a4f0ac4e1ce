package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reposter/internal/config"
)

func TestMapStorageConfigDefaults(t *testing.T) {
	sc, err := mapStorageConfig(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, "./data/reposter.db", sc.Path)
	assert.Equal(t, 5*time.Second, sc.BusyTimeout)

	sc, err = mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: " Postgres ", DSN: " postgres://db "}})
	require.NoError(t, err)
	assert.Equal(t, "postgres", sc.Driver)
	assert.Empty(t, sc.Path)
	assert.Equal(t, "postgres://db", sc.DSN)

	_, err = mapStorageConfig(&config.Config{Storage: config.StorageConfig{BusyTimeout: "soon"}})
	assert.Error(t, err)
}

func TestMapDeliveryConfig(t *testing.T) {
	cfg := &config.Config{Delivery: config.DeliveryConfig{
		Attempts:      5,
		RetryInterval: "2s",
		TaskTimeout:   "30s",
		MaxInFlight:   4,
		HistorySize:   10,
	}}
	ec, err := mapEngineConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, ec.DefaultTimeout)
	assert.Equal(t, 4, ec.MaxInFlight)
	assert.Equal(t, 10, ec.HistorySize)
	assert.Equal(t, 5, ec.Retry.Attempts)
	assert.Equal(t, 2*time.Second, ec.Retry.Interval)

	xc, err := mapExecutorConfig(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, defaultAttempts, xc.Attempts)
	assert.Equal(t, defaultRetryInterval, xc.RetryInterval)
}

func TestMapLogAndSchedulerConfig(t *testing.T) {
	cfg := &config.Config{
		Logging: config.LoggingConfig{
			Level:    "debug",
			Telegram: config.LoggingTelegram{Enabled: true, ThreadID: 7, MinLevel: "warn"},
		},
		Scheduler: config.SchedulerConfig{Enabled: true, Timezone: " Europe/Berlin "},
	}
	lc := mapLogConfig(cfg)
	assert.Equal(t, "debug", lc.Level)
	assert.True(t, lc.Telegram.Enabled)
	assert.Equal(t, 7, lc.Telegram.ThreadID)

	sc := mapSchedulerConfig(cfg)
	assert.True(t, sc.Enabled)
	assert.Equal(t, "Europe/Berlin", sc.Timezone)
}
