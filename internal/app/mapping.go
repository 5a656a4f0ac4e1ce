package app

import (
	"strings"
	"time"

	"reposter/internal/config"
	"reposter/internal/repost"
	"reposter/internal/storage"
	"reposter/internal/task/engine"
	"reposter/internal/task/scheduler"
	logx "reposter/pkg/logx"
)

const (
	defaultPollTimeout   = 10 * time.Second
	defaultTickTimeout   = 50 * time.Second
	defaultTaskTimeout   = 2 * time.Minute
	defaultRetryInterval = 5 * time.Second
	defaultAttempts      = 3
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "sqlite3" {
		driver = "sqlite"
	}
	path := strings.TrimSpace(sc.Path)
	if driver == "sqlite" && path == "" {
		path = "./data/reposter.db"
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        path,
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
		MaxOpenConn: sc.MaxOpenConn,
	}, nil
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	d := cfg.Delivery
	timeout, err := config.ParseDurationOrDefault("delivery.task_timeout", d.TaskTimeout, defaultTaskTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	ex, err := mapExecutorConfig(cfg)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		DefaultTimeout: timeout,
		MaxInFlight:    d.MaxInFlight,
		HistorySize:    d.HistorySize,
		Retry:          engine.Policy{Attempts: ex.Attempts, Interval: ex.RetryInterval},
	}, nil
}

func mapExecutorConfig(cfg *config.Config) (repost.ExecutorConfig, error) {
	interval, err := config.ParseDurationOrDefault("delivery.retry_interval", cfg.Delivery.RetryInterval, defaultRetryInterval)
	if err != nil {
		return repost.ExecutorConfig{}, err
	}
	attempts := cfg.Delivery.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	return repost.ExecutorConfig{Attempts: attempts, RetryInterval: interval}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: strings.TrimSpace(cfg.Scheduler.Timezone),
	}
}
