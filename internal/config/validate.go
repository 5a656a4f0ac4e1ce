package config

import (
	"errors"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"reposter/internal/repost"
)

const DefaultDispatchSpec = "* * * * *"

var specParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks everything that can be checked without side effects. It is
// used both at startup and before a hot reload is committed.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, fmt.Errorf("telegram.token is required (or set %s)", EnvTelegramToken))
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.Telegram.GroupLogChatID(); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3":
	case "postgres", "postgresql", "pg":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			errs = append(errs, fmt.Errorf("storage.dsn is required for postgres (or set %s)", EnvStorageDSN))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	if err := validateDispatchSpec(cfg.Scheduler.DispatchSpec()); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.spec: %w", err))
	}
	if _, err := ParseDurationField("scheduler.tick_timeout", cfg.Scheduler.TickTimeout); err != nil {
		errs = append(errs, err)
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}

	if cfg.Delivery.Attempts < 0 || cfg.Delivery.MaxInFlight < 0 || cfg.Delivery.HistorySize < 0 {
		errs = append(errs, errors.New("delivery: attempts, max_in_flight and history_size must be >= 0"))
	}
	if _, err := ParseDurationField("delivery.retry_interval", cfg.Delivery.RetryInterval); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("delivery.task_timeout", cfg.Delivery.TaskTimeout); err != nil {
		errs = append(errs, err)
	}

	if _, err := cfg.Defaults.Resolve(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// validateDispatchSpec rejects schedules that can fire twice within one
// minute: dispatch selects by minute, so a second tick would pick the same jobs.
func validateDispatchSpec(spec string) error {
	sched, err := specParser.Parse(spec)
	if err != nil {
		return err
	}
	switch sc := sched.(type) {
	case *cron.SpecSchedule:
		if bits.OnesCount64(sc.Second&(1<<60-1)) > 1 {
			return fmt.Errorf("%q fires more than once per minute", spec)
		}
	case cron.ConstantDelaySchedule:
		if sc.Delay < time.Minute {
			return fmt.Errorf("%q fires more than once per minute", spec)
		}
	}
	return nil
}

// GroupLogChatID parses group_log. Empty means no operator chat.
func (t TelegramConfig) GroupLogChatID() (int64, error) {
	s := strings.TrimSpace(t.GroupLog)
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram.group_log: want a numeric chat id, got %q", t.GroupLog)
	}
	return id, nil
}

// Resolve merges the configured defaults over the built-in ones.
func (d DefaultsConfig) Resolve() (repost.Defaults, error) {
	out := repost.DefaultDefaults()
	if len(d.PublishTimes) > 0 {
		cs, err := repost.ParseClocks(d.PublishTimes)
		if err != nil {
			return repost.Defaults{}, fmt.Errorf("defaults.publish_times: %w", err)
		}
		out.PublishTimes = cs
	}
	if d.DaysOffset != 0 {
		if d.DaysOffset < 1 || d.DaysOffset > 366 {
			return repost.Defaults{}, fmt.Errorf("defaults.days_offset: %w", repost.ErrInvalidHorizon)
		}
		out.DaysOffset = d.DaysOffset
	}
	if tz := strings.TrimSpace(d.Timezone); tz != "" {
		loc, err := repost.LoadTimezone(tz)
		if err != nil {
			return repost.Defaults{}, fmt.Errorf("defaults.timezone: %w", err)
		}
		out.Timezone = loc.String()
	}
	if m := strings.TrimSpace(d.SendMode); m != "" {
		mode, err := repost.ParseSendMode(m)
		if err != nil {
			return repost.Defaults{}, fmt.Errorf("defaults.send_mode: %w", err)
		}
		out.SendMode = mode
	}
	return out, nil
}

// DispatchSpec returns the cron spec of the dispatch tick.
func (s SchedulerConfig) DispatchSpec() string {
	if v := strings.TrimSpace(s.Spec); v != "" {
		return v
	}
	return DefaultDispatchSpec
}
