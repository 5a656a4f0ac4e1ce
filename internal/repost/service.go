package repost

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	logx "reposter/pkg/logx"
)

const maxDaysOffset = 366

// Service is the tenant facing side of the engine: settings, fan-out and listing.
type Service struct {
	store    Store
	dir      Directory
	defaults atomic.Pointer[Defaults]
	now      func() time.Time
	log      logx.Logger
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, dir Directory, defaults Defaults, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{store: store, dir: dir, now: time.Now, log: log}
	s.SetDefaults(defaults)
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetDefaults swaps the defaults used for unset settings. Safe during hot reload.
func (s *Service) SetDefaults(d Defaults) {
	d.PublishTimes = append([]Clock(nil), d.PublishTimes...)
	s.defaults.Store(&d)
}

func (s *Service) Defaults() Defaults { return *s.defaults.Load() }

// GetSettings returns the effective settings of chatID. A tenant without a row
// gets the defaults; a tenant with a row but no publish times gets none.
func (s *Service) GetSettings(ctx context.Context, chatID int64) (ChatSettings, error) {
	def := s.Defaults()
	out := ChatSettings{
		ChatID:       chatID,
		PublishTimes: def.PublishTimes,
		DaysOffset:   def.DaysOffset,
		Timezone:     def.Timezone,
		SendMode:     def.SendMode,
	}
	row, ok, err := s.store.GetSettings(ctx, chatID)
	if err != nil {
		return ChatSettings{}, fmt.Errorf("load settings: %w", err)
	}
	if !ok {
		return out, nil
	}

	out.PublishTimes = nil
	for _, raw := range splitClocks(row.PublishTimes) {
		c, err := ParseClock(raw)
		if err != nil {
			s.log.Warn("skipping stored publish time", logx.Int64("chat_id", chatID), logx.String("value", raw))
			continue
		}
		out.PublishTimes = append(out.PublishTimes, c)
	}
	if row.DaysOffset > 0 {
		out.DaysOffset = row.DaysOffset
	}
	if row.Timezone != "" {
		out.Timezone = row.Timezone
	}
	if m, err := ParseSendMode(row.SendMode); err == nil {
		out.SendMode = m
	}
	return out, nil
}

// SendMode reads the live send mode of chatID.
func (s *Service) SendMode(ctx context.Context, chatID int64) (SendMode, error) {
	st, err := s.GetSettings(ctx, chatID)
	if err != nil {
		return "", err
	}
	return st.SendMode, nil
}

func (s *Service) SetTimes(ctx context.Context, chatID int64, times []string) ([]Clock, error) {
	if len(times) == 0 {
		return nil, ErrInvalidTime
	}
	cs, err := ParseClocks(times)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetPublishTimes(ctx, chatID, FormatClocks(cs)); err != nil {
		return nil, fmt.Errorf("save publish times: %w", err)
	}
	return cs, nil
}

func (s *Service) SetHorizon(ctx context.Context, chatID int64, days int) error {
	if days <= 0 || days > maxDaysOffset {
		return ErrInvalidHorizon
	}
	if err := s.store.SetDaysOffset(ctx, chatID, days); err != nil {
		return fmt.Errorf("save days offset: %w", err)
	}
	return nil
}

// SetTimezone stores tz after validating it. Existing jobs keep their instants.
func (s *Service) SetTimezone(ctx context.Context, chatID int64, tz string) error {
	loc, err := LoadTimezone(tz)
	if err != nil {
		return err
	}
	if err := s.store.SetTimezone(ctx, chatID, loc.String()); err != nil {
		return fmt.Errorf("save timezone: %w", err)
	}
	return nil
}

func (s *Service) SetSendMode(ctx context.Context, chatID int64, mode string) (SendMode, error) {
	m, err := ParseSendMode(mode)
	if err != nil {
		return "", err
	}
	if err := s.store.SetSendMode(ctx, chatID, m); err != nil {
		return "", fmt.Errorf("save send mode: %w", err)
	}
	return m, nil
}

// SetTarget binds chatID to a destination given as "@username" or a numeric chat id.
func (s *Service) SetTarget(ctx context.Context, chatID int64, target string) (TargetBinding, error) {
	target = strings.TrimSpace(target)
	b := TargetBinding{ChatID: chatID}
	switch {
	case strings.HasPrefix(target, "@") && len(target) > 1:
		if s.dir == nil {
			return TargetBinding{}, fmt.Errorf("%w: cannot resolve %s", ErrInvalidTarget, target)
		}
		id, username, err := s.dir.ResolveUsername(ctx, target)
		if err != nil {
			return TargetBinding{}, fmt.Errorf("%w: %s: %v", ErrInvalidTarget, target, err)
		}
		b.TargetChatID, b.TargetUsername = id, username
	default:
		id, err := strconv.ParseInt(target, 10, 64)
		if err != nil || id == 0 {
			return TargetBinding{}, fmt.Errorf("%w: %q", ErrInvalidTarget, target)
		}
		b.TargetChatID = id
	}
	if err := s.store.SetTarget(ctx, b); err != nil {
		return TargetBinding{}, fmt.Errorf("save target: %w", err)
	}
	return b, nil
}

func (s *Service) Target(ctx context.Context, chatID int64) (TargetBinding, bool, error) {
	return s.store.GetTarget(ctx, chatID)
}

// DisplayName is best effort; it falls back to the numeric id.
func (s *Service) DisplayName(ctx context.Context, chatID int64) string {
	if s.dir != nil {
		if name, err := s.dir.DisplayName(ctx, chatID); err == nil && name != "" {
			return name
		}
	}
	return strconv.FormatInt(chatID, 10)
}

// FanOut expands one piece of content into days_offset × len(publish_times)
// jobs, computed in the tenant's timezone at call time.
func (s *Service) FanOut(ctx context.Context, chatID int64, src Source) (FanOutResult, error) {
	st, err := s.GetSettings(ctx, chatID)
	if err != nil {
		return FanOutResult{}, err
	}
	if len(st.PublishTimes) == 0 || st.DaysOffset <= 0 {
		return FanOutResult{}, ErrConfigurationMissing
	}
	loc, err := LoadTimezone(st.Timezone)
	if err != nil {
		return FanOutResult{}, err
	}

	now := s.now()
	slots := Slots(now, loc, st.DaysOffset, st.PublishTimes)
	jobs := make([]Job, 0, len(slots))
	res := FanOutResult{Planned: len(slots)}
	for _, at := range slots {
		jobs = append(jobs, Job{
			ChatID:          chatID,
			SourceChatID:    src.ChatID,
			SourceMessageID: src.MessageID,
			PublishAt:       at,
			Status:          StatusScheduled,
			CreatedAt:       now.UTC(),
		})
		if res.First.IsZero() || at.Before(res.First) {
			res.First = at
		}
		if at.After(res.Last) {
			res.Last = at
		}
	}

	created, err := s.store.InsertJobs(ctx, jobs)
	if err != nil {
		return FanOutResult{}, fmt.Errorf("insert jobs: %w", err)
	}
	res.Created = created
	s.log.Info("fan-out",
		logx.Int64("chat_id", chatID),
		logx.Int64("source_chat_id", src.ChatID),
		logx.Int("source_message_id", src.MessageID),
		logx.Int("planned", res.Planned),
		logx.Int("created", res.Created),
		logx.String("tz", loc.String()),
	)
	return res, nil
}
