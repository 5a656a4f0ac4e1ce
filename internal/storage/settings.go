package storage

import (
	"context"
	"database/sql"
	"errors"

	"reposter/internal/repost"
)

func (s *SQLStore) GetSettings(ctx context.Context, chatID int64) (repost.StoredSettings, bool, error) {
	var row settingsRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT chat_id, publish_times, days_offset, timezone, send_mode FROM chat_settings WHERE chat_id = ?`), chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return repost.StoredSettings{}, false, nil
	}
	if err != nil {
		return repost.StoredSettings{}, false, err
	}
	return repost.StoredSettings{
		ChatID:       row.ChatID,
		PublishTimes: row.PublishTimes.String,
		DaysOffset:   int(row.DaysOffset.Int64),
		Timezone:     row.Timezone.String,
		SendMode:     row.SendMode.String,
	}, true, nil
}

func (s *SQLStore) SetPublishTimes(ctx context.Context, chatID int64, times string) error {
	return s.upsertSetting(ctx, `INSERT INTO chat_settings (chat_id, publish_times, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (chat_id) DO UPDATE SET publish_times = excluded.publish_times, updated_at = excluded.updated_at`,
		chatID, nullStr(times))
}

func (s *SQLStore) SetDaysOffset(ctx context.Context, chatID int64, days int) error {
	return s.upsertSetting(ctx, `INSERT INTO chat_settings (chat_id, days_offset, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (chat_id) DO UPDATE SET days_offset = excluded.days_offset, updated_at = excluded.updated_at`,
		chatID, days)
}

func (s *SQLStore) SetTimezone(ctx context.Context, chatID int64, tz string) error {
	return s.upsertSetting(ctx, `INSERT INTO chat_settings (chat_id, timezone, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (chat_id) DO UPDATE SET timezone = excluded.timezone, updated_at = excluded.updated_at`,
		chatID, nullStr(tz))
}

func (s *SQLStore) SetSendMode(ctx context.Context, chatID int64, mode repost.SendMode) error {
	return s.upsertSetting(ctx, `INSERT INTO chat_settings (chat_id, send_mode, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (chat_id) DO UPDATE SET send_mode = excluded.send_mode, updated_at = excluded.updated_at`,
		chatID, nullStr(string(mode)))
}

func (s *SQLStore) upsertSetting(ctx context.Context, q string, chatID int64, value any) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(q), chatID, value, s.now().Unix())
	return err
}

func (s *SQLStore) GetTarget(ctx context.Context, chatID int64) (repost.TargetBinding, bool, error) {
	var row targetRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT chat_id, target_chat_id, target_username FROM chat_targets WHERE chat_id = ?`), chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return repost.TargetBinding{}, false, nil
	}
	if err != nil {
		return repost.TargetBinding{}, false, err
	}
	return repost.TargetBinding{
		ChatID:         row.ChatID,
		TargetChatID:   row.TargetChatID,
		TargetUsername: row.TargetUsername.String,
	}, true, nil
}

func (s *SQLStore) SetTarget(ctx context.Context, b repost.TargetBinding) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO chat_targets (chat_id, target_chat_id, target_username, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (chat_id) DO UPDATE SET target_chat_id = excluded.target_chat_id,
		     target_username = excluded.target_username, updated_at = excluded.updated_at`),
		b.ChatID, b.TargetChatID, nullStr(b.TargetUsername), s.now().Unix())
	return err
}

var _ repost.Store = (*SQLStore)(nil)
