package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"reposter/internal/repost"
	"reposter/internal/transport/telegram/router"
	"reposter/pkg/tgui"
)

// Repost is the service surface the commands use.
type Repost interface {
	GetSettings(ctx context.Context, chatID int64) (repost.ChatSettings, error)
	SetTimes(ctx context.Context, chatID int64, times []string) ([]repost.Clock, error)
	SetHorizon(ctx context.Context, chatID int64, days int) error
	SetTimezone(ctx context.Context, chatID int64, tz string) error
	SetSendMode(ctx context.Context, chatID int64, mode string) (repost.SendMode, error)
	SetTarget(ctx context.Context, chatID int64, target string) (repost.TargetBinding, error)
	Target(ctx context.Context, chatID int64) (repost.TargetBinding, bool, error)
	DisplayName(ctx context.Context, chatID int64) string

	FanOut(ctx context.Context, chatID int64, src repost.Source) (repost.FanOutResult, error)
	ListJobs(ctx context.Context, chatID int64, limit int) ([]repost.Entry, error)
	DeleteByOrdinals(ctx context.Context, chatID int64, ordinals []int) (repost.DeleteResult, error)
	ClearPublished(ctx context.Context, chatID int64) (int, error)
	ClearAll(ctx context.Context, chatID int64) (int, error)
	Upcoming(ctx context.Context, chatID int64, n int) ([]repost.Job, error)
}

var _ Repost = (*repost.Service)(nil)

func (h *Handlers) cmdStart(ctx context.Context, req *router.Request) error {
	req.ReplyHTMLMarkup(ctx, tgui.New().
		Title("👋", "Repost bot").
		Blank().
		Line("Forward a post from a channel here and it is reposted every day at the configured times.").
		Blank().
		RawLine("1. "+tgui.Code("/set_time 09:00 18:00").String()+" publish times").
		RawLine("2. "+tgui.Code("/day 10").String()+" how many days").
		RawLine("3. "+tgui.Code("/set_timezone Asia/Bishkek").String()).
		RawLine("4. "+tgui.Code("/set_target @channel").String()+" optional destination").
		Blank().
		RawLine(tgui.Code("/info").String()+" shows the current settings, "+tgui.Code("/help").String()+" lists every command.").
		String(), startMenu().Markup())
	return nil
}

func startMenu() *tgui.Inline {
	return tgui.NewInline().
		Row(
			tgui.Btn("ℹ️ Info", tgui.Data(menuPrefix, "info", "")),
			tgui.Btn("🕒 Post times", tgui.Data(menuPrefix, "get_time", "")),
		).
		Row(tgui.Btn("📋 Reposts", tgui.Data(menuPrefix, "list", "")))
}

func (h *Handlers) cmdSetTime(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		req.Reply(ctx, "Usage: /set_time HH:MM [HH:MM ...]")
		return nil
	}
	cs, err := h.svc.SetTimes(ctx, req.Chat.ChatID, req.Args)
	if errors.Is(err, repost.ErrInvalidTime) {
		req.Reply(ctx, "❌ "+err.Error())
		return nil
	}
	if err != nil {
		req.Reply(ctx, "⚠️ Could not save publish times.")
		return err
	}
	req.Reply(ctx, "✅ Publish times: "+repost.FormatClocks(cs))
	return nil
}

func (h *Handlers) cmdGetTime(ctx context.Context, req *router.Request) error {
	st, err := h.svc.GetSettings(ctx, req.Chat.ChatID)
	if err != nil {
		req.Reply(ctx, "⚠️ Could not load settings.")
		return err
	}
	if len(st.PublishTimes) == 0 {
		req.Reply(ctx, "Publish times are not set. Use /set_time HH:MM")
		return nil
	}
	req.Reply(ctx, fmt.Sprintf("🕒 Publish times: %s (%s)", repost.FormatClocks(st.PublishTimes), st.Timezone))
	return nil
}

func (h *Handlers) cmdDay(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		req.Reply(ctx, "Usage: /day N")
		return nil
	}
	days, err := strconv.Atoi(req.Args[0])
	if err != nil {
		req.Reply(ctx, "❌ Days must be a number.")
		return nil
	}
	if err := h.svc.SetHorizon(ctx, req.Chat.ChatID, days); err != nil {
		if errors.Is(err, repost.ErrInvalidHorizon) {
			req.Reply(ctx, "❌ "+err.Error())
			return nil
		}
		req.Reply(ctx, "⚠️ Could not save days.")
		return err
	}
	req.Reply(ctx, fmt.Sprintf("✅ New posts are repeated for %d days.", days))
	return nil
}

func (h *Handlers) cmdSetTimezone(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		req.Reply(ctx, "Usage: /set_timezone Area/City")
		return nil
	}
	if err := h.svc.SetTimezone(ctx, req.Chat.ChatID, req.Args[0]); err != nil {
		if errors.Is(err, repost.ErrInvalidTimezone) {
			req.Reply(ctx, "❌ Unknown timezone. Example: /set_timezone Asia/Bishkek")
			return nil
		}
		req.Reply(ctx, "⚠️ Could not save timezone.")
		return err
	}
	req.Reply(ctx, "✅ Timezone: "+req.Args[0]+". Already scheduled reposts keep their times.")
	return nil
}

func (h *Handlers) cmdSetMode(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		req.Reply(ctx, "Usage: /set_mode forward|copy")
		return nil
	}
	mode, err := h.svc.SetSendMode(ctx, req.Chat.ChatID, req.Args[0])
	if errors.Is(err, repost.ErrInvalidSendMode) {
		req.Reply(ctx, "❌ "+err.Error())
		return nil
	}
	if err != nil {
		req.Reply(ctx, "⚠️ Could not save send mode.")
		return err
	}
	req.Reply(ctx, "✅ Send mode: "+string(mode))
	return nil
}

func (h *Handlers) cmdSetTarget(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		req.Reply(ctx, "Usage: /set_target @channel or /set_target -100123")
		return nil
	}
	b, err := h.svc.SetTarget(ctx, req.Chat.ChatID, req.Args[0])
	if errors.Is(err, repost.ErrInvalidTarget) {
		req.Reply(ctx, "❌ Could not find "+req.Args[0]+". Make sure the bot is a member of that chat.")
		return nil
	}
	if err != nil {
		req.Reply(ctx, "⚠️ Could not save target.")
		return err
	}
	req.Reply(ctx, "✅ Target: "+targetLabel(h.svc.DisplayName(ctx, b.TargetChatID), b))
	return nil
}

func targetLabel(name string, b repost.TargetBinding) string {
	out := name
	if u := "@" + strings.TrimPrefix(b.TargetUsername, "@"); b.TargetUsername != "" && u != name {
		out += " (" + u + ")"
	}
	if name != strconv.FormatInt(b.TargetChatID, 10) {
		out += fmt.Sprintf(" [%d]", b.TargetChatID)
	}
	return out
}
