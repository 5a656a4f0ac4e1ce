package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"reposter/internal/repost"
	"reposter/internal/transport/telegram/router"
	"reposter/pkg/tgui"
)

const (
	upcomingInInfo = 3
	// rows per /list message; keeps one <pre> block under the Telegram limit
	listPageRows = 60
)

// OnForward schedules a forwarded post. It is installed as the router fallback.
func (h *Handlers) OnForward(ctx context.Context, req *router.Request) error {
	msg := req.Update.Message
	if msg == nil || !msg.Forwarded {
		return nil
	}
	if msg.Forward == nil {
		req.Reply(ctx, "Forward the post from a channel or group. Forwards from private users can't be reposted.")
		return nil
	}

	res, err := h.svc.FanOut(ctx, req.Chat.ChatID, repost.Source{ChatID: msg.Forward.ChatID, MessageID: msg.Forward.MessageID})
	if errors.Is(err, repost.ErrConfigurationMissing) {
		req.Reply(ctx, "⚠️ Publish times are not set. Use /set_time HH:MM and /day N first.")
		return nil
	}
	if err != nil {
		req.Reply(ctx, "⚠️ Could not schedule the post.")
		return err
	}

	st, _ := h.svc.GetSettings(ctx, req.Chat.ChatID)
	loc := h.location(ctx, req.Chat.ChatID)
	lines := []string{
		fmt.Sprintf("✅ Scheduled at %s for %d days.", repost.FormatClocks(st.PublishTimes), st.DaysOffset),
	}
	if res.Created < res.Planned {
		lines = append(lines, fmt.Sprintf("%d of %d slots were already scheduled.", res.Planned-res.Created, res.Planned))
	}
	if !res.First.IsZero() {
		lines = append(lines, fmt.Sprintf("First: %s, last: %s", formatLocal(res.First, loc), formatLocal(res.Last, loc)))
	}
	req.Reply(ctx, strings.Join(lines, "\n"))
	return nil
}

func (h *Handlers) cmdInfo(ctx context.Context, req *router.Request) error {
	chatID := req.Chat.ChatID
	st, err := h.svc.GetSettings(ctx, chatID)
	if err != nil {
		req.Reply(ctx, "⚠️ Could not load settings.")
		return err
	}
	loc := h.location(ctx, chatID)

	times := "not set"
	if len(st.PublishTimes) > 0 {
		times = repost.FormatClocks(st.PublishTimes)
	}
	target := "this chat"
	if b, ok, err := h.svc.Target(ctx, chatID); err == nil && ok {
		target = targetLabel(h.svc.DisplayName(ctx, b.TargetChatID), b)
	}

	b := tgui.New().
		Title("ℹ️", "Settings").
		KV("Times", times).
		KV("Days", strconv.Itoa(st.DaysOffset)).
		KV("Timezone", st.Timezone).
		KV("Mode", string(st.SendMode)).
		KVText("Target", target).
		Blank()

	next, err := h.svc.Upcoming(ctx, chatID, upcomingInInfo)
	if err != nil {
		req.Reply(ctx, "⚠️ Could not load upcoming reposts.")
		return err
	}
	if len(next) == 0 {
		b.Line("No upcoming reposts.")
	} else {
		b.Section("Next reposts")
		now := h.now()
		for _, j := range next {
			b.RawLine(fmt.Sprintf("• %s (in %s) from %s",
				formatLocal(j.PublishAt, loc), formatRemaining(j.PublishAt.Sub(now)),
				tgui.Code(fmt.Sprintf("%d/%d", j.SourceChatID, j.SourceMessageID))))
		}
	}
	req.ReplyHTML(ctx, b.String())
	return nil
}

func (h *Handlers) cmdList(ctx context.Context, req *router.Request) error {
	limit := 0
	if len(req.Args) > 0 {
		n, err := strconv.Atoi(req.Args[0])
		if err != nil || n <= 0 {
			req.Reply(ctx, "Usage: /list [limit]")
			return nil
		}
		limit = n
	}
	entries, err := h.svc.ListJobs(ctx, req.Chat.ChatID, limit)
	if err != nil {
		req.Reply(ctx, "⚠️ Could not load reposts.")
		return err
	}
	if len(entries) == 0 {
		req.Reply(ctx, "No reposts.")
		return nil
	}

	loc := h.location(ctx, req.Chat.ChatID)
	for start := 0; start < len(entries); start += listPageRows {
		end := min(start+listPageRows, len(entries))
		var b strings.Builder
		b.WriteString(fmt.Sprintf("%-4s %-16s %-22s %s\n", "#", "publish at", "source", "status"))
		for _, e := range entries[start:end] {
			no := "-"
			if e.Ordinal > 0 {
				no = strconv.Itoa(e.Ordinal)
			}
			src := fmt.Sprintf("%d/%d", e.Job.SourceChatID, e.Job.SourceMessageID)
			b.WriteString(fmt.Sprintf("%-4s %-16s %-22s %s\n", no, formatLocal(e.Job.PublishAt, loc), src, statusLabel(e.Job.Status)))
		}
		req.ReplyHTML(ctx, tgui.Pre(b.String()).String())
	}
	return nil
}

func (h *Handlers) cmdDelete(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		req.Reply(ctx, "Usage: /delete_repost N [N ...] (numbers from /list)")
		return nil
	}
	ordinals := make([]int, 0, len(req.Args))
	for _, a := range req.Args {
		n, err := strconv.Atoi(a)
		if err != nil {
			req.Reply(ctx, "❌ Numbers must be integers.")
			return nil
		}
		ordinals = append(ordinals, n)
	}

	res, err := h.svc.DeleteByOrdinals(ctx, req.Chat.ChatID, ordinals)
	if err != nil {
		req.Reply(ctx, "⚠️ Could not delete reposts.")
		return err
	}
	if res.Available == 0 {
		req.Reply(ctx, "No scheduled reposts to delete.")
		return nil
	}
	var lines []string
	for _, n := range res.OutOfRange {
		lines = append(lines, fmt.Sprintf("Number %d is out of range (1-%d).", n, res.Available))
	}
	if res.Deleted > 0 {
		lines = append(lines, fmt.Sprintf("🗑 Deleted %d scheduled reposts.", res.Deleted))
	} else {
		lines = append(lines, "Nothing deleted.")
	}
	req.Reply(ctx, strings.Join(lines, "\n"))
	return nil
}

func (h *Handlers) cmdClearSent(ctx context.Context, req *router.Request) error {
	n, err := h.svc.ClearPublished(ctx, req.Chat.ChatID)
	if err != nil {
		req.Reply(ctx, "⚠️ Could not delete published reposts.")
		return err
	}
	req.Reply(ctx, fmt.Sprintf("🗑 Deleted %d published reposts.", n))
	return nil
}

func (h *Handlers) cmdClearAll(ctx context.Context, req *router.Request) error {
	n, err := h.svc.ClearAll(ctx, req.Chat.ChatID)
	if err != nil {
		req.Reply(ctx, "⚠️ Could not delete reposts.")
		return err
	}
	req.Reply(ctx, fmt.Sprintf("🗑 Deleted all %d reposts.", n))
	return nil
}

func statusLabel(s repost.Status) string {
	if s == repost.StatusPublished {
		return "sent"
	}
	return "scheduled"
}

func formatLocal(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02 15:04")
}

// formatRemaining renders d as "2d 3h 4m", rounding down to the minute.
func formatRemaining(d time.Duration) string {
	if d < time.Minute {
		return "<1m"
	}
	d = d.Truncate(time.Minute)
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	mins := int((d - time.Duration(hours)*time.Hour) / time.Minute)

	var parts []string
	if days > 0 {
		parts = append(parts, strconv.Itoa(days)+"d")
	}
	if hours > 0 {
		parts = append(parts, strconv.Itoa(hours)+"h")
	}
	if mins > 0 || len(parts) == 0 {
		parts = append(parts, strconv.Itoa(mins)+"m")
	}
	return strings.Join(parts, " ")
}
