package commands

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"reposter/internal/transport/telegram/router"
	"reposter/pkg/tgui"
)

const statusHistory = 10

func (h *Handlers) cmdStatus(ctx context.Context, req *router.Request) error {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	b := tgui.New().
		Title("🩺", "Status").
		Line(fmt.Sprintf("uptime: %s", h.now().Sub(h.startedAt).Truncate(time.Second))).
		Line(fmt.Sprintf("goroutines: %d  heap: %.1f MiB", runtime.NumGoroutine(), float64(m.HeapAlloc)/(1<<20)))

	if h.scheduler != nil {
		s := h.scheduler.Snapshot()
		state := "disabled"
		if s.Enabled && s.Running {
			state = "running"
		} else if s.Enabled {
			state = "stopped"
		}
		b.Blank().RawLine(fmt.Sprintf("%s %s (%s)", tgui.B("Scheduler"), state, tgui.Esc(s.Timezone)))
		for _, e := range s.Schedules {
			next := "-"
			if !e.Next.IsZero() {
				next = e.Next.Format("15:04:05")
			}
			b.RawLine(fmt.Sprintf("• %s %s next %s", tgui.Esc(e.Name), tgui.Code(e.Spec), next))
		}
	}

	if h.engine != nil {
		s := h.engine.Snapshot()
		b.Blank().
			Section("Deliveries").
			Line(fmt.Sprintf("in flight: %d  submitted: %d  failed: %d", s.InFlight, s.Submitted, s.Failed)).
			Line(fmt.Sprintf("retry: %d attempts every %s", s.Policy.Attempts, s.Policy.Interval))
		hist := s.History
		if len(hist) > statusHistory {
			hist = hist[len(hist)-statusHistory:]
		}
		for i := len(hist) - 1; i >= 0; i-- {
			it := hist[i]
			mark := "✅"
			if it.Error != "" {
				mark = "❌"
			}
			line := fmt.Sprintf("%s %s %s %s", mark, it.Started.Format("15:04:05"), it.ID, it.Duration.Truncate(time.Millisecond))
			if it.Error != "" {
				line += " " + tgui.TruncRunes(it.Error, 80)
			}
			b.Line(line)
		}
	}

	req.ReplyHTML(ctx, b.String())
	return nil
}
