// Package commands implements the chat commands of the repost bot on top of
// the repost service.
package commands

import (
	"context"
	"time"

	"reposter/internal/repost"
	"reposter/internal/task/engine"
	"reposter/internal/task/scheduler"
	"reposter/internal/transport/telegram/router"
)

// EngineStatus is the part of the task engine /status reads.
type EngineStatus interface {
	Snapshot() engine.Snapshot
}

// SchedulerStatus is the part of the scheduler /status reads.
type SchedulerStatus interface {
	Snapshot() scheduler.Snapshot
}

// Handlers holds the dependencies shared by every command.
type Handlers struct {
	svc       Repost
	engine    EngineStatus
	scheduler SchedulerStatus
	now       func() time.Time
	startedAt time.Time
}

type Option func(*Handlers)

func WithClock(now func() time.Time) Option {
	return func(h *Handlers) { h.now = now }
}

func WithStatus(eng EngineStatus, sched SchedulerStatus) Option {
	return func(h *Handlers) {
		h.engine = eng
		h.scheduler = sched
	}
}

func New(svc Repost, opts ...Option) *Handlers {
	h := &Handlers{svc: svc, now: time.Now}
	for _, o := range opts {
		o(h)
	}
	h.startedAt = h.now()
	return h
}

// Commands returns the command registry in menu order.
func (h *Handlers) Commands() []router.Command {
	return []router.Command{
		{Route: "start", Description: "introduction", Handle: h.cmdStart},
		{Route: "set_time", Aliases: []string{"settime"}, Description: "set publish times", Usage: "/set_time HH:MM [HH:MM ...]", Handle: h.cmdSetTime},
		{Route: "get_time", Aliases: []string{"gettime"}, Description: "show publish times", Handle: h.cmdGetTime},
		{Route: "day", Aliases: []string{"days"}, Description: "set how many days to repost", Usage: "/day N", Handle: h.cmdDay},
		{Route: "set_timezone", Aliases: []string{"tz"}, Description: "set the chat timezone", Usage: "/set_timezone Asia/Bishkek", Handle: h.cmdSetTimezone},
		{Route: "set_mode", Aliases: []string{"mode"}, Description: "forward or copy", Usage: "/set_mode forward|copy", Handle: h.cmdSetMode},
		{Route: "set_target", Aliases: []string{"target"}, Description: "deliver to another chat", Usage: "/set_target @channel|-100123", Timeout: 15 * time.Second, Handle: h.cmdSetTarget},
		{Route: "info", Description: "settings and next reposts", Timeout: 15 * time.Second, Handle: h.cmdInfo},
		{Route: "list", Aliases: []string{"ls"}, Description: "list reposts", Usage: "/list [limit]", Handle: h.cmdList},
		{Route: "delete_repost", Aliases: []string{"del"}, Description: "delete scheduled reposts by number", Usage: "/delete_repost N [N ...]", Handle: h.cmdDelete},
		{Route: "clear_sent", Description: "delete published reposts", Handle: h.cmdClearSent},
		{Route: "clear_all", Description: "delete all reposts", Handle: h.cmdClearAll},
		{Route: "status", Description: "runtime status", Access: router.AccessOwnerOnly, Handle: h.cmdStatus},
	}
}

const menuPrefix = "menu"

// Callbacks returns the routes of the /start menu buttons.
func (h *Handlers) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Prefix: menuPrefix, Action: "info", Timeout: 15 * time.Second, Handle: asCallback(h.cmdInfo)},
		{Prefix: menuPrefix, Action: "get_time", Handle: asCallback(h.cmdGetTime)},
		{Prefix: menuPrefix, Action: "list", Handle: asCallback(h.cmdList)},
	}
}

// asCallback runs a command handler for a button press, without arguments.
func asCallback(fn router.HandlerFunc) router.CallbackHandlerFunc {
	return func(ctx context.Context, req *router.Request, _ string) error {
		return fn(ctx, req)
	}
}

// location returns the tenant's timezone for display, UTC when unusable.
func (h *Handlers) location(ctx context.Context, chatID int64) *time.Location {
	st, err := h.svc.GetSettings(ctx, chatID)
	if err != nil {
		return time.UTC
	}
	if loc, err := repost.LoadTimezone(st.Timezone); err == nil {
		return loc
	}
	return time.UTC
}
