package commands

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	tele "gopkg.in/telebot.v4"

	"reposter/internal/repost"
	"reposter/internal/storage"
	"reposter/internal/task/engine"
	"reposter/internal/task/scheduler"
	kit "reposter/internal/transport"
	"reposter/internal/transport/telegram/router"
	logx "reposter/pkg/logx"
	"reposter/pkg/tgui"
)

const tenant = int64(-1001)

type recorder struct {
	mu      sync.Mutex
	msgs    []string
	html    []bool
	markups []any
}

func (r *recorder) Start(context.Context, chan<- kit.Update) error { return nil }
func (r *recorder) Stop(context.Context) error                     { return nil }

func (r *recorder) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, text)
	r.html = append(r.html, opt != nil && opt.ParseMode == "HTML")
	var markup any
	if opt != nil {
		markup = opt.ReplyMarkup
	}
	r.markups = append(r.markups, markup)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (r *recorder) lastMarkup() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.markups) == 0 {
		return nil
	}
	return r.markups[len(r.markups)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (r *recorder) since(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs[n:]...)
}

func (r *recorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		return ""
	}
	return r.msgs[len(r.msgs)-1]
}

type directory struct{}

func (directory) DisplayName(_ context.Context, chatID int64) (string, error) {
	if chatID == -100900 {
		return "Archive", nil
	}
	return "", errors.New("chat not found")
}

func (directory) ResolveUsername(_ context.Context, username string) (int64, string, error) {
	if username == "@archive" {
		return -100900, "@archive", nil
	}
	return 0, "", errors.New("chat not found")
}

type engineStub struct{ snap engine.Snapshot }

func (e engineStub) Snapshot() engine.Snapshot { return e.snap }

type schedulerStub struct{ snap scheduler.Snapshot }

func (s schedulerStub) Snapshot() scheduler.Snapshot { return s.snap }

type CommandsSuite struct {
	suite.Suite

	now   time.Time
	svc   *repost.Service
	h     *Handlers
	reply *recorder
}

func TestCommandsSuite(t *testing.T) {
	suite.Run(t, new(CommandsSuite))
}

func (s *CommandsSuite) SetupTest() {
	st, err := storage.Open(context.Background(), storage.Config{
		Driver: "sqlite",
		Path:   filepath.Join(s.T().TempDir(), "reposter.db"),
	}, logx.Nop())
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = st.Close() })

	s.now = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return s.now }
	s.svc = repost.NewService(st, directory{}, repost.DefaultDefaults(), logx.Nop(), repost.WithClock(clock))
	s.h = New(s.svc,
		WithClock(clock),
		WithStatus(
			engineStub{snap: engine.Snapshot{Submitted: 2, Failed: 1, Policy: engine.Policy{Attempts: 3, Interval: 5 * time.Second},
				History: []engine.HistoryItem{{ID: "repost-7", Name: "repost.deliver", Started: s.now, Error: "transient: timeout"}}}},
			schedulerStub{snap: scheduler.Snapshot{Enabled: true, Running: true, Timezone: "UTC",
				Schedules: []scheduler.ScheduleInfo{{Name: "repost.dispatch", Spec: "* * * * *"}}}},
		),
	)
	s.reply = &recorder{}
}

func (s *CommandsSuite) run(fn router.HandlerFunc, args ...string) string {
	req := &router.Request{
		Update:  kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: tenant}},
		Chat:    kit.ChatTarget{ChatID: tenant},
		Args:    args,
		Adapter: s.reply,
		Logger:  logx.Nop(),
	}
	s.Require().NoError(fn(context.Background(), req))
	return s.reply.last()
}

// press invokes the callback route for data as a button press in the tenant chat.
func (s *CommandsSuite) press(data string) string {
	prefix, action, payload, ok := tgui.ParseData(data)
	s.Require().True(ok, data)
	for _, r := range s.h.Callbacks() {
		if r.Prefix != prefix || r.Action != action {
			continue
		}
		req := &router.Request{
			Update:  kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "1", ChatID: tenant, Data: data}},
			Chat:    kit.ChatTarget{ChatID: tenant},
			Command: "cb:" + data,
			Payload: payload,
			Adapter: s.reply,
			Logger:  logx.Nop(),
		}
		s.Require().NoError(r.Handle(context.Background(), req, payload))
		return s.reply.last()
	}
	s.FailNow("no callback route", data)
	return ""
}

func (s *CommandsSuite) forward(src kit.ForwardOrigin) string {
	req := &router.Request{
		Update: kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
			ChatID: tenant, Forwarded: true, Forward: &src,
		}},
		Chat:    kit.ChatTarget{ChatID: tenant},
		Adapter: s.reply,
		Logger:  logx.Nop(),
	}
	s.Require().NoError(s.h.OnForward(context.Background(), req))
	return s.reply.last()
}

func (s *CommandsSuite) configure() {
	s.run(s.h.cmdSetTimezone, "UTC")
	s.run(s.h.cmdSetTime, "09:00", "18:00")
	s.run(s.h.cmdDay, "2")
}

func (s *CommandsSuite) TestRegistryRoutesAreUnique() {
	seen := map[string]bool{}
	for _, c := range s.h.Commands() {
		s.False(seen[c.Route], c.Route)
		seen[c.Route] = true
		s.NotNil(c.Handle, c.Route)
	}
	s.True(seen["delete_repost"])
	s.True(seen["status"])
}

func (s *CommandsSuite) TestSettingsCommands() {
	s.Contains(s.run(s.h.cmdSetTime, "9:00", "18:30"), "09:00,18:30")
	s.Contains(s.run(s.h.cmdSetTime, "25:00"), "❌")
	s.Contains(s.run(s.h.cmdSetTime), "Usage")

	s.Contains(s.run(s.h.cmdDay, "abc"), "number")
	s.Contains(s.run(s.h.cmdDay, "0"), "between 1 and 366")
	s.Contains(s.run(s.h.cmdDay, "5"), "5 days")

	s.Contains(s.run(s.h.cmdSetTimezone, "Mars/Olympus"), "Unknown timezone")
	s.Contains(s.run(s.h.cmdSetTimezone, "Europe/Berlin"), "Europe/Berlin")

	s.Contains(s.run(s.h.cmdSetMode, "teleport"), "❌")
	s.Contains(s.run(s.h.cmdSetMode, "COPY"), "copy")

	s.Contains(s.run(s.h.cmdGetTime), "09:00,18:30 (Europe/Berlin)")

	st, err := s.svc.GetSettings(context.Background(), tenant)
	s.Require().NoError(err)
	s.Equal(5, st.DaysOffset)
	s.Equal(repost.ModeCopy, st.SendMode)
}

func (s *CommandsSuite) TestSetTarget() {
	s.Contains(s.run(s.h.cmdSetTarget, "@nobody"), "Could not find @nobody")
	s.Equal("✅ Target: Archive (@archive) [-100900]", s.run(s.h.cmdSetTarget, "@archive"))
	s.Equal("✅ Target: -100555", s.run(s.h.cmdSetTarget, "-100555"))
}

func (s *CommandsSuite) TestForwardSchedulesPost() {
	s.configure()

	out := s.forward(kit.ForwardOrigin{ChatID: -100777, MessageID: 55})
	s.Contains(out, "Scheduled at 09:00,18:00 for 2 days")
	s.Contains(out, "First: 2024-01-01 09:00, last: 2024-01-02 18:00")

	out = s.forward(kit.ForwardOrigin{ChatID: -100777, MessageID: 55})
	s.Contains(out, "4 of 4 slots were already scheduled")

	entries, err := s.svc.ListJobs(context.Background(), tenant, 0)
	s.Require().NoError(err)
	s.Len(entries, 4)
}

func (s *CommandsSuite) TestForwardWithoutOriginChat() {
	req := &router.Request{
		Update:  kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: tenant, Forwarded: true}},
		Chat:    kit.ChatTarget{ChatID: tenant},
		Adapter: s.reply,
		Logger:  logx.Nop(),
	}
	s.Require().NoError(s.h.OnForward(context.Background(), req))
	s.Contains(s.reply.last(), "from a channel or group")
}

func (s *CommandsSuite) TestForwardWithoutTimes() {
	s.run(s.h.cmdDay, "3")
	s.Contains(s.forward(kit.ForwardOrigin{ChatID: -100777, MessageID: 1}), "Publish times are not set")
}

func (s *CommandsSuite) TestListAndDelete() {
	s.configure()
	s.forward(kit.ForwardOrigin{ChatID: -100777, MessageID: 55})

	out := s.run(s.h.cmdList)
	s.True(strings.HasPrefix(out, "<pre>"))
	s.Contains(out, "2024-01-01 09:00")
	s.Contains(out, "-100777/55")
	s.Equal(5, strings.Count(out, "\n")) // header + 4 rows

	s.Contains(s.run(s.h.cmdList, "x"), "Usage")
	s.Equal(3, strings.Count(s.run(s.h.cmdList, "2"), "\n"))

	out = s.run(s.h.cmdDelete, "2", "2", "9")
	s.Contains(out, "Number 9 is out of range (1-4).")
	s.Contains(out, "Deleted 1 scheduled reposts")
	s.Contains(s.run(s.h.cmdDelete, "one"), "integers")

	s.Contains(s.run(s.h.cmdClearAll), "Deleted all 3 reposts")
	s.Contains(s.run(s.h.cmdDelete, "1"), "No scheduled reposts")
	s.Equal("No reposts.", s.run(s.h.cmdList))
}

func (s *CommandsSuite) TestListWithoutLimitShowsEverything() {
	s.run(s.h.cmdSetTimezone, "UTC")
	s.run(s.h.cmdSetTime, "09:00", "18:00")
	s.run(s.h.cmdDay, "40")
	s.forward(kit.ForwardOrigin{ChatID: -100777, MessageID: 55})

	before := s.reply.count()
	s.run(s.h.cmdList)
	pages := s.reply.since(before)
	s.Require().Len(pages, 2)

	rows := 0
	for _, p := range pages {
		s.True(strings.HasPrefix(p, "<pre>"))
		s.True(strings.HasSuffix(p, "</pre>"))
		rows += strings.Count(p, "\n") - 1
	}
	s.Equal(80, rows)
	s.Contains(pages[1], "2024-02-09 18:00")
}

func (s *CommandsSuite) TestInfo() {
	s.configure()
	s.run(s.h.cmdSetTarget, "@archive")
	s.forward(kit.ForwardOrigin{ChatID: -100777, MessageID: 55})

	out := s.run(s.h.cmdInfo)
	s.Contains(out, "Times: <code>09:00,18:00</code>")
	s.Contains(out, "Days: <code>2</code>")
	s.Contains(out, "Target: Archive (@archive) [-100900]")
	s.Contains(out, "2024-01-01 09:00 (in 1h)")
	s.Contains(out, "2024-01-01 18:00 (in 10h)")
	s.Contains(out, "2024-01-02 09:00 (in 1d 1h)")
	s.NotContains(out, "2024-01-02 18:00")
}

func (s *CommandsSuite) TestStartMenu() {
	out := s.run(s.h.cmdStart)
	s.Contains(out, "Repost bot")

	rm, ok := s.reply.lastMarkup().(*tele.ReplyMarkup)
	s.Require().True(ok)
	var data []string
	for _, row := range rm.InlineKeyboard {
		for _, b := range row {
			data = append(data, b.Data)
		}
	}
	s.Equal([]string{"menu:info", "menu:get_time", "menu:list"}, data)

	// every button has a route
	for _, d := range data {
		s.NotEmpty(s.press(d), d)
	}
}

func (s *CommandsSuite) TestMenuButtons() {
	s.configure()
	s.forward(kit.ForwardOrigin{ChatID: -100777, MessageID: 55})

	s.Contains(s.press("menu:info"), "Times: <code>09:00,18:00</code>")
	s.Contains(s.press("menu:get_time"), "09:00,18:00 (UTC)")

	out := s.press("menu:list")
	s.True(strings.HasPrefix(out, "<pre>"))
	s.Equal(5, strings.Count(out, "\n"))
}

func (s *CommandsSuite) TestInfoDefaults() {
	out := s.run(s.h.cmdInfo)
	s.Contains(out, "Times: <code>21:35,21:37</code>")
	s.Contains(out, "Timezone: <code>Asia/Bishkek</code>")
	s.Contains(out, "Target: this chat")
	s.Contains(out, "No upcoming reposts.")
}

func (s *CommandsSuite) TestStatus() {
	s.now = s.now.Add(90 * time.Minute)
	out := s.run(s.h.cmdStatus)
	s.Contains(out, "uptime: 1h30m0s")
	s.Contains(out, "<b>Scheduler</b> running (UTC)")
	s.Contains(out, "repost.dispatch <code>* * * * *</code>")
	s.Contains(out, "submitted: 2  failed: 1")
	s.Contains(out, "❌ 08:00:00 repost-7")
}

func TestFormatRemaining(t *testing.T) {
	cases := map[time.Duration]string{
		30 * time.Second: "<1m",
		time.Minute:      "1m",
		time.Hour:        "1h",
		48 * time.Hour:   "2d",
		25*time.Hour + 3*time.Minute + 59*time.Second: "1d 1h 3m",
	}
	for d, want := range cases {
		if got := formatRemaining(d); got != want {
			t.Errorf("formatRemaining(%s) = %q, want %q", d, got, want)
		}
	}
}
