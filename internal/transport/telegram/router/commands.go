package router

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "reposter/internal/runtime/supervisor"
	kit "reposter/internal/transport"
	logx "reposter/pkg/logx"
	"reposter/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Route       string   // single token, e.g. "set_time"
	Aliases     []string // extra names, e.g. ["settime"]
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

// CallbackHandlerFunc handles an inline button press. payload is the part of
// the callback data after "prefix:action:".
type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles buttons whose data is "Prefix:Action[:payload]".
type CallbackRoute struct {
	Prefix  string
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

func (r CallbackRoute) key() string { return r.Prefix + ":" + r.Action }

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string // route, "cb:prefix:action" for a button, or "" for a plain message
	Args    []string
	Payload string // callback payload
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends text to the request's chat. Send errors are logged, not returned.
func (r *Request) Reply(ctx context.Context, text string) {
	if _, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true}); err != nil {
		r.Logger.Warn("reply failed", logx.Err(err))
	}
}

// ReplyHTML is Reply with ParseMode HTML.
func (r *Request) ReplyHTML(ctx context.Context, text string) {
	if _, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"}); err != nil {
		r.Logger.Warn("reply failed", logx.Err(err))
	}
}

// ReplyHTMLMarkup is ReplyHTML with an adapter specific keyboard attached.
func (r *Request) ReplyHTMLMarkup(ctx context.Context, text string, markup any) {
	opt := &kit.SendOptions{DisablePreview: true, ParseMode: "HTML", ReplyMarkup: markup}
	if _, err := r.Adapter.SendText(ctx, r.Chat, text, opt); err != nil {
		r.Logger.Warn("reply failed", logx.Err(err))
	}
}

type Options struct {
	Owners         []int64
	Workers        int           // 0 means 4
	QueueSize      int           // 0 means 256
	DefaultTimeout time.Duration // 0 means 30s
}

type CommandManager struct {
	mu       sync.RWMutex
	cmds     map[string]*Command // route and aliases -> command
	ordered  []Command
	fallback HandlerFunc
	owners   []int64
	cbs      map[string]CallbackRoute // "prefix:action" -> route

	opt     Options
	log     logx.Logger
	adapter kit.Adapter

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, opt Options) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.Workers <= 0 {
		opt.Workers = 4
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 256
	}
	if opt.DefaultTimeout <= 0 {
		opt.DefaultTimeout = 30 * time.Second
	}
	return &CommandManager{
		cmds:    map[string]*Command{},
		cbs:     map[string]CallbackRoute{},
		owners:  append([]int64(nil), opt.Owners...),
		opt:     opt,
		log:     log,
		adapter: adapter,
		jobs:    make(chan func(), opt.QueueSize),
	}
}

// Supervisor returns the command manager's internal supervisor (nil if not running).
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *rtsup.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
// Safe to call during hot-reload.
func (m *CommandManager) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *CommandManager) ownersSnapshot() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int64(nil), m.owners...)
}

// SetFallback installs the handler for messages that are not commands.
func (m *CommandManager) SetFallback(h HandlerFunc) {
	m.mu.Lock()
	m.fallback = h
	m.mu.Unlock()
}

// SetRegistry replaces the command set. /help is always added.
func (m *CommandManager) SetRegistry(cmds []Command) {
	cmds = append(cmds, Command{
		Route:       "help",
		Aliases:     []string{"h"},
		Description: "show help",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			req.ReplyHTML(ctx, m.helpText(req.Args))
			return nil
		},
	})

	ordered := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		route := sanitizeTelegramCommand(c.Route)
		if route == "" || c.Handle == nil {
			continue
		}
		c.Route = route
		ordered = append(ordered, c)
	}
	index := make(map[string]*Command, len(ordered))
	for i := range ordered {
		index[ordered[i].Route] = &ordered[i]
	}
	// aliases never shadow a route
	for i := range ordered {
		for _, a := range ordered[i].Aliases {
			if a = sanitizeTelegramCommand(a); a != "" {
				if _, taken := index[a]; !taken {
					index[a] = &ordered[i]
				}
			}
		}
	}

	m.mu.Lock()
	m.cmds = index
	m.ordered = ordered
	m.mu.Unlock()

	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildTelegramMenuCommands(ordered)
		run := func(parent context.Context) {
			ctx, cancel := context.WithTimeout(parent, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(ctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
		}
		if sup := m.Supervisor(); sup != nil {
			sup.Go0("telegram.menu.update", run)
		} else {
			go run(context.Background())
		}
	}
}

// SetCallbacks replaces the inline button routes.
func (m *CommandManager) SetCallbacks(routes []CallbackRoute) {
	cbs := make(map[string]CallbackRoute, len(routes))
	for _, r := range routes {
		if r.Prefix == "" || r.Action == "" || r.Handle == nil {
			continue
		}
		cbs[r.key()] = r
	}
	m.mu.Lock()
	m.cbs = cbs
	m.mu.Unlock()
}

// DispatchLoop routes updates to a bounded worker pool until ctx is done or
// updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := m.opt.Workers
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := 0; i < workers; i++ {
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					job()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		m.setSupervisor(sup, false)
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.setSupervisor(nil, false)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *CommandManager) routeUpdate(root context.Context, up kit.Update) {
	if up.Kind == kit.UpdateCallback && up.Callback != nil {
		m.routeCallback(root, up)
		return
	}
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	to := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	text := strings.TrimSpace(msg.Text)

	if msg.Forwarded || !strings.HasPrefix(text, "/") {
		m.mu.RLock()
		fb := m.fallback
		m.mu.RUnlock()
		if fb != nil {
			m.enqueue(root, up, Command{Handle: fb}, nil)
		}
		return
	}

	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}

	m.mu.RLock()
	cmd, ok := m.cmds[word]
	m.mu.RUnlock()
	if !ok {
		_, _ = m.adapter.SendText(root, to, "Unknown command. Try /help", nil)
		return
	}
	m.enqueue(root, up, *cmd, parts[1:])
}

func (m *CommandManager) enqueue(root context.Context, up kit.Update, cmd Command, args []string) {
	msg := up.Message
	rid := uuid.NewString()
	reqLog := m.log.With(
		logx.String("rid", rid),
		logx.Int64("chat_id", msg.ChatID),
		logx.Int64("from_id", msg.FromID),
		logx.String("cmd", cmd.Route),
	)
	req := &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:  msg.FromID,
		Command: cmd.Route,
		Args:    args,
		ReqID:   rid,
		Adapter: m.adapter,
		Logger:  reqLog,
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = m.opt.DefaultTimeout
	}
	final := Chain(
		cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWAccess(cmd.Access, m.ownersSnapshot),
		MWTimeout(timeout),
	)
	if !m.tryEnqueue(func() { _ = final(root, req) }) {
		_, _ = m.adapter.SendText(root, req.Chat, "Busy, try again", nil)
	}
}

func (m *CommandManager) routeCallback(root context.Context, up kit.Update) {
	cb := up.Callback
	prefix, action, payload, ok := tgui.ParseData(cb.Data)
	if !ok {
		m.answer(root, cb.ID, "")
		return
	}
	m.mu.RLock()
	route, ok := m.cbs[prefix+":"+action]
	m.mu.RUnlock()
	if !ok {
		m.log.Debug("unknown callback", logx.String("data", cb.Data), logx.Int64("chat_id", cb.ChatID))
		m.answer(root, cb.ID, "Unknown action")
		return
	}

	rid := uuid.NewString()
	name := "cb:" + route.key()
	req := &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID},
		FromID:  cb.FromID,
		Command: name,
		Payload: payload,
		ReqID:   rid,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", cb.ChatID),
			logx.Int64("from_id", cb.FromID),
			logx.String("cmd", name),
		),
	}

	timeout := route.Timeout
	if timeout <= 0 {
		timeout = m.opt.DefaultTimeout
	}
	final := Chain(
		func(ctx context.Context, r *Request) error { return route.Handle(ctx, r, r.Payload) },
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWAccess(route.Access, m.ownersSnapshot),
		MWTimeout(timeout),
	)
	if !m.tryEnqueue(func() {
		_ = final(root, req)
		// stops the client's loading indicator
		m.answer(root, cb.ID, "")
	}) {
		m.answer(root, cb.ID, "Busy, try again")
	}
}

func (m *CommandManager) answer(ctx context.Context, callbackID, text string) {
	a, ok := m.adapter.(kit.CallbackAnswerer)
	if !ok {
		return
	}
	if err := a.AnswerCallback(ctx, callbackID, text); err != nil {
		m.log.Debug("answer callback failed", logx.Err(err))
	}
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
