package adapter

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"reposter/internal/repost"
	rtsup "reposter/internal/runtime/supervisor"
	kit "reposter/internal/transport"
	logx "reposter/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// RatePerSec caps outgoing API calls (send, forward, copy). 0 means 25.
	RatePerSec int
}

// Adapter is the telebot backed transport. It serves the command surface
// (kit.Adapter) and the repost engine (repost.Transport, repost.Directory).
type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	lim     *rate.Limiter
	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool

	// sup owns adapter internal goroutines (poll loop, drop logger, stop watcher).
	// It is created on Start() and cancelled on Stop().
	sup *rtsup.Supervisor

	// droppedUpdates counts updates dropped because the consumer was slower than the Telegram poll loop.
	droppedUpdates uint64

	menuMu   sync.Mutex
	menuHash uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		OnError: func(err error, c tele.Context) {
			log.Warn("telebot handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 25
	}
	a := &Adapter{cfg: cfg, log: log, bot: b, lim: rate.NewLimiter(rate.Limit(rps), rps)}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

// Supervisor returns the adapter's internal supervisor (nil if not started).
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	h := func(c tele.Context) error {
		if m := c.Message(); m != nil {
			a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: toMessage(m)})
		}
		return nil
	}
	a.bot.Handle(tele.OnText, h)
	// forwarded posts are often photos, videos or documents
	a.bot.Handle(tele.OnMedia, h)

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		if cb := toCallback(c.Callback()); cb != nil {
			a.sendUpdate(kit.Update{Kind: kit.UpdateCallback, Callback: cb})
		}
		return nil
	})
}

// toCallback returns nil for presses without a message, e.g. on inline results.
func toCallback(cb *tele.Callback) *kit.Callback {
	if cb == nil || cb.Message == nil || cb.Message.Chat == nil {
		return nil
	}
	out := &kit.Callback{
		ID:        cb.ID,
		ChatID:    cb.Message.Chat.ID,
		ThreadID:  cb.Message.ThreadID,
		MessageID: cb.Message.ID,
		Data:      cb.Data,
	}
	if cb.Sender != nil {
		out.FromID = cb.Sender.ID
	}
	return out
}

func toMessage(m *tele.Message) *kit.Message {
	msg := &kit.Message{
		ID:       m.ID,
		ThreadID: m.ThreadID,
		Text:     m.Text,
	}
	if msg.Text == "" {
		msg.Text = m.Caption
	}
	if m.Chat != nil {
		msg.ChatID = m.Chat.ID
		msg.IsGroup = m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup
	}
	if m.Sender != nil {
		msg.FromID = m.Sender.ID
		msg.FromUsername = m.Sender.Username
	}
	msg.Forwarded = m.Origin != nil
	msg.Forward = forwardOrigin(m)
	return msg
}

// forwardOrigin returns the original chat and message of a forward, when
// Telegram exposes both.
func forwardOrigin(m *tele.Message) *kit.ForwardOrigin {
	o := m.Origin
	if o == nil || o.Chat == nil || o.MessageID == 0 {
		return nil
	}
	return &kit.ForwardOrigin{ChatID: o.Chat.ID, MessageID: o.MessageID}
}

func (a *Adapter) sendUpdate(up kit.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		// adapter errors should not take down the whole app; treat as best-effort.
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	// Periodic summary for dropped updates (avoid noisy per-update logs).
	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// Telebot's Start() can return in some failure modes; restart it while the context lives.
	sup.GoRestart0("telebot.poll", func(c context.Context) {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.Uint64("dropped_updates_pending", atomic.LoadUint64(&a.droppedUpdates)))
	sup.Cancel()
	go a.bot.Stop()

	// Grace window: keep shutdown snappy even if getUpdates long-poll is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

const telegramTextLimit = 4000

// splitTelegramText splits long messages into chunks that are safe to send to Telegram.
// It prefers newline boundaries and (best-effort) avoids splitting inside HTML tags when ParseMode is HTML.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		// Prefer splitting on a newline near the end of the window.
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		if strings.EqualFold(parseMode, "HTML") && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	chunks := splitTelegramText(text, telegramTextLimit, opt.ParseMode)
	for i, chunk := range chunks {
		if err := a.lim.Wait(ctx); err != nil {
			return first, err
		}
		sendOpt := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		}
		// the keyboard goes under the last chunk
		if rm, ok := opt.ReplyMarkup.(*tele.ReplyMarkup); ok && i == len(chunks)-1 {
			sendOpt.ReplyMarkup = rm
		}
		msg, err := a.bot.Send(chat, chunk, sendOpt)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// ChatExists reports whether the bot can see chatID. Not-found and kicked
// answers are (false, nil); anything else is returned as an error.
func (a *Adapter) ChatExists(ctx context.Context, chatID int64) (bool, error) {
	if err := a.lim.Wait(ctx); err != nil {
		return false, err
	}
	_, err := a.bot.ChatByID(chatID)
	if err == nil {
		return true, nil
	}
	if classify(err) == repost.FailureDestinationMissing {
		return false, nil
	}
	return false, err
}

// Send forwards or copies src to the chat to. Every error is a *repost.DeliveryError.
func (a *Adapter) Send(ctx context.Context, to int64, src repost.Source, mode repost.SendMode) error {
	if err := a.lim.Wait(ctx); err != nil {
		return repost.NewDeliveryError(repost.FailureTransient, err)
	}
	msg := tele.StoredMessage{MessageID: strconv.Itoa(src.MessageID), ChatID: src.ChatID}
	dst := &tele.Chat{ID: to}

	var err error
	switch mode {
	case repost.ModeCopy:
		_, err = a.bot.Copy(dst, msg)
	default:
		_, err = a.bot.Forward(dst, msg)
	}
	if err != nil {
		return repost.NewDeliveryError(classify(err), err)
	}
	return nil
}

// classify maps Bot API errors onto the delivery failure kinds.
func classify(err error) repost.FailureKind {
	switch {
	case errors.Is(err, tele.ErrNotFoundToForward), isCopySourceMissing(err):
		return repost.FailureSourceMissing
	case errors.Is(err, tele.ErrChatNotFound),
		errors.Is(err, tele.ErrBlockedByUser),
		errors.Is(err, tele.ErrKickedFromGroup),
		errors.Is(err, tele.ErrKickedFromSuperGroup),
		errors.Is(err, tele.ErrKickedFromChannel):
		return repost.FailureDestinationMissing
	}
	return repost.FailureTransient
}

// telebot has no sentinel for a missing copy source, so match the raw API error.
func isCopySourceMissing(err error) bool {
	var te *tele.Error
	if !errors.As(err, &te) || te.Code != 400 {
		return false
	}
	return strings.Contains(strings.ToLower(te.Description), "message to copy not found")
}

// AnswerCallback acknowledges a button press; text, when set, is shown as a toast.
func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := a.lim.Wait(ctx); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

func (a *Adapter) DisplayName(ctx context.Context, chatID int64) (string, error) {
	if err := a.lim.Wait(ctx); err != nil {
		return "", err
	}
	chat, err := a.bot.ChatByID(chatID)
	if err != nil {
		return "", err
	}
	return chatName(chat), nil
}

// ResolveUsername looks up "@name" and returns its chat id and canonical username.
func (a *Adapter) ResolveUsername(ctx context.Context, username string) (int64, string, error) {
	if err := a.lim.Wait(ctx); err != nil {
		return 0, "", err
	}
	name := "@" + strings.TrimPrefix(strings.TrimSpace(username), "@")
	chat, err := a.bot.ChatByUsername(name)
	if err != nil {
		return 0, "", fmt.Errorf("resolve %s: %w", name, err)
	}
	if chat.Username != "" {
		name = "@" + chat.Username
	}
	return chat.ID, name, nil
}

func chatName(c *tele.Chat) string {
	switch {
	case c.Title != "":
		return c.Title
	case c.Username != "":
		return "@" + c.Username
	default:
		return strings.TrimSpace(c.FirstName + " " + c.LastName)
	}
}

// UpdateMenuCommands publishes the command menu (setMyCommands).
// It only performs a network call when the command list changes.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	for _, c := range cmds {
		h.Write([]byte(c.Command))
		h.Write([]byte{0})
		h.Write([]byte(c.Description))
		h.Write([]byte{0})
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}

	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		if len(d) > 256 {
			d = d[:256]
		}
		out = append(out, tele.Command{Text: c.Command, Description: d})
		if len(out) >= 100 {
			break
		}
	}
	if err := a.lim.Wait(ctx); err != nil {
		return err
	}
	if err := a.bot.SetCommands(out); err != nil {
		return fmt.Errorf("telegram setMyCommands: %w", err)
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(out)))
	return nil
}

var (
	_ kit.Adapter            = (*Adapter)(nil)
	_ kit.CommandMenuUpdater = (*Adapter)(nil)
	_ repost.Transport       = (*Adapter)(nil)
	_ repost.Directory       = (*Adapter)(nil)
	_ logx.Sender            = (*Adapter)(nil)
)
