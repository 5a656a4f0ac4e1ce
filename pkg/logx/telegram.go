package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "reposter/internal/transport"
)

const (
	telegramQueueSize = 256
	telegramMaxLen    = 3500
	telegramFieldLen  = 600
)

// Sender is the subset of the transport the Telegram sink needs.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// telegramSink posts log lines at or above minLevel to the operator chat.
// Lines over the rate limit, or arriving while the queue is full, are dropped.
type telegramSink struct {
	mu       sync.Mutex
	sender   Sender
	chatID   int64
	threadID int
	minLevel zerolog.Level
	limiter  *rate.Limiter

	queue  chan telegramItem
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type telegramItem struct {
	to  kit.ChatTarget
	msg string
}

func newTelegramSink(sender Sender) *telegramSink {
	return &telegramSink{
		sender:   sender,
		minLevel: zerolog.WarnLevel,
		queue:    make(chan telegramItem, telegramQueueSize),
	}
}

func (t *telegramSink) setSender(snd Sender) {
	t.mu.Lock()
	t.sender = snd
	t.mu.Unlock()
}

func (t *telegramSink) setTarget(chatID int64, threadID int) {
	t.mu.Lock()
	t.chatID = chatID
	if threadID != 0 {
		t.threadID = threadID
	}
	t.mu.Unlock()
}

func (t *telegramSink) configure(cfg TelegramConfig) {
	rps := max(1, cfg.RatePerSec)
	t.mu.Lock()
	t.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	t.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if cfg.ThreadID != 0 {
		t.threadID = cfg.ThreadID
	}
	t.mu.Unlock()
}

// start launches the send worker once.
func (t *telegramSink) start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.run(ctx)
	}()
}

func (t *telegramSink) close() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
		t.wg.Wait()
	}
}

func (t *telegramSink) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-t.queue:
			t.mu.Lock()
			snd := t.sender
			t.mu.Unlock()
			if snd == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			_, _ = snd.SendText(sctx, it.to, it.msg, &kit.SendOptions{DisablePreview: true})
			cancel()
		}
	}
}

func (t *telegramSink) Write(p []byte) (int, error) {
	return t.WriteLevel(zerolog.InfoLevel, p)
}

// WriteLevel never blocks the caller on the network.
func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	chatID, threadID, lim, minLevel, snd := t.chatID, t.threadID, t.limiter, t.minLevel, t.sender
	t.mu.Unlock()

	if chatID == 0 || snd == nil || lim == nil || level < minLevel || !lim.Allow() {
		return len(p), nil
	}
	select {
	case t.queue <- telegramItem{to: kit.ChatTarget{ChatID: chatID, ThreadID: threadID}, msg: formatTelegramLine(p)}:
	default:
	}
	return len(p), nil
}

var levelIcons = map[string]string{
	"warn":  "⚠️",
	"error": "❌",
	"fatal": "💥",
	"panic": "💥",
}

// formatTelegramLine renders a zerolog JSON line as
//
//	⚠️ WARN [dispatch] repost.failed
//	job_id=3
//
// with the remaining fields sorted by key. time and caller are omitted.
func formatTelegramLine(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return truncate(raw, telegramMaxLen)
	}

	lvl, _ := m["level"].(string)
	var b strings.Builder
	if icon := levelIcons[lvl]; icon != "" {
		b.WriteString(icon + " ")
	}
	if lvl != "" {
		b.WriteString(strings.ToUpper(lvl) + " ")
	}
	if comp, ok := m["comp"].(string); ok && comp != "" {
		b.WriteString("[" + comp + "] ")
	}
	msg, _ := m["message"].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message", "comp", zerolog.CallerFieldName:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("\n" + k + "=" + truncate(fmt.Sprint(m[k]), telegramFieldLen))
	}
	return truncate(b.String(), telegramMaxLen)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
