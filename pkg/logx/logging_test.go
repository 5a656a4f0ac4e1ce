package logx

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "reposter/internal/transport"
)

type captureSender struct {
	mu   sync.Mutex
	sent []string
}

func (c *captureSender) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	c.sent = append(c.sent, text)
	c.mu.Unlock()
	return kit.MessageRef{}, nil
}

func TestLoggerWithKeepsFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "dispatch"))
	log.Info("tick", Int64("job_id", 7))

	out := buf.String()
	assert.Contains(t, out, `"comp":"dispatch"`)
	assert.Contains(t, out, `"job_id":7`)
	assert.Contains(t, out, `"message":"tick"`)
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var log Logger
	require.True(t, log.IsZero())
	log.Error("dropped")
	assert.False(t, Nop().IsZero())
}

func TestFormatTelegramLine(t *testing.T) {
	msg := formatTelegramLine([]byte(`{"level":"warn","comp":"app","message":"repost.failed","job_id":3,"chat_id":10,"caller":"app.go:1","time":"x"}`))
	assert.Equal(t, "⚠️ WARN [app] repost.failed\nchat_id=10\njob_id=3", msg)

	assert.Equal(t, "not json", formatTelegramLine([]byte("not json\n")))
}

func TestTelegramSinkRespectsMinLevel(t *testing.T) {
	sink := newTelegramSink(&captureSender{})
	sink.configure(TelegramConfig{MinLevel: "warn", RatePerSec: 10})
	sink.setTarget(-100, 0)

	_, _ = sink.WriteLevel(zerolog.InfoLevel, []byte(`{"level":"info","message":"quiet"}`))
	_, _ = sink.WriteLevel(zerolog.ErrorLevel, []byte(`{"level":"error","message":"loud"}`))

	require.Len(t, sink.queue, 1)
	it := <-sink.queue
	assert.Equal(t, int64(-100), it.to.ChatID)
	assert.Equal(t, "❌ ERROR loud", it.msg)
}

func TestTelegramSinkNeedsTarget(t *testing.T) {
	sink := newTelegramSink(nil)
	sink.configure(TelegramConfig{RatePerSec: 10})
	_, _ = sink.WriteLevel(zerolog.ErrorLevel, []byte(`{"level":"error","message":"x"}`))
	sink.setTarget(-100, 0)
	_, _ = sink.WriteLevel(zerolog.ErrorLevel, []byte(`{"level":"error","message":"x"}`))
	assert.Empty(t, sink.queue)
}

func TestServiceDeliversToOperatorChat(t *testing.T) {
	sender := &captureSender{}
	svc, log := New(Config{Level: "debug", Telegram: TelegramConfig{Enabled: true, RatePerSec: 10}}, sender)
	svc.SetTelegramTarget(-100, 0)
	defer func() { _ = svc.Close() }()

	log.With(String("comp", "dispatch")).Warn("tick failed", Int("due", 2))
	log.Info("not forwarded")

	require.Eventually(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.sent) == 1
	}, 2*time.Second, 10*time.Millisecond)
	sender.mu.Lock()
	assert.Equal(t, "⚠️ WARN [dispatch] tick failed\ndue=2", sender.sent[0])
	sender.mu.Unlock()
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.WarnLevel, parseLevel("warning", zerolog.InfoLevel))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("bogus", zerolog.InfoLevel))
}
