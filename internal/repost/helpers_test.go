package repost_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"reposter/internal/eventbus"
	"reposter/internal/repost"
	"reposter/internal/storage"
	"reposter/internal/task/engine"
	logx "reposter/pkg/logx"
)

type sendCall struct {
	To   int64
	Src  repost.Source
	Mode repost.SendMode
}

// fakeTransport replays scripted errors per destination, then succeeds.
type fakeTransport struct {
	mu      sync.Mutex
	missing map[int64]bool
	script  map[int64][]error
	calls   []sendCall
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{missing: map[int64]bool{}, script: map[int64][]error{}}
}

func (f *fakeTransport) failNext(to int64, errs ...error) {
	f.mu.Lock()
	f.script[to] = append(f.script[to], errs...)
	f.mu.Unlock()
}

func (f *fakeTransport) ChatExists(_ context.Context, chatID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.missing[chatID], nil
}

func (f *fakeTransport) Send(_ context.Context, to int64, src repost.Source, mode repost.SendMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sendCall{To: to, Src: src, Mode: mode})
	if q := f.script[to]; len(q) > 0 {
		f.script[to] = q[1:]
		return q[0]
	}
	return nil
}

func (f *fakeTransport) sends(to int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.To == to {
			n++
		}
	}
	return n
}

func (f *fakeTransport) allCalls() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sendCall(nil), f.calls...)
}

type fakeDirectory struct {
	names     map[int64]string
	usernames map[string]int64
}

func (d fakeDirectory) DisplayName(_ context.Context, chatID int64) (string, error) {
	if n, ok := d.names[chatID]; ok {
		return n, nil
	}
	return "", errors.New("chat not found")
}

func (d fakeDirectory) ResolveUsername(_ context.Context, username string) (int64, string, error) {
	if id, ok := d.usernames[username]; ok {
		return id, username, nil
	}
	return 0, "", errors.New("chat not found")
}

// sleeps records retry pauses. After hold, every pause blocks until released.
type sleeps struct {
	mu      sync.Mutex
	delays  []time.Duration
	gate    chan struct{}
	entered chan struct{}
}

func (s *sleeps) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	gate, entered := s.gate, s.entered
	s.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
	return ctx.Err()
}

// hold makes pauses block. entered receives once per blocked pause.
func (s *sleeps) hold() (entered <-chan struct{}, release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
	s.entered = make(chan struct{}, 16)
	gate := s.gate
	var once sync.Once
	return s.entered, func() { once.Do(func() { close(gate) }) }
}

func (s *sleeps) all() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// fixedClock is a settable time source shared by Service and Executor.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type harness struct {
	store     *storage.SQLStore
	svc       *repost.Service
	transport *fakeTransport
	eng       *engine.Service
	exec      *repost.Executor
	dispatch  *repost.Dispatcher
	bus       eventbus.Bus
	sleeps    *sleeps
	clock     *fixedClock
}

func newHarness(t *testing.T, start time.Time) *harness {
	t.Helper()
	return newHarnessWithEngine(t, start, engine.Config{})
}

func newHarnessWithEngine(t *testing.T, start time.Time, engCfg engine.Config) *harness {
	t.Helper()
	ctx := context.Background()
	st, err := storage.Open(ctx, storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "repost.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	h := &harness{
		store:     st,
		transport: newFakeTransport(),
		bus:       eventbus.New(),
		sleeps:    &sleeps{},
		clock:     &fixedClock{now: start},
	}
	dir := fakeDirectory{
		names:     map[int64]string{-100777: "Channel"},
		usernames: map[string]int64{"@channel": -100777},
	}
	h.svc = repost.NewService(st, dir, repost.DefaultDefaults(), logx.Nop(), repost.WithClock(h.clock.Now))
	h.eng = engine.New(engCfg, logx.Nop(), h.bus, engine.WithSleep(h.sleeps.sleep))
	t.Cleanup(func() {
		c, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		h.eng.Stop(c)
	})
	h.exec = repost.NewExecutor(repost.ExecutorConfig{}, h.transport, st, h.svc, h.eng, h.bus, logx.Nop())
	h.dispatch = repost.NewDispatcher(st, h.exec, logx.Nop())
	h.dispatch.SetClock(h.clock.Now)
	return h
}

// configure stores full settings for chatID.
func (h *harness) configure(t *testing.T, chatID int64, tz string, days int, times ...string) {
	t.Helper()
	ctx := context.Background()
	_, err := h.svc.SetTimes(ctx, chatID, times)
	require.NoError(t, err)
	require.NoError(t, h.svc.SetHorizon(ctx, chatID, days))
	require.NoError(t, h.svc.SetTimezone(ctx, chatID, tz))
}

// drain waits for every delivery to finish.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.eng.Drain(ctx))
}

// tick dispatches at now and waits for every delivery to finish.
func (h *harness) tick(t *testing.T, now time.Time) int {
	t.Helper()
	h.clock.Set(now)
	n, err := h.dispatch.TickAt(context.Background(), now)
	require.NoError(t, err)
	h.drain(t)
	return n
}

func (h *harness) jobs(t *testing.T, chatID int64) []repost.Job {
	t.Helper()
	js, err := h.store.ListJobs(context.Background(), chatID, 0)
	require.NoError(t, err)
	return js
}

func utc(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}
