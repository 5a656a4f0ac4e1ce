package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"reposter/internal/eventbus"
	rtsup "reposter/internal/runtime/supervisor"
	logx "reposter/pkg/logx"
)

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	sup     *rtsup.Supervisor
	sleep   SleepFunc
	permits chan struct{}
	stopped atomic.Bool

	inflight  sync.WaitGroup
	running   atomic.Int32
	submitted atomic.Uint64
	failed    atomic.Uint64
	idSeq     atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

type Option func(*Service)

// WithSleep replaces the timer used between retry attempts.
func WithSleep(fn SleepFunc) Option {
	return func(s *Service) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	cfg.Retry = cfg.Retry.withDefaults(Policy{Attempts: 3, Interval: 5 * time.Second})

	s := &Service{cfg: cfg, log: log, bus: bus, sleep: sleepCtx}
	if cfg.MaxInFlight > 0 {
		s.permits = make(chan struct{}, cfg.MaxInFlight)
	}
	s.sup = rtsup.NewSupervisor(context.Background(), rtsup.WithLogger(log), rtsup.WithCancelOnError(false))
	for _, o := range opts {
		o(s)
	}
	return s
}

// Policy returns the default retry policy.
func (s *Service) Policy() Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Retry
}

// Apply updates the default policy and timeout. Running tasks keep what they started with.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.DefaultTimeout = cfg.DefaultTimeout
	s.cfg.Retry = cfg.Retry.withDefaults(s.cfg.Retry)
}

// Submit runs t in its own goroutine. It never waits for t, and fails with
// ErrAtCapacity when MaxInFlight tasks are already running.
func (s *Service) Submit(t Task) error {
	return s.submit(context.Background(), t, false)
}

// SubmitWait is Submit, except that at capacity it waits for a free slot
// until ctx is done.
func (s *Service) SubmitWait(ctx context.Context, t Task) error {
	return s.submit(ctx, t, true)
}

func (s *Service) submit(ctx context.Context, t Task, wait bool) error {
	if t.Run == nil {
		return ErrNilTaskFunc
	}
	if s.stopped.Load() {
		return ErrStopped
	}
	if err := s.acquire(ctx, wait); err != nil {
		return err
	}
	if wait && s.permits != nil && s.stopped.Load() {
		<-s.permits
		return ErrStopped
	}
	if t.ID == "" {
		t.ID = t.Name + "#" + strconv.FormatUint(s.idSeq.Add(1), 10)
	}

	s.submitted.Add(1)
	s.running.Add(1)
	s.inflight.Add(1)
	s.sup.Go0("task."+t.Name, func(ctx context.Context) {
		defer s.inflight.Done()
		defer s.running.Add(-1)
		if s.permits != nil {
			defer func() { <-s.permits }()
		}
		s.execOne(ctx, t)
	})
	return nil
}

func (s *Service) acquire(ctx context.Context, wait bool) error {
	if s.permits == nil {
		return nil
	}
	select {
	case s.permits <- struct{}{}:
		return nil
	default:
	}
	if !wait {
		return ErrAtCapacity
	}
	select {
	case s.permits <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrAtCapacity, ctx.Err())
	}
}

func (s *Service) execOne(ctx context.Context, t Task) {
	s.mu.Lock()
	timeout := s.cfg.DefaultTimeout
	s.mu.Unlock()
	if t.Timeout > 0 {
		timeout = t.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("task.panic", logx.String("task", t.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		err = t.Run(ctx)
	}()

	dur := time.Since(start)
	item := HistoryItem{ID: t.ID, Name: t.Name, Started: start, Duration: dur}
	ev := TaskEvent{ID: t.ID, Name: t.Name, Started: start, Duration: dur}
	if err != nil {
		item.Error = err.Error()
		ev.Error = item.Error
		s.failed.Add(1)
		s.log.Debug("task.failed", logx.String("task", t.Name), logx.String("id", t.ID), logx.Err(err), logx.Duration("dur", dur))
		s.publish("task.failed", ev)
	} else {
		s.log.Debug("task.completed", logx.String("task", t.Name), logx.String("id", t.ID), logx.Duration("dur", dur))
		s.publish("task.finished", ev)
	}
	s.record(item)
}

// Retry calls fn until it succeeds, returns a NoRetry error, or the policy's
// attempts run out. It returns the number of attempts made and the last error
// with any NoRetry wrapper removed.
func (s *Service) Retry(ctx context.Context, name string, p Policy, fn func(ctx context.Context, attempt int) error) (int, error) {
	p = p.withDefaults(s.Policy())

	var err error
	attempt := 0
	for attempt < p.Attempts {
		attempt++
		err = fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if inner, permanent := unwrapPermanent(err); permanent {
			return attempt, inner
		}
		if attempt >= p.Attempts {
			break
		}
		s.log.Debug("task retry scheduled", logx.String("task", name), logx.Int("attempt", attempt+1), logx.Duration("delay", p.Interval), logx.Err(err))
		if serr := s.sleep(ctx, p.Interval); serr != nil {
			return attempt, errors.Join(err, serr)
		}
	}
	return attempt, err
}

// Drain waits until every submitted task returned or ctx is done.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop rejects new tasks, cancels running ones and waits for them.
func (s *Service) Stop(ctx context.Context) {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	start := time.Now()
	s.sup.Cancel()
	if err := s.Drain(ctx); err != nil {
		s.log.Warn("stop timed out", logx.Int("in_flight", int(s.running.Load())), logx.Err(err))
		return
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) Snapshot() Snapshot {
	s.hmu.Lock()
	hist := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return Snapshot{
		InFlight:  int(s.running.Load()),
		Submitted: s.submitted.Load(),
		Failed:    s.failed.Load(),
		Policy:    s.Policy(),
		History:   hist,
	}
}

func (s *Service) record(item HistoryItem) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, ev TaskEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
	}
}
