package repost

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"reposter/internal/eventbus"
	"reposter/internal/task/engine"
	logx "reposter/pkg/logx"
)

// Delivery outcome events published on the bus.
const (
	EventPublished   = "repost.published"
	EventFailed      = "repost.failed"
	EventUnreachable = "repost.unreachable"
)

// DeliveryEvent is the payload of the repost.* events.
type DeliveryEvent struct {
	JobID       int64
	ChatID      int64
	Destination int64
	PublishAt   time.Time
	Attempts    int
	Kind        string
	Error       string
}

// ModeReader reads a tenant's send mode at send time.
type ModeReader interface {
	SendMode(ctx context.Context, chatID int64) (SendMode, error)
}

// Executor delivers due jobs, one engine task per job.
type Executor struct {
	transport Transport
	jobs      JobStore
	modes     ModeReader
	eng       *engine.Service
	policy    atomic.Pointer[engine.Policy]
	running   sync.Map // job id -> struct{}
	bus       eventbus.Bus
	log       logx.Logger
	now       func() time.Time
}

type ExecutorConfig struct {
	Attempts      int
	RetryInterval time.Duration
}

func NewExecutor(cfg ExecutorConfig, transport Transport, jobs JobStore, modes ModeReader, eng *engine.Service, bus eventbus.Bus, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	x := &Executor{
		transport: transport,
		jobs:      jobs,
		modes:     modes,
		eng:       eng,
		bus:       bus,
		log:       log,
		now:       time.Now,
	}
	x.SetPolicy(cfg)
	return x
}

// SetPolicy replaces the retry policy. Jobs already running keep theirs.
func (x *Executor) SetPolicy(cfg ExecutorConfig) {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	x.policy.Store(&engine.Policy{Attempts: cfg.Attempts, Interval: cfg.RetryInterval})
}

// Deliver hands job to the engine and returns without waiting for the outcome.
// At engine capacity it waits for a slot until ctx is done. A job whose earlier
// delivery is still running is refused with ErrJobInFlight.
func (x *Executor) Deliver(ctx context.Context, job DueJob) error {
	if _, busy := x.running.LoadOrStore(job.ID, struct{}{}); busy {
		return ErrJobInFlight
	}
	err := x.eng.SubmitWait(ctx, engine.Task{
		ID:   fmt.Sprintf("repost-%d", job.ID),
		Name: "repost.deliver",
		Run: func(ctx context.Context) error {
			defer x.running.Delete(job.ID)
			return x.Run(ctx, job)
		},
	})
	if err != nil {
		x.running.Delete(job.ID)
	}
	return err
}

// Run performs one job's delivery synchronously: reachability check, live send
// mode, then the retry loop. A nil return means the job is now published.
func (x *Executor) Run(ctx context.Context, job DueJob) error {
	log := x.log.With(
		logx.Int64("job_id", job.ID),
		logx.Int64("chat_id", job.ChatID),
		logx.Int64("destination", job.Destination),
	)

	ok, err := x.transport.ChatExists(ctx, job.Destination)
	if err != nil || !ok {
		if err == nil {
			err = ErrDestinationMissing
		}
		log.Warn("destination unreachable, job left scheduled", logx.Err(err))
		x.emit(EventUnreachable, job, 0, FailureDestinationMissing, err)
		return fmt.Errorf("job %d: %w", job.ID, err)
	}

	mode, err := x.modes.SendMode(ctx, job.ChatID)
	if err != nil {
		return fmt.Errorf("job %d: read send mode: %w", job.ID, err)
	}

	attempts, err := x.eng.Retry(ctx, "repost.send", *x.policy.Load(), func(ctx context.Context, attempt int) error {
		serr := x.transport.Send(ctx, job.Destination, job.Source(), mode)
		if serr == nil {
			return nil
		}
		kind := KindOf(serr)
		log.Debug("send attempt failed", logx.Int("attempt", attempt), logx.String("kind", kind.String()), logx.Err(serr))
		if !kind.Retryable() {
			return engine.NoRetry(serr)
		}
		return serr
	})
	if err != nil {
		kind := KindOf(err)
		log.Warn("delivery abandoned, job left scheduled",
			logx.Int("attempts", attempts),
			logx.String("kind", kind.String()),
			logx.Err(err),
		)
		x.emit(EventFailed, job, attempts, kind, err)
		return fmt.Errorf("job %d: %w", job.ID, err)
	}

	// The send succeeded; a failure here must not be confused with a send failure.
	marked, merr := x.jobs.MarkPublished(context.WithoutCancel(ctx), job.ID, x.now().UTC())
	if merr != nil {
		log.Error("mark published failed", logx.Err(merr))
		return errors.Join(fmt.Errorf("job %d: mark published", job.ID), merr)
	}
	if !marked {
		log.Warn("job was deleted or published concurrently")
	}
	log.Info("published", logx.Int("attempts", attempts), logx.String("mode", string(mode)))
	x.emit(EventPublished, job, attempts, FailureTransient, nil)
	return nil
}

func (x *Executor) emit(typ string, job DueJob, attempts int, kind FailureKind, err error) {
	if x.bus == nil {
		return
	}
	ev := DeliveryEvent{
		JobID:       job.ID,
		ChatID:      job.ChatID,
		Destination: job.Destination,
		PublishAt:   job.PublishAt,
		Attempts:    attempts,
	}
	if err != nil {
		ev.Kind = kind.String()
		ev.Error = err.Error()
	}
	x.bus.Publish(eventbus.Event{Type: typ, Time: x.now(), Data: ev})
}
