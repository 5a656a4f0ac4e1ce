package repost

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	logx "reposter/pkg/logx"
)

// Deliverer accepts due jobs without blocking on their outcome.
type Deliverer interface {
	Deliver(ctx context.Context, job DueJob) error
}

// Dispatcher selects the jobs due at the current minute. Selection is an
// exact match on publish_at: a minute without a tick is never revisited.
type Dispatcher struct {
	jobs    JobStore
	deliver Deliverer
	log     logx.Logger
	now     func() time.Time
}

func NewDispatcher(jobs JobStore, deliver Deliverer, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{jobs: jobs, deliver: deliver, log: log, now: time.Now}
}

// SetClock replaces time.Now.
func (d *Dispatcher) SetClock(now func() time.Time) { d.now = now }

// Tick runs one dispatch for the current minute.
func (d *Dispatcher) Tick(ctx context.Context) error {
	_, err := d.TickAt(ctx, d.now())
	return err
}

// TickAt dispatches the jobs whose publish_at equals now truncated to the
// minute and returns how many were handed over.
func (d *Dispatcher) TickAt(ctx context.Context, now time.Time) (int, error) {
	minute := TruncateMinute(now)
	log := d.log.With(logx.String("tick", uuid.NewString()), logx.Time("minute", minute))

	due, err := d.jobs.DueJobs(ctx, minute)
	if err != nil {
		return 0, fmt.Errorf("select due jobs: %w", err)
	}
	if len(due) == 0 {
		log.Debug("no due jobs")
		return 0, nil
	}

	handed := 0
	for _, job := range due {
		err := d.deliver.Deliver(ctx, job)
		switch {
		case errors.Is(err, ErrJobInFlight):
			log.Debug("job still being delivered, skipped", logx.Int64("job_id", job.ID))
			continue
		case err != nil:
			log.Error("hand-off failed", logx.Int64("job_id", job.ID), logx.Err(err))
			continue
		}
		handed++
	}
	log.Info("dispatched", logx.Int("due", len(due)), logx.Int("handed", handed))
	return handed, nil
}
