package engine

import (
	"context"
	"time"
)

// Config controls the task execution engine.
//
// Every submitted task runs in its own goroutine; MaxInFlight caps how many
// run at once (0 means no cap).
type Config struct {
	// DefaultTimeout bounds a whole task (all attempts) when Task.Timeout is 0.
	DefaultTimeout time.Duration
	MaxInFlight    int
	HistorySize    int

	// Retry is the default policy for Retry calls that pass a zero Policy.
	Retry Policy
}

// Policy is a fixed-interval retry policy.
type Policy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// Interval is the pause between two attempts.
	Interval time.Duration
}

func (p Policy) withDefaults(def Policy) Policy {
	if p.Attempts <= 0 {
		p.Attempts = def.Attempts
	}
	if p.Interval <= 0 {
		p.Interval = def.Interval
	}
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	return p
}

// Task is a unit of work executed in its own goroutine.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

type HistoryItem struct {
	ID       string
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

// TaskEvent is emitted on the event bus when a task finishes.
type TaskEvent struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Snapshot is a lightweight view for /status.
type Snapshot struct {
	InFlight  int
	Submitted uint64
	Failed    uint64
	Policy    Policy
	History   []HistoryItem
}

// SleepFunc waits d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
