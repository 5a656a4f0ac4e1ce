// Package repost holds the scheduled repost engine: tenant settings, job
// fan-out, the per-minute dispatch and the retrying delivery executor.
package repost

import (
	"fmt"
	"strings"
	"time"
)

type Status int

const (
	StatusScheduled Status = 0
	StatusPublished Status = 1
)

func (s Status) String() string {
	switch s {
	case StatusScheduled:
		return "scheduled"
	case StatusPublished:
		return "published"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

type SendMode string

const (
	ModeForward SendMode = "forward"
	ModeCopy    SendMode = "copy"
)

// ParseSendMode accepts "forward" or "copy" in any case.
func ParseSendMode(s string) (SendMode, error) {
	switch SendMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeForward:
		return ModeForward, nil
	case ModeCopy:
		return ModeCopy, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSendMode, s)
	}
}

// ChatSettings is the effective configuration of one tenant chat.
type ChatSettings struct {
	ChatID       int64
	PublishTimes []Clock
	DaysOffset   int
	Timezone     string
	SendMode     SendMode
}

// Defaults fill settings a tenant never set.
type Defaults struct {
	PublishTimes []Clock
	DaysOffset   int
	Timezone     string
	SendMode     SendMode
}

func DefaultDefaults() Defaults {
	return Defaults{
		PublishTimes: []Clock{{Hour: 21, Minute: 35}, {Hour: 21, Minute: 37}},
		DaysOffset:   10,
		Timezone:     "Asia/Bishkek",
		SendMode:     ModeForward,
	}
}

// StoredSettings is the persisted settings row. Empty fields were never set.
type StoredSettings struct {
	ChatID       int64
	PublishTimes string // comma separated HH:MM
	DaysOffset   int
	Timezone     string
	SendMode     string
}

// TargetBinding redirects a tenant's deliveries to another chat.
type TargetBinding struct {
	ChatID         int64
	TargetChatID   int64
	TargetUsername string
}

// Source identifies the original content of a repost.
type Source struct {
	ChatID    int64
	MessageID int
}

// Job is one scheduled delivery. PublishAt is a UTC minute computed once at creation.
type Job struct {
	ID              int64
	ChatID          int64
	SourceChatID    int64
	SourceMessageID int
	PublishAt       time.Time
	Status          Status
	CreatedAt       time.Time
	PublishedAt     time.Time
}

func (j Job) Source() Source { return Source{ChatID: j.SourceChatID, MessageID: j.SourceMessageID} }

// DueJob is a job selected by a dispatch tick with its resolved destination.
type DueJob struct {
	Job
	Destination int64
}

// Entry is one row of a listing. Ordinal is 0 for published jobs.
type Entry struct {
	Ordinal int
	Job     Job
}

type FanOutResult struct {
	Planned int
	Created int
	First   time.Time
	Last    time.Time
}

type DeleteResult struct {
	Deleted    int
	OutOfRange []int
	Available  int
}
