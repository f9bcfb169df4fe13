package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrFireTimeInPast = errors.New("scheduler: fire time is not in the future")
	ErrStopped        = errors.New("scheduler: stopped")
	ErrInvalidJob     = errors.New("scheduler: invalid job")
)

// Config controls the scheduler service.
type Config struct {
	// Timezone is the IANA name used for jobs registered without a location.
	Timezone string
}

type Kind string

const (
	KindOnce  Kind = "once"
	KindDaily Kind = "daily"
)

// Job is one reminder. FireAt is set for once jobs; Hour, Minute and
// Location for daily jobs.
type Job struct {
	ID          string
	Destination int64
	Payload     string
	Kind        Kind

	FireAt time.Time

	Hour     int
	Minute   int
	Location *time.Location
}

// OnceID identifies a one-shot job by chat and fire instant (unix seconds).
func OnceID(destination int64, fireAt time.Time) string {
	return fmt.Sprintf("once-%d-%d", destination, fireAt.Unix())
}

// DailyID identifies a daily job by chat and wall-clock time.
func DailyID(destination int64, hour, minute int) string {
	return fmt.Sprintf("daily-%d-%02d%02d", destination, hour, minute)
}

// NewOnce builds a once job with its derived id.
func NewOnce(destination int64, fireAt time.Time, payload string) Job {
	return Job{
		ID:          OnceID(destination, fireAt),
		Destination: destination,
		Payload:     payload,
		Kind:        KindOnce,
		FireAt:      fireAt,
	}
}

// NewDaily builds a daily job with its derived id.
func NewDaily(destination int64, hour, minute int, loc *time.Location, payload string) Job {
	return Job{
		ID:          DailyID(destination, hour, minute),
		Destination: destination,
		Payload:     payload,
		Kind:        KindDaily,
		Hour:        hour,
		Minute:      minute,
		Location:    loc,
	}
}

// Outcome reports what a registration did to the job set.
type Outcome int

const (
	Inserted Outcome = iota + 1
	Duplicate
	Replaced
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Duplicate:
		return "duplicate"
	case Replaced:
		return "replaced"
	default:
		return "unknown"
	}
}

// DeliverFunc sends a fired job's payload to its destination.
type DeliverFunc func(ctx context.Context, destination int64, payload string) error

// JobEvent is the eventbus payload for scheduler events.
type JobEvent struct {
	JobID       string
	Destination int64
	Kind        Kind
	Outcome     Outcome
	Took        time.Duration
	Err         error
}

// JobInfo is a job plus its trigger times, as seen by Snapshot.
type JobInfo struct {
	Job
	Next time.Time
	Prev time.Time
}

type Snapshot struct {
	Running  bool
	Timezone string
	Jobs     []JobInfo
}
