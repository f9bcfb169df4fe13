package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/eventbus"
	logx "remindbot/pkg/logx"
)

// RegisterOnce arranges for cb to run once at job.FireAt. A job whose id is
// already registered is dropped and reported as Duplicate. The job leaves
// the store right after cb returns, whether it succeeded, failed or panicked.
func (s *Service) RegisterOnce(job Job, cb DeliverFunc) (Outcome, error) {
	if err := validate(job, KindOnce, cb); err != nil {
		return 0, err
	}
	if !job.FireAt.After(s.now()) {
		return 0, fmt.Errorf("%w: %s", ErrFireTimeInPast, job.FireAt.Format(time.RFC3339))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return 0, ErrStopped
	}

	out, err := s.store.UpsertOnce(job, func(seq uint64) (cron.EntryID, error) {
		run := cron.FuncJob(func() {
			defer s.store.RemoveAfterFire(job.ID, seq)
			s.fire(job, cb)
		})
		return s.c.Schedule(onceSchedule{at: job.FireAt}, s.chain.Then(run)), nil
	})
	if err != nil {
		return 0, err
	}
	s.registered(job, out, job.FireAt.Format("2006-01-02 15:04 MST"))
	return out, nil
}

// RegisterDaily arranges for cb to run every day at job.Hour:job.Minute local
// time in job.Location (the service timezone when nil). A job with the same
// id is replaced.
func (s *Service) RegisterDaily(job Job, cb DeliverFunc) (Outcome, error) {
	if err := validate(job, KindDaily, cb); err != nil {
		return 0, err
	}
	if job.Location == nil {
		job.Location = s.Location()
	}
	sched, err := parseDaily(job.Hour, job.Minute, job.Location)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return 0, ErrStopped
	}

	out, err := s.store.UpsertDaily(job, func(uint64) (cron.EntryID, error) {
		run := cron.FuncJob(func() { s.fire(job, cb) })
		return s.c.Schedule(sched, s.chain.Then(run)), nil
	})
	if err != nil {
		return 0, err
	}
	preview := ""
	if s.log.Enabled(logx.LevelDebug) {
		preview = previewNextRuns(sched, s.now(), 3)
	}
	s.registered(job, out, preview)
	return out, nil
}

// Cancel removes a job before it fires. It reports whether the job existed.
func (s *Service) Cancel(id string) bool {
	job, ok := s.store.Remove(strings.TrimSpace(id))
	if !ok {
		return false
	}
	s.log.Debug("job cancelled", logx.String("job_id", job.ID), logx.Int64("chat_id", job.Destination))
	eventbus.Publish(s.bus, eventbus.TypeJobCancelled, JobEvent{JobID: job.ID, Destination: job.Destination, Kind: job.Kind})
	return true
}

func (s *Service) registered(job Job, out Outcome, next string) {
	typ := eventbus.TypeJobRegistered
	switch out {
	case Duplicate:
		typ = eventbus.TypeJobDuplicate
	case Replaced:
		typ = eventbus.TypeJobReplaced
	}
	fields := []logx.Field{
		logx.String("job_id", job.ID),
		logx.Int64("chat_id", job.Destination),
		logx.String("kind", string(job.Kind)),
		logx.String("outcome", out.String()),
	}
	if next != "" {
		fields = append(fields, logx.String("next", next))
	}
	s.log.Debug("job registered", fields...)
	eventbus.Publish(s.bus, typ, JobEvent{JobID: job.ID, Destination: job.Destination, Kind: job.Kind, Outcome: out})
}

// fire runs one delivery. Failures are logged and published, never retried.
func (s *Service) fire(job Job, cb DeliverFunc) {
	start := s.now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("delivery panicked: %v", r)
			}
		}()
		return cb(s.fireCtx, job.Destination, job.Payload)
	}()
	took := s.now().Sub(start)

	ev := JobEvent{JobID: job.ID, Destination: job.Destination, Kind: job.Kind, Took: took, Err: err}
	if err != nil {
		s.log.Warn("job delivery failed", logx.String("job_id", job.ID), logx.Int64("chat_id", job.Destination), logx.Duration("took", took), logx.Err(err))
		eventbus.Publish(s.bus, eventbus.TypeJobFailed, ev)
		return
	}
	s.log.Info("job fired", logx.String("job_id", job.ID), logx.Int64("chat_id", job.Destination), logx.Duration("took", took))
	eventbus.Publish(s.bus, eventbus.TypeJobFired, ev)
}

func validate(job Job, kind Kind, cb DeliverFunc) error {
	switch {
	case cb == nil:
		return fmt.Errorf("%w: nil callback", ErrInvalidJob)
	case strings.TrimSpace(job.ID) == "":
		return fmt.Errorf("%w: empty id", ErrInvalidJob)
	case job.Kind != kind:
		return fmt.Errorf("%w: kind %q, want %q", ErrInvalidJob, job.Kind, kind)
	case job.Destination == 0:
		return fmt.Errorf("%w: no destination", ErrInvalidJob)
	}
	return nil
}
