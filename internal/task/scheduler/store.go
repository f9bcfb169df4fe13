package scheduler

import (
	"fmt"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"
)

// ArmFunc installs the trigger for a job that is about to be stored under
// seq and returns its cron entry.
type ArmFunc func(seq uint64) (cron.EntryID, error)

type entry struct {
	job     Job
	seq     uint64
	entryID cron.EntryID
	arm     ArmFunc
}

// JobStore is the in-memory job set keyed by job id. Every mutation, including
// arming and disarming triggers, happens under one mutex, so at most one job
// (and one live trigger) exists per id.
type JobStore struct {
	mu     sync.Mutex
	seq    uint64
	jobs   map[string]entry
	disarm func(cron.EntryID)
}

// NewJobStore returns an empty store. disarm removes a trigger; it may be nil.
func NewJobStore(disarm func(cron.EntryID)) *JobStore {
	if disarm == nil {
		disarm = func(cron.EntryID) {}
	}
	return &JobStore{jobs: map[string]entry{}, disarm: disarm}
}

// UpsertOnce inserts job unless its id is already present (first wins).
// arm is only called on insertion.
func (st *JobStore) UpsertOnce(job Job, arm ArmFunc) (Outcome, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.jobs[job.ID]; ok {
		return Duplicate, nil
	}
	return Inserted, st.insertLocked(job, arm)
}

// UpsertDaily inserts job, replacing any job with the same id (last wins).
// The old trigger is disarmed before the new one is armed, so the two are
// never live together. If arming fails the previous job is armed again.
func (st *JobStore) UpsertDaily(job Job, arm ArmFunc) (Outcome, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	old, existed := st.jobs[job.ID]
	if !existed {
		return Inserted, st.insertLocked(job, arm)
	}

	st.disarm(old.entryID)
	err := st.insertLocked(job, arm)
	if err == nil {
		return Replaced, nil
	}
	if rerr := st.insertLocked(old.job, old.arm); rerr != nil {
		delete(st.jobs, job.ID)
		return 0, fmt.Errorf("%w (previous job %s lost: %v)", err, job.ID, rerr)
	}
	return 0, err
}

func (st *JobStore) insertLocked(job Job, arm ArmFunc) error {
	st.seq++
	seq := st.seq
	eid, err := arm(seq)
	if err != nil {
		return err
	}
	st.jobs[job.ID] = entry{job: job, seq: seq, entryID: eid, arm: arm}
	return nil
}

// RemoveAfterFire drops id only if it is still the registration identified
// by seq; a job replaced or cancelled meanwhile is left alone.
func (st *JobStore) RemoveAfterFire(id string, seq uint64) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	cur, ok := st.jobs[id]
	if !ok || cur.seq != seq {
		return false
	}
	delete(st.jobs, id)
	st.disarm(cur.entryID)
	return true
}

// Remove drops id and its trigger.
func (st *JobStore) Remove(id string) (Job, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	cur, ok := st.jobs[id]
	if !ok {
		return Job{}, false
	}
	delete(st.jobs, id)
	st.disarm(cur.entryID)
	return cur.job, true
}

func (st *JobStore) Get(id string) (Job, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	cur, ok := st.jobs[id]
	return cur.job, ok
}

func (st *JobStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.jobs)
}

// list returns a copy of all entries sorted by id.
func (st *JobStore) list() []entry {
	st.mu.Lock()
	out := make([]entry, 0, len(st.jobs))
	for _, e := range st.jobs {
		out = append(out, e)
	}
	st.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].job.ID < out[j].job.ID })
	return out
}

// List returns all jobs sorted by id.
func (st *JobStore) List() []Job {
	entries := st.list()
	out := make([]Job, len(entries))
	for i, e := range entries {
		out[i] = e.job
	}
	return out
}

// Clear removes every job and trigger and returns how many were dropped.
func (st *JobStore) Clear() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	n := len(st.jobs)
	for id, e := range st.jobs {
		st.disarm(e.entryID)
		delete(st.jobs, id)
	}
	return n
}
