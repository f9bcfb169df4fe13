package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTriggers struct {
	mu       sync.Mutex
	next     cron.EntryID
	disarmed []cron.EntryID
	trace    []string
}

func (f *fakeTriggers) arm(uint64) (cron.EntryID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.trace = append(f.trace, fmt.Sprintf("arm %d", f.next))
	return f.next, nil
}

func (f *fakeTriggers) disarm(id cron.EntryID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disarmed = append(f.disarmed, id)
	f.trace = append(f.trace, fmt.Sprintf("disarm %d", id))
}

func TestUpsertOnceFirstWins(t *testing.T) {
	ft := &fakeTriggers{}
	st := NewJobStore(ft.disarm)
	at := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)

	first := NewOnce(1, at, "first")
	second := NewOnce(1, at, "second")

	out, err := st.UpsertOnce(first, ft.arm)
	require.NoError(t, err)
	assert.Equal(t, Inserted, out)

	armed := false
	out, err = st.UpsertOnce(second, func(uint64) (cron.EntryID, error) {
		armed = true
		return 99, nil
	})
	require.NoError(t, err)
	assert.Equal(t, Duplicate, out)
	assert.False(t, armed, "duplicate must not arm a trigger")

	got, ok := st.Get(first.ID)
	require.True(t, ok)
	assert.Equal(t, "first", got.Payload)
	assert.Equal(t, 1, st.Len())
}

func TestUpsertDailyLastWins(t *testing.T) {
	ft := &fakeTriggers{}
	st := NewJobStore(ft.disarm)

	out, err := st.UpsertDaily(NewDaily(5, 8, 0, time.UTC, "A"), ft.arm)
	require.NoError(t, err)
	assert.Equal(t, Inserted, out)

	out, err = st.UpsertDaily(NewDaily(5, 8, 0, time.UTC, "B"), ft.arm)
	require.NoError(t, err)
	assert.Equal(t, Replaced, out)

	got, ok := st.Get(DailyID(5, 8, 0))
	require.True(t, ok)
	assert.Equal(t, "B", got.Payload)
	assert.Equal(t, []cron.EntryID{1}, ft.disarmed)
	assert.Equal(t, 1, st.Len())
	// The old trigger is gone before the new one exists.
	assert.Equal(t, []string{"arm 1", "disarm 1", "arm 2"}, ft.trace)
}

func TestUpsertDailyArmFailureKeepsPrevious(t *testing.T) {
	ft := &fakeTriggers{}
	st := NewJobStore(ft.disarm)
	_, err := st.UpsertDaily(NewDaily(5, 8, 0, time.UTC, "A"), ft.arm)
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = st.UpsertDaily(NewDaily(5, 8, 0, time.UTC, "B"), func(uint64) (cron.EntryID, error) { return 0, boom })
	require.ErrorIs(t, err, boom)

	got, _ := st.Get(DailyID(5, 8, 0))
	assert.Equal(t, "A", got.Payload)
	assert.Equal(t, []string{"arm 1", "disarm 1", "arm 2"}, ft.trace)
	assert.Equal(t, 1, st.Len())

	// The re-armed entry is the one a later replacement disarms.
	_, err = st.UpsertDaily(NewDaily(5, 8, 0, time.UTC, "C"), ft.arm)
	require.NoError(t, err)
	assert.Equal(t, []cron.EntryID{1, 2}, ft.disarmed)
}

func TestRemoveAfterFireChecksSequence(t *testing.T) {
	ft := &fakeTriggers{}
	st := NewJobStore(ft.disarm)
	var seqs []uint64
	arm := func(seq uint64) (cron.EntryID, error) {
		seqs = append(seqs, seq)
		return ft.arm(seq)
	}
	job := NewDaily(5, 8, 0, time.UTC, "A")
	_, _ = st.UpsertDaily(job, arm)
	_, _ = st.UpsertDaily(job, arm)
	require.Len(t, seqs, 2)

	assert.False(t, st.RemoveAfterFire(job.ID, seqs[0]), "stale registration must not remove the replacement")
	assert.Equal(t, 1, st.Len())
	assert.True(t, st.RemoveAfterFire(job.ID, seqs[1]))
	assert.Zero(t, st.Len())
	assert.False(t, st.RemoveAfterFire(job.ID, seqs[1]))
}

func TestListAndClear(t *testing.T) {
	ft := &fakeTriggers{}
	st := NewJobStore(ft.disarm)
	_, _ = st.UpsertDaily(NewDaily(2, 9, 30, time.UTC, "x"), ft.arm)
	_, _ = st.UpsertDaily(NewDaily(1, 7, 0, time.UTC, "y"), ft.arm)

	jobs := st.List()
	require.Len(t, jobs, 2)
	assert.Equal(t, "daily-1-0700", jobs[0].ID)
	assert.Equal(t, "daily-2-0930", jobs[1].ID)

	assert.Equal(t, 2, st.Clear())
	assert.Zero(t, st.Len())
	assert.Len(t, ft.disarmed, 2)
}

func TestConcurrentRegistrationsKeepOneJobPerID(t *testing.T) {
	ft := &fakeTriggers{}
	st := NewJobStore(ft.disarm)
	at := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inserts int
	)
	for i := 0; i < 64; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			out, err := st.UpsertOnce(NewOnce(1, at, "once"), ft.arm)
			if err == nil && out == Inserted {
				mu.Lock()
				inserts++
				mu.Unlock()
			}
		}()
		go func() {
			defer wg.Done()
			_, _ = st.UpsertDaily(NewDaily(1, 9, 0, time.UTC, "daily"), ft.arm)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, inserts)
	assert.Equal(t, 2, st.Len())
	// Every daily replacement disarmed exactly one predecessor.
	assert.Len(t, ft.disarmed, 63)
}
