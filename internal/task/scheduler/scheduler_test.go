package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindbot/internal/eventbus"
	logx "remindbot/pkg/logx"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) deliver(_ context.Context, destination int64, payload string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, payload)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newTestService(t *testing.T, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(Config{Timezone: "UTC"}, logx.Nop(), bus)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestOnceFiresThenLeavesStore(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := newTestService(t, bus)
	s.Start(context.Background())
	s.Start(context.Background())

	rec := &recorder{}
	job := NewOnce(42, time.Now().Add(150*time.Millisecond), "📌 Recordatorio: hola")
	out, err := s.RegisterOnce(job, rec.deliver)
	require.NoError(t, err)
	assert.Equal(t, Inserted, out)

	require.Eventually(t, func() bool { return rec.count() == 1 && s.Store().Len() == 0 }, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(s.c.Entries()) == 0 }, time.Second, 10*time.Millisecond)

	// No second fire.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, rec.count())

	var fired bool
	for len(events) > 0 {
		ev := <-events
		if ev.Type == eventbus.TypeJobFired {
			fired = true
			assert.Equal(t, job.ID, ev.Data.(JobEvent).JobID)
		}
	}
	assert.True(t, fired)
}

func TestOnceRemovedEvenWhenDeliveryPanics(t *testing.T) {
	s := newTestService(t, nil)
	s.Start(context.Background())

	var calls atomic.Int32
	job := NewOnce(7, time.Now().Add(100*time.Millisecond), "x")
	_, err := s.RegisterOnce(job, func(context.Context, int64, string) error {
		calls.Add(1)
		panic("send exploded")
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return calls.Load() == 1 && s.Store().Len() == 0 }, 3*time.Second, 10*time.Millisecond)
}

func TestStartContextCancelsDeliveries(t *testing.T) {
	s := newTestService(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	got := make(chan error, 1)
	job := NewOnce(9, time.Now().Add(100*time.Millisecond), "x")
	_, err := s.RegisterOnce(job, func(c context.Context, _ int64, _ string) error {
		got <- c.Err()
		return c.Err()
	})
	require.NoError(t, err)

	select {
	case err := <-got:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire")
	}
	require.Eventually(t, func() bool { return s.Store().Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestRegisterOnceRejectsPastAndInvalid(t *testing.T) {
	s := newTestService(t, nil)
	rec := &recorder{}

	_, err := s.RegisterOnce(NewOnce(1, time.Now().Add(-time.Minute), "late"), rec.deliver)
	require.ErrorIs(t, err, ErrFireTimeInPast)

	_, err = s.RegisterOnce(NewOnce(0, time.Now().Add(time.Hour), "nobody"), rec.deliver)
	require.ErrorIs(t, err, ErrInvalidJob)

	_, err = s.RegisterOnce(NewDaily(1, 8, 0, time.UTC, "wrong kind"), rec.deliver)
	require.ErrorIs(t, err, ErrInvalidJob)

	_, err = s.RegisterDaily(NewDaily(1, 24, 0, time.UTC, "bad hour"), rec.deliver)
	require.ErrorIs(t, err, ErrInvalidJob)
	assert.Zero(t, s.Store().Len())
}

func TestRegisterOnceDuplicateKeepsFirst(t *testing.T) {
	s := newTestService(t, nil)
	rec := &recorder{}
	at := time.Now().Add(time.Hour)

	out, err := s.RegisterOnce(NewOnce(1, at, "first"), rec.deliver)
	require.NoError(t, err)
	assert.Equal(t, Inserted, out)
	out, err = s.RegisterOnce(NewOnce(1, at, "second"), rec.deliver)
	require.NoError(t, err)
	assert.Equal(t, Duplicate, out)

	assert.Len(t, s.c.Entries(), 1)
	got, _ := s.Store().Get(OnceID(1, at))
	assert.Equal(t, "first", got.Payload)
}

func TestRegisterDailyReplacesPrevious(t *testing.T) {
	s := newTestService(t, nil)
	rec := &recorder{}

	out, err := s.RegisterDaily(NewDaily(9, 8, 0, nil, "A"), rec.deliver)
	require.NoError(t, err)
	assert.Equal(t, Inserted, out)
	out, err = s.RegisterDaily(NewDaily(9, 8, 0, nil, "B"), rec.deliver)
	require.NoError(t, err)
	assert.Equal(t, Replaced, out)

	entries := s.c.Entries()
	require.Len(t, entries, 1)
	entries[0].WrappedJob.Run()
	assert.Equal(t, []string{"B"}, rec.calls)

	got, ok := s.Store().Get(DailyID(9, 8, 0))
	require.True(t, ok)
	assert.Equal(t, "UTC", got.Location.String(), "nil location falls back to the service timezone")
}

func TestDailyDeliveryFailureIsNotRetried(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	s := newTestService(t, bus)

	var calls int
	_, err := s.RegisterDaily(NewDaily(3, 6, 15, time.UTC, "x"), func(context.Context, int64, string) error {
		calls++
		return errors.New("telegram down")
	})
	require.NoError(t, err)
	<-events // registered

	s.c.Entries()[0].WrappedJob.Run()
	assert.Equal(t, 1, calls)
	ev := <-events
	assert.Equal(t, eventbus.TypeJobFailed, ev.Type)
	assert.EqualError(t, ev.Data.(JobEvent).Err, "telegram down")
	assert.Equal(t, 1, s.Store().Len(), "daily jobs survive failed deliveries")
}

func TestDailyKeepsLocalHourAcrossDST(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	sched, err := parseDaily(8, 0, ny)
	require.NoError(t, err)

	// US DST starts 2026-03-08.
	from := time.Date(2026, 3, 6, 12, 0, 0, 0, ny)
	var fires []time.Time
	t0 := from
	for i := 0; i < 4; i++ {
		t0 = sched.Next(t0)
		fires = append(fires, t0)
	}
	for _, f := range fires {
		local := f.In(ny)
		assert.Equal(t, 8, local.Hour())
		assert.Equal(t, 0, local.Minute())
	}
	assert.Equal(t, 7, fires[0].In(ny).Day())
	assert.Equal(t, 23*time.Hour, fires[1].Sub(fires[0]), "spring-forward day is 23h long")
	assert.Equal(t, 24*time.Hour, fires[2].Sub(fires[1]))
}

func TestOnceScheduleNeverRepeats(t *testing.T) {
	at := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	s := onceSchedule{at: at}
	assert.Equal(t, at, s.Next(at.Add(-time.Second)))
	assert.True(t, s.Next(at).IsZero())
	assert.True(t, s.Next(at.Add(time.Hour)).IsZero())
	var _ cron.Schedule = s
}

func TestCancelAndSnapshot(t *testing.T) {
	bus := eventbus.New()
	s := newTestService(t, bus)
	rec := &recorder{}
	at := time.Now().Add(2 * time.Hour).Truncate(time.Second)

	_, err := s.RegisterOnce(NewOnce(11, at, "a"), rec.deliver)
	require.NoError(t, err)
	_, err = s.RegisterDaily(NewDaily(11, 7, 30, time.UTC, "b"), rec.deliver)
	require.NoError(t, err)
	_, err = s.RegisterDaily(NewDaily(12, 7, 30, time.UTC, "c"), rec.deliver)
	require.NoError(t, err)

	jobs := s.JobsFor(11)
	require.Len(t, jobs, 2)
	assert.Equal(t, "daily-11-0730", jobs[0].ID)
	assert.Equal(t, 7, jobs[0].Next.In(time.UTC).Hour())
	assert.True(t, jobs[1].Next.Equal(at))

	snap := s.Snapshot()
	assert.False(t, snap.Running)
	assert.Equal(t, "UTC", snap.Timezone)
	assert.Len(t, snap.Jobs, 3)

	assert.True(t, s.Cancel(OnceID(11, at)))
	assert.False(t, s.Cancel(OnceID(11, at)))
	assert.Len(t, s.JobsFor(11), 1)
	assert.Len(t, s.c.Entries(), 2)
}

func TestStopClearsJobsAndRejectsNewOnes(t *testing.T) {
	s := New(Config{Timezone: "UTC"}, logx.Nop(), nil)
	s.Start(context.Background())
	rec := &recorder{}
	_, err := s.RegisterDaily(NewDaily(1, 8, 0, nil, "x"), rec.deliver)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	s.Stop(ctx)

	assert.Zero(t, s.Store().Len())
	_, err = s.RegisterDaily(NewDaily(1, 8, 0, nil, "x"), rec.deliver)
	require.ErrorIs(t, err, ErrStopped)
}

func TestApplySwapsDefaultLocation(t *testing.T) {
	s := newTestService(t, nil)
	s.Apply(Config{Timezone: "Europe/Madrid"})
	assert.Equal(t, "Europe/Madrid", s.Location().String())
	s.Apply(Config{Timezone: "Not/AZone"})
	assert.Equal(t, time.Local, s.Location())
}

func TestIDs(t *testing.T) {
	at := time.Unix(1767261600, 0)
	assert.Equal(t, "once-123-1767261600", OnceID(123, at))
	assert.Equal(t, "daily-123-0805", DailyID(123, 8, 5))
	assert.Equal(t, "daily--5-2300", DailyID(-5, 23, 0))
}
