package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindbot/internal/eventbus"
	"remindbot/internal/intent"
	"remindbot/internal/notifier"
	"remindbot/internal/task/scheduler"
)

func TestObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("remindbot", reg, func() int { return 3 })

	m.Observe(eventbus.Event{Type: eventbus.TypeJobRegistered, Data: scheduler.JobEvent{Kind: scheduler.KindOnce, Outcome: scheduler.Inserted}})
	m.Observe(eventbus.Event{Type: eventbus.TypeJobDuplicate, Data: scheduler.JobEvent{Kind: scheduler.KindOnce, Outcome: scheduler.Duplicate}})
	m.Observe(eventbus.Event{Type: eventbus.TypeJobFired, Data: scheduler.JobEvent{Kind: scheduler.KindDaily, Took: 20 * time.Millisecond}})
	m.Observe(eventbus.Event{Type: eventbus.TypeJobFailed, Data: scheduler.JobEvent{Kind: scheduler.KindDaily, Err: errors.New("x")}})
	m.Observe(eventbus.Event{Type: eventbus.TypeJobCancelled, Data: scheduler.JobEvent{}})
	m.Observe(eventbus.Event{Type: eventbus.TypeReplyFailed, Data: notifier.NotificationEvent{Kind: notifier.KindReply}})
	m.Observe(eventbus.Event{Type: eventbus.TypeUpdateRouted, Data: intent.Action{Kind: intent.Scheduled}})
	m.Observe(eventbus.Event{Type: "something.else", Data: 1})
	m.Observe(eventbus.Event{Type: eventbus.TypeJobFired, Data: "wrong type"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.registrations.WithLabelValues("once", "inserted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.registrations.WithLabelValues("once", "duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fires.WithLabelValues("daily", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fires.WithLabelValues("daily", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cancellations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sends.WithLabelValues("reply", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.routed.WithLabelValues("scheduled")))

	families, err := reg.Gather()
	require.NoError(t, err)
	var active float64
	for _, f := range families {
		if f.GetName() == "remindbot_jobs_active" {
			active = f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, 3.0, active)
}

func TestRunConsumesBus(t *testing.T) {
	m := New("t", prometheus.NewRegistry(), nil)
	bus := eventbus.New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx, bus)
	}()

	require.Eventually(t, func() bool {
		eventbus.Publish(bus, eventbus.TypeReplySent, notifier.NotificationEvent{Kind: notifier.KindReminder})
		return testutil.ToFloat64(m.sends.WithLabelValues("reminder", "ok")) > 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestTrackBusExportsDrops(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("remindbot", reg, nil)
	bus := eventbus.New()
	m.TrackBus(bus)

	_, unsub := bus.Subscribe(8)
	defer unsub()
	for range 10 {
		eventbus.Publish(bus, eventbus.TypeJobFired, nil)
	}

	n, err := testutil.GatherAndCount(reg, "remindbot_eventbus_dropped_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, uint64(2), bus.Dropped())
}
