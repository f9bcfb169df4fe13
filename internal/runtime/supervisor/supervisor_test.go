package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGoRecoversPanicAndRecordsError(t *testing.T) {
	s := New(context.Background())
	s.Go0("boom", func(ctx context.Context) { panic("kaboom") })

	err := s.Wait(waitCtx(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in boom")
	assert.Empty(t, s.Pending())
}

func TestCancelOnErrorStopsSiblings(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("worker", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	s.Go("failing", func(ctx context.Context) error { return errors.New("bad") })

	err := s.Wait(waitCtx(t))
	require.Error(t, err)
	assert.Equal(t, "failing: bad", err.Error())
	assert.Error(t, s.Context().Err())
}

func TestErrorWithoutCancelKeepsOthersRunning(t *testing.T) {
	s := New(context.Background())
	release := make(chan struct{})
	s.Go0("dispatch.0", func(ctx context.Context) { <-release })
	s.Go0("dispatch.1", func(ctx context.Context) { <-release })
	s.Go("failing", func(ctx context.Context) error { return errors.New("bad") })

	require.Eventually(t, func() bool {
		return s.Err() != nil && len(s.Pending()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.NoError(t, s.Context().Err())
	assert.Equal(t, []string{"dispatch.0", "dispatch.1"}, s.Pending())

	close(release)
	require.Error(t, s.Wait(waitCtx(t)))
	assert.Empty(t, s.Pending())
}

func TestWaitHonorsDeadline(t *testing.T) {
	s := New(context.Background())
	block := make(chan struct{})
	defer close(block)
	s.Go0("stuck", func(ctx context.Context) { <-block })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)
	assert.Equal(t, []string{"stuck"}, s.Pending())
}

func TestCanceledIsNotAFailure(t *testing.T) {
	s := New(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, s.Stop(waitCtx(t)))
}
