package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agencycrm/internal/utils/logger"
)

func newScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := NewScheduler(time.Second, logger.New("POLL"))
	t.Cleanup(s.Stop)
	return s
}

func TestStaleResponseIsDiscarded(t *testing.T) {
	s := newScheduler(t)

	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	var calls int32
	var mu sync.Mutex
	var applied []string

	sub, err := Subscribe(s, "messages", time.Minute,
		func(ctx context.Context) (string, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				close(firstStarted)
				<-releaseFirst
				return "old", nil
			}
			return "new", nil
		},
		func(v string) {
			mu.Lock()
			defer mu.Unlock()
			applied = append(applied, v)
		})
	require.NoError(t, err)

	firstDone := make(chan error, 1)
	go func() { firstDone <- sub.Trigger() }()
	<-firstStarted

	require.NoError(t, sub.Trigger())
	close(releaseFirst)
	assert.ErrorIs(t, <-firstDone, ErrStale)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"new"}, applied)
	assert.Equal(t, uint64(1), sub.Applied())
	assert.Equal(t, uint64(1), sub.Discarded())
}

func TestFetchErrorSkipsApply(t *testing.T) {
	s := newScheduler(t)
	boom := errors.New("backend unavailable")
	var applied bool

	sub, err := Subscribe(s, "unread", time.Minute,
		func(context.Context) (int, error) { return 0, boom },
		func(int) { applied = true })
	require.NoError(t, err)

	assert.ErrorIs(t, sub.Trigger(), boom)
	assert.False(t, applied)
}

func TestSubscribeValidation(t *testing.T) {
	s := newScheduler(t)
	noop := func(context.Context) (int, error) { return 0, nil }

	_, err := Subscribe(s, "fast", 10*time.Millisecond, noop, func(int) {})
	assert.Error(t, err)

	_, err = Subscribe(s, "tasks", time.Minute, noop, func(int) {})
	require.NoError(t, err)
	_, err = Subscribe(s, "tasks", time.Minute, noop, func(int) {})
	assert.Error(t, err)
}

func TestCancelRemovesSubscription(t *testing.T) {
	s := newScheduler(t)
	sub, err := Subscribe(s, "clients", time.Minute,
		func(context.Context) (int, error) { return 1, nil }, func(int) {})
	require.NoError(t, err)
	assert.Equal(t, []string{"clients"}, s.Names())

	sub.Cancel()
	assert.Empty(t, s.Names())
}

func TestScheduledPollsRunUntilContextDone(t *testing.T) {
	s := NewScheduler(time.Second, logger.New("POLL"))
	var polls int32
	_, err := Subscribe(s, "permissions", time.Second,
		func(context.Context) (int, error) { return 1, nil },
		func(int) { atomic.AddInt32(&polls, 1) })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&polls) > 0 }, 3*time.Second, 50*time.Millisecond)

	cancel()
	assert.Eventually(t, func() bool { return s.ctx.Err() != nil }, time.Second, 10*time.Millisecond)
}

func TestStopCancelsInFlightPoll(t *testing.T) {
	s := NewScheduler(time.Minute, logger.New("POLL"))
	started := make(chan struct{})
	sub, err := Subscribe(s, "slow", time.Minute,
		func(ctx context.Context) (int, error) {
			close(started)
			<-ctx.Done()
			return 0, ctx.Err()
		}, func(int) {})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- sub.Trigger() }()
	<-started
	s.Stop()

	assert.ErrorIs(t, <-done, context.Canceled)
}
