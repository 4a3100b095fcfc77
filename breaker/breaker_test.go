package breaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func failing(calls *int32) func(context.Context) error {
	return func(context.Context) error {
		atomic.AddInt32(calls, 1)
		return errBoom
	}
}

func succeeding(calls *int32) func(context.Context) error {
	return func(context.Context) error {
		atomic.AddInt32(calls, 1)
		return nil
	}
}

func tripped(t *testing.T, clock *fakeClock) *Breaker {
	t.Helper()
	b := New(Config{Name: "test", Now: clock.Now})
	var calls int32
	for i := 0; i < 3; i++ {
		require.ErrorIs(t, b.Execute(context.Background(), failing(&calls)), errBoom)
	}
	require.Equal(t, StateOpen, b.State())
	return b
}

func TestThreeConsecutiveFailuresOpen(t *testing.T) {
	clock := newFakeClock()
	b := New(Config{Now: clock.Now})
	var calls int32

	require.ErrorIs(t, b.Execute(context.Background(), failing(&calls)), errBoom)
	require.ErrorIs(t, b.Execute(context.Background(), failing(&calls)), errBoom)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 2, b.Failures())

	require.ErrorIs(t, b.Execute(context.Background(), failing(&calls)), errBoom)
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.CanExecute())
	assert.Equal(t, clock.Now(), b.ChangedAt())
}

func TestSuccessResetsConsecutiveCount(t *testing.T) {
	b := New(Config{})
	var calls int32

	for i := 0; i < 10; i++ {
		_ = b.Execute(context.Background(), failing(&calls))
		_ = b.Execute(context.Background(), failing(&calls))
		require.NoError(t, b.Execute(context.Background(), succeeding(&calls)))
	}
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Failures())
}

func TestOpenRejectsWithoutInvoking(t *testing.T) {
	clock := newFakeClock()
	b := tripped(t, clock)

	clock.Advance(29 * time.Second)
	var calls int32
	err := b.Execute(context.Background(), succeeding(&calls))
	require.ErrorIs(t, err, ErrOpen)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestCooldownTrialSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	b := tripped(t, clock)

	clock.Advance(30 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())
	assert.True(t, b.CanExecute())

	var calls int32
	require.NoError(t, b.Execute(context.Background(), succeeding(&calls)))
	assert.EqualValues(t, 1, calls)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Failures())
}

func TestCooldownTrialFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := tripped(t, clock)

	clock.Advance(31 * time.Second)
	var calls int32
	require.ErrorIs(t, b.Execute(context.Background(), failing(&calls)), errBoom)
	assert.Equal(t, StateOpen, b.State())

	// The cooldown restarts from the failed trial.
	clock.Advance(29 * time.Second)
	require.ErrorIs(t, b.Execute(context.Background(), succeeding(&calls)), ErrOpen)
	clock.Advance(time.Second)
	require.NoError(t, b.Execute(context.Background(), succeeding(&calls)))
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenAllowsSingleTrial(t *testing.T) {
	clock := newFakeClock()
	b := tripped(t, clock)
	clock.Advance(time.Minute)

	release := make(chan struct{})
	entered := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(context.Background(), func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	var calls int32
	for i := 0; i < 5; i++ {
		require.ErrorIs(t, b.Execute(context.Background(), succeeding(&calls)), ErrOpen)
	}
	assert.Zero(t, atomic.LoadInt32(&calls))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, b.State())
}

func TestResetForcesClosed(t *testing.T) {
	clock := newFakeClock()
	b := tripped(t, clock)

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Failures())

	var calls int32
	require.NoError(t, b.Execute(context.Background(), succeeding(&calls)))
	assert.EqualValues(t, 1, calls)
}

func TestIsFailureFilter(t *testing.T) {
	notFound := errors.New("not found")
	b := New(Config{IsFailure: func(err error) bool { return !errors.Is(err, notFound) }})

	for i := 0; i < 10; i++ {
		require.ErrorIs(t, b.Execute(context.Background(), func(context.Context) error { return notFound }), notFound)
	}
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Failures())
}

func TestCallerCancellationIsNeutral(t *testing.T) {
	b := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 5; i++ {
		err := b.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestStaleGenerationIgnored(t *testing.T) {
	clock := newFakeClock()
	b := New(Config{Now: clock.Now})

	release := make(chan struct{})
	entered := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(context.Background(), func(context.Context) error {
			close(entered)
			<-release
			return errBoom
		})
	}()
	<-entered

	var calls int32
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), failing(&calls))
	}
	require.Equal(t, StateOpen, b.State())
	b.Reset()

	close(release)
	require.ErrorIs(t, <-done, errBoom)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Failures())
}

func TestStateChangeNotifications(t *testing.T) {
	clock := newFakeClock()
	var mu sync.Mutex
	var seen []State
	b := New(Config{
		Name: "store",
		Now:  clock.Now,
		OnStateChange: func(name string, from, to State) {
			assert.Equal(t, "store", name)
			mu.Lock()
			seen = append(seen, to)
			mu.Unlock()
		},
	})
	var calls int32
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), failing(&calls))
	}
	clock.Advance(time.Minute)
	require.NoError(t, b.Execute(context.Background(), succeeding(&calls)))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, seen)
}

func TestDoReturnsValue(t *testing.T) {
	b := New(Config{})
	v, err := Do(context.Background(), b, func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestConcurrentFailuresOpenOnce(t *testing.T) {
	var transitions int32
	b := New(Config{OnStateChange: func(_ string, _, to State) {
		if to == StateOpen {
			atomic.AddInt32(&transitions, 1)
		}
	}})

	var wg sync.WaitGroup
	var calls int32
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Execute(context.Background(), failing(&calls))
		}()
	}
	wg.Wait()

	assert.Equal(t, StateOpen, b.State())
	assert.EqualValues(t, 1, atomic.LoadInt32(&transitions))
}
