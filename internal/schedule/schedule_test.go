package schedule

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, cfg *Config) *Scheduler {
	t.Helper()
	s := New(cfg)
	t.Cleanup(s.Stop)
	return s
}

func TestRegister_Validation(t *testing.T) {
	s := newTestScheduler(t, nil)
	run := func(context.Context) error { return nil }

	_, err := s.Register(Job{Interval: time.Second, Run: run})
	assert.Error(t, err)
	_, err = s.Register(Job{ID: "a", Run: run})
	assert.Error(t, err)
	_, err = s.Register(Job{ID: "a", Interval: time.Second})
	assert.Error(t, err)
	assert.Empty(t, s.Jobs())
}

func TestRegister_RunsPeriodically(t *testing.T) {
	s := newTestScheduler(t, nil)

	var runs atomic.Int32
	_, err := s.Register(Job{
		ID:       "sync",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestRegister_Idempotent(t *testing.T) {
	s := newTestScheduler(t, nil)

	var oldRuns, newRuns atomic.Int32
	replaced, err := s.Register(Job{
		ID:       "sync",
		Interval: time.Hour,
		Run: func(context.Context) error {
			oldRuns.Add(1)
			return nil
		},
	})
	require.NoError(t, err)
	assert.False(t, replaced)

	replaced, err = s.Register(Job{
		ID:       "sync",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) error {
			newRuns.Add(1)
			return nil
		},
	})
	require.NoError(t, err)
	assert.True(t, replaced)
	assert.Equal(t, []string{"sync"}, s.Jobs())

	require.Eventually(t, func() bool { return newRuns.Load() >= 2 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, oldRuns.Load())
}

func TestImmediate(t *testing.T) {
	s := newTestScheduler(t, nil)

	ran := make(chan struct{}, 1)
	_, err := s.Register(Job{
		ID:        "sync",
		Interval:  time.Hour,
		Immediate: true,
		Run: func(context.Context) error {
			ran <- struct{}{}
			return nil
		},
	})
	require.NoError(t, err)

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("immediate job did not run")
	}
}

func TestConnectedGate(t *testing.T) {
	s := newTestScheduler(t, nil)

	var online atomic.Bool
	var runs atomic.Int32
	_, err := s.Register(Job{
		ID:        "sync",
		Interval:  5 * time.Millisecond,
		Connected: online.Load,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, runs.Load())

	online.Store(true)
	require.Eventually(t, func() bool { return runs.Load() > 0 }, time.Second, 5*time.Millisecond)
}

func TestBackoffAfterFailure(t *testing.T) {
	s := newTestScheduler(t, &Config{InitialBackoff: 2 * time.Millisecond})

	var runs atomic.Int32
	_, err := s.Register(Job{
		ID:        "sync",
		Interval:  time.Hour,
		Immediate: true,
		Run: func(context.Context) error {
			if runs.Add(1) <= 3 {
				return errors.New("retry needed")
			}
			return nil
		},
	})
	require.NoError(t, err)

	// Three failures retry on the backoff, the fourth run succeeds and the
	// next run is an hour away.
	require.Eventually(t, func() bool { return runs.Load() == 4 }, 2*time.Second, 2*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(4), runs.Load())
}

func TestPanicIsFailure(t *testing.T) {
	s := newTestScheduler(t, &Config{InitialBackoff: time.Millisecond})

	var runs atomic.Int32
	_, err := s.Register(Job{
		ID:        "sync",
		Interval:  time.Hour,
		Immediate: true,
		Run: func(context.Context) error {
			if runs.Add(1) == 1 {
				panic("boom")
			}
			return nil
		},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, 2*time.Millisecond)
}

func TestCancelAndStop(t *testing.T) {
	s := New(nil)

	run := func(context.Context) error { return nil }
	_, err := s.Register(Job{ID: "a", Interval: time.Hour, Run: run})
	require.NoError(t, err)
	_, err = s.Register(Job{ID: "b", Interval: time.Hour, Run: run})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, s.Jobs())

	assert.True(t, s.Cancel("a"))
	assert.False(t, s.Cancel("a"))
	assert.Equal(t, []string{"b"}, s.Jobs())

	s.Stop()
	assert.Empty(t, s.Jobs())

	_, err = s.Register(Job{ID: "c", Interval: time.Hour, Run: run})
	assert.Error(t, err)
}

func TestStopCancelsRunningJob(t *testing.T) {
	s := New(nil)

	started := make(chan struct{})
	_, err := s.Register(Job{
		ID:        "slow",
		Interval:  time.Hour,
		Immediate: true,
		Run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	})
	require.NoError(t, err)

	<-started
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestReachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	check, err := Reachable("http://"+ln.Addr().String()+"/graphql", time.Second)
	require.NoError(t, err)
	assert.True(t, check())

	require.NoError(t, ln.Close())
	assert.False(t, check())

	_, err = Reachable("not a url at all", time.Second)
	assert.Error(t, err)
}
