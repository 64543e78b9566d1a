package errors

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("down")

// fakeClock lets tests move time without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(maxFailures int) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := NewCircuitBreaker("rerank", WithMaxFailures(maxFailures), WithResetTimeout(time.Second))
	cb.now = clock.now
	return cb, clock
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	// Given: a breaker allowing 3 failures
	cb, _ := newTestBreaker(3)

	// When: three calls fail
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errDown })
	}

	// Then: the circuit is open and calls are rejected unexecuted
	assert.Equal(t, StateOpen, cb.State())
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb, _ := newTestBreaker(3)

	_ = cb.Execute(func() error { return errDown })
	_ = cb.Execute(func() error { return errDown })
	require.NoError(t, cb.Execute(func() error { return nil }))

	assert.Zero(t, cb.Failures())
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ProbeClosesCircuit(t *testing.T) {
	cb, clock := newTestBreaker(1)
	_ = cb.Execute(func() error { return errDown })
	require.Equal(t, StateOpen, cb.State())

	// When: the reset timeout passes
	clock.advance(2 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	// Then: a successful probe closes the circuit
	got, err := CircuitExecute(cb, func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb, clock := newTestBreaker(3)
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errDown })
	}
	clock.advance(2 * time.Second)

	err := cb.Execute(func() error { return errDown })

	assert.ErrorIs(t, err, errDown)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_SingleProbeWhileHalfOpen(t *testing.T) {
	cb, clock := newTestBreaker(1)
	_ = cb.Execute(func() error { return errDown })
	clock.advance(2 * time.Second)

	// Given: a probe that blocks until released
	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- cb.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	// When: a second call arrives during the probe
	var second atomic.Bool
	err := cb.Execute(func() error { second.Store(true); return nil })

	// Then: it is rejected
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, second.Load())

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
