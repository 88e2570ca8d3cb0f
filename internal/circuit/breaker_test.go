package circuit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namedfs/namedfs/pkg/errors"
)

var errDial = fmt.Errorf("dial tcp: connection refused")

func fail(context.Context) error    { return errDial }
func succeed(context.Context) error { return nil }

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "CLOSED"},
		{StateOpen, "OPEN"},
		{StateHalfOpen, "HALF_OPEN"},
		{State(999), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var changes []string
	cb := NewCircuitBreaker("hdfs|nn1:8020", Config{
		FailureThreshold: 3,
		Timeout:          time.Hour,
		OnStateChange: func(name string, from, to State) {
			changes = append(changes, from.String()+">"+to.String())
		},
	})
	ctx := context.Background()

	assert.Equal(t, errDial, cb.Execute(ctx, fail))
	assert.Equal(t, errDial, cb.Execute(ctx, fail))
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, uint32(0), cb.GetCounts().ConsecutiveFailures)

	for i := 0; i < 3; i++ {
		assert.Equal(t, errDial, cb.Execute(ctx, fail))
	}
	assert.Equal(t, StateOpen, cb.GetState())
	assert.Equal(t, []string{"CLOSED>OPEN"}, changes)

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	require.Error(t, err)
	assert.False(t, called)
	assert.True(t, errors.IsCode(err, errors.ErrCodeClusterInitialization))
}

func TestBreakerHalfOpenTrial(t *testing.T) {
	cb := NewCircuitBreaker("trial", Config{FailureThreshold: 1, Timeout: 20 * time.Millisecond})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	require.Equal(t, StateOpen, cb.GetState())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.GetState())

	// a failed trial reopens
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.GetState())

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestBreakerAllowsOneTrialAtATime(t *testing.T) {
	cb := NewCircuitBreaker("trial", Config{FailureThreshold: 1, Timeout: time.Millisecond})
	ctx := context.Background()
	_ = cb.Execute(ctx, fail)
	time.Sleep(5 * time.Millisecond)

	inTrial := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error {
			close(inTrial)
			<-release
			return nil
		})
	}()
	<-inTrial

	err := cb.Execute(ctx, succeed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trial call in flight")

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	cb := NewCircuitBreaker("cancel", Config{FailureThreshold: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestBreakerDisabled(t *testing.T) {
	cb := NewCircuitBreaker("off", Config{})
	for i := 0; i < 50; i++ {
		_ = cb.Execute(context.Background(), fail)
	}
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, uint32(50), cb.GetCounts().TotalFailures)

	cb.Reset()
	assert.Equal(t, Counts{}, cb.GetCounts())
}

func TestManager(t *testing.T) {
	m := NewManager(Config{FailureThreshold: 1, Timeout: time.Hour})
	assert.True(t, m.Enabled())
	assert.False(t, NewManager(Config{}).Enabled())

	var wg sync.WaitGroup
	got := make([]*CircuitBreaker, 10)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = m.GetBreaker("a")
		}(i)
	}
	wg.Wait()
	for _, b := range got {
		assert.Same(t, got[0], b)
	}

	_ = m.GetBreaker("b").Execute(context.Background(), fail)
	_ = m.GetBreaker("c").Execute(context.Background(), succeed)
	_ = m.GetBreaker("a").Execute(context.Background(), fail)

	stats := m.GetStats()
	require.Len(t, stats, 2)
	assert.Equal(t, "a", stats[0].Name)
	assert.Equal(t, "b", stats[1].Name)
	assert.Equal(t, StateOpen, stats[1].State)
}
