package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("dependency down")

func failN(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error {
			return errDown
		})
	}
}

func TestExecute_StaysClosedOnSuccess(t *testing.T) {
	cb := New("test")
	for i := 0; i < 10; i++ {
		require.NoError(t, cb.Execute(context.Background(), func(ctx context.Context) error {
			return nil
		}))
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestExecute_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := New("test", WithFailureThreshold(3))

	failN(cb, 2)
	assert.Equal(t, StateClosed, cb.State())

	failN(cb, 1)
	assert.Equal(t, StateOpen, cb.State())

	// Open circuit rejects without invoking the operation.
	invoked := false
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		invoked = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, invoked)
}

func TestExecute_SuccessResetsConsecutiveFailures(t *testing.T) {
	cb := New("test", WithFailureThreshold(3))

	failN(cb, 2)
	require.NoError(t, cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	}))
	failN(cb, 2)
	assert.Equal(t, StateClosed, cb.State())
}

func TestExecute_RecoversThroughHalfOpen(t *testing.T) {
	cb := New("test",
		WithFailureThreshold(1),
		WithSuccessThreshold(2),
		WithTimeout(10*time.Millisecond),
	)

	failN(cb, 1)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	// First probe moves the breaker to half-open; two successes close it.
	require.NoError(t, cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	}))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	}))
	assert.Equal(t, StateClosed, cb.State())
}

func TestExecute_HalfOpenFailureReopens(t *testing.T) {
	cb := New("test",
		WithFailureThreshold(1),
		WithTimeout(10*time.Millisecond),
	)

	failN(cb, 1)
	time.Sleep(20 * time.Millisecond)

	failN(cb, 1)
	assert.Equal(t, StateOpen, cb.State())
}

func TestExecute_IsFailurePredicateFiltersBenignErrors(t *testing.T) {
	benign := errors.New("no rows")
	cb := New("test",
		WithFailureThreshold(1),
		WithIsFailure(func(err error) bool { return !errors.Is(err, benign) }),
	)

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return benign
	})
	assert.ErrorIs(t, err, benign)
	assert.Equal(t, StateClosed, cb.State())
}

func TestExecute_OnStateChangeFires(t *testing.T) {
	type change struct{ from, to State }
	var changes []change
	cb := New("test",
		WithFailureThreshold(1),
		WithOnStateChange(func(name string, from, to State) {
			changes = append(changes, change{from, to})
		}),
	)

	failN(cb, 1)
	require.Len(t, changes, 1)
	assert.Equal(t, change{StateClosed, StateOpen}, changes[0])
}

func TestCounts(t *testing.T) {
	cb := New("test", WithFailureThreshold(10))
	failN(cb, 2)
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return nil })

	counts := cb.Counts()
	assert.Equal(t, 3, counts.Requests)
	assert.Equal(t, 1, counts.TotalSuccesses)
	assert.Equal(t, 2, counts.TotalFailures)
	assert.Equal(t, 0, counts.ConsecutiveFailures)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
}
