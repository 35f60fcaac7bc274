package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	}
}

type observerRecorder struct {
	retries     []int
	transitions []string
}

func (o *observerRecorder) OnRetry(_ string, attempt int) { o.retries = append(o.retries, attempt) }
func (o *observerRecorder) OnBreakerStateChange(_ string, to string) {
	o.transitions = append(o.transitions, to)
}

func TestExecuteRetriesTemporaryFailure(t *testing.T) {
	observer := &observerRecorder{}
	exec := NewExecutor(fastConfig(), WithObserver(observer))

	attempts := 0
	errTemp := errors.New("temporary")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTemp
		}
		return nil
	}, func(err error) ErrorClassification {
		return ErrorClassification{Retryable: errors.Is(err, errTemp), RecordFailure: true}
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, observer.retries)
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	exec := NewExecutor(fastConfig())

	attempts := 0
	errPermanent := errors.New("permanent")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		return errPermanent
	}, func(error) ErrorClassification {
		return ErrorClassification{}
	})

	assert.ErrorIs(t, err, errPermanent)
	assert.Equal(t, 1, attempts)
}

func TestExecuteStopsOnCanceledContext(t *testing.T) {
	exec := NewExecutor(fastConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := exec.Execute(ctx, "op", func(context.Context) error {
		called = true
		return nil
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
	assert.True(t, IsCanceled(err))
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	observer := &observerRecorder{}
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		RetryInitialBackoff:     1 * time.Millisecond,
		RetryMaxBackoff:         1 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	}, WithObserver(observer))

	errTemp := errors.New("temporary")
	classifier := func(error) ErrorClassification {
		return ErrorClassification{Retryable: false, RecordFailure: true}
	}

	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "op", func(context.Context) error {
			return errTemp
		}, classifier)
		require.ErrorIs(t, err, errTemp, "iteration %d", i)
	}

	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, classifier)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.True(t, IsCircuitOpen(err))
	assert.Equal(t, []string{gobreaker.StateOpen.String()}, observer.transitions)
}

func TestCallReturnsValue(t *testing.T) {
	exec := NewExecutor(fastConfig())

	got, err := Call(context.Background(), exec, "op", func(context.Context) ([]int, error) {
		return []int{1, 2}, nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, got)

	got, err = Call(context.Background(), nil, "op", func(context.Context) ([]int, error) {
		return []int{3}, nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, got)
}
