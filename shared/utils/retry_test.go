package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("todavía no")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestRetry_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, 5, time.Minute, func() error { return errors.New("falla") })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoffDelay_DoublesUntilCap(t *testing.T) {
	base := time.Minute
	max := 10 * time.Minute

	assert.Equal(t, time.Minute, BackoffDelay(base, 1, max))
	assert.Equal(t, 2*time.Minute, BackoffDelay(base, 2, max))
	assert.Equal(t, 4*time.Minute, BackoffDelay(base, 3, max))
	assert.Equal(t, 8*time.Minute, BackoffDelay(base, 4, max))
	// A partir de aquí manda el tope.
	assert.Equal(t, max, BackoffDelay(base, 5, max))
	assert.Equal(t, max, BackoffDelay(base, 20, max))
}

func TestBackoffDelay_AttemptFloor(t *testing.T) {
	assert.Equal(t, time.Second, BackoffDelay(time.Second, 0, time.Minute))
	assert.Equal(t, time.Second, BackoffDelay(time.Second, -3, time.Minute))
}
