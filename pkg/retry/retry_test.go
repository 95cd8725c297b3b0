package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollReturnsOnceConditionMet(t *testing.T) {
	attempts := 0
	got, err := Poll(context.Background(), 100*time.Millisecond, time.Millisecond,
		func(ctx context.Context) (string, error) {
			attempts++
			if attempts < 3 {
				return "", ErrPollPending
			}
			return "ready", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ready", got)
	assert.Equal(t, 3, attempts)
}

func TestPollStopsOnTerminalError(t *testing.T) {
	terminal := errors.New("permission denied")
	attempts := 0
	_, err := Poll(context.Background(), 100*time.Millisecond, time.Millisecond,
		func(ctx context.Context) (int, error) {
			attempts++
			return 0, terminal
		})
	assert.ErrorIs(t, err, terminal)
	assert.Equal(t, 1, attempts, "a terminal error must stop the poll immediately")
}

func TestPollTimesOutWhileStillPending(t *testing.T) {
	_, err := Poll(context.Background(), 5*time.Millisecond, 2*time.Millisecond,
		func(ctx context.Context) (int, error) {
			return 0, fmt.Errorf("requirement not created yet: %w", ErrPollPending)
		})
	assert.ErrorIs(t, err, ErrPollPending)
}

func TestPollRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Poll(ctx, 100*time.Millisecond, time.Millisecond,
		func(ctx context.Context) (int, error) {
			return 0, ErrPollPending
		})
	assert.ErrorIs(t, err, context.Canceled)
}
