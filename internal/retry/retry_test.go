package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBusy = errors.New("busy")

type hintErr time.Duration

func (h hintErr) Error() string             { return "slow down" }
func (h hintErr) RetryAfter() time.Duration { return time.Duration(h) }

func recordSleeps(out *[]time.Duration) Sleeper {
	return func(ctx context.Context, d time.Duration) error {
		*out = append(*out, d)
		return nil
	}
}

func TestPolicyDelay(t *testing.T) {
	p := Policy{MaxAttempts: 6, InitialDelay: 4 * time.Second, Multiplier: 2, MaxDelay: 30 * time.Second}

	assert.Equal(t, 4*time.Second, p.Delay(0))
	assert.Equal(t, 8*time.Second, p.Delay(1))
	assert.Equal(t, 16*time.Second, p.Delay(2))
	assert.Equal(t, 30*time.Second, p.Delay(3))
	assert.Equal(t, 30*time.Second, p.Delay(10))
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	var sleeps []time.Duration
	calls := 0
	attempts, err := Do(context.Background(), DefaultPolicy, func(error) bool { return true }, recordSleeps(&sleeps),
		func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errBusy
			}
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeps)
}

func TestDo_Exhausted(t *testing.T) {
	var sleeps []time.Duration
	calls := 0
	attempts, err := Do(context.Background(), DefaultPolicy, func(error) bool { return true }, recordSleeps(&sleeps),
		func(ctx context.Context) error {
			calls++
			return errBusy
		})

	require.Error(t, err)
	assert.True(t, IsExhausted(err))
	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
	assert.Len(t, sleeps, 2, "no sleep after the final attempt")
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	var sleeps []time.Duration
	calls := 0
	_, err := Do(context.Background(), DefaultPolicy, func(error) bool { return false }, recordSleeps(&sleeps),
		func(ctx context.Context) error {
			calls++
			return errBusy
		})

	assert.ErrorIs(t, err, errBusy)
	assert.False(t, IsExhausted(err))
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeps)
}

func TestDo_HintRaisesDelayUpToCap(t *testing.T) {
	var sleeps []time.Duration
	p := Policy{MaxAttempts: 3, InitialDelay: time.Second, Multiplier: 2, MaxDelay: 10 * time.Second}
	_, err := Do(context.Background(), p, func(error) bool { return true }, recordSleeps(&sleeps),
		func(ctx context.Context) error { return hintErr(time.Minute) })

	require.Error(t, err)
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second}, sleeps)
}

func TestDo_ContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Do(ctx, DefaultPolicy, func(error) bool { return true }, nil,
		func(ctx context.Context) error { return errBusy })

	assert.ErrorIs(t, err, context.Canceled)
}
