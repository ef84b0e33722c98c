package smartmailer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Delay(t *testing.T) {
	t.Parallel()

	b := NewBackoff(DeliveryPolicy{BackoffBase: 2 * time.Second, BackoffFactor: 2, MaxAttempts: 4})

	assert.Equal(t, 2*time.Second, b.Delay(0))
	assert.Equal(t, 4*time.Second, b.Delay(1))
	assert.Equal(t, 8*time.Second, b.Delay(2))
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, b.Schedule())
}

func TestBackoff_Cap(t *testing.T) {
	t.Parallel()

	b := NewBackoff(DeliveryPolicy{
		BackoffBase:   time.Second,
		BackoffFactor: 10,
		MaxBackoff:    30 * time.Second,
		MaxAttempts:   5,
	})

	assert.Equal(t, time.Second, b.Delay(0))
	assert.Equal(t, 10*time.Second, b.Delay(1))
	assert.Equal(t, 30*time.Second, b.Delay(2))
	assert.Equal(t, 30*time.Second, b.Delay(200), "overflow saturates then caps")
}

func TestBackoff_JitterBounded(t *testing.T) {
	t.Parallel()

	b := NewBackoff(DeliveryPolicy{BackoffBase: time.Second, BackoffFactor: 1, Jitter: true, MaxAttempts: 2})
	for range 50 {
		d := b.Delay(0)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.Less(t, d, 1100*time.Millisecond)
	}
	assert.Equal(t, []time.Duration{time.Second}, b.Schedule())
}

func TestBackoff_SingleAttemptHasNoSchedule(t *testing.T) {
	t.Parallel()

	assert.Empty(t, NewBackoff(DeliveryPolicy{BackoffBase: time.Second, BackoffFactor: 2, MaxAttempts: 1}).Schedule())
}

func TestBatchDelays(t *testing.T) {
	t.Parallel()

	cases := []struct {
		n, batch, want int
	}{
		{0, 3, 0},
		{1, 3, 0},
		{3, 3, 0},
		{4, 3, 1},
		{6, 3, 1},
		{7, 3, 2},
		{10, 1, 9},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, BatchDelays(tc.n, tc.batch), "n=%d batch=%d", tc.n, tc.batch)
	}
}
