package smartmailer

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// Backoff computes the sleep between delivery attempts for a policy.
type Backoff struct {
	policy DeliveryPolicy
}

// NewBackoff creates a backoff calculator for the given policy.
func NewBackoff(policy DeliveryPolicy) *Backoff {
	return &Backoff{
		policy: policy,
	}
}

// Delay returns the sleep after failed attempt i (zero-based):
// BackoffBase * BackoffFactor^i, capped at MaxBackoff when set.
func (b *Backoff) Delay(i int) time.Duration {
	if i < 0 {
		i = 0
	}

	raw := float64(b.policy.BackoffBase) * math.Pow(b.policy.BackoffFactor, float64(i))

	// Guard the float→Duration conversion against overflow
	var delay time.Duration
	if raw >= math.MaxInt64 {
		delay = time.Duration(math.MaxInt64)
	} else {
		delay = time.Duration(raw)
	}

	if b.policy.MaxBackoff > 0 && delay > b.policy.MaxBackoff {
		delay = b.policy.MaxBackoff
	}

	if b.policy.Jitter {
		// Add up to 10% jitter using cryptographically secure random
		maxJitter := int64(float64(delay) * 0.1)
		if maxJitter > 0 {
			jitterBig, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
			if err == nil {
				delay += time.Duration(jitterBig.Int64())
			}
		}
	}

	return delay
}

// Schedule returns every sleep a delivery that exhausts its attempts would
// perform, in order. Jitter is not applied.
func (b *Backoff) Schedule() []time.Duration {
	if b.policy.MaxAttempts <= 1 {
		return nil
	}

	noJitter := NewBackoff(b.policy)
	noJitter.policy.Jitter = false

	out := make([]time.Duration, 0, b.policy.MaxAttempts-1)
	for i := 0; i < b.policy.MaxAttempts-1; i++ {
		out = append(out, noJitter.Delay(i))
	}
	return out
}

// BatchDelays returns the number of inter-batch pauses a run over n
// recipients performs: one after every full batch that is followed by more
// recipients.
func BatchDelays(n, batchSize int) int {
	if n <= 0 || batchSize <= 0 {
		return 0
	}
	return (n+batchSize-1)/batchSize - 1
}
