package smartmailer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeRecipients(n int) []Recipient {
	out := make([]Recipient, n)
	for i := range out {
		out[i] = Recipient{Email: fmt.Sprintf("r%d@example.com", i), Name: fmt.Sprintf("R%d", i), GroupCode: "ENG"}
	}
	return out
}

func echoRender(r Recipient) string { return "body for " + r.Email }

func succeedAll(ctx context.Context, r Recipient, body string) DeliveryOutcome {
	return DeliveryOutcome{Recipient: r, Succeeded: true, Attempts: 1}
}

func TestScheduler_BatchDelays(t *testing.T) {
	t.Parallel()

	cases := []struct {
		n, batch, delays int
	}{
		{0, 3, 0},
		{2, 3, 0},
		{3, 3, 0},
		{4, 3, 1},
		{9, 3, 2},
		{10, 3, 3},
		{5, 1, 4},
	}

	for _, tc := range cases {
		sleeper := &recordingSleeper{}
		s := NewScheduler(sleeper.Sleep, zerolog.Nop())
		p := testPolicy
		p.BatchSize = tc.batch
		p.InterBatchDelay = 7 * time.Second

		out := s.Run(context.Background(), makeRecipients(tc.n), echoRender, succeedAll, p)

		assert.Len(t, out, tc.n)
		assert.Len(t, sleeper.recorded(), tc.delays, "n=%d batch=%d", tc.n, tc.batch)
		assert.Equal(t, BatchDelays(tc.n, tc.batch), tc.delays)
		for _, d := range sleeper.recorded() {
			assert.Equal(t, 7*time.Second, d)
		}
	}
}

func TestScheduler_PreservesOrderAndIsolatesFailures(t *testing.T) {
	t.Parallel()

	recipients := makeRecipients(5)
	var order []string
	deliver := func(ctx context.Context, r Recipient, body string) DeliveryOutcome {
		order = append(order, r.Email)
		assert.Equal(t, "body for "+r.Email, body)
		if r.Email == "r1@example.com" {
			return DeliveryOutcome{Recipient: r, Attempts: 3, LastError: "boom"}
		}
		return DeliveryOutcome{Recipient: r, Succeeded: true, Attempts: 1}
	}

	p := testPolicy
	p.BatchSize = 2
	out := NewScheduler((&recordingSleeper{}).Sleep, zerolog.Nop()).Run(context.Background(), recipients, echoRender, deliver, p)

	require.Len(t, out, 5)
	for i, o := range out {
		assert.Equal(t, recipients[i], o.Recipient)
		assert.Equal(t, recipients[i].Email, order[i])
	}
	assert.True(t, out[1].Failed())
	assert.True(t, out[4].Succeeded)
}

func TestScheduler_ConcurrentWorkersKeepOrder(t *testing.T) {
	t.Parallel()

	recipients := makeRecipients(23)
	var inFlight, peak atomic.Int32
	deliver := func(ctx context.Context, r Recipient, body string) DeliveryOutcome {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		return DeliveryOutcome{Recipient: r, Succeeded: true, Attempts: 1}
	}

	sleeper := &recordingSleeper{}
	p := testPolicy
	p.BatchSize = 5
	p.Workers = 3

	out := NewScheduler(sleeper.Sleep, zerolog.Nop()).Run(context.Background(), recipients, echoRender, deliver, p)

	require.Len(t, out, len(recipients))
	for i, o := range out {
		assert.Equal(t, recipients[i].Email, o.Recipient.Email)
		assert.True(t, o.Succeeded)
	}
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Len(t, sleeper.recorded(), 4)
}

func TestScheduler_CancellationSkipsUnstarted(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recipients := makeRecipients(6)
	var mu sync.Mutex
	delivered := 0
	deliver := func(ctx context.Context, r Recipient, body string) DeliveryOutcome {
		mu.Lock()
		defer mu.Unlock()
		delivered++
		if delivered == 2 {
			cancel()
		}
		return DeliveryOutcome{Recipient: r, Succeeded: true, Attempts: 1}
	}

	p := testPolicy
	p.BatchSize = 4
	out := NewScheduler((&recordingSleeper{}).Sleep, zerolog.Nop()).Run(ctx, recipients, echoRender, deliver, p)

	require.Len(t, out, 6)
	assert.True(t, out[0].Succeeded)
	assert.True(t, out[1].Succeeded, "started delivery completes")
	for _, o := range out[2:] {
		assert.True(t, o.Skipped)
		assert.False(t, o.Failed())
		assert.Zero(t, o.Attempts)
		assert.Equal(t, ErrCancelled.Error(), o.LastError)
	}
}

func TestScheduler_ConcurrentCancellationSkipsQueued(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var started atomic.Int32
	deliver := func(ctx context.Context, r Recipient, body string) DeliveryOutcome {
		started.Add(1)
		switch r.Email {
		case "r0@example.com":
			// r2 is waiting for a free worker by now.
			time.Sleep(20 * time.Millisecond)
			cancel()
		case "r1@example.com":
			<-ctx.Done()
		}
		return DeliveryOutcome{Recipient: r, Succeeded: true, Attempts: 1}
	}

	p := testPolicy
	p.BatchSize = 4
	p.Workers = 2
	out := NewScheduler((&recordingSleeper{}).Sleep, zerolog.Nop()).Run(ctx, makeRecipients(4), echoRender, deliver, p)

	require.Len(t, out, 4)
	assert.True(t, out[0].Succeeded)
	assert.True(t, out[1].Succeeded)
	for _, o := range out[2:] {
		assert.True(t, o.Skipped, o.Recipient.Email)
		assert.Zero(t, o.Attempts)
	}
	assert.Equal(t, int32(2), started.Load())
}

func TestScheduler_InterruptedPauseSkipsRemainder(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sleeper := func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	p := testPolicy
	p.BatchSize = 2
	out := NewScheduler(sleeper, zerolog.Nop()).Run(ctx, makeRecipients(5), echoRender, succeedAll, p)

	require.Len(t, out, 5)
	assert.True(t, out[0].Succeeded)
	assert.True(t, out[1].Succeeded)
	for _, o := range out[2:] {
		assert.True(t, o.Skipped)
	}
}
