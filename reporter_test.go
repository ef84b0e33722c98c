package smartmailer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReporter_DrainsOnClose(t *testing.T) {
	t.Parallel()

	rec := &memoryRecorder{}
	r := NewReporter(rec, 16, time.Second, zerolog.Nop())

	r.Report("sess", "a@example.com", "ENG", "Hello")
	r.Report("sess", "b@example.com", "OPS", "Hello")

	require.NoError(t, r.Close(context.Background()))

	got := rec.recorded()
	require.Len(t, got, 2)
	assert.Equal(t, HistoryEntry{
		EmailID:        "sess",
		RecipientEmail: "a@example.com",
		DepartmentCode: "ENG",
		EmailSubject:   "Hello",
	}, got[0])
	assert.Equal(t, "b@example.com", got[1].RecipientEmail)
}

func TestReporter_FailuresAreSwallowed(t *testing.T) {
	t.Parallel()

	rec := &memoryRecorder{err: errors.New("503 service unavailable")}
	r := NewReporter(rec, 4, time.Second, zerolog.Nop())

	r.Report("sess", "a@example.com", "ENG", "Hello")
	require.NoError(t, r.Close(context.Background()))
	assert.Len(t, rec.recorded(), 1)
}

type blockingRecorder struct {
	release chan struct{}
	calls   chan HistoryEntry
}

func (b *blockingRecorder) RecordHistory(ctx context.Context, entry HistoryEntry) error {
	b.calls <- entry
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestReporter_ReportNeverBlocks(t *testing.T) {
	t.Parallel()

	rec := &blockingRecorder{release: make(chan struct{}), calls: make(chan HistoryEntry, 8)}
	r := NewReporter(rec, 1, 0, zerolog.Nop())

	r.Report("s", "first@example.com", "ENG", "x")
	<-rec.calls // the worker is now busy with the first entry

	done := make(chan struct{})
	go func() {
		r.Report("s", "queued@example.com", "ENG", "x")
		r.Report("s", "dropped@example.com", "ENG", "x")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Report blocked on a full queue")
	}

	close(rec.release)
	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, "queued@example.com", (<-rec.calls).RecipientEmail)
	assert.Empty(t, rec.calls)
}

func TestReporter_CloseHonoursDeadline(t *testing.T) {
	t.Parallel()

	rec := &blockingRecorder{release: make(chan struct{}), calls: make(chan HistoryEntry, 8)}
	r := NewReporter(rec, 4, 0, zerolog.Nop())
	r.Report("s", "slow@example.com", "ENG", "x")
	<-rec.calls

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := r.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Reports after Close are dropped, not panicking on a closed channel.
	r.Report("s", "late@example.com", "ENG", "x")
	assert.NoError(t, r.Close(context.Background()))
}

func TestReporter_ReserveGrowsQueue(t *testing.T) {
	t.Parallel()

	rec := &blockingRecorder{release: make(chan struct{}), calls: make(chan HistoryEntry, 16)}
	r := NewReporter(rec, 1, 0, zerolog.Nop())

	r.Report("s", "first@example.com", "ENG", "x")
	<-rec.calls

	release := r.Reserve(3)
	for _, email := range []string{"q0@example.com", "q1@example.com", "q2@example.com", "q3@example.com"} {
		r.Report("s", email, "ENG", "x")
	}
	r.Report("s", "over@example.com", "ENG", "x")

	release()
	release()
	r.Report("s", "late@example.com", "ENG", "x")

	close(rec.release)
	require.NoError(t, r.Close(context.Background()))

	var got []string
	for len(rec.calls) > 0 {
		got = append(got, (<-rec.calls).RecipientEmail)
	}
	assert.Equal(t, []string{"q0@example.com", "q1@example.com", "q2@example.com", "q3@example.com"}, got)
}
