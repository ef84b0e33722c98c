package smartmailer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Reporter forwards successful deliveries to a HistoryRecorder in the
// background. Report never blocks the caller; failures are logged and
// dropped.
//
// The queue holds queueSize entries plus whatever running dispatches have
// reserved, so a run that reserves its recipient count never loses a report
// to a slow analytics service.
type Reporter struct {
	recorder HistoryRecorder
	timeout  time.Duration
	log      zerolog.Logger

	mu       sync.Mutex
	pending  []HistoryEntry
	limit    int
	reserved int
	closed   bool

	wake chan struct{}
	done chan struct{}
	once sync.Once

	// ctx is cancelled when a drain deadline expires, aborting in-flight requests.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewReporter starts a reporter with a base queue of queueSize entries. Each
// request is bounded by timeout when it is positive.
func NewReporter(recorder HistoryRecorder, queueSize int, timeout time.Duration, log zerolog.Logger) *Reporter {
	if queueSize < 1 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Reporter{
		recorder: recorder,
		timeout:  timeout,
		log:      log,
		limit:    queueSize,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	go r.loop()
	return r
}

// Reserve grows the queue by n entries until the returned release function
// is called. Entries queued under a reservation stay queued after release.
func (r *Reporter) Reserve(n int) (release func()) {
	if n < 1 {
		return func() {}
	}

	r.mu.Lock()
	r.reserved += n
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			r.reserved -= n
			r.mu.Unlock()
		})
	}
}

// Report enqueues a history entry for a successful delivery.
func (r *Reporter) Report(sessionID, email, groupCode, subject string) {
	entry := HistoryEntry{
		EmailID:        sessionID,
		RecipientEmail: email,
		DepartmentCode: groupCode,
		EmailSubject:   subject,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.log.Warn().Str("recipient", email).Msg("history reporter closed, report dropped")
		return
	}
	if len(r.pending) >= r.limit+r.reserved {
		r.mu.Unlock()
		r.log.Warn().Str("recipient", email).Msg("history queue full, report dropped")
		return
	}
	r.pending = append(r.pending, entry)
	r.mu.Unlock()

	r.notify()
}

// Close stops accepting reports and waits until queued reports are sent or
// ctx is done. Requests still running when ctx expires are cancelled.
func (r *Reporter) Close(ctx context.Context) error {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		r.notify()
	})

	select {
	case <-r.done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		r.log.Warn().Int("pending", r.queued()).Msg("history drain timed out")
		return ctx.Err()
	}
}

func (r *Reporter) notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Reporter) queued() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Reporter) loop() {
	defer close(r.done)

	for {
		r.mu.Lock()
		if len(r.pending) == 0 {
			closed := r.closed
			r.mu.Unlock()
			if closed {
				return
			}
			<-r.wake
			continue
		}

		entry := r.pending[0]
		r.pending[0] = HistoryEntry{}
		r.pending = r.pending[1:]
		r.mu.Unlock()

		r.send(entry)
	}
}

func (r *Reporter) send(entry HistoryEntry) {
	ctx := r.ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if err := r.recorder.RecordHistory(ctx, entry); err != nil {
		r.log.Warn().
			Err(err).
			Str("email_id", entry.EmailID).
			Str("recipient", entry.RecipientEmail).
			Msg("failed to record email history")
		return
	}

	r.log.Debug().
		Str("email_id", entry.EmailID).
		Str("recipient", entry.RecipientEmail).
		Msg("email history recorded")
}
