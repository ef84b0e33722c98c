package smartmailer

import (
	"context"
	"errors"
	"sync"
	"time"
)

// errConnection stands in for a relay connection failure.
var errConnection = errors.New("connection refused")

// fakeTransport fails the first failFirst Opens (or every Open when
// failFirst < 0) and records every message sent.
type fakeTransport struct {
	mu        sync.Mutex
	failFirst int
	failFor   map[string]bool
	opens     int
	closes    int
	sent      []*Message
	onSend    func(*Message)
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Open(ctx context.Context) (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.opens++
	if f.failFirst < 0 || f.opens <= f.failFirst {
		return nil, NewTransportError("fake", "dial", errConnection)
	}
	return &fakeConn{t: f}, nil
}

func (f *fakeTransport) stats() (opens, closes, sent int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens, f.closes, len(f.sent)
}

type fakeConn struct {
	t      *fakeTransport
	closed bool
}

func (c *fakeConn) Send(ctx context.Context, msg *Message) error {
	c.t.mu.Lock()
	fail := c.t.failFor[msg.To.Email]
	if !fail {
		c.t.sent = append(c.t.sent, msg)
	}
	hook := c.t.onSend
	c.t.mu.Unlock()

	if hook != nil {
		hook(msg)
	}
	if fail {
		return NewTransportError("fake", "rcpt_to", errors.New("550 mailbox unavailable"))
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.t.closes++
	}
	return nil
}

// recordingSleeper records requested sleeps without blocking.
type recordingSleeper struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}

// memoryRecorder is an in-memory HistoryRecorder.
type memoryRecorder struct {
	mu      sync.Mutex
	entries []HistoryEntry
	err     error
}

func (m *memoryRecorder) RecordHistory(ctx context.Context, entry HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *memoryRecorder) recorded() []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]HistoryEntry(nil), m.entries...)
}
