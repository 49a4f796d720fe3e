// Package queue is the session's append-only log of applied patch
// sets. Cursors are strictly increasing and session-unique; cursor 0
// means "before any batch". Subscribers long-poll from a cursor and
// receive every batch after it, in append order.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/grove-sync/grove/internal/patch"
)

var (
	// ErrWindowOverflow means the subscriber's cursor fell out of the
	// retention window; it must resync from the full tree.
	ErrWindowOverflow = errors.New("cursor is older than the queue window")

	// ErrSessionTerminated means the queue was closed; no further
	// batches will ever arrive.
	ErrSessionTerminated = errors.New("session terminated")
)

// Entry is one numbered patch batch.
type Entry struct {
	Cursor uint64
	Patch  patch.AppliedSet
}

// MessageQueue retains the most recent window of entries and fans
// them out to any number of long-polling subscribers.
type MessageQueue struct {
	mu        sync.Mutex
	entries   []Entry
	next      uint64 // cursor the next append receives
	compacted uint64 // highest cursor dropped by the window, 0 if none
	window    int
	notify    chan struct{} // closed and replaced on every append
	closed    bool
}

// New creates a queue retaining at most window entries.
func New(window int) *MessageQueue {
	if window < 1 {
		window = 1
	}
	return &MessageQueue{
		next:   1,
		window: window,
		notify: make(chan struct{}),
	}
}

// Append adds a batch to the log and wakes all waiters. It returns
// the batch's cursor.
func (q *MessageQueue) Append(set patch.AppliedSet) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	cursor := q.next
	q.next++
	q.entries = append(q.entries, Entry{Cursor: cursor, Patch: set})
	for len(q.entries) > q.window {
		q.compacted = q.entries[0].Cursor
		q.entries = q.entries[1:]
	}

	close(q.notify)
	q.notify = make(chan struct{})
	return cursor
}

// CurrentCursor returns the cursor of the latest batch, or 0 if
// nothing was ever appended.
func (q *MessageQueue) CurrentCursor() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.next - 1
}

// SubscribeFrom blocks until at least one batch with cursor greater
// than the given one is available, then returns all such batches and
// the new high-water cursor. Context expiry returns an empty slice
// with the cursor unchanged. A cursor behind the retention window
// returns ErrWindowOverflow; a closed queue returns
// ErrSessionTerminated.
func (q *MessageQueue) SubscribeFrom(ctx context.Context, cursor uint64) ([]Entry, uint64, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, cursor, ErrSessionTerminated
		}
		if cursor < q.compacted {
			q.mu.Unlock()
			return nil, cursor, ErrWindowOverflow
		}
		if pending := q.collectLocked(cursor); len(pending) > 0 {
			high := pending[len(pending)-1].Cursor
			q.mu.Unlock()
			return pending, high, nil
		}
		wait := q.notify
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, cursor, nil
		}
	}
}

func (q *MessageQueue) collectLocked(cursor uint64) []Entry {
	var pending []Entry
	for _, entry := range q.entries {
		if entry.Cursor > cursor {
			pending = append(pending, entry)
		}
	}
	return pending
}

// Close terminates the queue: all current and future waiters receive
// ErrSessionTerminated.
func (q *MessageQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.notify)
}
