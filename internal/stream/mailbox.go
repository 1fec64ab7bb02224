package stream

import "sync"

// Mailbox is a one-slot conflating mailbox. Writers overwrite any
// pending value, so a reader that falls behind always observes the
// latest value and never a backlog. This is the backpressure policy
// for the whole core: last write wins, no unbounded queues.
type Mailbox[T any] struct {
	mu    sync.Mutex
	val   T
	has   bool
	ready chan struct{}

	received  int64
	conflated int64
	taken     int64
}

// NewMailbox creates an empty Mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{ready: make(chan struct{}, 1)}
}

// Put stores v, replacing any value not yet taken.
func (b *Mailbox[T]) Put(v T) {
	b.mu.Lock()
	if b.has {
		b.conflated++
	}
	b.val = v
	b.has = true
	b.received++
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// Take removes and returns the pending value, if any.
func (b *Mailbox[T]) Take() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.has {
		var zero T
		return zero, false
	}
	v := b.val
	var zero T
	b.val = zero
	b.has = false
	b.taken++
	return v, true
}

// Ready returns a channel that receives one signal per batch of Puts
// since the last Take.
func (b *Mailbox[T]) Ready() <-chan struct{} {
	return b.ready
}

// Stats returns mailbox counters.
func (b *Mailbox[T]) Stats() MailboxStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return MailboxStats{
		Received:  b.received,
		Conflated: b.conflated,
		Taken:     b.taken,
	}
}

// MailboxStats contains Mailbox counters.
type MailboxStats struct {
	Received  int64
	Conflated int64
	Taken     int64
}
