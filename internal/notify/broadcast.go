package notify

import "sync"

// Broadcaster delivers coalesced change signals to a set of
// subscribers. Each subscriber holds a one-slot channel: if a signal
// is already pending for a subscriber, further notifications coalesce
// into it rather than queueing.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan struct{}
	next int

	notified  int64
	coalesced int64
}

// Subscription is one subscriber's view of a Broadcaster.
type Subscription struct {
	// C receives one value per batch of coalesced notifications.
	C <-chan struct{}

	id int
	b  *Broadcaster
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan struct{})}
}

// Subscribe registers a new subscriber.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan struct{}, 1)
	id := b.next
	b.next++
	b.subs[id] = ch

	return &Subscription{C: ch, id: id, b: b}
}

// Unsubscribe removes the subscriber. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	delete(s.b.subs, s.id)
}

// Notify signals all current subscribers without blocking. A
// subscriber with a signal already pending is not signalled again.
func (b *Broadcaster) Notify() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.notified++
	for _, ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
			b.coalesced++
		}
	}
}

// Len returns the current subscriber count.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Stats returns delivery counters.
func (b *Broadcaster) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Subscribers: len(b.subs),
		Notified:    b.notified,
		Coalesced:   b.coalesced,
	}
}

// Stats contains Broadcaster counters.
type Stats struct {
	Subscribers int
	Notified    int64
	Coalesced   int64
}
