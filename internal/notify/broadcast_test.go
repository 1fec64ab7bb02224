package notify

import "testing"

func TestNotifyReachesAllSubscribers(t *testing.T) {
	b := NewBroadcaster()
	s1 := b.Subscribe()
	s2 := b.Subscribe()

	b.Notify()

	select {
	case <-s1.C:
	default:
		t.Error("subscriber 1 not signalled")
	}
	select {
	case <-s2.C:
	default:
		t.Error("subscriber 2 not signalled")
	}
}

func TestNotifyCoalescesPendingSignals(t *testing.T) {
	b := NewBroadcaster()
	s := b.Subscribe()

	for i := 0; i < 5; i++ {
		b.Notify()
	}

	// All five notifications fold into one pending signal.
	<-s.C
	select {
	case <-s.C:
		t.Error("expected a single coalesced signal")
	default:
	}

	stats := b.Stats()
	if stats.Notified != 5 {
		t.Errorf("Notified = %d, want 5", stats.Notified)
	}
	if stats.Coalesced != 4 {
		t.Errorf("Coalesced = %d, want 4", stats.Coalesced)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroadcaster()
	s := b.Subscribe()
	s.Unsubscribe()
	s.Unsubscribe() // safe to repeat

	b.Notify()

	select {
	case <-s.C:
		t.Error("unsubscribed channel still signalled")
	default:
	}

	if b.Len() != 0 {
		t.Errorf("Len = %d, want 0", b.Len())
	}
}
