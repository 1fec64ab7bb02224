package sched

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncerCoalescesBurst(t *testing.T) {
	var fired atomic.Int64
	d := NewDebouncer(30*time.Millisecond, func() { fired.Add(1) })
	defer d.Stop()

	for i := 0; i < 10; i++ {
		d.Trigger()
	}

	time.Sleep(100 * time.Millisecond)

	if got := fired.Load(); got != 1 {
		t.Errorf("fired %d times, want 1", got)
	}

	stats := d.Stats()
	if stats.Triggers != 10 {
		t.Errorf("Triggers = %d, want 10", stats.Triggers)
	}
	if stats.Coalesced != 9 {
		t.Errorf("Coalesced = %d, want 9", stats.Coalesced)
	}
}

func TestDebouncerFiresAgainAfterQuiet(t *testing.T) {
	var fired atomic.Int64
	d := NewDebouncer(20*time.Millisecond, func() { fired.Add(1) })
	defer d.Stop()

	d.Trigger()
	time.Sleep(60 * time.Millisecond)
	d.Trigger()
	time.Sleep(60 * time.Millisecond)

	if got := fired.Load(); got != 2 {
		t.Errorf("fired %d times, want 2", got)
	}
}

func TestDebouncerStopCancelsPending(t *testing.T) {
	var fired atomic.Int64
	d := NewDebouncer(30*time.Millisecond, func() { fired.Add(1) })

	d.Trigger()
	d.Stop()
	time.Sleep(80 * time.Millisecond)

	if got := fired.Load(); got != 0 {
		t.Errorf("fired %d times after Stop, want 0", got)
	}

	d.Trigger()
	time.Sleep(80 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Errorf("trigger after Stop fired %d times, want 0", got)
	}
}

func TestGateLeadingEdge(t *testing.T) {
	g := NewGate(50 * time.Millisecond)

	if !g.Allow() {
		t.Fatal("first call should pass")
	}
	for i := 0; i < 5; i++ {
		if g.Allow() {
			t.Fatal("call inside window should be swallowed")
		}
	}

	time.Sleep(80 * time.Millisecond)

	if !g.Allow() {
		t.Error("call after window should pass")
	}

	stats := g.Stats()
	if stats.Accepted != 2 {
		t.Errorf("Accepted = %d, want 2", stats.Accepted)
	}
	if stats.Coalesced != 5 {
		t.Errorf("Coalesced = %d, want 5", stats.Coalesced)
	}
}
