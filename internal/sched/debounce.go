package sched

import (
	"sync"
	"time"
)

// Debouncer coalesces rapid repeated triggers into one deferred
// invocation of fn. Triggers arriving while an invocation is pending
// fold into it; at most one invocation is ever scheduled.
type Debouncer struct {
	mu       sync.Mutex
	interval time.Duration
	fn       func()
	timer    *time.Timer
	pending  bool
	stopped  bool

	triggers  int64
	fired     int64
	coalesced int64
}

// NewDebouncer creates a Debouncer that invokes fn interval after the
// first trigger of a burst.
func NewDebouncer(interval time.Duration, fn func()) *Debouncer {
	return &Debouncer{interval: interval, fn: fn}
}

// Trigger requests an invocation. If one is already pending this
// trigger coalesces into it.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.triggers++
	if d.pending {
		d.coalesced++
		return
	}

	d.pending = true
	d.timer = time.AfterFunc(d.interval, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.fired++
	fn := d.fn
	d.mu.Unlock()

	fn()
}

// Stop cancels any pending invocation. The Debouncer ignores triggers
// after Stop.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = false
}

// Stats returns trigger counters.
func (d *Debouncer) Stats() DebounceStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DebounceStats{
		Triggers:  d.triggers,
		Fired:     d.fired,
		Coalesced: d.coalesced,
	}
}

// DebounceStats contains Debouncer counters.
type DebounceStats struct {
	Triggers  int64
	Fired     int64
	Coalesced int64
}

// Gate coalesces calls arriving within window of the previous accepted
// call into no-ops. Unlike Debouncer the first call of a burst passes
// immediately; the rest of the burst is swallowed.
type Gate struct {
	mu     sync.Mutex
	window time.Duration
	last   time.Time

	accepted  int64
	coalesced int64
}

// NewGate creates a Gate with the given coalescing window.
func NewGate(window time.Duration) *Gate {
	return &Gate{window: window}
}

// Allow reports whether the caller should proceed. It returns false
// for calls within window of the previous accepted call.
func (g *Gate) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	if !g.last.IsZero() && now.Sub(g.last) < g.window {
		g.coalesced++
		return false
	}
	g.last = now
	g.accepted++
	return true
}

// Stats returns acceptance counters.
func (g *Gate) Stats() GateStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return GateStats{Accepted: g.accepted, Coalesced: g.coalesced}
}

// GateStats contains Gate counters.
type GateStats struct {
	Accepted  int64
	Coalesced int64
}
