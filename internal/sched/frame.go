package sched

import (
	"sync"
	"time"
)

// FrameBudget runs queued low-priority maintenance tasks inside the
// spare time the render loop reports for the current frame. Tasks that
// do not fit are deferred to a later frame, never dropped; a frame
// whose tasks ran past the reported budget increments the overrun
// counter for tuning.
type FrameBudget struct {
	mu    sync.Mutex
	queue []func()

	ran      int64
	deferred int64
	overruns int64
}

// NewFrameBudget creates an empty FrameBudget.
func NewFrameBudget() *FrameBudget {
	return &FrameBudget{}
}

// Submit queues a maintenance task for the next frame with spare time.
func (f *FrameBudget) Submit(task func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, task)
}

// RunFor executes queued tasks until spare time is exhausted and
// returns the number of tasks run. At least one task runs whenever the
// queue is non-empty and spare > 0, so the queue always drains.
func (f *FrameBudget) RunFor(spare time.Duration) int {
	if spare <= 0 {
		f.mu.Lock()
		f.deferred += int64(len(f.queue))
		f.mu.Unlock()
		return 0
	}

	start := time.Now()
	ran := 0

	for {
		f.mu.Lock()
		if len(f.queue) == 0 {
			f.mu.Unlock()
			break
		}
		if ran > 0 && time.Since(start) >= spare {
			f.deferred += int64(len(f.queue))
			f.mu.Unlock()
			break
		}
		task := f.queue[0]
		f.queue = f.queue[0:copy(f.queue, f.queue[1:])]
		f.mu.Unlock()

		task()
		ran++
	}

	f.mu.Lock()
	f.ran += int64(ran)
	if time.Since(start) > spare {
		f.overruns++
	}
	f.mu.Unlock()

	return ran
}

// Pending returns the number of queued tasks.
func (f *FrameBudget) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// Stats returns scheduler counters.
func (f *FrameBudget) Stats() FrameStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return FrameStats{
		Pending:  len(f.queue),
		Ran:      f.ran,
		Deferred: f.deferred,
		Overruns: f.overruns,
	}
}

// FrameStats contains FrameBudget counters.
type FrameStats struct {
	Pending  int
	Ran      int64
	Deferred int64
	Overruns int64
}
