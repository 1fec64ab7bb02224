// Package sched provides the small timing utilities shared by the
// core: trailing-edge debouncing for recompute triggers, a
// leading-edge gate for coalescing resume calls, and a cooperative
// frame-budget scheduler for pool maintenance work.
package sched
