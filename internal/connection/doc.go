// Package connection implements the feed Connection Manager.
//
// The Connection Manager:
//   - Owns the one logical subscription to the position feed
//   - Reconnects on unexpected closure with exponential backoff
//     (1s doubling to a 60s hold), retrying until Stop
//   - Coalesces Resume calls inside a 300ms debounce window
//   - Parses raw frames into model.PositionSample / MetadataUpdate
//
// Transient network failure is never fatal here; it only moves the
// backoff counters exposed through BackoffState and Stats.
package connection
