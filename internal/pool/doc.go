// Package pool implements the bounded resource pools and the runtime
// memory policy.
//
// Two pool shapes share one contract: the decoded-asset pool (LRU,
// bounded by entry count and byte budget) and the tiered object pool
// (idle reuse with per-tier caps). A Manager owns both, swaps named
// memory policies atomically, and schedules sweep maintenance through
// a cooperative frame budget so cleanup never competes with rendering.
//
// Resource exhaustion is handled by eviction or fresh construction,
// never by failing a request.
package pool
