// Package entity caches out-of-band entity metadata for display
// consumers: names, icons, categories. Position data never passes
// through here; it flows through the memoizer and motion engine.
package entity
