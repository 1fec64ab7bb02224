// Package notify provides a small observer-list broadcaster for change
// signals. Components fire one coalesced signal per state change batch
// instead of broadcasting full state, so consumers never over-rebuild.
package notify
