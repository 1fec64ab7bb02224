// Package stream implements the Stream Memoizer and its plumbing.
//
// The Memoizer guarantees that for any entity key, at most one
// upstream subscription exists at any instant, independent of how many
// consumers hold handles. Demux provides the upstream side over the
// connection manager's merged sample channel, and Mailbox provides the
// last-write-wins delivery buffer each handle reads from.
package stream
