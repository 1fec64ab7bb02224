// Package track composes the livemap core into a single Service with
// one Start/Stop lifecycle. The embedding application constructs a
// Service from configuration, drives it with viewport updates, and
// reads render-ready cluster results back.
package track
