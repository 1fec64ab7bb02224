// Package diag exposes the merged component diagnostics over HTTP.
package diag
