// Package viewerrs defines the sentinel error kinds shared across the
// view-store subsystem, so callers can test with errors.Is regardless of
// which package actually raised the error.
package viewerrs

import "errors"

var (
	// ErrMalformed marks a parse failure (address, prefix, wire frame).
	// The offending frame or record is dropped.
	ErrMalformed = errors.New("viewerrs: malformed input")

	// ErrOutOfWindow marks a message addressing a bgp-time older than the
	// window head. The message is discarded; a timeout sweep still runs.
	ErrOutOfWindow = errors.New("viewerrs: bgp-time outside sliding window")

	// ErrIDConflict marks a Set call that would rebind a peer-id to a
	// different signature. Fatal for the current decode/receive.
	ErrIDConflict = errors.New("viewerrs: peer-id bound to a different signature")

	// ErrTransientIO marks a network send/receive failure that should be
	// retried with backoff.
	ErrTransientIO = errors.New("viewerrs: transient I/O failure")

	// ErrTimeout marks a view that exceeded its max wall-clock age.
	ErrTimeout = errors.New("viewerrs: view exceeded timeout")

	// ErrResourceExhausted marks an allocation or bounded-queue failure.
	// Fatal; callers should log and propagate to the top-level task.
	ErrResourceExhausted = errors.New("viewerrs: resource exhausted")
)
