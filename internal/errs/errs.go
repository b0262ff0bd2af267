// Package errs defines the recorder's error kinds as sentinel values.
//
// Call sites wrap a sentinel with fmt.Errorf("...: %w", ErrX) and check it
// with errors.Is. The kinds mirror the failure taxonomy the control surface
// and storage layer need to distinguish: some are reported to a caller
// unchanged, some trigger a retry loop, some are only ever logged.
package errs

import "errors"

var (
	// ErrValidation marks a malformed or incomplete request. No state changes.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks an operation against an unknown recording id.
	ErrNotFound = errors.New("recording not found")

	// ErrStateIllegal marks a state transition not permitted from the
	// session's current state.
	ErrStateIllegal = errors.New("illegal state transition")

	// ErrTransientStorage marks a network or 5xx condition from the storage
	// backend; callers retry on this.
	ErrTransientStorage = errors.New("transient storage error")

	// ErrPermanentStorage marks a 4xx (other than conflict) from the storage
	// backend; callers do not retry.
	ErrPermanentStorage = errors.New("permanent storage error")

	// ErrQueueFull marks a best-effort flush-task enqueue that found the
	// queue saturated. Never surfaced to a caller; only logged and counted.
	ErrQueueFull = errors.New("flush queue full")

	// ErrFatalSetup marks a failure to establish subscriptions or contact
	// the backend during start_recording. No session is retained.
	ErrFatalSetup = errors.New("fatal setup error")
)
