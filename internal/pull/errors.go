package pull

import "fmt"

// sourceNotFoundError signals an unresolvable source descriptor or a
// remote 404 (maps to 404).
type sourceNotFoundError struct{ detail string }

func (e sourceNotFoundError) Error() string { return "source not found: " + e.detail }

// IsSourceNotFound reports whether the error indicates a missing source.
func IsSourceNotFound(err error) bool {
	_, ok := err.(sourceNotFoundError)
	return ok
}

// insufficientStorageError signals that the destination filesystem lacks
// room for the transfer (maps to 507).
type insufficientStorageError struct {
	needBytes int64
	freeBytes int64
}

func (e insufficientStorageError) Error() string {
	return fmt.Sprintf("insufficient storage: need %d bytes, %d free", e.needBytes, e.freeBytes)
}

// IsInsufficientStorage reports whether the error indicates a full disk.
func IsInsufficientStorage(err error) bool {
	_, ok := err.(insufficientStorageError)
	return ok
}

// networkError wraps a transport failure during transfer. Not retried
// here; the caller may re-invoke Pull.
type networkError struct{ cause error }

func (e networkError) Error() string { return "network error: " + e.cause.Error() }
func (e networkError) Unwrap() error { return e.cause }

// IsNetwork reports whether the error indicates a transport failure.
func IsNetwork(err error) bool {
	_, ok := err.(networkError)
	return ok
}

// cancelledError marks a user-cancelled transfer. Cancellation is a
// deliberate terminal outcome, not a fault.
type cancelledError struct{ modelID string }

func (e cancelledError) Error() string { return "pull cancelled: " + e.modelID }

// IsCancelled reports whether the error indicates a user cancellation.
func IsCancelled(err error) bool {
	_, ok := err.(cancelledError)
	return ok
}

// tooBusyError signals that the concurrent-pull cap is reached (maps to 429).
type tooBusyError struct{ cap int }

func (e tooBusyError) Error() string {
	return fmt.Sprintf("too many concurrent pulls (limit %d)", e.cap)
}

// IsTooBusy reports whether the error indicates the pull cap is reached.
func IsTooBusy(err error) bool {
	_, ok := err.(tooBusyError)
	return ok
}

// noLiveJobError signals a cancel request for a model with no in-flight pull.
type noLiveJobError struct{ modelID string }

func (e noLiveJobError) Error() string { return "no live pull for model: " + e.modelID }

// IsNoLiveJob reports whether the error indicates a missing in-flight pull.
func IsNoLiveJob(err error) bool {
	_, ok := err.(noLiveJobError)
	return ok
}
