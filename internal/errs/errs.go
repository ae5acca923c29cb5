// Package errs defines the error categories shared across the chat core.
// Services wrap these sentinels with fmt.Errorf("...: %w", ...) so that
// handlers can classify failures with errors.Is without inspecting strings.
package errs

import "errors"

var (
	// ErrValidation marks a missing or malformed identifier. Rejected
	// before any mutation takes place.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks an unknown conversation, message, or pending
	// friend request. No mutation, no broadcast.
	ErrNotFound = errors.New("not found")

	// ErrPermission marks an operation attempted by a caller who is not a
	// room member or not the owner of the target record.
	ErrPermission = errors.New("permission denied")

	// ErrConflict marks a duplicate pending request or an already-existing
	// friendship. Idempotent from the caller's perspective.
	ErrConflict = errors.New("conflict")

	// ErrTransientStore marks a persistence failure that may succeed on
	// retry. Broadcasts that already happened are not rolled back.
	ErrTransientStore = errors.New("transient store error")
)

// Code returns the wire-level error code for an error, used by handlers
// when building error responses for clients.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPermission):
		return "permission_denied"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrTransientStore):
		return "transient_store_error"
	default:
		return "internal_error"
	}
}
