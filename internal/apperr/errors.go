// Package apperr holds the error taxonomy shared by the chat core and its adapters.
// Callers wrap these sentinels with fmt.Errorf("...: %w", err) and classify with errors.Is.
package apperr

import "errors"

var (
	// ErrUnauthorized means no verified caller identity was supplied.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound covers missing accounts as well as missing or foreign sessions.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest marks malformed payloads.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUpstream marks a failed primary completion call.
	ErrUpstream = errors.New("completion service failed")
	// ErrStorage marks a persistence read or write failure.
	ErrStorage = errors.New("storage failure")
	// ErrConflict marks a save based on a stale session version.
	ErrConflict = errors.New("session was modified concurrently")
)

// Public returns the message that is safe to show to API clients for err.
// Invalid requests keep their detail; everything else collapses to its category.
func Public(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return err.Error()
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrNotFound):
		return "Not found"
	case errors.Is(err, ErrConflict):
		return "Chat session was updated by another request, please retry"
	case errors.Is(err, ErrUpstream):
		return "Failed to generate a reply"
	default:
		return "Internal server error"
	}
}
