// Package publish talks to the X API: posting, replying, media upload,
// and fetching mentions of the bot account.
package publish

import "fmt"

// Error is returned for any failed platform call.
type Error struct {
	// Operation names the call that failed, e.g. "publish_post".
	Operation string
	// StatusCode is the HTTP status, or 0 for transport-level failures.
	StatusCode int
	// Message carries the platform's error body or the transport error.
	Message string
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("publish: %s: %s", e.Operation, e.Message)
	}
	return fmt.Sprintf("publish: %s: status %d: %s", e.Operation, e.StatusCode, e.Message)
}
