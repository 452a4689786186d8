package publish

import (
	"strings"
)

// EnhanceError is a failure of the enhancement collaborator.
// Message is human-readable and surfaced verbatim in the run log.
type EnhanceError struct {
	Message string
}

func (e *EnhanceError) Error() string { return "enhance: " + e.Message }

// PublishError is a failure of the publishing service.
// Op is "upload", "create_post", or "insights".
type PublishError struct {
	Op      string
	Message string
}

func (e *PublishError) Error() string { return e.Op + ": " + e.Message }

// authMarkers are the case-insensitive substrings that classify a
// failure as authentication/session expiry. A match aborts the whole
// run; the stored credentials are assumed invalid.
var authMarkers = []string{"token", "session", "oauth", "unauthorized"}

// IsAuthExpired reports whether err looks like an expired session or
// revoked credential. Classification is on the message text only: the
// remote service reports failures as opaque strings.
func IsAuthExpired(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range authMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// IsRecoverable reports whether a per-item failure should let the run
// continue with the next item.
func IsRecoverable(err error) bool {
	return err != nil && !IsAuthExpired(err)
}
