// Package chatclient is the client core of the dealership support chat: the
// connection session manager, the delivery state machine for outbound
// messages, and the back-office multiplexer that routes live events across
// many open conversations.
package chatclient

import (
	"errors"
	"fmt"
	"net/http"
)

// Error taxonomy. Auth and NotFound are terminal for the operation that hit
// them; Network/Transport failures are retry-eligible; Rejected means the
// input needs correction before any retry makes sense.
var (
	ErrAuth      = errors.New("authentication failed")
	ErrNetwork   = errors.New("network unavailable")
	ErrTransport = errors.New("transport failure")
	ErrRejected  = errors.New("request rejected")
	ErrNotFound  = errors.New("not found")
)

// Retryable reports whether a blind retry of the same payload can succeed.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrNetwork)
}

func classifyStatus(status int, detail string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAuth, detail)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, detail)
	case status >= 400 && status < 500:
		return fmt.Errorf("%w: %s", ErrRejected, detail)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrTransport, status, detail)
	}
}
