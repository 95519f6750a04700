package orchestrator

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrUnavailable means every attempt failed at the transport level
// (connection refused, timeout). Handlers surface it as 502.
var ErrUnavailable = errors.New("orchestrator unavailable")

// RejectedError is an HTTP error status returned by the orchestrator itself.
// These are semantic failures, never retried and never downgraded to 502; the
// upstream status code and body are passed through to the caller.
type RejectedError struct {
	StatusCode int
	Body       []byte
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("orchestrator rejected request: status %d: %s", e.StatusCode, e.Body)
}
