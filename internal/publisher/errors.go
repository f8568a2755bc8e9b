package publisher

import (
	"errors"
	"fmt"
)

var (
	ErrDisabled       = errors.New("publisher disabled")
	ErrStopped        = errors.New("publisher stopped")
	ErrAlreadyRunning = errors.New("a job for this target is already running")
	ErrUnknownTarget  = errors.New("unknown target")

	ErrDeliveryTimeout  = errors.New("delivery handler timed out")
	ErrNavigationFailed = errors.New("navigation trigger failed")
	ErrSecondaryTimeout = errors.New("secondary context did not appear in time")
	ErrNotMultiStage    = errors.New("target does not support multi-stage handoff")
)

// HandshakeTimeoutError is terminal for a job: the context's delivery
// handler never acknowledged readiness.
type HandshakeTimeoutError struct {
	Attempts int
	Waited   string
}

func (e HandshakeTimeoutError) Error() string {
	return fmt.Sprintf("handler not ready within %s (%d attempts)", e.Waited, e.Attempts)
}
