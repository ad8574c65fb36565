package coordinator

import (
	"context"
	"errors"
	"net"
)

var (
	// ErrTimeout marks a transient read timeout from the remote API. Clients wrap their
	// timeout failures with it so the refresh cycle can retry them.
	ErrTimeout = errors.New("request timed out")

	// ErrUnsupported is returned when an appliance kind lacks the requested capability.
	ErrUnsupported = errors.New("operation not supported by appliance")
)

// IsTimeout reports whether err is a transient timeout: ErrTimeout, a net.Error with
// Timeout() set, or context.DeadlineExceeded.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
