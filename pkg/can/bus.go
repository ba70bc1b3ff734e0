package can

import (
	"errors"
	"fmt"
)

// ErrBusClosed indicates the bus has been closed. Further sends fail.
var ErrBusClosed = errors.New("can: bus is closed")

// Bus is the transport contract consumed by cyclic tasks.
//
// Send transmits one message and either completes or reports failure. A Bus
// implementation is NOT required to tolerate concurrent Send calls; callers
// that share one Bus across goroutines must serialize sends with a shared
// lock (see cyclic.Config.TxLock and bcm.Manager).
type Bus interface {
	// Send transmits a single message. It must be callable from a background
	// goroutine and should return promptly.
	Send(msg Message) error

	// Close releases the transport. Sends after Close return an error.
	Close() error
}

// TransportError wraps a failure reported by a Bus, preserving the channel
// the send was addressed to. Tasks treat any TransportError as fatal for
// their run loop.
type TransportError struct {
	Channel string
	Err     error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Channel == "" {
		return fmt.Sprintf("can: transport: %v", e.Err)
	}
	return fmt.Sprintf("can: transport on %s: %v", e.Channel, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *TransportError) Unwrap() error {
	return e.Err
}
