package broadcast

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyActive is returned by Transmit when the station already has a transmitter.
	ErrAlreadyActive = errors.New("station is already transmitting")

	// ErrNotActive is returned by Subscribe when the station has no transmitter.
	ErrNotActive = errors.New("station is not actively streaming")

	// ErrTerminated is returned by Send after the channel was shut down
	// through Registry.Terminate.
	ErrTerminated = errors.New("channel terminated")

	// ErrClosed is returned by Recv once the transmitter is gone and every
	// retained chunk was read, and by Send after the transmitter was closed.
	ErrClosed = errors.New("channel closed")
)

// LaggedError reports that a receiver fell more than the channel capacity
// behind and N chunks were skipped. The receiver remains usable.
type LaggedError struct {
	N uint64
}

// Error implements the error interface.
func (e *LaggedError) Error() string {
	return fmt.Sprintf("receiver lagged behind by %d chunks", e.N)
}
