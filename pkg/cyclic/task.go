package cyclic

import (
	"time"

	"github.com/canflow/canflow/pkg/can"
)

// module name used in validation errors.
const module = "cyclic"

// Task is the minimal capability of every cyclic task: it can be stopped.
type Task interface {
	// Stop requests termination of the background transmission. It returns
	// without waiting for the run goroutine to observe the request, and it
	// is a no-op on an already stopped task.
	Stop()
}

// Startable is implemented by tasks that can resume after a Stop.
type Startable interface {
	// Start resumes transmission. It is idempotent while the task is running.
	Start()
}

// Modifiable is implemented by tasks whose payloads can be replaced in flight.
type Modifiable interface {
	// ModifyData replaces the transmitted message sequence without altering
	// identifier, channel, timing, or sequence length.
	ModifyData(msgs []can.Message) error
}

// SendTask is the full contract of a software-timed cyclic send task:
// stoppable, restartable, modifiable, and observable.
type SendTask interface {
	Task
	Startable
	Modifiable

	// ArbitrationID returns the identifier shared by every message in the
	// task's sequence.
	ArbitrationID() uint32

	// Channel returns the channel shared by every message in the sequence.
	Channel() string

	// Period returns the configured send period.
	Period() time.Duration

	// Running reports whether the task is currently transmitting.
	Running() bool

	// Done returns a channel that is closed when the current run goroutine
	// exits, whether by Stop, duration expiry, or transport failure. Each
	// restart allocates a fresh channel, so callers observing a restartable
	// task must re-fetch Done after Start.
	Done() <-chan struct{}

	// Err returns the transport error that stopped the task, if any. Tasks
	// stop silently on transport failure; this is how callers find out.
	Err() error
}
