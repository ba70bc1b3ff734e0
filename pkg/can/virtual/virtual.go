package virtual

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/canflow/canflow/pkg/can"
)

// Record is one transmitted message together with the time Send accepted it.
type Record struct {
	Msg can.Message
	At  time.Time
}

// Config holds configuration options for a virtual bus.
type Config struct {
	// SendDelay is simulated wire latency applied inside every Send.
	SendDelay time.Duration

	// Limiter, when set, throttles Send to model bus load. Send blocks until
	// the limiter admits the frame.
	Limiter *rate.Limiter

	// FailOnNth makes the nth Send (1-based) fail with a simulated error.
	// Zero disables scripted failure.
	FailOnNth int
}

// Bus is an in-memory can.Bus for tests, examples and bench rigs. It records
// every message it accepts along with a timestamp, can simulate latency and
// failures, and counts concurrent Send entries so tests can verify that
// callers honor the serialize-with-a-shared-lock contract.
//
// Like a real transport handle, Bus does not promise safe concurrent Send;
// it merely survives it and reports it via ConcurrencyViolations.
type Bus struct {
	cfg Config

	mu      sync.Mutex
	records []Record
	sends   int
	failErr error
	closed  bool

	inFlight   atomic.Int32
	violations atomic.Int64
}

// New creates a virtual bus with default configuration.
func New() *Bus {
	return NewWithConfig(Config{})
}

// NewWithConfig creates a virtual bus with the given configuration.
func NewWithConfig(cfg Config) *Bus {
	return &Bus{cfg: cfg}
}

// Send implements can.Bus.
func (b *Bus) Send(msg can.Message) error {
	if n := b.inFlight.Add(1); n > 1 {
		b.violations.Add(1)
	}
	defer b.inFlight.Add(-1)

	if b.cfg.Limiter != nil {
		if err := b.cfg.Limiter.Wait(context.Background()); err != nil {
			return &can.TransportError{Channel: msg.Channel, Err: err}
		}
	}

	if b.cfg.SendDelay > 0 {
		time.Sleep(b.cfg.SendDelay)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return can.ErrBusClosed
	}

	b.sends++
	if b.failErr != nil {
		return &can.TransportError{Channel: msg.Channel, Err: b.failErr}
	}
	if b.cfg.FailOnNth > 0 && b.sends == b.cfg.FailOnNth {
		return &can.TransportError{Channel: msg.Channel, Err: errors.New("simulated transmit error")}
	}

	b.records = append(b.records, Record{Msg: msg, At: time.Now()})
	return nil
}

// Close implements can.Bus. Subsequent sends return can.ErrBusClosed.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// SetAlwaysError makes every subsequent Send fail with the given error.
func (b *Bus) SetAlwaysError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failErr = err
}

// Records returns a copy of the accepted messages in transmission order.
func (b *Bus) Records() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Record, len(b.records))
	copy(out, b.records)
	return out
}

// SentCount returns the number of successfully accepted messages.
func (b *Bus) SentCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// SendCalls returns the number of Send invocations, including failed ones.
func (b *Bus) SendCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sends
}

// ConcurrencyViolations returns how many times Send was entered while another
// Send was still in flight.
func (b *Bus) ConcurrencyViolations() int64 {
	return b.violations.Load()
}

// Reset clears recorded messages, counters and scripted failures.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = nil
	b.sends = 0
	b.failErr = nil
	b.violations.Store(0)
}
