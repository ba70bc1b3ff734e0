package cyclic

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/canflow/canflow/pkg/can"
	"github.com/canflow/canflow/pkg/common/validation"
	"github.com/canflow/canflow/pkg/metrics"
)

// Config holds configuration options for a software-timed cyclic send task.
type Config struct {
	// Bus performs the actual transmission. Required. The task references
	// the bus; it never owns or closes it.
	Bus can.Bus

	// Messages is the sequence transmitted in order, wrapping around. All
	// messages must share one arbitration id and one channel. Required.
	Messages []can.Message

	// Period is the target time between consecutive sends. Required, > 0.
	Period time.Duration

	// Duration, when positive, bounds the total run time. The deadline is
	// armed when a run starts (construction and every restart) and is not
	// recomputed by ModifyData. Zero means run until stopped.
	Duration time.Duration

	// TxLock serializes sends against other tasks sharing the same bus
	// handle. It must be supplied by whoever owns the bus and shared by all
	// of that bus's tasks. If nil, the task uses a private lock, which is
	// only correct when nothing else transmits on the bus.
	TxLock *sync.Mutex

	// Name labels log lines and metrics. Defaults to the arbitration id in hex.
	Name string

	// Logger receives lifecycle and failure events. The zero value is silent.
	Logger zerolog.Logger

	// Metrics enables Prometheus instrumentation.
	Metrics metrics.Config

	// OnError is invoked on its own goroutine when a transport failure stops
	// the task, after Err is set. The callback may call Start to restart the
	// task.
	OnError func(error)
}

// softwareTimedTask emulates periodic transmission with a drift-compensated
// sleep loop. It is the portable fallback for transports without a native
// hardware cyclic-send mechanism.
type softwareTimedTask struct {
	bus      can.Bus
	txLock   *sync.Mutex
	period   time.Duration
	duration time.Duration
	name     string
	log      zerolog.Logger
	registry *metrics.Registry
	metered  bool
	onError  func(error)

	seq atomic.Pointer[sequence]

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	endTime time.Time
	err     error
}

// New creates a software-timed cyclic task and starts it immediately.
//
// txLock is the transmission lock shared by every task on this bus; pass nil
// only if this task is the bus's sole sender.
func New(bus can.Bus, txLock *sync.Mutex, msgs []can.Message, period time.Duration) (SendTask, error) {
	return NewWithConfig(Config{
		Bus:      bus,
		TxLock:   txLock,
		Messages: msgs,
		Period:   period,
	})
}

// NewSingle creates a task that transmits one message cyclically.
func NewSingle(bus can.Bus, txLock *sync.Mutex, msg can.Message, period time.Duration) (SendTask, error) {
	return New(bus, txLock, []can.Message{msg}, period)
}

// NewWithConfig creates a software-timed cyclic task with custom configuration
// and starts it immediately.
func NewWithConfig(cfg Config) (SendTask, error) {
	if err := validation.ValidateNotNil(module, "bus", cfg.Bus); err != nil {
		return nil, err
	}
	if err := validation.ValidatePositiveDuration(module, "period", cfg.Period); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegativeDuration(module, "duration", cfg.Duration); err != nil {
		return nil, err
	}

	seq, err := newSequence(cfg.Messages)
	if err != nil {
		return nil, err
	}

	txLock := cfg.TxLock
	if txLock == nil {
		txLock = &sync.Mutex{}
	}

	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("0x%X", seq.arbID)
	}

	t := &softwareTimedTask{
		bus:      cfg.Bus,
		txLock:   txLock,
		period:   cfg.Period,
		duration: cfg.Duration,
		name:     name,
		log:      cfg.Logger,
		onError:  cfg.OnError,
	}
	t.seq.Store(seq)

	if cfg.Metrics.Enabled {
		t.registry = metrics.DefaultRegistry
		if cfg.Metrics.Registry != nil {
			t.registry = metrics.NewRegistry(cfg.Metrics.Registry)
		}
		t.metered = true
	}

	t.Start()
	return t, nil
}

// ArbitrationID implements SendTask.
func (t *softwareTimedTask) ArbitrationID() uint32 {
	return t.seq.Load().arbID
}

// Channel implements SendTask.
func (t *softwareTimedTask) Channel() string {
	return t.seq.Load().channel
}

// Period implements SendTask.
func (t *softwareTimedTask) Period() time.Duration {
	return t.period
}

// Running implements SendTask.
func (t *softwareTimedTask) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Done implements SendTask. The returned channel belongs to the current run;
// it closes when that run's goroutine exits.
func (t *softwareTimedTask) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.doneCh
}

// Err implements SendTask.
func (t *softwareTimedTask) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Start implements SendTask. If the previous run goroutine has not exited
// yet, Start waits for it before spawning a new one, so two runs never
// overlap; the wait is short because Stop interrupts the pacing sleep.
// Each (re)start re-arms the duration deadline from the current moment.
func (t *softwareTimedTask) Start() {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	prev := t.doneCh
	t.mu.Unlock()

	if prev != nil {
		<-prev
	}

	t.mu.Lock()
	if t.running {
		// Lost a race against a concurrent Start.
		t.mu.Unlock()
		return
	}
	t.running = true
	t.err = nil
	t.stopCh = make(chan struct{})
	t.doneCh = make(chan struct{})
	if t.duration > 0 {
		t.endTime = time.Now().Add(t.duration)
	} else {
		t.endTime = time.Time{}
	}
	stop, done := t.stopCh, t.doneCh
	t.mu.Unlock()

	t.log.Debug().
		Str("task", t.name).
		Dur("period", t.period).
		Int("messages", len(t.seq.Load().msgs)).
		Msg("cyclic send task started")

	if t.metered {
		t.registry.TasksRunning.WithLabelValues(t.Channel()).Inc()
	}

	go t.run(stop, done)
}

// Stop implements SendTask. It only requests termination; the run goroutine
// exits asynchronously. Stopping a stopped task is a no-op.
func (t *softwareTimedTask) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.running = false
	close(t.stopCh)
}

// ModifyData implements SendTask. The replacement is validated like a
// construction and must keep length, arbitration id, and channel; on success
// the stored sequence is swapped atomically, so the run loop observes either
// the old or the new sequence in full, never a mix. Timing and the duration
// deadline are untouched.
func (t *softwareTimedTask) ModifyData(msgs []can.Message) error {
	next, err := t.seq.Load().replaceWith(msgs)
	if err != nil {
		return err
	}
	t.seq.Store(next)
	t.log.Debug().Str("task", t.name).Msg("cyclic send task payloads replaced")
	return nil
}

// deadline returns the current duration deadline; zero means unbounded.
func (t *softwareTimedTask) deadline() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.endTime
}

// finish marks the task stopped from inside the run goroutine.
func (t *softwareTimedTask) finish(err error) {
	t.mu.Lock()
	if t.running {
		t.running = false
		close(t.stopCh)
	}
	if err != nil {
		t.err = err
	}
	t.mu.Unlock()

	if t.metered {
		t.registry.TasksRunning.WithLabelValues(t.Channel()).Dec()
	}
}

// run is the drift-compensated send loop. One iteration: send the current
// message under the shared lock, check the duration deadline, advance the
// cursor, then sleep for whatever remains of the period.
func (t *softwareTimedTask) run(stop, done chan struct{}) {
	defer close(done)

	index := 0
	for {
		t0 := time.Now()
		msgs := t.seq.Load().msgs

		t.txLock.Lock()
		err := t.bus.Send(msgs[index])
		t.txLock.Unlock()

		if err != nil {
			t.log.Error().
				Err(err).
				Str("task", t.name).
				Msg("transport failure, cyclic send task stopped")
			if t.metered {
				t.registry.SendFailuresTotal.WithLabelValues(t.name).Inc()
			}
			t.finish(err)
			if t.onError != nil {
				// Off the run goroutine, so the callback can call Start
				// without deadlocking on this run's done channel.
				go t.onError(err)
			}
			return
		}

		if t.metered {
			t.registry.SendsTotal.WithLabelValues(t.name).Inc()
			t.registry.CycleDuration.WithLabelValues(t.name).Observe(time.Since(t0).Seconds())
		}

		if end := t.deadline(); !end.IsZero() && !time.Now().Before(end) {
			t.log.Debug().Str("task", t.name).Msg("cyclic send task duration expired")
			t.finish(nil)
			return
		}

		index = (index + 1) % len(msgs)

		delay := t.period - time.Since(t0)
		if delay < 0 {
			delay = 0
		}
		select {
		case <-time.After(delay):
		case <-stop:
			t.finish(nil)
			return
		}

		// A stop that raced the timer must win before the next send.
		select {
		case <-stop:
			t.finish(nil)
			return
		default:
		}
	}
}
