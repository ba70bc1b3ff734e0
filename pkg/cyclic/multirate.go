package cyclic

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/canflow/canflow/pkg/can"
	"github.com/canflow/canflow/pkg/common/validation"
)

// MultiRateConfig holds configuration options for a multi-rate cyclic task.
type MultiRateConfig struct {
	// Bus performs the actual transmission. Required.
	Bus can.Bus

	// Messages is the transmitted sequence; same invariants as Config.Messages.
	Messages []can.Message

	// Count is the number of complete passes through the sequence transmitted
	// at InitialPeriod before switching (count × len(Messages) sends). Required, > 0.
	Count int

	// InitialPeriod is the send period during the initial phase. Required, > 0.
	InitialPeriod time.Duration

	// SubsequentPeriod is the send period after the switch, kept until the
	// task is stopped. Required, > 0.
	SubsequentPeriod time.Duration

	// TxLock serializes sends against other tasks on the same bus. See
	// Config.TxLock.
	TxLock *sync.Mutex

	// Name labels log lines. Defaults to the arbitration id in hex.
	Name string

	// Logger receives lifecycle and failure events. The zero value is silent.
	Logger zerolog.Logger
}

// runPhase tracks which period a multi-rate task is pacing with. The
// transition is one-way: initial, then subsequent once the configured number
// of passes has been sent.
type runPhase int

const (
	phaseInitial runPhase = iota
	phaseSubsequent
)

// multiRateTask sends the sequence Count full passes at the initial period,
// then switches to the subsequent period until stopped. Restarting a stopped
// task begins a fresh initial phase.
type multiRateTask struct {
	bus        can.Bus
	txLock     *sync.Mutex
	count      int
	initial    time.Duration
	subsequent time.Duration
	name       string
	log        zerolog.Logger

	seq *sequence

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	err     error
}

// NewMultiRate creates a multi-rate cyclic task and starts it immediately.
func NewMultiRate(cfg MultiRateConfig) (SendTask, error) {
	if err := validation.ValidateNotNil(module, "bus", cfg.Bus); err != nil {
		return nil, err
	}
	if err := validation.ValidatePositive(module, "count", cfg.Count); err != nil {
		return nil, err
	}
	if err := validation.ValidatePositiveDuration(module, "initial_period", cfg.InitialPeriod); err != nil {
		return nil, err
	}
	if err := validation.ValidatePositiveDuration(module, "subsequent_period", cfg.SubsequentPeriod); err != nil {
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

	t := &multiRateTask{
		bus:        cfg.Bus,
		txLock:     txLock,
		count:      cfg.Count,
		initial:    cfg.InitialPeriod,
		subsequent: cfg.SubsequentPeriod,
		name:       name,
		log:        cfg.Logger,
		seq:        seq,
	}

	t.Start()
	return t, nil
}

// ArbitrationID implements SendTask.
func (t *multiRateTask) ArbitrationID() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq.arbID
}

// Channel implements SendTask.
func (t *multiRateTask) Channel() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq.channel
}

// Period implements SendTask. It reports the subsequent (steady-state) period.
func (t *multiRateTask) Period() time.Duration {
	return t.subsequent
}

// Running implements SendTask.
func (t *multiRateTask) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Done implements SendTask. The returned channel belongs to the current run;
// it closes when that run's goroutine exits.
func (t *multiRateTask) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.doneCh
}

// Err implements SendTask.
func (t *multiRateTask) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Start implements SendTask. A restart joins the previous run goroutine and
// then begins again from the initial phase.
func (t *multiRateTask) Start() {
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
		t.mu.Unlock()
		return
	}
	t.running = true
	t.err = nil
	t.stopCh = make(chan struct{})
	t.doneCh = make(chan struct{})
	stop, done := t.stopCh, t.doneCh
	t.mu.Unlock()

	t.log.Debug().
		Str("task", t.name).
		Dur("initial_period", t.initial).
		Dur("subsequent_period", t.subsequent).
		Int("count", t.count).
		Msg("multi-rate send task started")

	go t.run(stop, done)
}

// Stop implements SendTask.
func (t *multiRateTask) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.running = false
	close(t.stopCh)
}

// ModifyData implements SendTask.
func (t *multiRateTask) ModifyData(msgs []can.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	next, err := t.seq.replaceWith(msgs)
	if err != nil {
		return err
	}
	t.seq = next
	return nil
}

// snapshot returns the current sequence for one loop iteration.
func (t *multiRateTask) snapshot() *sequence {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq
}

// finish marks the task stopped from inside the run goroutine.
func (t *multiRateTask) finish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		t.running = false
		close(t.stopCh)
	}
	if err != nil {
		t.err = err
	}
}

func (t *multiRateTask) run(stop, done chan struct{}) {
	defer close(done)

	var (
		index  int
		passes int
		phase  = phaseInitial
		period = t.initial
	)

	for {
		t0 := time.Now()
		msgs := t.snapshot().msgs

		t.txLock.Lock()
		err := t.bus.Send(msgs[index])
		t.txLock.Unlock()

		if err != nil {
			t.log.Error().
				Err(err).
				Str("task", t.name).
				Msg("transport failure, multi-rate send task stopped")
			t.finish(err)
			return
		}

		index = (index + 1) % len(msgs)
		if phase == phaseInitial && index == 0 {
			passes++
			if passes >= t.count {
				phase = phaseSubsequent
				period = t.subsequent
				t.log.Debug().
					Str("task", t.name).
					Dur("period", period).
					Msg("multi-rate send task switched to subsequent period")
			}
		}

		delay := period - time.Since(t0)
		if delay < 0 {
			delay = 0
		}
		select {
		case <-time.After(delay):
		case <-stop:
			t.finish(nil)
			return
		}

		select {
		case <-stop:
			t.finish(nil)
			return
		default:
		}
	}
}
