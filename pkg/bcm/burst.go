package bcm

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/canflow/canflow/pkg/can"
	"github.com/canflow/canflow/pkg/common/errors"
)

type burstConfig struct {
	id       string
	bus      can.Bus
	txLock   *sync.Mutex
	schedule cron.Schedule
	msgs     []can.Message
	loc      *time.Location
	log      zerolog.Logger
	onBurst  func()
}

// burstTask transmits its whole sequence back to back at every firing of a
// cron schedule. Between firings it sleeps until the next computed time, so
// an idle burst costs one parked goroutine.
type burstTask struct {
	id       string
	bus      can.Bus
	txLock   *sync.Mutex
	schedule cron.Schedule
	loc      *time.Location
	log      zerolog.Logger
	onBurst  func()

	mu     sync.Mutex
	msgs   []can.Message
	arbID  uint32
	chName string
	active bool
	stopCh chan struct{}
	err    error
}

// validateBurstSequence applies the cyclic sequence rules: non-empty, every
// message valid, one arbitration id, one channel.
func validateBurstSequence(msgs []can.Message) (uint32, string, error) {
	if len(msgs) == 0 {
		return 0, "", errors.NewValidationError(module, "messages", len(msgs), "sequence must not be empty").
			WithHint("provide at least one message to transmit")
	}
	for i, msg := range msgs {
		if err := msg.Validate(); err != nil {
			return 0, "", fmt.Errorf("message %d: %w", i, err)
		}
		if msg.ArbitrationID != msgs[0].ArbitrationID {
			return 0, "", errors.NewValidationError(module, "messages", msg.ArbitrationID,
				"all messages must share one arbitration id")
		}
		if msg.Channel != msgs[0].Channel {
			return 0, "", errors.NewValidationError(module, "messages", msg.Channel,
				"all messages must share one channel")
		}
	}
	return msgs[0].ArbitrationID, msgs[0].Channel, nil
}

func newBurstTask(cfg burstConfig) (*burstTask, error) {
	arbID, chName, err := validateBurstSequence(cfg.msgs)
	if err != nil {
		return nil, err
	}

	msgs := make([]can.Message, len(cfg.msgs))
	copy(msgs, cfg.msgs)

	b := &burstTask{
		id:       cfg.id,
		bus:      cfg.bus,
		txLock:   cfg.txLock,
		schedule: cfg.schedule,
		loc:      cfg.loc,
		log:      cfg.log,
		onBurst:  cfg.onBurst,
		msgs:     msgs,
		arbID:    arbID,
		chName:   chName,
		active:   true,
		stopCh:   make(chan struct{}),
	}

	go b.run(b.stopCh)
	return b, nil
}

func (b *burstTask) arbitrationID() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.arbID
}

func (b *burstTask) channel() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chName
}

func (b *burstTask) running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

func (b *burstTask) lastErr() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *burstTask) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active {
		return
	}
	b.active = false
	close(b.stopCh)
}

func (b *burstTask) modifyData(msgs []can.Message) error {
	arbID, chName, err := validateBurstSequence(msgs)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(msgs) != len(b.msgs) {
		return errors.NewValidationError(module, "messages", len(msgs), "length must match the current sequence").
			WithHint(fmt.Sprintf("burst holds %d messages", len(b.msgs)))
	}
	if arbID != b.arbID {
		return errors.NewValidationError(module, "messages",
			fmt.Sprintf("0x%X", arbID), "arbitration id cannot change").
			WithHint(fmt.Sprintf("burst transmits 0x%X", b.arbID))
	}
	if chName != b.chName {
		return errors.NewValidationError(module, "messages", chName, "channel cannot change").
			WithHint(fmt.Sprintf("burst transmits on %s", b.chName))
	}

	next := make([]can.Message, len(msgs))
	copy(next, msgs)
	b.msgs = next
	return nil
}

func (b *burstTask) snapshot() []can.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.msgs
}

// finish marks the burst stopped from inside the run goroutine.
func (b *burstTask) finish(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active {
		b.active = false
		close(b.stopCh)
	}
	if err != nil {
		b.err = err
	}
}

func (b *burstTask) run(stop chan struct{}) {
	for {
		next := b.schedule.Next(time.Now().In(b.loc))
		if next.IsZero() {
			// The schedule has no future firing (cron gives up after its
			// five-year search horizon).
			b.log.Debug().Str("id", b.id).Msg("no next firing, burst schedule stopped")
			b.finish(nil)
			return
		}
		timer := time.NewTimer(time.Until(next))

		select {
		case <-timer.C:
		case <-stop:
			timer.Stop()
			return
		}

		msgs := b.snapshot()
		b.txLock.Lock()
		var sendErr error
		for _, msg := range msgs {
			if sendErr = b.bus.Send(msg); sendErr != nil {
				break
			}
		}
		b.txLock.Unlock()

		if sendErr != nil {
			b.log.Error().
				Err(sendErr).
				Str("id", b.id).
				Msg("transport failure, burst schedule stopped")
			b.finish(sendErr)
			return
		}

		if b.onBurst != nil {
			b.onBurst()
		}
		b.log.Debug().
			Str("id", b.id).
			Int("messages", len(msgs)).
			Msg("burst transmitted")
	}
}
