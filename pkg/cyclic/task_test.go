package cyclic

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/canflow/canflow/pkg/can"
	"github.com/canflow/canflow/pkg/can/virtual"
	cferrors "github.com/canflow/canflow/pkg/common/errors"
)

func msg(id uint32, channel string, data ...byte) can.Message {
	return can.Message{ArbitrationID: id, Channel: channel, Data: data}
}

func TestNew_Validation(t *testing.T) {
	bus := virtual.New()
	var txLock sync.Mutex

	tests := []struct {
		name string
		fn   func() (SendTask, error)
	}{
		{
			"empty sequence",
			func() (SendTask, error) {
				return New(bus, &txLock, nil, 10*time.Millisecond)
			},
		},
		{
			"mismatched arbitration id",
			func() (SendTask, error) {
				return New(bus, &txLock, []can.Message{
					msg(0x401, "vcan0", 0x11),
					msg(0x402, "vcan0", 0x22),
				}, 10*time.Millisecond)
			},
		},
		{
			"mismatched channel",
			func() (SendTask, error) {
				return New(bus, &txLock, []can.Message{
					msg(0x401, "vcan0", 0x11),
					msg(0x401, "vcan1", 0x22),
				}, 10*time.Millisecond)
			},
		},
		{
			"invalid message",
			func() (SendTask, error) {
				return New(bus, &txLock, []can.Message{
					msg(0x800, "vcan0", 0x11), // standard id out of range
				}, 10*time.Millisecond)
			},
		},
		{
			"zero period",
			func() (SendTask, error) {
				return New(bus, &txLock, []can.Message{msg(0x401, "vcan0", 0x11)}, 0)
			},
		},
		{
			"negative period",
			func() (SendTask, error) {
				return New(bus, &txLock, []can.Message{msg(0x401, "vcan0", 0x11)}, -time.Second)
			},
		},
		{
			"nil bus",
			func() (SendTask, error) {
				return New(nil, &txLock, []can.Message{msg(0x401, "vcan0", 0x11)}, 10*time.Millisecond)
			},
		},
		{
			"negative duration",
			func() (SendTask, error) {
				return NewWithConfig(Config{
					Bus:      bus,
					TxLock:   &txLock,
					Messages: []can.Message{msg(0x401, "vcan0", 0x11)},
					Period:   10 * time.Millisecond,
					Duration: -time.Second,
				})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task, err := tt.fn()
			if err == nil {
				task.Stop()
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, cferrors.ErrInvalidArgument) {
				t.Errorf("error should wrap ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestNew_ReadOnlyAccessors(t *testing.T) {
	bus := virtual.New()
	var txLock sync.Mutex

	task, err := New(bus, &txLock, []can.Message{
		msg(0x401, "vcan0", 0x11),
		msg(0x401, "vcan0", 0x22),
	}, 25*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer task.Stop()

	if got := task.ArbitrationID(); got != 0x401 {
		t.Errorf("ArbitrationID() = 0x%X, want 0x401", got)
	}
	if got := task.Channel(); got != "vcan0" {
		t.Errorf("Channel() = %q, want vcan0", got)
	}
	if got := task.Period(); got != 25*time.Millisecond {
		t.Errorf("Period() = %v, want 25ms", got)
	}
	if !task.Running() {
		t.Error("task should be running right after construction")
	}
}

func TestNewSingle(t *testing.T) {
	bus := virtual.New()

	task, err := NewSingle(bus, nil, msg(0x123, "vcan0", 0xAA), 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer task.Stop()

	if got := task.ArbitrationID(); got != 0x123 {
		t.Errorf("ArbitrationID() = 0x%X, want 0x123", got)
	}
}

func TestStop_Idempotent(t *testing.T) {
	bus := virtual.New()

	task, err := NewSingle(bus, nil, msg(0x401, "vcan0", 0x11), 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	task.Stop()
	task.Stop() // must be a no-op, not a panic or an error

	if task.Running() {
		t.Error("task should be stopped")
	}
}

func TestModifyData_Validation(t *testing.T) {
	bus := virtual.New()

	task, err := New(bus, nil, []can.Message{
		msg(0x401, "vcan0", 0x11),
		msg(0x401, "vcan0", 0x22),
	}, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer task.Stop()

	tests := []struct {
		name string
		msgs []can.Message
	}{
		{"empty", nil},
		{"length mismatch", []can.Message{msg(0x401, "vcan0", 0x33)}},
		{
			"arbitration id change",
			[]can.Message{msg(0x402, "vcan0", 0x33), msg(0x402, "vcan0", 0x44)},
		},
		{
			"channel change",
			[]can.Message{msg(0x401, "vcan1", 0x33), msg(0x401, "vcan1", 0x44)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := task.ModifyData(tt.msgs)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, cferrors.ErrInvalidArgument) {
				t.Errorf("error should wrap ErrInvalidArgument, got %v", err)
			}
		})
	}

	// Failed modifications must leave the original sequence in place.
	if got := task.ArbitrationID(); got != 0x401 {
		t.Errorf("ArbitrationID() = 0x%X after failed modify, want 0x401", got)
	}
}

func TestSequence_CopiesCallerSlice(t *testing.T) {
	msgs := []can.Message{msg(0x401, "vcan0", 0x11)}
	seq, err := newSequence(msgs)
	if err != nil {
		t.Fatal(err)
	}

	msgs[0] = msg(0x401, "vcan0", 0xFF)
	if seq.msgs[0].Data[0] != 0x11 {
		t.Error("sequence should hold a copy, not the caller's slice")
	}
}
