package cyclic

import (
	"fmt"

	"github.com/canflow/canflow/pkg/can"
	cferrors "github.com/canflow/canflow/pkg/common/errors"
)

// sequence is a validated message set. The slice it holds is a private copy
// and is never mutated; tasks swap whole sequences, which is what lets the
// run loop read one without locking.
type sequence struct {
	msgs    []can.Message
	arbID   uint32
	channel string
}

// newSequence validates and copies msgs. Every message must be individually
// valid and must share the first message's arbitration id and channel.
func newSequence(msgs []can.Message) (*sequence, error) {
	if len(msgs) == 0 {
		return nil, cferrors.NewValidationError(module, "messages", len(msgs), "must not be empty").
			WithHint("provide at least one message")
	}

	first := msgs[0]
	for i, m := range msgs {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		if m.ArbitrationID != first.ArbitrationID {
			return nil, cferrors.NewValidationError(module, "messages",
				fmt.Sprintf("0x%X", m.ArbitrationID),
				fmt.Sprintf("message %d does not share the first message's arbitration id", i)).
				WithHint("all messages of one cyclic task must use a single arbitration id")
		}
		if m.Channel != first.Channel {
			return nil, cferrors.NewValidationError(module, "messages", m.Channel,
				fmt.Sprintf("message %d does not share the first message's channel", i)).
				WithHint("all messages of one cyclic task must target a single channel")
		}
	}

	cp := make([]can.Message, len(msgs))
	copy(cp, msgs)

	return &sequence{
		msgs:    cp,
		arbID:   first.ArbitrationID,
		channel: first.Channel,
	}, nil
}

// replaceWith validates next as a replacement for s: same construction rules,
// plus identical length, arbitration id, and channel.
func (s *sequence) replaceWith(msgs []can.Message) (*sequence, error) {
	next, err := newSequence(msgs)
	if err != nil {
		return nil, err
	}
	if len(next.msgs) != len(s.msgs) {
		return nil, cferrors.NewValidationError(module, "messages", len(msgs), "length must match the current sequence").
			WithHint(fmt.Sprintf("task holds %d messages", len(s.msgs)))
	}
	if next.arbID != s.arbID {
		return nil, cferrors.NewValidationError(module, "messages",
			fmt.Sprintf("0x%X", next.arbID), "arbitration id cannot change").
			WithHint(fmt.Sprintf("task transmits 0x%X", s.arbID))
	}
	if next.channel != s.channel {
		return nil, cferrors.NewValidationError(module, "messages", next.channel, "channel cannot change").
			WithHint(fmt.Sprintf("task transmits on %s", s.channel))
	}
	return next, nil
}
