package can

import (
	"fmt"

	cferrors "github.com/canflow/canflow/pkg/common/errors"
)

// Identifier and payload limits, matching the SocketCAN constants in <linux/can.h>.
const (
	MaxStandardID = 0x7FF
	MaxExtendedID = 0x1FFFFFFF

	MaxDataLen   = 8  // classical CAN
	MaxFDDataLen = 64 // CAN FD
)

// Message is one CAN message as handed to a Bus for transmission.
//
// A Message is a value: construct it, validate it, and treat it as immutable
// afterwards. Components that hold message sequences never mutate an element
// in place; they replace whole sequences.
type Message struct {
	// ArbitrationID is the 11-bit (standard) or 29-bit (extended) identifier.
	ArbitrationID uint32

	// Channel names the bus the message belongs to (e.g. "can0", "vcan0").
	// It is opaque to this package beyond equality comparison.
	Channel string

	// Data is the payload. At most 8 bytes for classical CAN, 64 for FD.
	Data []byte

	// IsExtended marks a 29-bit identifier frame.
	IsExtended bool

	// IsRemote marks a remote transmission request.
	IsRemote bool

	// IsError marks an error frame.
	IsError bool

	// IsFD marks a CAN FD (flexible data-rate) frame.
	IsFD bool
}

// Validate returns a ValidationError if the message violates identifier or
// payload limits for its frame kind.
func (m Message) Validate() error {
	maxID := uint32(MaxStandardID)
	if m.IsExtended {
		maxID = MaxExtendedID
	}
	if m.ArbitrationID > maxID {
		return cferrors.NewValidationError("can", "arbitration_id", fmt.Sprintf("0x%X", m.ArbitrationID), "exceeds identifier range").
			WithHint("set IsExtended for identifiers above 0x7FF")
	}

	maxLen := MaxDataLen
	if m.IsFD {
		maxLen = MaxFDDataLen
	}
	if len(m.Data) > maxLen {
		return cferrors.NewValidationError("can", "data", len(m.Data), "payload too long").
			WithHint(fmt.Sprintf("at most %d bytes for this frame kind", maxLen))
	}

	return nil
}

// String renders the message in a candump-like form.
func (m Message) String() string {
	return fmt.Sprintf("%s %03X [%d] % X", m.Channel, m.ArbitrationID, len(m.Data), m.Data)
}
