/*
Package can defines the message model and transport contract shared by the
canflow packages.

A Message carries an arbitration identifier, a channel name, a payload, and
frame-kind flags (extended identifier, remote request, error frame, FD).
Messages are values and are treated as immutable once built:

	msg := can.Message{
		ArbitrationID: 0x401,
		Channel:       "vcan0",
		Data:          []byte{0x11, 0x22},
	}
	if err := msg.Validate(); err != nil {
		log.Fatal(err)
	}

The Bus interface is the single point where canflow touches a real transport.
Implementations live elsewhere (SocketCAN adapters, vendor drivers, or the
in-memory bus in pkg/can/virtual); this package only states the contract:
Send one message, report failure, and do not assume concurrent callers.
*/
package can
