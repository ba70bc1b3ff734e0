/*
Package cyclic schedules and transmits periodically repeating CAN messages
over a shared bus, emulating timing in software for transports that have no
native hardware cyclic-send mechanism.

A task owns one background goroutine that repeatedly sends the next message
of a fixed sequence, pacing itself with a drift-compensated sleep: the time
consumed by locking and sending is subtracted from the period before
sleeping, so the mean cycle time tracks the target period even when sends
are slow. Timing is best effort; there is no hard real-time guarantee.

Basic usage:

	task, err := cyclic.New(bus, txLock, []can.Message{
		{ArbitrationID: 0x401, Channel: "can0", Data: []byte{0x11}},
		{ArbitrationID: 0x401, Channel: "can0", Data: []byte{0x22}},
	}, 100*time.Millisecond)
	if err != nil {
		log.Fatal(err)
	}
	defer task.Stop()

The task starts transmitting immediately. It can be stopped and restarted
any number of times, and its payloads can be replaced in flight:

	task.Stop()
	task.Start() // re-arms any configured duration deadline

	// Same length, same arbitration id, same channel; swap is atomic.
	err = task.ModifyData(newMessages)

Sharing a bus:

Bus handles are not assumed safe for concurrent use. Every task transmitting
on one bus must be given the same TxLock, supplied by whoever owns the bus
(see package bcm for a manager that does this bookkeeping). The lock is held
only for the duration of a single send, never across the pacing sleep, so
tasks sharing a bus interleave between each other's periods.

Failure model:

A transport failure is fatal to the task: the loop logs the error, records
it, and stops. Nothing is delivered to the goroutine that created the task;
wait on Done and then check Err, or set Config.OnError, to observe the
failure without polling.

Capability interfaces:

Task, Startable, and Modifiable split the contract so callers can hold
collections of heterogeneous tasks by the capabilities they actually need.
SendTask is the full contract implemented by the tasks in this package.

Multi-rate tasks:

NewMultiRate builds a task that transmits a fixed number of sequence passes
at one period and then switches to a second period for the rest of its life,
a pattern used by wake-up and announcement messages.
*/
package cyclic
