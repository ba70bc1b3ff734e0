// Package canflow provides a Go library for cyclic CAN message transmission with
// software timing, broadcast management, and cron-scheduled bursts.
//
// CAN Primitives (pkg/can):
//   - can: Message, bus interface, transport errors
//   - virtual: In-memory recording bus for tests and examples
//
// Cyclic Transmission (pkg/cyclic):
//   - software-timed periodic tasks with drift compensation
//   - multi-rate tasks (fast initial phase, slower steady state)
//   - in-flight payload replacement and duration limits
//
// Broadcast Management (pkg/bcm):
//   - id-addressed registry of all periodic traffic on one bus
//   - shared transmission lock owned in one place
//   - cron-expression burst schedules
//
// Example usage:
//
// 	import (
// 		"github.com/canflow/canflow/pkg/bcm"
// 		"github.com/canflow/canflow/pkg/can"
// 	)
//
// 	mgr, _ := bcm.New(bus)
// 	mgr.SendPeriodic("engine-status", msgs, 100*time.Millisecond, 0)
// 	mgr.ScheduleBurst("diag", "*/10 * * * * *", diagMsgs)
package canflow
