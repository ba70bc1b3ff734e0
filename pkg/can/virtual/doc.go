/*
Package virtual provides an in-memory can.Bus for tests and examples.

The bus records every accepted message with a timestamp, and can simulate
wire latency, scripted transmit failures, and bus-load throttling via a
rate.Limiter. It also detects concurrent Send entries, which lets tests
verify that cyclic tasks sharing one bus serialize their sends correctly.
*/
package virtual
