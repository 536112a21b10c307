// Package session owns the lifecycle of a single ESCP connection:
// state transitions, the outbound writer, liveness bookkeeping, and the
// request/response rendezvous. It does not decide what packets mean.
//
// Ownership boundaries:
//   - session reads and writes protocol.Packet values; framing and
//     validation live in internal/protocol.
//   - session delivers inbound packets to a Handler; policy (auth,
//     broadcast, commands) lives with the Handler's owner.
//   - every teardown funnels through Close, so the Handler observes
//     exactly one SessionClosed per connection regardless of which side
//     or subsystem initiated it.
package session
