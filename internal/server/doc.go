// Package server owns the listening side of the chat protocol: the
// accept loop, the username registry, packet dispatch, broadcast
// fan-out, the heartbeat sweep, and the optional HTTP admin plane.
//
// Ownership boundaries:
//   - server decides policy (login gating, validation responses,
//     command routing); per-connection mechanics live in
//     internal/session.
//   - the registry is mutated only by the login, logout, and sweep
//     paths, and membership checks are atomic with insertion so two
//     concurrent logins can never share a username.
//   - every disconnect, voluntary or not, flows through the session's
//     single close path, so departure broadcasts fire exactly once.
package server
