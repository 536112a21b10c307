// Package protocol owns the ESCP wire contract and parsing primitives.
//
// Ownership boundary:
// - fixed 4-byte header encode/decode
// - packet schemas and payload validation
// - typed payload views (login, message, response)
package protocol
