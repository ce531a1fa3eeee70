// Package ratchet implements the Double Ratchet over a shared root secret.
//
// A Session keeps a root key and two message chains (send and receive),
// seeded from the root with direction labels so the initiator's send side
// pairs with the responder's receive side. Each message advances a KDF
// chain, so message keys are forward secure. When a peer announces a new
// DH ratchet key, the receiving ratchet advances the root twice: once
// against the announced key and once with a fresh local pair, which is
// then carried on the next outbound envelope.
//
// Message indices are monotonic for the whole session and never reset at a
// ratchet step. Keys for indices that have not arrived yet are cached,
// single use, up to MaxSkippedKeys.
//
// Concurrency: Session is NOT safe for concurrent use. Callers must
// serialise access per connection.
package ratchet
