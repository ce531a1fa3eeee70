// Package identity manages the local endpoint's long-lived key material:
// the X25519 agreement pair, the Ed25519 signing pair, the signed pre-key
// and a pool of single-use one-time pre-keys, plus the per-handshake
// ephemeral pair. Private halves are held in guarded memory and only read
// out for the duration of an operation.
package identity
