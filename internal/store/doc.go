// Package store provides on-disk persistence for the local endpoint.
//
// It implements the domain storage interfaces: KeyStore seals long-term key
// material under a passphrase (scrypt + ChaCha20-Poly1305, written via a
// temp file then rename), and StateStore keeps sealed channel snapshots in
// a bbolt database keyed by connect id. All methods are concurrency-safe.
package store
