// Package crypto exposes the primitives the protocol builds on.
//
// Contents
//
//   - ChaCha20-Poly1305 sealing and opening with keys held in guarded
//     memory (Seal, Open)
//   - X25519 key generation, clamping and Diffie-Hellman (GenerateX25519,
//     DH, DHHandle)
//   - Ed25519 key generation, signing and verification (GenerateEd25519,
//     SignEd25519, VerifyEd25519)
//   - Short public-key fingerprints for display/logging (Fingerprint)
//
// # Notes
//
// All functions return fixed-size array types defined in internal/domain to
// avoid accidental reallocations. Failures carry kinds from internal/failure;
// an AEAD open never reports which part of the authentication check failed.
package crypto
