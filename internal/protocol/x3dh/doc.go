// Package x3dh implements the key agreement used to bootstrap a channel
// between two endpoints.
//
// # Overview
//
// An Extended Triple Diffie-Hellman lets both endpoints derive the same
// 32-byte root secret from the bundles they exchange during the handshake.
// Each bundle contains:
//   - Identity agreement key (X25519) and identity signing key (Ed25519)
//   - Signed pre-key (X25519) and its Ed25519 signature
//   - A fresh handshake ephemeral (X25519)
//   - Optional one-time pre-keys, advertised by the initiator only
//
// # Flows
//
// Initiator:
//  1. Advertise identity, signed pre-key and one-time pre-keys in the
//     opening bundle together with a fresh ephemeral.
//  2. On the responder's reply: verify its signed pre-key signature, then
//     compute DH(identity, peer ephemeral), DH(ephemeral, peer identity),
//     DH(ephemeral, peer ephemeral) and, when the responder echoed a
//     pre-key id, DH(that one-time pre-key, peer ephemeral).
//  3. HKDF-SHA256 over the concatenated transcript yields the root.
//
// Responder:
//  1. Verify the initiator's signed pre-key signature.
//  2. Pick one advertised one-time pre-key (lowest id), echo its id back.
//  3. Compute the symmetric DH set with its own ephemeral and derive the
//     identical root.
//
// # Security notes
//
// Only public material crosses the wire. The signature check always runs
// before the first DH. One-time pre-keys are consumed from the pool on
// first use, so a replayed reply cannot rebuild the same root. The root is
// returned inside guarded memory and every intermediate secret is wiped
// before the functions return.
package x3dh
