// Package channel ties the key exchange and the Double Ratchet together
// into per-connection secure channels.
//
// A Channel walks the three-step exchange (init, pending, complete) and
// then seals and opens cipher payloads. The System keeps one channel per
// connection id behind a per-entry lock, so callers may use different
// connections concurrently while each channel stays single-owner.
package channel
