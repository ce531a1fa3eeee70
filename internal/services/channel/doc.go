// Package channel runs secure channels for one endpoint.
//
// It drives key exchanges and message flow through the protocol system,
// moves envelopes via the RelayClient, and keeps every channel's sealed
// snapshot in the StateStore so conversations survive a restart.
package channel
