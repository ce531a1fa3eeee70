// Package relay provides the development store-and-forward relay and the
// domain.RelayClient implementation that talks to it.
//
// The relay queues opaque envelopes (handshake messages and cipher
// payloads) per recipient and never inspects their contents; collection is
// non-destructive and explicit acknowledgement discards the oldest
// entries. Requests are CBOR over HTTP and accept a context for
// cancellation and deadlines. Failure kinds map onto HTTP status codes on
// the server side; non-2xx statuses come back from the client as errors
// with the method, path, and status text.
package relay
