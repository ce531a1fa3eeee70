// Package main runs the in-memory store-and-forward relay used by ecliptix
// endpoints during development and tests. It queues encrypted envelopes per
// recipient until they are collected and acknowledged.
//
// HTTP API
//
//	POST /envelopes
//	    Queue a RelayEnvelope for its recipient. The server assigns the
//	    envelope id and posting time. Responds 202 with the id.
//
//	GET /envelopes/{user}?limit=N
//	    Return up to N queued envelopes for {user}, oldest first, without
//	    removing them. If limit is absent or zero, all are returned.
//
//	POST /envelopes/{user}/ack { "count": N }
//	    Drop the first N queued envelopes for {user}. If N exceeds the
//	    queue length, the queue is cleared.
//
// Behaviour
//
//   - All state is held in memory and lost on process exit.
//   - Bodies are CBOR. Non-2xx statuses carry a short error message.
//   - A lightweight access log records method, path, remote, status and
//     duration for each request.
//   - The default listen address is :8080.
//
// The relay is an untrusted middleman: it never sees plaintext or private
// keys, only sealed envelopes and public handshake material.
package main
