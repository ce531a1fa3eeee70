// Package commands defines the ecliptix CLI and wires dependencies for
// subcommands.
//
// Commands
//
//   - init         Create the local identity
//   - fingerprint  Print the identity fingerprint
//   - establish    Run the key exchange with a peer
//   - send         Encrypt and send a message on a channel
//   - recv         Fetch queued envelopes, answer handshakes, print messages
//
// # Implementation
//
// The root command loads the TOML config (flags override it) and builds the
// dependency graph before any subcommand runs. Commands that touch a channel
// unlock the identity with the passphrase first; everything is torn down and
// persisted again after the command returns.
package commands
