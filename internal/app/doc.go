// Package app loads the endpoint configuration and wires application
// dependencies for the CLIs.
//
// It builds the concrete stores, relay client and channel service from
// Config, exposing them via the Wire struct for commands to use.
package app
