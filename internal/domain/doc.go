// Package domain defines core data models and interfaces shared across the
// protocol. It contains plain types (keys, wire messages, serialisable key
// material) and collaborator contracts only.
package domain
