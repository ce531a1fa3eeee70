// Package securemem wraps memguard locked buffers behind a small handle
// type with explicit lifetime. Secrets live in page-locked, canary-guarded
// memory, frozen read-only at rest, and are wiped on Dispose. Every
// accessor reports ObjectDisposed once the handle has been released.
package securemem
