package securemem

import (
	"runtime"
	"sync"

	"github.com/awnumar/memguard"

	"ecliptix/internal/failure"
)

// Handle owns a fixed-length secret held in guarded memory. The backing
// buffer is locked against swapping, canary-protected and kept frozen
// (read-only) except while a Write is in progress. All accessors are safe
// for concurrent use; the secret is wiped when Dispose is called.
type Handle struct {
	mu       sync.Mutex
	buf      *memguard.LockedBuffer
	length   int
	disposed bool
}

// Allocate returns a zero-filled handle of the given length.
func Allocate(length int) (*Handle, error) {
	if length <= 0 {
		return nil, failure.Newf(failure.InvalidInput, "secure buffer length %d", length)
	}
	buf := memguard.NewBuffer(length)
	if buf == nil || !buf.IsAlive() {
		return nil, failure.New(failure.Allocation, "locked buffer")
	}
	buf.Freeze()
	return &Handle{buf: buf, length: length}, nil
}

// FromBytes moves src into a new handle. src is wiped before FromBytes
// returns, whether or not allocation succeeds; the caller must not reuse it.
func FromBytes(src []byte) (*Handle, error) {
	if len(src) == 0 {
		return nil, failure.New(failure.InvalidInput, "secure buffer from empty source")
	}
	n := len(src)
	buf := memguard.NewBufferFromBytes(src)
	if buf == nil || !buf.IsAlive() {
		wipe(src)
		return nil, failure.New(failure.Allocation, "locked buffer")
	}
	buf.Freeze()
	return &Handle{buf: buf, length: n}, nil
}

// Length reports the allocated size. It stays valid after disposal so
// callers can log buffer shapes without touching the secret.
func (h *Handle) Length() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.length
}

// Read copies the full secret into dst. dst may be longer than the secret;
// a shorter dst fails without copying anything.
func (h *Handle) Read(dst []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed {
		return failure.New(failure.ObjectDisposed, "secure buffer")
	}
	if len(dst) < h.buf.Size() {
		return failure.Newf(failure.BufferTooSmall, "read needs %d bytes, have %d", h.buf.Size(), len(dst))
	}
	copy(dst, h.buf.Bytes())
	return nil
}

// Write copies src over the front of the secret. src longer than the buffer
// fails without writing; a shorter src leaves the tail untouched.
func (h *Handle) Write(src []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed {
		return failure.New(failure.ObjectDisposed, "secure buffer")
	}
	if len(src) > h.buf.Size() {
		return failure.Newf(failure.DataTooLarge, "write of %d bytes into %d", len(src), h.buf.Size())
	}
	h.buf.Melt()
	defer h.buf.Freeze()
	copy(h.buf.Bytes(), src)
	return nil
}

// With exposes the live secret to fn for the duration of the call. The slice
// must not be retained or mutated; it aliases guarded memory and is only
// valid until fn returns.
func (h *Handle) With(fn func(b []byte) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed {
		return failure.New(failure.ObjectDisposed, "secure buffer")
	}
	return fn(h.buf.Bytes())
}

// Clone returns an independent handle holding a copy of the secret.
func (h *Handle) Clone() (*Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed {
		return nil, failure.New(failure.ObjectDisposed, "secure buffer")
	}
	buf := memguard.NewBuffer(h.buf.Size())
	if buf == nil || !buf.IsAlive() {
		return nil, failure.New(failure.Allocation, "locked buffer")
	}
	copy(buf.Bytes(), h.buf.Bytes())
	buf.Freeze()
	return &Handle{buf: buf, length: h.length}, nil
}

// Dispose wipes and releases the secret. Calling it again is a no-op.
func (h *Handle) Dispose() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed {
		return
	}
	h.disposed = true
	h.buf.Destroy()
}

// Wipe zeroes b in place. Best effort for transient scratch buffers that
// never made it into a handle; the noinline pragma keeps the compiler from
// eliding the writes.
//
//go:noinline
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(&b)
}

func wipe(b []byte) { Wipe(b) }
