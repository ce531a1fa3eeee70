package ratchet

import (
	"ecliptix/internal/securemem"
)

// MessageKey pairs one ratchet index with its derived AEAD key. The key
// material lives in guarded memory; the caller that receives a MessageKey
// owns it and must Destroy it after the seal or open.
type MessageKey struct {
	index uint64
	key   *securemem.Handle
}

// newMessageKey moves raw into guarded memory, wiping the source.
func newMessageKey(index uint64, raw []byte) (*MessageKey, error) {
	h, err := securemem.FromBytes(raw)
	if err != nil {
		return nil, err
	}
	return &MessageKey{index: index, key: h}, nil
}

// Index returns the ratchet index this key belongs to.
func (mk *MessageKey) Index() uint64 { return mk.index }

// Key exposes the guarded key handle for sealing or opening.
func (mk *MessageKey) Key() *securemem.Handle { return mk.key }

// Clone returns an independent copy with its own guarded buffer.
func (mk *MessageKey) Clone() (*MessageKey, error) {
	h, err := mk.key.Clone()
	if err != nil {
		return nil, err
	}
	return &MessageKey{index: mk.index, key: h}, nil
}

// Destroy wipes the key material. Safe to call more than once.
func (mk *MessageKey) Destroy() {
	mk.key.Dispose()
}
