package failure

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a protocol failure. The set is closed: every fallible
// operation in the core reports exactly one of these.
type Kind uint8

const (
	// InvalidInput marks arguments or wire fields that violate the caller contract.
	InvalidInput Kind = iota + 1
	// PeerPubKey marks a peer public key that failed validation.
	PeerPubKey
	// Handshake marks a failed key exchange (bad signature or derivation).
	Handshake
	// Decode marks a malformed wire payload.
	Decode
	// StateMissing marks an operation attempted without an established session.
	StateMissing
	// EphemeralMissing marks a handshake step lacking ephemeral key material.
	EphemeralMissing
	// BufferTooSmall marks a destination too short for the data it must hold.
	BufferTooSmall
	// DataTooLarge marks input exceeding a hard protocol bound.
	DataTooLarge
	// KeyGeneration marks a failed key pair generation.
	KeyGeneration
	// KeyDerivation marks a failed KDF expansion.
	KeyDerivation
	// Allocation marks a failed secure memory allocation.
	Allocation
	// ObjectDisposed marks use of a handle after disposal.
	ObjectDisposed
	// Decryption marks any AEAD encrypt/decrypt failure. The kind is
	// deliberately generic: it never says which part of the check failed.
	Decryption
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid input"
	case PeerPubKey:
		return "peer public key invalid"
	case Handshake:
		return "handshake failed"
	case Decode:
		return "decode failed"
	case StateMissing:
		return "state missing"
	case EphemeralMissing:
		return "ephemeral missing"
	case BufferTooSmall:
		return "buffer too small"
	case DataTooLarge:
		return "data too large"
	case KeyGeneration:
		return "key generation failed"
	case KeyDerivation:
		return "key derivation failed"
	case Allocation:
		return "allocation failed"
	case ObjectDisposed:
		return "object disposed"
	case Decryption:
		return "decryption failed"
	default:
		return fmt.Sprintf("unknown kind %d", uint8(k))
	}
}

// HTTPStatus maps the kind to a transport status code. The mapping is
// deterministic so collaborators can translate failures without inspecting
// messages.
func (k Kind) HTTPStatus() int {
	switch k {
	case InvalidInput, Decode, BufferTooSmall, DataTooLarge:
		return http.StatusBadRequest
	case PeerPubKey, Handshake, Decryption:
		return http.StatusForbidden
	case StateMissing, EphemeralMissing, ObjectDisposed:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

// Failure is the one error type the protocol core returns. Matching is done
// on Kind; Msg is for humans and Cause preserves the underlying error chain.
type Failure struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (f *Failure) Error() string {
	switch {
	case f.Msg == "" && f.Cause == nil:
		return f.Kind.String()
	case f.Cause == nil:
		return f.Kind.String() + ": " + f.Msg
	case f.Msg == "":
		return f.Kind.String() + ": " + f.Cause.Error()
	default:
		return f.Kind.String() + ": " + f.Msg + ": " + f.Cause.Error()
	}
}

func (f *Failure) Unwrap() error { return f.Cause }

// New returns a failure of the given kind.
func New(k Kind, msg string) *Failure {
	return &Failure{Kind: k, Msg: msg}
}

// Newf is New with a formatted message.
func Newf(k Kind, format string, args ...any) *Failure {
	return &Failure{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a new failure. A nil cause is allowed.
func Wrap(k Kind, msg string, cause error) *Failure {
	return &Failure{Kind: k, Msg: msg, Cause: cause}
}

// Is reports whether err is, or wraps, a Failure of kind k.
func Is(err error, k Kind) bool {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind == k
	}
	return false
}

// KindOf extracts the kind of err if it is, or wraps, a Failure.
func KindOf(err error) (Kind, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return 0, false
}

// StatusOf returns the transport status for err, falling back to 500 for
// errors outside the taxonomy.
func StatusOf(err error) int {
	if k, ok := KindOf(err); ok {
		return k.HTTPStatus()
	}
	return http.StatusInternalServerError
}
