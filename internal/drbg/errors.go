package drbg

import (
	"errors"

	"drbgd/internal/pool"
)

// DRBG errors
var (
	ErrAllocation          = pool.ErrAllocation
	ErrEntropySource       = errors.New("drbg: entropy source failed")
	ErrNonceSource         = errors.New("drbg: nonce source failed")
	ErrInvalidLength       = errors.New("drbg: input length out of range")
	ErrInstantiate         = errors.New("drbg: instantiate failed")
	ErrReseed              = errors.New("drbg: reseed failed")
	ErrGenerate            = errors.New("drbg: generate failed")
	ErrRequestTooLarge     = errors.New("drbg: request too large")
	ErrNotReady            = errors.New("drbg: not in ready state")
	ErrReseedRequired      = errors.New("drbg: mandatory reseed failed")
	ErrAlreadyInstantiated = errors.New("drbg: already instantiated")
	ErrParentTooWeak       = errors.New("drbg: parent strength too weak")
	ErrParentLocking       = errors.New("drbg: parent locking not enabled")
	ErrInvalidInterval     = errors.New("drbg: reseed interval out of range")
)

// Error describes a failed operation on a named instance. Kind is one of the
// sentinel errors above; Err carries the underlying cause.
type Error struct {
	Op       string
	Instance string
	Kind     error
	Err      error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Err != nil {
		if errors.Is(e.Err, e.Kind) {
			msg = e.Err.Error()
		} else {
			msg += ": " + e.Err.Error()
		}
	}
	return e.Op + " " + e.Instance + ": " + msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
