// Package pool implements the transient entropy buffer that collects seed
// material while a DRBG is instantiated or reseeded.
//
// A Pool is a dumb container: it knows how many bytes it holds and how many
// bits of entropy those bytes are credited with, nothing more. Its lifetime is
// one call chain (create, fill from the entropy sources, extract, free), so it
// carries no lock.
package pool

import (
	"errors"
	"fmt"
	"math"

	"drbgd/internal/security"
)

const (
	// MaxLength is the hard ceiling for any DRBG input, in bytes.
	// SP 800-90Ar1 allows 2^35 bits; we stop at 2^31-1 bytes.
	MaxLength = math.MaxInt32

	// Factor sizes the pool so that it can hold input with an entropy
	// rate as low as 8/256 bits per byte before it is compressed by a
	// derivation function.
	Factor = 256

	// MaxPoolLength bounds the allocation: Factor * 1.5 * (256/8).
	MaxPoolLength = Factor * 3 * (256 / 16)

	// MinAllocation is the smallest buffer a pool starts with.
	MinAllocation = 16
)

// Pool errors
var (
	ErrAllocation   = errors.New("pool: allocation failed")
	ErrCapacity     = errors.New("pool: entropy input too long")
	ErrEntropyRange = errors.New("pool: entropy out of range")
	ErrNoReserve    = errors.New("pool: commit without matching reserve")
	ErrExtracted    = errors.New("pool: buffer already extracted")
)

// Pool accumulates random bytes together with an entropy estimate.
type Pool struct {
	buf      []byte // len(buf) is the fill level, cap(buf) the allocation
	attached bool

	minLen int
	maxLen int

	entropy          int // bits
	entropyRequested int // bits

	reserved int
}

// New creates an empty pool that wants entropyRequested bits in at least
// minLen and at most maxLen bytes. maxLen is clamped to MaxPoolLength.
func New(entropyRequested, minLen, maxLen int) (*Pool, error) {
	if minLen < 0 || maxLen < 0 || entropyRequested < 0 {
		return nil, fmt.Errorf("%w: negative length", ErrAllocation)
	}
	if maxLen > MaxLength {
		return nil, fmt.Errorf("%w: max length %d exceeds %d", ErrAllocation, maxLen, MaxLength)
	}
	if maxLen > MaxPoolLength {
		maxLen = MaxPoolLength
	}
	if minLen > maxLen {
		return nil, fmt.Errorf("%w: min length %d exceeds max length %d", ErrAllocation, minLen, maxLen)
	}

	alloc := minLen
	if alloc < MinAllocation {
		alloc = MinAllocation
	}
	if alloc > maxLen {
		alloc = maxLen
	}

	return &Pool{
		buf:              make([]byte, 0, alloc),
		minLen:           minLen,
		maxLen:           maxLen,
		entropyRequested: entropyRequested,
	}, nil
}

// Attach wraps a caller-owned buffer that is credited with entropy bits.
// The pool never grows, frees or wipes an attached buffer.
func Attach(buf []byte, entropy int) (*Pool, error) {
	if entropy < 0 || entropy > 8*len(buf) {
		return nil, fmt.Errorf("%w: %d bits in %d bytes", ErrEntropyRange, entropy, len(buf))
	}
	if len(buf) > MaxLength {
		return nil, fmt.Errorf("%w: buffer of %d bytes", ErrAllocation, len(buf))
	}
	return &Pool{
		buf:      buf[:len(buf):len(buf)],
		attached: true,
		minLen:   0,
		maxLen:   len(buf),
		entropy:  entropy,
	}, nil
}

// Attached reports whether the pool wraps caller memory.
func (p *Pool) Attached() bool { return p.attached }

// Len returns the number of bytes in the pool.
func (p *Pool) Len() int { return len(p.buf) }

// MinLen returns the minimum number of bytes requested.
func (p *Pool) MinLen() int { return p.minLen }

// MaxLen returns the maximum number of bytes the pool may hold.
func (p *Pool) MaxLen() int { return p.maxLen }

// Bytes returns the pool contents without copying.
func (p *Pool) Bytes() []byte { return p.buf }

// Entropy returns the entropy credited to the pool, in bits.
func (p *Pool) Entropy() int { return p.entropy }

// EntropyRequested returns the entropy the pool was asked to gather.
func (p *Pool) EntropyRequested() int { return p.entropyRequested }

// SetEntropyRequested changes the entropy target, used when an attached
// pool is handed to a consumer with its own requirement.
func (p *Pool) SetEntropyRequested(bits int) {
	if bits < 0 {
		bits = 0
	}
	p.entropyRequested = bits
}

// EntropyAvailable returns the credited entropy once both the requested
// entropy and the minimum length are reached, and 0 before that.
func (p *Pool) EntropyAvailable() int {
	if p.entropy < p.entropyRequested {
		return 0
	}
	if len(p.buf) < p.minLen {
		return 0
	}
	return p.entropy
}

// EntropyNeeded returns how many more bits are required.
func (p *Pool) EntropyNeeded() int {
	if p.entropyRequested > p.entropy {
		return p.entropyRequested - p.entropy
	}
	return 0
}

// BytesRemaining returns the free capacity.
func (p *Pool) BytesRemaining() int {
	return p.maxLen - len(p.buf)
}

// BytesNeeded returns how many bytes a source with the given entropy factor
// must deliver to satisfy the pool. The factor is 8 divided by the source's
// worst-case entropy per byte: 1 for a full-entropy source, 8 for a source
// credited one bit per byte.
func (p *Pool) BytesNeeded(entropyFactor int) (int, error) {
	if entropyFactor < 1 {
		return 0, fmt.Errorf("%w: entropy factor %d", ErrEntropyRange, entropyFactor)
	}

	needed := p.EntropyNeeded()
	if needed > (math.MaxInt-7)/entropyFactor {
		return 0, fmt.Errorf("%w: %d bits at factor %d", ErrCapacity, needed, entropyFactor)
	}
	n := (needed*entropyFactor + 7) / 8

	if n > p.BytesRemaining() {
		return 0, fmt.Errorf("%w: need %d bytes, %d remaining", ErrCapacity, n, p.BytesRemaining())
	}

	if len(p.buf) < p.minLen && n < p.minLen-len(p.buf) {
		n = p.minLen - len(p.buf)
	}

	if err := p.ensureCapacity(n); err != nil {
		return 0, err
	}
	return n, nil
}

// Add appends b and credits it with entropy bits. The credited total never
// exceeds eight bits per byte held.
func (p *Pool) Add(b []byte, entropy int) error {
	if entropy < 0 {
		return fmt.Errorf("%w: negative entropy", ErrEntropyRange)
	}
	if p.buf == nil && p.maxLen > 0 {
		return ErrExtracted
	}
	if len(b) > p.BytesRemaining() {
		return fmt.Errorf("%w: %d bytes, %d remaining", ErrCapacity, len(b), p.BytesRemaining())
	}
	if len(b) == 0 {
		return nil
	}
	if err := p.ensureCapacity(len(b)); err != nil {
		return err
	}

	p.buf = append(p.buf, b...)
	p.credit(entropy)
	return nil
}

// Reserve returns a slice of n writable bytes at the end of the pool for a
// source to fill in place. It must be followed by Commit.
func (p *Pool) Reserve(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative length", ErrCapacity)
	}
	if p.buf == nil && p.maxLen > 0 {
		return nil, ErrExtracted
	}
	if n > p.BytesRemaining() {
		return nil, fmt.Errorf("%w: %d bytes, %d remaining", ErrCapacity, n, p.BytesRemaining())
	}
	if err := p.ensureCapacity(n); err != nil {
		return nil, err
	}
	p.reserved = n
	return p.buf[len(p.buf) : len(p.buf)+n], nil
}

// Commit accepts the first n bytes of the last reservation with the given
// entropy credit. Committing 0 bytes abandons the reservation.
func (p *Pool) Commit(n, entropy int) error {
	if n < 0 || n > p.reserved {
		reserved := p.reserved
		p.reserved = 0
		return fmt.Errorf("%w: %d of %d bytes", ErrNoReserve, n, reserved)
	}
	if entropy < 0 {
		p.reserved = 0
		return fmt.Errorf("%w: negative entropy", ErrEntropyRange)
	}
	tail := p.buf[len(p.buf)+n : len(p.buf)+p.reserved]
	security.Wipe(tail)

	p.buf = p.buf[:len(p.buf)+n]
	p.reserved = 0
	if n > 0 {
		p.credit(entropy)
	}
	return nil
}

// Extract hands the buffer and its entropy credit to the caller without
// copying. The pool is empty afterwards; for an owned pool the caller
// becomes responsible for wiping the bytes.
func (p *Pool) Extract() ([]byte, int) {
	b, e := p.buf, p.entropy
	p.buf = nil
	p.entropy = 0
	p.reserved = 0
	return b, e
}

// Free wipes an owned buffer. Attached memory is left alone.
func (p *Pool) Free() {
	if p == nil {
		return
	}
	if !p.attached && p.buf != nil {
		security.Wipe(p.buf[:cap(p.buf)])
	}
	p.buf = nil
	p.entropy = 0
	p.reserved = 0
}

func (p *Pool) credit(entropy int) {
	limit := 8 * len(p.buf)
	if entropy > limit-p.entropy {
		p.entropy = limit
		return
	}
	p.entropy += entropy
}

// ensureCapacity grows the allocation so that n more bytes fit. Growth
// copies into a fresh slice and wipes the old one.
func (p *Pool) ensureCapacity(n int) error {
	need := len(p.buf) + n
	if need <= cap(p.buf) {
		return nil
	}
	if p.attached || need > p.maxLen {
		return fmt.Errorf("%w: cannot grow to %d bytes", ErrCapacity, need)
	}

	newCap := 2 * cap(p.buf)
	if newCap < need {
		newCap = need
	}
	if newCap < MinAllocation {
		newCap = MinAllocation
	}
	if newCap > p.maxLen {
		newCap = p.maxLen
	}

	grown := make([]byte, len(p.buf), newCap)
	copy(grown, p.buf)
	security.Wipe(p.buf[:cap(p.buf)])
	p.buf = grown
	return nil
}
