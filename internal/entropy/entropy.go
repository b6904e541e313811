// Package entropy provides the seed sources that feed DRBG instances.
//
// Every source fills a pool.Pool up to the entropy the pool asks for and
// credits what it delivered at the source's worst-case rate:
//   - OSSource reads the kernel CSPRNG (8 bits per byte)
//   - TPMSource issues TPM2_GetRandom (8 bits per byte)
//   - JitterSource conditions CPU timing jitter (1 bit per byte)
//   - ReaderSource wraps any io.Reader at a caller-declared rate
//
// A Collector chains sources so that a failing or exhausted source is backed
// up by the next one.
package entropy

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"drbgd/internal/pool"
)

// Entropy errors
var (
	ErrSourceFailed = errors.New("entropy: source failed")
	ErrUnavailable  = errors.New("entropy: source not available")
	ErrHealthTest   = errors.New("entropy: source failed health test")
	ErrInsufficient = errors.New("entropy: insufficient entropy collected")
	ErrInvalidRate  = errors.New("entropy: invalid entropy rate")
	ErrNonceLength  = errors.New("entropy: nonce length out of range")
)

// SourceType identifies the kind of entropy source.
type SourceType int

const (
	SourceOS SourceType = iota
	SourceTPM
	SourceJitter
	SourceExternal
)

// String returns a human-readable name for the source type.
func (t SourceType) String() string {
	switch t {
	case SourceOS:
		return "os"
	case SourceTPM:
		return "tpm"
	case SourceJitter:
		return "jitter"
	case SourceExternal:
		return "external"
	default:
		return "unknown"
	}
}

// Source fills a pool with seed material.
type Source interface {
	// Name returns the source name.
	Name() string

	// Type returns the source type.
	Type() SourceType

	// GetEntropy adds bytes to p until p's requested entropy is met or
	// the source cannot deliver more.
	GetEntropy(p *pool.Pool) error

	// Stats returns statistics about the source.
	Stats() Stats
}

// Stats contains statistics about an entropy source.
type Stats struct {
	Type           SourceType `json:"type"`
	Name           string     `json:"name"`
	BytesGenerated uint64     `json:"bytes_generated"`
	Errors         uint64     `json:"errors"`
	LastError      string     `json:"last_error,omitempty"`
	LastSuccess    time.Time  `json:"last_success"`
	HealthStatus   string     `json:"health_status"`
}

// counters is embedded by every source.
type counters struct {
	bytesGenerated atomic.Uint64
	errors         atomic.Uint64

	mu          sync.Mutex
	lastError   string
	lastSuccess time.Time
}

func (c *counters) success(n int) {
	c.bytesGenerated.Add(uint64(n))
	c.mu.Lock()
	c.lastSuccess = time.Now()
	c.mu.Unlock()
}

func (c *counters) failure(err error) {
	c.errors.Add(1)
	c.mu.Lock()
	c.lastError = err.Error()
	c.mu.Unlock()
}

func (c *counters) stats(t SourceType, name, health string) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Type:           t,
		Name:           name,
		BytesGenerated: c.bytesGenerated.Load(),
		Errors:         c.errors.Load(),
		LastError:      c.lastError,
		LastSuccess:    c.lastSuccess,
		HealthStatus:   health,
	}
}

// fill reserves the bytes p still needs at the given entropy factor, lets
// read write into them and commits what was read. The factor is 8 divided
// by the source's entropy per byte.
func fill(p *pool.Pool, factor int, read func([]byte) (int, error)) (int, error) {
	n, err := p.BytesNeeded(factor)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}

	buf, err := p.Reserve(n)
	if err != nil {
		return 0, err
	}
	got, err := read(buf)
	if err != nil {
		_ = p.Commit(0, 0)
		return 0, err
	}
	if err := p.Commit(got, got*8/factor); err != nil {
		return 0, err
	}
	return got, nil
}

// OSSource reads the operating system's random number generator.
type OSSource struct {
	counters
	reader io.Reader
}

// NewOSSource creates a new OS entropy source.
func NewOSSource() *OSSource {
	return &OSSource{reader: rand.Reader}
}

func (s *OSSource) Name() string     { return "os" }
func (s *OSSource) Type() SourceType { return SourceOS }

func (s *OSSource) GetEntropy(p *pool.Pool) error {
	n, err := fill(p, 1, func(buf []byte) (int, error) {
		return io.ReadFull(s.reader, buf)
	})
	if err != nil {
		s.failure(err)
		return fmt.Errorf("%w: os: %w", ErrSourceFailed, err)
	}
	s.success(n)
	return nil
}

func (s *OSSource) Stats() Stats {
	return s.stats(SourceOS, s.Name(), "healthy")
}

// ReaderSource wraps an io.Reader credited with a fixed number of entropy
// bits per byte.
type ReaderSource struct {
	counters
	name   string
	reader io.Reader
	factor int
}

// NewReaderSource creates a source from r. bitsPerByte must be in [1, 8];
// the credit is rounded down to a whole divisor of 8 bits.
func NewReaderSource(name string, r io.Reader, bitsPerByte int) (*ReaderSource, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil reader", ErrUnavailable)
	}
	if bitsPerByte < 1 || bitsPerByte > 8 {
		return nil, fmt.Errorf("%w: %d bits per byte", ErrInvalidRate, bitsPerByte)
	}
	return &ReaderSource{
		name:   name,
		reader: r,
		factor: (8 + bitsPerByte - 1) / bitsPerByte,
	}, nil
}

func (s *ReaderSource) Name() string     { return s.name }
func (s *ReaderSource) Type() SourceType { return SourceExternal }

func (s *ReaderSource) GetEntropy(p *pool.Pool) error {
	n, err := fill(p, s.factor, func(buf []byte) (int, error) {
		return io.ReadFull(s.reader, buf)
	})
	if err != nil {
		s.failure(err)
		return fmt.Errorf("%w: %s: %w", ErrSourceFailed, s.name, err)
	}
	s.success(n)
	return nil
}

func (s *ReaderSource) Stats() Stats {
	return s.stats(SourceExternal, s.name, "external")
}
