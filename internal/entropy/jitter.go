package entropy

import (
	"crypto/sha256"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"

	"drbgd/internal/pool"
	"drbgd/internal/security"
)

const (
	// DefaultJitterRounds is the number of raw timing samples folded into
	// each output byte.
	DefaultJitterRounds = 64

	jitterInfo = "drbgd-jitter-conditioning-v1"

	// jitterChunk keeps each HKDF expansion well below its 255*32 byte limit.
	jitterChunk = 4096

	jitterScratch = 4096
)

// JitterSource harvests CPU execution-time jitter. Raw samples are health
// tested and then conditioned with HKDF-SHA256; output is credited with one
// bit of entropy per byte.
type JitterSource struct {
	counters

	mu      sync.Mutex
	rounds  int
	now     func() int64
	health  *HealthMonitor
	scratch []byte
}

// NewJitterSource creates a jitter source. rounds <= 0 selects
// DefaultJitterRounds.
func NewJitterSource(rounds int) *JitterSource {
	if rounds <= 0 {
		rounds = DefaultJitterRounds
	}
	return &JitterSource{
		rounds:  rounds,
		now:     func() int64 { return time.Now().UnixNano() },
		health:  NewHealthMonitor(),
		scratch: make([]byte, jitterScratch),
	}
}

func (s *JitterSource) Name() string     { return "jitter" }
func (s *JitterSource) Type() SourceType { return SourceJitter }

// Healthy reports whether the raw noise passes the continuous tests.
func (s *JitterSource) Healthy() bool {
	return s.health.Healthy()
}

func (s *JitterSource) GetEntropy(p *pool.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := fill(p, 8, s.read)
	if err != nil {
		s.failure(err)
		return fmt.Errorf("%w: jitter: %w", ErrSourceFailed, err)
	}
	s.success(n)
	return nil
}

func (s *JitterSource) read(buf []byte) (int, error) {
	for off := 0; off < len(buf); off += jitterChunk {
		end := off + jitterChunk
		if end > len(buf) {
			end = len(buf)
		}
		if err := s.condition(buf[off:end]); err != nil {
			return 0, err
		}
	}
	return len(buf), nil
}

func (s *JitterSource) condition(out []byte) error {
	raw := make([]byte, len(out)*s.rounds)
	defer security.Wipe(raw)

	for i := range raw {
		raw[i] = s.sample()
	}
	s.health.Feed(raw)
	if !s.health.Healthy() {
		return ErrHealthTest
	}

	r := hkdf.New(sha256.New, raw, nil, []byte(jitterInfo))
	_, err := io.ReadFull(r, out)
	return err
}

// sample times a data-dependent walk over the scratch buffer.
func (s *JitterSource) sample() byte {
	t1 := s.now()

	idx := int(uint64(t1) % uint64(len(s.scratch)))
	for i := 0; i < 64; i++ {
		s.scratch[idx] ^= byte(i + idx)
		idx = (idx*31 + int(s.scratch[idx]) + 1) % len(s.scratch)
	}

	d := uint64(s.now() - t1)
	return byte(d) ^ byte(d>>8) ^ byte(d>>16)
}

func (s *JitterSource) Stats() Stats {
	return s.stats(SourceJitter, s.Name(), s.health.Status().String())
}
