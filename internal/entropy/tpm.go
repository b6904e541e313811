package entropy

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"

	"drbgd/internal/pool"
)

// tpmMaxRandom bounds a single TPM2_GetRandom request; TPMs return at most
// the size of their largest digest.
const tpmMaxRandom = 64

// DefaultTPMPaths are tried in order when no path is configured.
var DefaultTPMPaths = []string{
	"/dev/tpmrm0", // resource manager (preferred)
	"/dev/tpm0",
}

// TPMSource draws random bytes from a TPM 2.0 with TPM2_GetRandom.
type TPMSource struct {
	counters

	mu     sync.Mutex
	path   string
	tpm    transport.TPM
	closer io.Closer
}

// NewTPMSource creates a source for the TPM at path. The device is opened
// lazily on first use; an empty path tries DefaultTPMPaths.
func NewTPMSource(path string) *TPMSource {
	return &TPMSource{path: path}
}

// NewTPMSourceFromTransport wraps an already open transport.
func NewTPMSourceFromTransport(t transport.TPM) *TPMSource {
	return &TPMSource{tpm: t}
}

func (s *TPMSource) Name() string     { return "tpm" }
func (s *TPMSource) Type() SourceType { return SourceTPM }

// Open connects to the TPM device if not already connected.
func (s *TPMSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLocked()
}

func (s *TPMSource) openLocked() error {
	if s.tpm != nil {
		return nil
	}

	paths := DefaultTPMPaths
	if s.path != "" {
		paths = []string{s.path}
	}

	var errs []error
	for _, p := range paths {
		t, err := openTPM(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		s.tpm = t
		s.closer = t
		return nil
	}
	return fmt.Errorf("%w: tpm: %w", ErrUnavailable, errors.Join(errs...))
}

// Close releases the TPM connection if this source opened it.
func (s *TPMSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	s.tpm = nil
	return err
}

func (s *TPMSource) GetEntropy(p *pool.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.openLocked(); err != nil {
		s.failure(err)
		return err
	}

	n, err := fill(p, 1, s.read)
	if err != nil {
		s.failure(err)
		return fmt.Errorf("%w: tpm: %w", ErrSourceFailed, err)
	}
	s.success(n)
	return nil
}

func (s *TPMSource) read(buf []byte) (int, error) {
	for off := 0; off < len(buf); {
		want := len(buf) - off
		if want > tpmMaxRandom {
			want = tpmMaxRandom
		}

		rsp, err := tpm2.GetRandom{BytesRequested: uint16(want)}.Execute(s.tpm)
		if err != nil {
			return 0, fmt.Errorf("GetRandom: %w", err)
		}
		if len(rsp.RandomBytes.Buffer) == 0 {
			return 0, errors.New("GetRandom returned no bytes")
		}
		off += copy(buf[off:], rsp.RandomBytes.Buffer)
	}
	return len(buf), nil
}

func (s *TPMSource) Stats() Stats {
	s.mu.Lock()
	health := "unavailable"
	if s.tpm != nil {
		health = "healthy"
	}
	s.mu.Unlock()
	return s.stats(SourceTPM, s.Name(), health)
}
