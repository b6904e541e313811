package entropy

import (
	"errors"
	"fmt"
	"sync"

	"drbgd/internal/pool"
)

// Collector fills a pool from an ordered list of sources. Each source is
// asked in turn until the pool's requested entropy and minimum length are
// reached; a failing source is skipped.
type Collector struct {
	mu      sync.RWMutex
	sources []Source
}

// NewCollector creates a collector over sources.
func NewCollector(sources ...Source) *Collector {
	return &Collector{sources: append([]Source(nil), sources...)}
}

// Add appends a source.
func (c *Collector) Add(s Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources = append(c.sources, s)
}

// Sources returns the configured sources in order.
func (c *Collector) Sources() []Source {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Source(nil), c.sources...)
}

// GetEntropy fills p. It fails with ErrInsufficient if the sources together
// could not satisfy the pool.
func (c *Collector) GetEntropy(p *pool.Pool) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs []error
	for _, s := range c.sources {
		if p.EntropyAvailable() > 0 {
			break
		}
		if err := s.GetEntropy(p); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}

	if p.EntropyAvailable() == 0 {
		if len(errs) == 0 {
			return fmt.Errorf("%w: %d of %d bits", ErrInsufficient, p.Entropy(), p.EntropyRequested())
		}
		return fmt.Errorf("%w: %w", ErrInsufficient, errors.Join(errs...))
	}
	return nil
}

// Stats reports every source.
func (c *Collector) Stats() []Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Stats, 0, len(c.sources))
	for _, s := range c.sources {
		out = append(out, s.Stats())
	}
	return out
}

// Close closes every source that holds a device.
func (c *Collector) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs []error
	for _, s := range c.sources {
		if cl, ok := s.(interface{ Close() error }); ok {
			if err := cl.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// NewSource builds a source by configured name: "os", "jitter", "tpm".
func NewSource(name, tpmPath string, jitterRounds int) (Source, error) {
	switch name {
	case "os":
		return NewOSSource(), nil
	case "jitter":
		return NewJitterSource(jitterRounds), nil
	case "tpm":
		return NewTPMSource(tpmPath), nil
	default:
		return nil, fmt.Errorf("%w: unknown source %q", ErrUnavailable, name)
	}
}
