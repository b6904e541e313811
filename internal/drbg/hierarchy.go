package drbg

import (
	"fmt"
	"sync"
	"time"

	"drbgd/internal/mechanism"
	"drbgd/internal/trace"
)

// HierarchyConfig configures NewHierarchy. Zero intervals disable the
// corresponding trigger; DefaultHierarchyConfig fills in the process-wide
// defaults.
type HierarchyConfig struct {
	Type            mechanism.Type
	Flags           mechanism.Flags
	Personalization []byte

	MasterReseedInterval     uint32
	ChildReseedInterval      uint32
	MasterReseedTimeInterval time.Duration
	ChildReseedTimeInterval  time.Duration

	// Entropy and Nonce feed the master. Nil selects the operating
	// system's entropy and the default nonce.
	Entropy EntropySource
	Nonce   NonceSource

	Trace    trace.Sink
	Observer Observer
}

// DefaultHierarchyConfig returns the configuration Default uses.
func DefaultHierarchyConfig() HierarchyConfig {
	master, child, masterTime, childTime := ReseedDefaults()
	return HierarchyConfig{
		Type:                     mechanism.DefaultType,
		Personalization:          []byte(DefaultPersonalization),
		MasterReseedInterval:     master,
		ChildReseedInterval:      child,
		MasterReseedTimeInterval: masterTime,
		ChildReseedTimeInterval:  childTime,
	}
}

// Hierarchy is a master instance with a public and a private child, all
// locked. The master is seeded from the entropy source; the children are
// seeded from the master.
type Hierarchy struct {
	master  *DRBG
	public  *DRBG
	private *DRBG
}

// NewHierarchy creates and instantiates the three instances.
func NewHierarchy(cfg HierarchyConfig) (*Hierarchy, error) {
	if cfg.Type == "" {
		cfg.Type = mechanism.DefaultType
	}

	common := []Option{WithLocking(), WithTrace(cfg.Trace), WithObserver(cfg.Observer)}
	masterOpts := append([]Option{
		WithName("master"),
		WithReseedInterval(cfg.MasterReseedInterval),
		WithReseedTimeInterval(cfg.MasterReseedTimeInterval),
	}, common...)
	if cfg.Entropy != nil {
		masterOpts = append(masterOpts, WithEntropySource(cfg.Entropy))
	}
	if cfg.Nonce != nil {
		masterOpts = append(masterOpts, WithNonceSource(cfg.Nonce))
	}

	master, err := New(cfg.Type, cfg.Flags, nil, masterOpts...)
	if err != nil {
		return nil, fmt.Errorf("master: %w", err)
	}
	h := &Hierarchy{master: master}

	for _, c := range []struct {
		name string
		dst  **DRBG
	}{{"public", &h.public}, {"private", &h.private}} {
		child, err := New(cfg.Type, cfg.Flags, master, append([]Option{
			WithName(c.name),
			WithReseedInterval(cfg.ChildReseedInterval),
			WithReseedTimeInterval(cfg.ChildReseedTimeInterval),
		}, common...)...)
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("%s: %w", c.name, err)
		}
		*c.dst = child
	}

	for _, d := range []*DRBG{h.master, h.public, h.private} {
		if err := d.Instantiate(cfg.Personalization); err != nil {
			h.Close()
			return nil, err
		}
	}
	return h, nil
}

var (
	defaultOnce      sync.Once
	defaultHierarchy *Hierarchy
	defaultErr       error
)

// Default returns the process-wide hierarchy, creating it on first use
// with DefaultHierarchyConfig.
func Default() (*Hierarchy, error) {
	defaultOnce.Do(func() {
		defaultHierarchy, defaultErr = NewHierarchy(DefaultHierarchyConfig())
	})
	return defaultHierarchy, defaultErr
}

// Master returns the root instance.
func (h *Hierarchy) Master() *DRBG { return h.master }

// Public returns the instance for values that may become public.
func (h *Hierarchy) Public() *DRBG { return h.public }

// Private returns the instance for secret values.
func (h *Hierarchy) Private() *DRBG { return h.private }

// Add feeds application entropy to the master. Both children reseed from
// the master on their next request.
func (h *Hierarchy) Add(buf []byte, entropyBits int) error {
	return h.master.Add(buf, entropyBits)
}

// Seed feeds full-entropy application data to the master.
func (h *Hierarchy) Seed(buf []byte) error {
	return h.master.Seed(buf)
}

// Bytes fills out from the public instance.
func (h *Hierarchy) Bytes(out []byte) error {
	return h.public.Bytes(out)
}

// PrivBytes fills out from the private instance.
func (h *Hierarchy) PrivBytes(out []byte) error {
	return h.private.Bytes(out)
}

// Status reports master, public and private, in that order.
func (h *Hierarchy) Status() []Status {
	out := make([]Status, 0, 3)
	for _, d := range []*DRBG{h.master, h.public, h.private} {
		if d != nil {
			out = append(out, d.Stats())
		}
	}
	return out
}

// Close frees the children and then the master. It implements io.Closer.
func (h *Hierarchy) Close() error {
	for _, d := range []*DRBG{h.private, h.public, h.master} {
		if d != nil {
			d.Free()
		}
	}
	return nil
}
