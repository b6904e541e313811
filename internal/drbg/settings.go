package drbg

import (
	"fmt"
	"sync"
	"time"

	"drbgd/internal/trace"
)

const (
	// MaxReseedInterval bounds the request-count reseed interval.
	MaxReseedInterval = 1 << 24

	// MaxReseedTimeInterval bounds the time-based reseed interval.
	MaxReseedTimeInterval = (1 << 20) * time.Second

	// DefaultPersonalization is used when an instance is instantiated on
	// behalf of Add or a Hierarchy without a configured string.
	DefaultPersonalization = "drbgd DRBG"
)

// Reseed defaults for instances without a parent (master) and with one
// (child). Zero disables a trigger.
var reseedDefaults = struct {
	mu         sync.Mutex
	master     uint32
	child      uint32
	masterTime time.Duration
	childTime  time.Duration
}{
	master:     1 << 8,
	child:      1 << 16,
	masterTime: time.Hour,
	childTime:  7 * time.Minute,
}

// SetReseedDefaults changes the intervals given to instances created
// afterwards. Existing instances keep theirs.
func SetReseedDefaults(master, child uint32, masterTime, childTime time.Duration) error {
	for _, n := range []uint32{master, child} {
		if err := checkInterval(n); err != nil {
			return err
		}
	}
	for _, d := range []time.Duration{masterTime, childTime} {
		if err := checkTimeInterval(d); err != nil {
			return err
		}
	}

	reseedDefaults.mu.Lock()
	defer reseedDefaults.mu.Unlock()
	reseedDefaults.master = master
	reseedDefaults.child = child
	reseedDefaults.masterTime = masterTime
	reseedDefaults.childTime = childTime
	return nil
}

// ReseedDefaults returns the current process-wide defaults.
func ReseedDefaults() (master, child uint32, masterTime, childTime time.Duration) {
	reseedDefaults.mu.Lock()
	defer reseedDefaults.mu.Unlock()
	return reseedDefaults.master, reseedDefaults.child, reseedDefaults.masterTime, reseedDefaults.childTime
}

func checkInterval(n uint32) error {
	if n > MaxReseedInterval {
		return fmt.Errorf("%w: %d requests, limit %d", ErrInvalidInterval, n, MaxReseedInterval)
	}
	return nil
}

func checkTimeInterval(d time.Duration) error {
	if d < 0 || d > MaxReseedTimeInterval {
		return fmt.Errorf("%w: %s, limit %s", ErrInvalidInterval, d, MaxReseedTimeInterval)
	}
	return nil
}

// Option configures an instance in New.
type Option func(*DRBG)

// WithEntropySource replaces the default entropy source. For a child,
// a nil source means drawing from the parent.
func WithEntropySource(s EntropySource) Option {
	return func(d *DRBG) { d.entropySrc = s }
}

// WithNonceSource replaces the default nonce source. A nil source makes
// the instance request extra entropy in place of a nonce.
func WithNonceSource(s NonceSource) Option {
	return func(d *DRBG) { d.nonceSrc = s }
}

// WithReseedInterval sets the number of generate requests between
// reseeds; 0 disables the trigger.
func WithReseedInterval(n uint32) Option {
	return func(d *DRBG) { d.reseedInterval = n }
}

// WithReseedTimeInterval sets the time between reseeds; 0 disables the
// trigger.
func WithReseedTimeInterval(t time.Duration) Option {
	return func(d *DRBG) { d.reseedTimeInterval = t }
}

// WithLocking makes the instance safe for concurrent use.
func WithLocking() Option {
	return func(d *DRBG) { d.wantLock = true }
}

// WithTrace sets the trace sink.
func WithTrace(s trace.Sink) Option {
	return func(d *DRBG) { d.trace = s }
}

// WithObserver sets the event observer.
func WithObserver(o Observer) Option {
	return func(d *DRBG) { d.observer = o }
}

// WithClock replaces time.Now for the time-based reseed trigger.
func WithClock(now func() time.Time) Option {
	return func(d *DRBG) { d.clock = now }
}

// WithName names the instance in errors, traces and events.
func WithName(name string) Option {
	return func(d *DRBG) { d.name = name }
}

// SetReseedInterval changes the request-count reseed interval.
func (d *DRBG) SetReseedInterval(n uint32) error {
	if err := checkInterval(n); err != nil {
		return err
	}
	d.lock()
	defer d.unlock()
	d.reseedInterval = n
	return nil
}

// SetReseedTimeInterval changes the time-based reseed interval.
func (d *DRBG) SetReseedTimeInterval(t time.Duration) error {
	if err := checkTimeInterval(t); err != nil {
		return err
	}
	d.lock()
	defer d.unlock()
	d.reseedTimeInterval = t
	return nil
}

// SetCallbacks replaces the entropy and nonce sources of an uninstantiated
// instance. Nil values have the meaning described at WithEntropySource and
// WithNonceSource.
func (d *DRBG) SetCallbacks(e EntropySource, n NonceSource) error {
	d.lock()
	defer d.unlock()
	if d.state != StateUninitialised {
		return d.newError("set callbacks", ErrAlreadyInstantiated, nil)
	}
	d.entropySrc = e
	d.nonceSrc = n
	return nil
}

// EnableLocking installs the instance lock. It must be called before the
// instance is instantiated, and a child can only be locked when its parent
// is.
func (d *DRBG) EnableLocking() error {
	if d.mu != nil {
		return nil
	}
	if d.state != StateUninitialised {
		return d.newError("enable locking", ErrAlreadyInstantiated, nil)
	}
	if d.parent != nil && d.parent.mu == nil {
		return d.newError("enable locking", ErrParentLocking, nil)
	}
	d.mu = new(sync.RWMutex)
	return nil
}

// SetExData stores an application value under key.
func (d *DRBG) SetExData(key, value any) {
	d.lock()
	defer d.unlock()
	if d.exData == nil {
		d.exData = make(map[any]any)
	}
	d.exData[key] = value
}

// ExData returns the value stored under key, or nil.
func (d *DRBG) ExData(key any) any {
	d.rlock()
	defer d.runlock()
	return d.exData[key]
}
