// Package drbg implements the DRBG instance of NIST SP 800-90A: the state
// machine around a mechanism.Mechanism that gathers seed material, enforces
// the standard's length bounds and reseeds when the request counter, the
// reseed timer, the process fork generation or the parent's propagation
// counter demands it.
//
// Instances form a tree. A root draws entropy from an EntropySource; a child
// draws it from its parent's output and reseeds whenever the parent has been
// reseeded since, so entropy added to the root reaches every descendant on
// its next request.
//
// An instance is not safe for concurrent use unless locking is enabled.
package drbg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"drbgd/internal/entropy"
	"drbgd/internal/mechanism"
	"drbgd/internal/pool"
	"drbgd/internal/security"
	"drbgd/internal/trace"
)

// State is the lifecycle state of an instance.
type State int

const (
	StateUninitialised State = iota
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateUninitialised:
		return "uninitialised"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

var (
	errNoEntropySource = errors.New("no entropy source configured")
	errFreed           = errors.New("instance freed")
	errShortEntropy    = errors.New("insufficient entropy")
)

var nextID atomic.Uint64

// DRBG is one generator instance.
type DRBG struct {
	mu       *sync.RWMutex
	wantLock bool

	id     uint64
	name   string
	typ    mechanism.Type
	flags  mechanism.Flags
	mech   mechanism.Mechanism
	params mechanism.Params
	parent *DRBG

	state      State
	strength   int
	maxRequest int

	genCounter         uint64
	reseedInterval     uint32
	reseedTime         time.Time
	reseedTimeInterval time.Duration
	forkGen            uint32

	// propCounter advances on every successful seeding and is read by
	// children without this instance's lock.
	propCounter atomic.Uint32
	parentSeen  uint32
	pendingSeen uint32

	entropySrc EntropySource
	nonceSrc   NonceSource
	seedPool   *pool.Pool

	clock    func() time.Time
	trace    trace.Sink
	observer Observer
	exData   map[any]any
}

// New creates an uninstantiated instance of type t. A nil parent makes a
// root that reads the operating system's entropy; otherwise the instance
// draws its seed from parent, which must be at least as strong.
func New(t mechanism.Type, flags mechanism.Flags, parent *DRBG, opts ...Option) (*DRBG, error) {
	mech, err := mechanism.Lookup(t, flags)
	if err != nil {
		return nil, fmt.Errorf("drbg: %w", err)
	}
	params := mech.Params()
	if parent != nil && params.Strength > parent.Strength() {
		return nil, fmt.Errorf("%w: %d bits requested, parent has %d",
			ErrParentTooWeak, params.Strength, parent.Strength())
	}

	master, child, masterTime, childTime := ReseedDefaults()
	d := &DRBG{
		id:         nextID.Add(1),
		typ:        t,
		flags:      flags,
		mech:       mech,
		params:     params,
		parent:     parent,
		strength:   params.Strength,
		maxRequest: params.MaxRequest,
		clock:      time.Now,
		trace:      trace.Nop{},
	}
	d.name = fmt.Sprintf("drbg-%d", d.id)
	if parent == nil {
		d.reseedInterval, d.reseedTimeInterval = master, masterTime
		d.entropySrc = entropy.NewOSSource()
		d.nonceSrc = entropy.DefaultNonce{}
	} else {
		d.reseedInterval, d.reseedTimeInterval = child, childTime
		d.nonceSrc = NonceFunc(d.parentNonce)
	}

	for _, opt := range opts {
		opt(d)
	}
	if d.clock == nil {
		d.clock = time.Now
	}
	if d.trace == nil {
		d.trace = trace.Nop{}
	}
	if err := checkInterval(d.reseedInterval); err != nil {
		return nil, err
	}
	if err := checkTimeInterval(d.reseedTimeInterval); err != nil {
		return nil, err
	}
	if d.wantLock {
		if err := d.EnableLocking(); err != nil {
			return nil, err
		}
	}

	trace.Emitf(d.trace, trace.Init, "%s: created %s (%s, %d bits)", d.name, t, params.Kind, params.Strength)
	return d, nil
}

// Instantiate seeds the instance with fresh entropy, a nonce and the
// optional personalization string.
func (d *DRBG) Instantiate(pers []byte) error {
	d.lock()
	defer d.unlock()
	return d.instantiate(pers)
}

// Reseed mixes fresh entropy and optional additional input into a ready
// instance. A failing entropy source leaves the instance unchanged.
func (d *DRBG) Reseed(adin []byte) error {
	d.lock()
	defer d.unlock()

	const op = "reseed"
	if d.state != StateReady {
		return d.newError(op, ErrNotReady, nil)
	}
	if len(adin) > d.params.MaxAdinLen {
		return d.newError(op, ErrInvalidLength, lengthError("additional input", len(adin), d.params.MaxAdinLen))
	}
	if err := d.reseed(adin, ReasonExplicit); err != nil {
		kind := ErrReseed
		if errors.Is(err, ErrEntropySource) {
			kind = ErrEntropySource
		}
		return d.fail(op, kind, err)
	}
	return nil
}

// Generate fills out with len(out) <= MaxRequest bytes, reseeding first
// when one of the reseed triggers fires.
func (d *DRBG) Generate(out, adin []byte) error {
	d.lock()
	defer d.unlock()
	return d.generate(out, adin)
}

// Uninstantiate zeroizes the working state. The instance can be
// instantiated again afterwards.
func (d *DRBG) Uninstantiate() {
	d.lock()
	defer d.unlock()
	d.uninstantiate()
}

// Free uninstantiates the instance and drops its references. A freed
// instance cannot be instantiated again.
func (d *DRBG) Free() {
	d.lock()
	defer d.unlock()
	d.uninstantiate()
	d.exData = nil
	d.parent = nil
	d.mech = nil
}

func (d *DRBG) instantiate(pers []byte) error {
	const op = "instantiate"
	switch {
	case d.mech == nil:
		return d.newError(op, ErrNotReady, errFreed)
	case d.state == StateReady:
		return d.newError(op, ErrAlreadyInstantiated, nil)
	case d.state == StateError:
		return d.newError(op, ErrNotReady, nil)
	}
	if len(pers) > d.params.MaxPersLen {
		return d.fail(op, ErrInstantiate,
			fmt.Errorf("%w: %w", ErrInvalidLength, lengthError("personalization string", len(pers), d.params.MaxPersLen)))
	}

	bits, minLen, maxLen := d.strength, d.params.MinEntropyLen, d.params.MaxEntropyLen
	extended := d.nonceSrc == nil && d.params.MinNonceLen > 0
	if extended {
		bits += d.strength / 2
		minLen += d.params.MinNonceLen
	}

	p, err := d.gatherEntropy(bits, minLen, maxLen)
	if err != nil {
		return d.fail(op, ErrInstantiate, err)
	}
	defer d.release(p)

	var nonce []byte
	if !extended && d.params.MaxNonceLen > 0 && d.nonceSrc != nil {
		nonce, err = d.nonceSrc.GetNonce(d.params.MinNonceLen, d.params.MaxNonceLen)
		if err == nil && (len(nonce) < d.params.MinNonceLen || len(nonce) > d.params.MaxNonceLen) {
			err = fmt.Errorf("nonce of %d bytes not in [%d, %d]", len(nonce), d.params.MinNonceLen, d.params.MaxNonceLen)
		}
		if err != nil {
			security.Wipe(nonce)
			return d.fail(op, ErrInstantiate, fmt.Errorf("%w: %w", ErrNonceSource, err))
		}
		defer security.Wipe(nonce)
	}

	if err := d.mech.Instantiate(p.Bytes(), nonce, pers); err != nil {
		d.mech.Uninstantiate()
		return d.fail(op, ErrInstantiate, err)
	}

	d.state = StateReady
	d.seeded()
	trace.Emitf(d.trace, trace.DRBG, "%s: instantiated", d.name)
	d.notify(Event{Kind: EventInstantiate})
	return nil
}

// reseed leaves the state alone when no entropy could be gathered and moves
// to StateError when the mechanism fails.
func (d *DRBG) reseed(adin []byte, reason ReseedReason) error {
	p, err := d.gatherEntropy(d.strength, d.params.MinEntropyLen, d.params.MaxEntropyLen)
	if err != nil {
		return err
	}
	defer d.release(p)

	if err := d.mech.Reseed(p.Bytes(), adin); err != nil {
		d.state = StateError
		return fmt.Errorf("%w: %w", ErrReseed, err)
	}

	d.seeded()
	trace.Emitf(d.trace, trace.DRBG, "%s: reseeded (%s)", d.name, reason)
	d.notify(Event{Kind: EventReseed, Reason: reason})
	return nil
}

func (d *DRBG) generate(out, adin []byte) error {
	const op = "generate"
	if d.state != StateReady {
		return d.newError(op, ErrNotReady, nil)
	}
	if len(out) > d.maxRequest {
		return d.newError(op, ErrRequestTooLarge, lengthError("request", len(out), d.maxRequest))
	}
	if len(adin) > d.params.MaxAdinLen {
		return d.newError(op, ErrInvalidLength, lengthError("additional input", len(adin), d.params.MaxAdinLen))
	}

	if reason, due := d.reseedDue(); due {
		if err := d.reseed(adin, reason); err != nil {
			d.state = StateError
			return d.fail(op, ErrReseedRequired, err)
		}
		adin = nil
	}

	if err := d.mech.Generate(out, adin); err != nil {
		d.state = StateError
		return d.fail(op, ErrGenerate, err)
	}
	d.genCounter++
	d.notify(Event{Kind: EventGenerate, Bytes: len(out)})
	return nil
}

func (d *DRBG) reseedDue() (ReseedReason, bool) {
	if d.forkGen != ForkGeneration() {
		return ReasonFork, true
	}
	if d.reseedInterval > 0 && d.genCounter > uint64(d.reseedInterval) {
		return ReasonCounter, true
	}
	if d.reseedTimeInterval > 0 {
		now := d.clock()
		if now.Before(d.reseedTime) || now.Sub(d.reseedTime) > d.reseedTimeInterval {
			return ReasonTime, true
		}
	}
	if d.parent != nil && d.parent.propCounter.Load() != d.parentSeen {
		return ReasonPropagation, true
	}
	return 0, false
}

// seeded resets the reseed bookkeeping after a successful (re)seed.
func (d *DRBG) seeded() {
	d.genCounter = 1
	d.reseedTime = d.clock()
	d.forkGen = ForkGeneration()
	if d.propCounter.Add(1) == 0 {
		d.propCounter.Add(1)
	}

	// A child only catches up with its parent when the seed material came
	// from the parent. Seeding from an attached pool leaves parentSeen
	// alone so the next Generate still pulls what the parent received.
	if d.parent != nil {
		switch {
		case d.pendingSeen != 0:
			d.parentSeen = d.pendingSeen
		case d.entropySrc != nil:
			d.parentSeen = d.parent.propCounter.Load()
		}
	}
	d.pendingSeen = 0
}

func (d *DRBG) uninstantiate() {
	if d.mech != nil {
		d.mech.Uninstantiate()
	}
	wasReady := d.state != StateUninitialised
	d.state = StateUninitialised
	d.genCounter = 0
	d.reseedTime = time.Time{}
	d.forkGen = 0
	d.parentSeen = 0
	d.pendingSeen = 0
	if wasReady {
		trace.Emitf(d.trace, trace.DRBG, "%s: uninstantiated", d.name)
		d.notify(Event{Kind: EventUninstantiate})
	}
}

// gatherEntropy returns a pool holding at least bits of entropy in minLen to
// maxLen bytes. Seed material comes from an attached seed pool, the entropy
// source or the parent, in that order. Errors wrap ErrEntropySource.
func (d *DRBG) gatherEntropy(bits, minLen, maxLen int) (*pool.Pool, error) {
	if p := d.seedPool; p != nil {
		p.SetEntropyRequested(bits)
		if p.EntropyAvailable() == 0 || p.Len() < minLen || p.Len() > maxLen {
			return nil, fmt.Errorf("%w: %d bits in %d bytes supplied, %d bits in [%d, %d] bytes required",
				ErrEntropySource, p.Entropy(), p.Len(), bits, minLen, maxLen)
		}
		trace.Emitf(d.trace, trace.Pool, "%s: using %d byte seed pool", d.name, p.Len())
		return p, nil
	}

	p, err := pool.New(bits, minLen, maxLen)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEntropySource, err)
	}

	switch {
	case d.entropySrc != nil:
		err = d.entropySrc.GetEntropy(p)
	case d.parent != nil:
		err = d.pullFromParent(p)
	default:
		err = errNoEntropySource
	}
	if err == nil && (p.EntropyAvailable() == 0 || p.Len() < minLen || p.Len() > p.MaxLen()) {
		err = fmt.Errorf("%w: %d of %d bits in %d bytes", errShortEntropy, p.Entropy(), bits, p.Len())
	}
	if err != nil {
		p.Free()
		trace.Emitf(d.trace, trace.Entropy, "%s: entropy gathering failed: %v", d.name, err)
		return nil, fmt.Errorf("%w: %w", ErrEntropySource, err)
	}
	return p, nil
}

// release wipes a pool obtained from gatherEntropy. The seed pool belongs
// to the caller of Add and is left alone.
func (d *DRBG) release(p *pool.Pool) {
	if p != d.seedPool {
		p.Free()
	}
}

// pullFromParent fills p from the parent's output, credited at eight bits
// per byte.
func (d *DRBG) pullFromParent(p *pool.Pool) error {
	n, err := p.BytesNeeded(1)
	if err != nil {
		return err
	}
	buf, err := p.Reserve(n)
	if err != nil {
		return err
	}
	seen, err := d.parent.draw(buf, d.childAdin())
	if err != nil {
		_ = p.Commit(0, 0)
		return fmt.Errorf("parent %s: %w", d.parent.name, err)
	}
	d.pendingSeen = seen
	return p.Commit(n, 8*n)
}

// parentNonce is the default nonce source of a child.
func (d *DRBG) parentNonce(minLen, maxLen int) ([]byte, error) {
	if d.parent == nil {
		return nil, errFreed
	}
	out := make([]byte, minLen)
	seen, err := d.parent.draw(out, d.childAdin())
	if err != nil {
		return nil, fmt.Errorf("parent %s: %w", d.parent.name, err)
	}
	d.pendingSeen = seen
	return out, nil
}

// draw generates out for a child under this instance's lock and returns
// the propagation counter the output corresponds to.
func (d *DRBG) draw(out, adin []byte) (uint32, error) {
	d.lock()
	defer d.unlock()

	if len(adin) > d.params.MaxAdinLen {
		adin = adin[:d.params.MaxAdinLen]
	}
	for len(out) > 0 {
		n := min(len(out), d.maxRequest)
		if err := d.generate(out[:n], adin); err != nil {
			return 0, err
		}
		out = out[n:]
	}
	return d.propCounter.Load(), nil
}

// childAdin identifies this instance in requests to its parent.
func (d *DRBG) childAdin() []byte {
	adin := binary.BigEndian.AppendUint64(nil, d.id)
	return append(adin, d.name...)
}

// seedLen is the size an Add buffer must reach to count as entropy.
func (d *DRBG) seedLen() int {
	bits, minLen := d.strength, d.params.MinEntropyLen
	if d.params.MinNonceLen > 0 && d.nonceSrc == nil {
		bits += d.strength / 2
		minLen += d.params.MinNonceLen
	}
	return max(bits/8, minLen)
}

func (d *DRBG) newError(op string, kind, err error) error {
	return &Error{Op: op, Instance: d.name, Kind: kind, Err: err}
}

// fail builds the error for op and reports it.
func (d *DRBG) fail(op string, kind, err error) error {
	e := d.newError(op, kind, err)
	trace.Emitf(d.trace, trace.DRBG, "%s: %v", d.name, e)
	d.notify(Event{Kind: EventError, Err: e})
	return e
}

func (d *DRBG) notify(e Event) {
	if d.observer == nil {
		return
	}
	e.Instance = d.name
	d.observer.Observe(e)
}

func lengthError(what string, got, limit int) error {
	return fmt.Errorf("%s of %d bytes exceeds %d", what, got, limit)
}

func (d *DRBG) lock() {
	if d.mu != nil {
		d.mu.Lock()
	}
}

func (d *DRBG) unlock() {
	if d.mu != nil {
		d.mu.Unlock()
	}
}

func (d *DRBG) rlock() {
	if d.mu != nil {
		d.mu.RLock()
	}
}

func (d *DRBG) runlock() {
	if d.mu != nil {
		d.mu.RUnlock()
	}
}
