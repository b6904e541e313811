package drbg

import (
	"fmt"

	"drbgd/internal/entropy"
	"drbgd/internal/pool"
	"drbgd/internal/trace"
)

// Bytes fills out of any length. Requests above MaxRequest are split, and
// every chunk is generated with the same per-call additional data.
func (d *DRBG) Bytes(out []byte) error {
	d.lock()
	defer d.unlock()

	adin := entropy.AdditionalData()
	if len(adin) > d.params.MaxAdinLen {
		adin = adin[:d.params.MaxAdinLen]
	}
	for len(out) > 0 {
		n := min(len(out), d.maxRequest)
		if err := d.generate(out[:n], adin); err != nil {
			return err
		}
		out = out[n:]
	}
	return nil
}

// Read implements io.Reader. It fills p completely or returns an error.
func (d *DRBG) Read(p []byte) (int, error) {
	if err := d.Bytes(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Add mixes application data credited with entropyBits into the instance
// and reseeds it at once. Data shorter than the seed length, or credited
// with less than that many bytes of entropy, is used as additional input
// only and does not reset the reseed counter. An instance in StateError is
// uninstantiated first; an uninstantiated one is instantiated with
// DefaultPersonalization.
func (d *DRBG) Add(buf []byte, entropyBits int) error {
	d.lock()
	defer d.unlock()

	if entropyBits < 0 {
		return d.newError("add", ErrInvalidLength, fmt.Errorf("%w: %d bits", pool.ErrEntropyRange, entropyBits))
	}
	seedLen := d.seedLen()
	if len(buf) < seedLen || entropyBits < 8*seedLen {
		entropyBits = 0
	}
	if entropyBits > 8*seedLen {
		entropyBits = 8 * seedLen
	}
	return d.restart(buf, entropyBits)
}

// Seed is Add with buf credited at full entropy.
func (d *DRBG) Seed(buf []byte) error {
	return d.Add(buf, 8*len(buf))
}

func (d *DRBG) restart(buf []byte, entropyBits int) error {
	const op = "add"

	var adin []byte
	if len(buf) > 0 {
		if entropyBits > 0 {
			if len(buf) > d.params.MaxEntropyLen {
				return d.newError(op, ErrInvalidLength, lengthError("entropy input", len(buf), d.params.MaxEntropyLen))
			}
			p, err := pool.Attach(buf, entropyBits)
			if err != nil {
				return d.newError(op, ErrInvalidLength, err)
			}
			d.seedPool = p
			defer func() { d.seedPool = nil }()
			trace.Emitf(d.trace, trace.Pool, "%s: attached %d bytes with %d bits", d.name, len(buf), entropyBits)
		} else {
			if len(buf) > d.params.MaxAdinLen {
				return d.newError(op, ErrInvalidLength, lengthError("additional input", len(buf), d.params.MaxAdinLen))
			}
			adin = buf
		}
	}

	if d.state == StateError {
		d.uninstantiate()
	}

	reseeded := false
	if d.state == StateUninitialised {
		if err := d.instantiate([]byte(DefaultPersonalization)); err != nil {
			return err
		}
		reseeded = true
	}

	if d.state == StateReady {
		switch {
		case adin != nil:
			if err := d.mech.Reseed(adin, nil); err != nil {
				d.state = StateError
				return d.fail(op, ErrReseed, err)
			}
			trace.Emitf(d.trace, trace.DRBG, "%s: mixed %d bytes of additional input", d.name, len(adin))
		case !reseeded:
			if err := d.reseed(nil, ReasonAdd); err != nil {
				return d.fail(op, ErrReseed, err)
			}
		}
	}

	if d.state != StateReady {
		return d.newError(op, ErrNotReady, nil)
	}
	return nil
}
