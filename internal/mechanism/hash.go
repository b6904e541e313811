package mechanism

import (
	"encoding/binary"
	"fmt"
	"hash"

	"drbgd/internal/security"
)

// digestMaxCounter is reseed_max_interval for Hash_DRBG and HMAC_DRBG.
const digestMaxCounter = 1 << 48

// hashDRBG is Hash_DRBG (SP 800-90Ar1 10.1.1).
type hashDRBG struct {
	prim    digest
	seedLen int
	params  Params

	// state holds V || C.
	state *security.LockedBuffer
	v     []byte
	c     []byte

	h       hash.Hash
	counter uint64
	ready   bool
}

func newHash(d digest) *hashDRBG {
	seedLen := 55
	if d.size > 32 {
		seedLen = 111
	}
	state := security.NewLockedBuffer(2 * seedLen)
	buf := state.Bytes()

	strength := digestStrength(d.size)
	return &hashDRBG{
		prim:    d,
		seedLen: seedLen,
		state:   state,
		v:       buf[:seedLen:seedLen],
		c:       buf[seedLen:],
		h:       d.newFn(),
		params: Params{
			Kind:          KindHash,
			Strength:      strength,
			SeedLen:       seedLen,
			MaxRequest:    MaxRequest,
			MinEntropyLen: strength / 8,
			MaxEntropyLen: MaxLength,
			MinNonceLen:   strength / 16,
			MaxNonceLen:   MaxLength,
			MaxPersLen:    MaxLength,
			MaxAdinLen:    MaxLength,
		},
	}
}

func (d *hashDRBG) Params() Params { return d.params }

func (d *hashDRBG) Instantiate(entropy, nonce, pers []byte) error {
	if err := checkDigestInputs(d.params, entropy, nonce, pers); err != nil {
		return fmt.Errorf("%w: %w", ErrInstantiate, err)
	}

	d.state.Wipe()
	d.df(d.v, entropy, nonce, pers)
	d.df(d.c, []byte{0x00}, d.v)

	d.counter = 1
	d.ready = true
	return nil
}

func (d *hashDRBG) Reseed(entropy, adin []byte) error {
	if !d.ready {
		return fmt.Errorf("%w: %w", ErrReseed, ErrNotInstantiated)
	}
	if err := checkLen("entropy", len(entropy), 0, d.params.MaxEntropyLen); err != nil {
		return fmt.Errorf("%w: %w", ErrReseed, err)
	}
	if err := checkLen("additional input", len(adin), 0, d.params.MaxAdinLen); err != nil {
		return fmt.Errorf("%w: %w", ErrReseed, err)
	}

	seed := make([]byte, d.seedLen)
	defer security.Wipe(seed)
	d.df(seed, []byte{0x01}, d.v, entropy, adin)

	copy(d.v, seed)
	d.df(d.c, []byte{0x00}, d.v)
	d.counter = 1
	return nil
}

func (d *hashDRBG) Generate(out, adin []byte) error {
	if !d.ready {
		return fmt.Errorf("%w: %w", ErrGenerate, ErrNotInstantiated)
	}
	if len(out) > d.params.MaxRequest {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrRequestTooLarge, len(out), d.params.MaxRequest)
	}
	if err := checkLen("additional input", len(adin), 0, d.params.MaxAdinLen); err != nil {
		return fmt.Errorf("%w: %w", ErrGenerate, err)
	}
	if d.counter > digestMaxCounter {
		return fmt.Errorf("%w: reseed counter exhausted", ErrGenerate)
	}

	if len(adin) > 0 {
		w := d.sum([]byte{0x02}, d.v, adin)
		addBE(d.v, w)
		security.Wipe(w)
	}

	d.hashgen(out)

	hv := d.sum([]byte{0x03}, d.v)
	addBE(d.v, hv)
	addBE(d.v, d.c)
	addUint64BE(d.v, d.counter)
	security.Wipe(hv)

	d.counter++
	return nil
}

func (d *hashDRBG) Uninstantiate() {
	d.state.Wipe()
	d.h.Reset()
	d.counter = 0
	d.ready = false
}

func (d *hashDRBG) Zeroized() bool {
	return security.IsZero(d.state.Bytes()) && d.counter == 0
}

func (d *hashDRBG) sum(parts ...[]byte) []byte {
	d.h.Reset()
	for _, p := range parts {
		d.h.Write(p)
	}
	return d.h.Sum(nil)
}

// df is Hash_df, filling out from the concatenation of inputs.
func (d *hashDRBG) df(out []byte, inputs ...[]byte) {
	var bits [4]byte
	binary.BigEndian.PutUint32(bits[:], uint32(len(out))*8)

	var tmp []byte
	for counter, off := byte(1), 0; off < len(out); counter++ {
		d.h.Reset()
		d.h.Write([]byte{counter})
		d.h.Write(bits[:])
		for _, in := range inputs {
			d.h.Write(in)
		}
		tmp = d.h.Sum(tmp[:0])
		off += copy(out[off:], tmp)
	}
	security.Wipe(tmp)
}

func (d *hashDRBG) hashgen(out []byte) {
	data := make([]byte, d.seedLen)
	copy(data, d.v)

	var tmp []byte
	for off := 0; off < len(out); {
		d.h.Reset()
		d.h.Write(data)
		tmp = d.h.Sum(tmp[:0])
		off += copy(out[off:], tmp)
		incBE(data)
	}
	security.Wipe(tmp)
	security.Wipe(data)
}

func checkDigestInputs(p Params, entropy, nonce, pers []byte) error {
	if err := checkLen("entropy", len(entropy), p.MinEntropyLen, p.MaxEntropyLen); err != nil {
		return err
	}
	if err := checkLen("nonce", len(nonce), 0, p.MaxNonceLen); err != nil {
		return err
	}
	return checkLen("personalization string", len(pers), 0, p.MaxPersLen)
}
