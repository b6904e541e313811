package mechanism

import (
	"crypto/hmac"
	"fmt"

	"drbgd/internal/security"
)

// hmacDRBG is HMAC_DRBG (SP 800-90Ar1 10.1.2).
type hmacDRBG struct {
	prim   digest
	params Params

	// state holds Key || V.
	state *security.LockedBuffer
	key   []byte
	v     []byte

	counter uint64
	ready   bool
}

func newHMAC(d digest) *hmacDRBG {
	state := security.NewLockedBuffer(2 * d.size)
	buf := state.Bytes()

	strength := digestStrength(d.size)
	return &hmacDRBG{
		prim:  d,
		state: state,
		key:   buf[:d.size:d.size],
		v:     buf[d.size:],
		params: Params{
			Kind:          KindHMAC,
			Strength:      strength,
			SeedLen:       d.size,
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

func (d *hmacDRBG) Params() Params { return d.params }

func (d *hmacDRBG) Instantiate(entropy, nonce, pers []byte) error {
	if err := checkDigestInputs(d.params, entropy, nonce, pers); err != nil {
		return fmt.Errorf("%w: %w", ErrInstantiate, err)
	}

	d.state.Wipe()
	for i := range d.v {
		d.v[i] = 0x01
	}
	d.update(entropy, nonce, pers)

	d.counter = 1
	d.ready = true
	return nil
}

func (d *hmacDRBG) Reseed(entropy, adin []byte) error {
	if !d.ready {
		return fmt.Errorf("%w: %w", ErrReseed, ErrNotInstantiated)
	}
	if err := checkLen("entropy", len(entropy), 0, d.params.MaxEntropyLen); err != nil {
		return fmt.Errorf("%w: %w", ErrReseed, err)
	}
	if err := checkLen("additional input", len(adin), 0, d.params.MaxAdinLen); err != nil {
		return fmt.Errorf("%w: %w", ErrReseed, err)
	}

	d.update(entropy, adin)
	d.counter = 1
	return nil
}

func (d *hmacDRBG) Generate(out, adin []byte) error {
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
		d.update(adin)
	}

	mac := hmac.New(d.prim.newFn, d.key)
	var tmp []byte
	for off := 0; off < len(out); {
		mac.Reset()
		mac.Write(d.v)
		tmp = mac.Sum(tmp[:0])
		copy(d.v, tmp)
		off += copy(out[off:], d.v)
	}
	security.Wipe(tmp)

	d.update(adin)
	d.counter++
	return nil
}

func (d *hmacDRBG) Uninstantiate() {
	d.state.Wipe()
	d.counter = 0
	d.ready = false
}

func (d *hmacDRBG) Zeroized() bool {
	return security.IsZero(d.state.Bytes()) && d.counter == 0
}

// update is HMAC_DRBG_Update over the concatenation of provided.
func (d *hmacDRBG) update(provided ...[]byte) {
	empty := true
	for _, p := range provided {
		if len(p) > 0 {
			empty = false
			break
		}
	}

	d.step(0x00, provided)
	if empty {
		return
	}
	d.step(0x01, provided)
}

// step computes K = HMAC(K, V || sep || provided) then V = HMAC(K, V).
func (d *hmacDRBG) step(sep byte, provided [][]byte) {
	mac := hmac.New(d.prim.newFn, d.key)
	mac.Write(d.v)
	mac.Write([]byte{sep})
	for _, p := range provided {
		mac.Write(p)
	}
	k := mac.Sum(nil)
	copy(d.key, k)
	security.Wipe(k)

	mac = hmac.New(d.prim.newFn, d.key)
	mac.Write(d.v)
	v := mac.Sum(nil)
	copy(d.v, v)
	security.Wipe(v)
}
