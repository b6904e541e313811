package mechanism

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"drbgd/internal/security"
)

const (
	ctrBlockLen = aes.BlockSize

	// ctrMaxCounter is reseed_max_interval from SP 800-90Ar1 Table 3.
	ctrMaxCounter = 1 << 48
)

// ctrDRBG is CTR_DRBG (SP 800-90Ar1 10.2.1) over AES.
type ctrDRBG struct {
	prim    blockCipher
	useDF   bool
	seedLen int
	params  Params

	// state holds Key || V.
	state *security.LockedBuffer
	key   []byte
	v     []byte
	block cipher.Block

	// dfBlock is keyed with the fixed Block_Cipher_df key 0x00 0x01 ...
	dfBlock cipher.Block

	counter uint64
	ready   bool
}

func newCTR(c blockCipher, useDF bool) *ctrDRBG {
	seedLen := c.keyLen + ctrBlockLen
	state := security.NewLockedBuffer(seedLen)
	buf := state.Bytes()

	d := &ctrDRBG{
		prim:    c,
		useDF:   useDF,
		seedLen: seedLen,
		state:   state,
		key:     buf[:c.keyLen],
		v:       buf[c.keyLen:],
	}

	p := Params{
		Kind:       KindCTR,
		Strength:   c.keyLen * 8,
		SeedLen:    seedLen,
		MaxRequest: MaxRequest,
	}
	if useDF {
		dfKey := make([]byte, c.keyLen)
		for i := range dfKey {
			dfKey[i] = byte(i)
		}
		// AES accepts every key length listed in ciphers.
		d.dfBlock, _ = c.block(dfKey)

		p.MinEntropyLen = c.keyLen
		p.MaxEntropyLen = MaxLength
		p.MinNonceLen = c.keyLen / 2
		p.MaxNonceLen = MaxLength
		p.MaxPersLen = MaxLength
		p.MaxAdinLen = MaxLength
	} else {
		p.MinEntropyLen = seedLen
		p.MaxEntropyLen = seedLen
		p.MaxPersLen = seedLen
		p.MaxAdinLen = seedLen
	}
	d.params = p
	return d
}

func (d *ctrDRBG) Params() Params { return d.params }

func (d *ctrDRBG) Instantiate(entropy, nonce, pers []byte) error {
	if err := d.checkSeedInputs(entropy, nonce, pers); err != nil {
		return fmt.Errorf("%w: %w", ErrInstantiate, err)
	}

	seed := make([]byte, d.seedLen)
	defer security.Wipe(seed)

	if d.useDF {
		if err := d.df(seed, entropy, nonce, pers); err != nil {
			return fmt.Errorf("%w: %w", ErrInstantiate, err)
		}
	} else {
		copy(seed, entropy)
		xorInto(seed, pers)
	}

	d.state.Wipe()
	if err := d.rekey(); err != nil {
		return fmt.Errorf("%w: %w", ErrInstantiate, err)
	}
	if err := d.update(seed); err != nil {
		d.Uninstantiate()
		return fmt.Errorf("%w: %w", ErrInstantiate, err)
	}

	d.counter = 1
	d.ready = true
	return nil
}

func (d *ctrDRBG) Reseed(entropy, adin []byte) error {
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

	if d.useDF {
		if err := d.df(seed, entropy, adin); err != nil {
			return fmt.Errorf("%w: %w", ErrReseed, err)
		}
	} else {
		copy(seed, entropy)
		xorInto(seed, adin)
	}

	if err := d.update(seed); err != nil {
		return fmt.Errorf("%w: %w", ErrReseed, err)
	}
	d.counter = 1
	return nil
}

func (d *ctrDRBG) Generate(out, adin []byte) error {
	if !d.ready {
		return fmt.Errorf("%w: %w", ErrGenerate, ErrNotInstantiated)
	}
	if len(out) > d.params.MaxRequest {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrRequestTooLarge, len(out), d.params.MaxRequest)
	}
	if err := checkLen("additional input", len(adin), 0, d.params.MaxAdinLen); err != nil {
		return fmt.Errorf("%w: %w", ErrGenerate, err)
	}
	if d.counter > ctrMaxCounter {
		return fmt.Errorf("%w: reseed counter exhausted", ErrGenerate)
	}

	var derived []byte
	if len(adin) > 0 {
		derived = make([]byte, d.seedLen)
		defer security.Wipe(derived)
		if d.useDF {
			if err := d.df(derived, adin); err != nil {
				return fmt.Errorf("%w: %w", ErrGenerate, err)
			}
		} else {
			copy(derived, adin)
		}
		if err := d.update(derived); err != nil {
			return fmt.Errorf("%w: %w", ErrGenerate, err)
		}
	}

	var blk [ctrBlockLen]byte
	for off := 0; off < len(out); off += ctrBlockLen {
		incBE(d.v)
		d.block.Encrypt(blk[:], d.v)
		copy(out[off:], blk[:])
	}
	security.Wipe(blk[:])

	if err := d.update(derived); err != nil {
		return fmt.Errorf("%w: %w", ErrGenerate, err)
	}
	d.counter++
	return nil
}

func (d *ctrDRBG) Uninstantiate() {
	d.state.Wipe()
	d.block = nil
	d.counter = 0
	d.ready = false
}

func (d *ctrDRBG) Zeroized() bool {
	return security.IsZero(d.state.Bytes()) && d.block == nil && d.counter == 0
}

func (d *ctrDRBG) checkSeedInputs(entropy, nonce, pers []byte) error {
	p := d.params
	if err := checkLen("entropy", len(entropy), p.MinEntropyLen, p.MaxEntropyLen); err != nil {
		return err
	}
	if err := checkLen("nonce", len(nonce), 0, p.MaxNonceLen); err != nil {
		return err
	}
	return checkLen("personalization string", len(pers), 0, p.MaxPersLen)
}

// update is CTR_DRBG_Update. A nil provided value means all zeros.
func (d *ctrDRBG) update(provided []byte) error {
	temp := make([]byte, roundUp(d.seedLen, ctrBlockLen))
	defer security.Wipe(temp)

	for off := 0; off < d.seedLen; off += ctrBlockLen {
		incBE(d.v)
		d.block.Encrypt(temp[off:off+ctrBlockLen], d.v)
	}
	xorInto(temp[:d.seedLen], provided)

	copy(d.key, temp[:d.prim.keyLen])
	copy(d.v, temp[d.prim.keyLen:d.seedLen])
	return d.rekey()
}

func (d *ctrDRBG) rekey() error {
	b, err := d.prim.block(d.key)
	if err != nil {
		return err
	}
	d.block = b
	return nil
}

// df is Block_Cipher_df: it compresses the concatenation of inputs into
// len(out) bytes.
func (d *ctrDRBG) df(out []byte, inputs ...[]byte) error {
	inLen := 0
	for _, in := range inputs {
		inLen += len(in)
	}

	// S = L || N || input_string || 0x80 || 0x00 padding
	s := make([]byte, roundUp(8+inLen+1, ctrBlockLen))
	defer security.Wipe(s)
	binary.BigEndian.PutUint32(s[0:4], uint32(inLen))
	binary.BigEndian.PutUint32(s[4:8], uint32(len(out)))
	off := 8
	for _, in := range inputs {
		off += copy(s[off:], in)
	}
	s[off] = 0x80

	keyLen := d.prim.keyLen
	temp := make([]byte, roundUp(keyLen+ctrBlockLen, ctrBlockLen))
	defer security.Wipe(temp)

	var iv [ctrBlockLen]byte
	for i, filled := 0, 0; filled < keyLen+ctrBlockLen; i, filled = i+1, filled+ctrBlockLen {
		binary.BigEndian.PutUint32(iv[0:4], uint32(i))
		bcc(d.dfBlock, iv[:], s, temp[filled:filled+ctrBlockLen])
	}

	blk, err := d.prim.block(temp[:keyLen])
	if err != nil {
		return err
	}
	x := temp[keyLen : keyLen+ctrBlockLen]
	for off := 0; off < len(out); off += ctrBlockLen {
		blk.Encrypt(x, x)
		copy(out[off:], x)
	}
	return nil
}

// bcc is the BCC chaining function over iv || data, writing one block to out.
func bcc(b cipher.Block, iv, data, out []byte) {
	b.Encrypt(out, iv)
	for off := 0; off < len(data); off += ctrBlockLen {
		xorInto(out, data[off:off+ctrBlockLen])
		b.Encrypt(out, out)
	}
}

// xorInto sets dst[i] ^= src[i] for the overlapping prefix.
func xorInto(dst, src []byte) {
	n := len(src)
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] ^= src[i]
	}
}

func roundUp(n, m int) int {
	return (n + m - 1) / m * m
}
