// Package mechanism implements the three DRBG mechanisms of NIST SP 800-90Ar1
// behind a single four-operation contract.
//
// Supported mechanisms:
//   - CTR_DRBG over AES-128/192/256, with or without the derivation function
//   - Hash_DRBG over the SHA-1, SHA-2 and SHA-3 families
//   - HMAC_DRBG over the same digests
//
// A Mechanism holds only the working state defined by the standard (Key and
// V, V and C, or K and V, plus the standard's reseed counter). Reseed policy,
// entropy gathering and locking live in package drbg.
package mechanism

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// MaxLength is the largest input length, in bytes, accepted for entropy,
// nonce, personalization string and additional input.
const MaxLength = math.MaxInt32

// MaxRequest is the largest single generate request, in bytes (2^19 bits).
const MaxRequest = 1 << 16

// Mechanism errors
var (
	ErrUnsupported     = errors.New("mechanism: unsupported type")
	ErrInstantiate     = errors.New("mechanism: instantiate failed")
	ErrReseed          = errors.New("mechanism: reseed failed")
	ErrGenerate        = errors.New("mechanism: generate failed")
	ErrRequestTooLarge = errors.New("mechanism: request too large")
	ErrNotInstantiated = errors.New("mechanism: not instantiated")
	ErrInputLength     = errors.New("mechanism: input length out of range")
)

// Type names the mechanism and its underlying primitive.
type Type string

// Block cipher types select CTR_DRBG.
const (
	AES128CTR Type = "aes-128-ctr"
	AES192CTR Type = "aes-192-ctr"
	AES256CTR Type = "aes-256-ctr"
)

// Digest types select Hash_DRBG, or HMAC_DRBG together with FlagHMAC.
const (
	SHA1       Type = "sha1"
	SHA224     Type = "sha224"
	SHA256     Type = "sha256"
	SHA384     Type = "sha384"
	SHA512     Type = "sha512"
	SHA512_224 Type = "sha512-224"
	SHA512_256 Type = "sha512-256"
	SHA3_224   Type = "sha3-224"
	SHA3_256   Type = "sha3-256"
	SHA3_384   Type = "sha3-384"
	SHA3_512   Type = "sha3-512"
)

// DefaultType is used when no type is configured.
const DefaultType = AES256CTR

// Flags modify the mechanism chosen by a Type.
type Flags uint

const (
	// FlagCTRNoDF disables the block cipher derivation function. Entropy
	// input must then be exactly seedlen bytes and no nonce is used.
	FlagCTRNoDF Flags = 1 << iota
	// FlagHMAC selects HMAC_DRBG instead of Hash_DRBG for digest types.
	FlagHMAC
)

// Kind identifies the mechanism family.
type Kind int

const (
	KindCTR Kind = iota
	KindHash
	KindHMAC
)

// String returns the SP 800-90A name of the mechanism family.
func (k Kind) String() string {
	switch k {
	case KindCTR:
		return "CTR_DRBG"
	case KindHash:
		return "Hash_DRBG"
	case KindHMAC:
		return "HMAC_DRBG"
	default:
		return "unknown"
	}
}

// Params describes the limits of an instantiated mechanism. All lengths
// are in bytes, Strength is in bits.
type Params struct {
	Kind       Kind
	Strength   int
	SeedLen    int
	MaxRequest int

	MinEntropyLen int
	MaxEntropyLen int
	MinNonceLen   int
	MaxNonceLen   int
	MaxPersLen    int
	MaxAdinLen    int
}

// Mechanism is the contract every DRBG algorithm implements.
type Mechanism interface {
	// Instantiate derives the initial working state. It is a deterministic
	// function of its inputs.
	Instantiate(entropy, nonce, pers []byte) error

	// Reseed folds entropy and optional additional input into the state.
	Reseed(entropy, adin []byte) error

	// Generate fills out. Non-empty adin is mixed into the state first.
	Generate(out, adin []byte) error

	// Uninstantiate zeroizes the working state. It is idempotent.
	Uninstantiate()

	// Params returns the mechanism limits.
	Params() Params

	// Zeroized reports whether every byte of working state is zero.
	Zeroized() bool
}

// Lookup builds an uninstantiated mechanism for t. This is the only place
// that branches on mechanism identity.
func Lookup(t Type, flags Flags) (Mechanism, error) {
	if c, ok := ciphers[t]; ok {
		if flags&FlagHMAC != 0 {
			return nil, fmt.Errorf("%w: %s cannot be used with HMAC", ErrUnsupported, t)
		}
		return newCTR(c, flags&FlagCTRNoDF == 0), nil
	}
	if d, ok := digests[t]; ok {
		if flags&FlagCTRNoDF != 0 {
			return nil, fmt.Errorf("%w: %s cannot be used without a derivation function", ErrUnsupported, t)
		}
		if flags&FlagHMAC != 0 {
			return newHMAC(d), nil
		}
		return newHash(d), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupported, t)
}

// ParseType normalises a configured type name.
func ParseType(s string) (Type, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.ReplaceAll(name, "_", "-")
	name = strings.ReplaceAll(name, "/", "-")
	if name == "" {
		return DefaultType, nil
	}
	if strings.HasPrefix(name, "sha-") {
		name = "sha" + name[len("sha-"):]
	}
	t := Type(name)
	if _, ok := ciphers[t]; ok {
		return t, nil
	}
	if _, ok := digests[t]; ok {
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupported, s)
}

// Types lists every supported type name.
func Types() []Type {
	return []Type{
		AES128CTR, AES192CTR, AES256CTR,
		SHA1, SHA224, SHA256, SHA384, SHA512, SHA512_224, SHA512_256,
		SHA3_224, SHA3_256, SHA3_384, SHA3_512,
	}
}

// IsCipher reports whether t selects CTR_DRBG.
func (t Type) IsCipher() bool {
	_, ok := ciphers[t]
	return ok
}

// digestStrength follows SP 800-57 Part 1 Table 3 as applied by
// SP 800-90Ar1 Table 2: 64 bits per 8 bytes of output, capped at 256.
func digestStrength(outLen int) int {
	s := 64 * (outLen >> 3)
	if s > 256 {
		s = 256
	}
	return s
}

func checkLen(name string, got, min, max int) error {
	if got < min || got > max {
		return fmt.Errorf("%w: %s length %d not in [%d, %d]", ErrInputLength, name, got, min, max)
	}
	return nil
}
