package mechanism

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"

	"golang.org/x/crypto/sha3"
)

// blockCipher describes a CTR_DRBG primitive.
type blockCipher struct {
	name   Type
	keyLen int
	block  func(key []byte) (cipher.Block, error)
}

// digest describes a Hash_DRBG / HMAC_DRBG primitive.
type digest struct {
	name  Type
	size  int
	newFn func() hash.Hash
}

var ciphers = map[Type]blockCipher{
	AES128CTR: {name: AES128CTR, keyLen: 16, block: aes.NewCipher},
	AES192CTR: {name: AES192CTR, keyLen: 24, block: aes.NewCipher},
	AES256CTR: {name: AES256CTR, keyLen: 32, block: aes.NewCipher},
}

var digests = map[Type]digest{
	SHA1:       {name: SHA1, size: sha1.Size, newFn: sha1.New},
	SHA224:     {name: SHA224, size: sha256.Size224, newFn: sha256.New224},
	SHA256:     {name: SHA256, size: sha256.Size, newFn: sha256.New},
	SHA384:     {name: SHA384, size: sha512.Size384, newFn: sha512.New384},
	SHA512:     {name: SHA512, size: sha512.Size, newFn: sha512.New},
	SHA512_224: {name: SHA512_224, size: sha512.Size224, newFn: sha512.New512_224},
	SHA512_256: {name: SHA512_256, size: sha512.Size256, newFn: sha512.New512_256},
	SHA3_224:   {name: SHA3_224, size: 28, newFn: sha3.New224},
	SHA3_256:   {name: SHA3_256, size: 32, newFn: sha3.New256},
	SHA3_384:   {name: SHA3_384, size: 48, newFn: sha3.New384},
	SHA3_512:   {name: SHA3_512, size: 64, newFn: sha3.New512},
}

// addBE sets a = a + b mod 2^(8*len(a)), with both slices big-endian and b
// right-aligned against a.
func addBE(a, b []byte) {
	var carry uint16
	j := len(b) - 1
	for i := len(a) - 1; i >= 0; i-- {
		sum := uint16(a[i]) + carry
		if j >= 0 {
			sum += uint16(b[j])
			j--
		}
		a[i] = byte(sum)
		carry = sum >> 8
	}
}

// addUint64BE adds n to the big-endian integer a, modulo its width.
func addUint64BE(a []byte, n uint64) {
	var carry uint64
	for i := len(a) - 1; i >= 0 && (n != 0 || carry != 0); i-- {
		sum := uint64(a[i]) + (n & 0xff) + carry
		a[i] = byte(sum)
		carry = sum >> 8
		n >>= 8
	}
}

// incBE increments the big-endian counter a by one, wrapping at its width.
func incBE(a []byte) {
	for i := len(a) - 1; i >= 0; i-- {
		a[i]++
		if a[i] != 0 {
			return
		}
	}
}
