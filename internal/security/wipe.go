// Package security provides memory hygiene for DRBG key material: wiping,
// zero checks and buffers that stay out of swap where the platform allows.
package security

import (
	"crypto/subtle"
	"runtime"
)

// Wipe overwrites a byte slice with zeros.
// Go's garbage collector does not clear freed memory, so callers must wipe
// seed material before it leaves scope.
func Wipe(data []byte) {
	wipeBytes(data)
}

// WipeAll wipes every slice in turn.
func WipeAll(data ...[]byte) {
	for _, d := range data {
		wipeBytes(d)
	}
}

// wipeBytes zeroes data in place. KeepAlive keeps the slice reachable
// until the stores are done.
func wipeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
	runtime.KeepAlive(data)
}

// IsZero reports whether every byte of data is zero.
// The running time depends only on len(data).
func IsZero(data []byte) bool {
	var acc byte
	for _, b := range data {
		acc |= b
	}
	return subtle.ConstantTimeByteEq(acc, 0) == 1
}

// ConstantTimeCompare compares two byte slices in constant time.
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
