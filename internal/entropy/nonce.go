package entropy

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/hkdf"
)

const nonceInfo = "drbgd-nonce-v1"

var (
	nonceCounter atomic.Uint64
	adinCounter  atomic.Uint64
	processStart = time.Now()
)

// DefaultNonce builds nonces from the process id, a process-wide counter and
// the current time. Nonces need to be unique, not secret.
type DefaultNonce struct{}

// GetNonce returns at least minLen and at most maxLen bytes.
func (DefaultNonce) GetNonce(minLen, maxLen int) ([]byte, error) {
	if minLen < 0 || maxLen < minLen {
		return nil, fmt.Errorf("%w: [%d, %d]", ErrNonceLength, minLen, maxLen)
	}

	var data [32]byte
	binary.BigEndian.PutUint64(data[0:], uint64(os.Getpid()))
	binary.BigEndian.PutUint64(data[8:], nonceCounter.Add(1))
	binary.BigEndian.PutUint64(data[16:], uint64(time.Now().UnixNano()))
	binary.BigEndian.PutUint64(data[24:], uint64(time.Since(processStart)))

	out := append([]byte(nil), data[:]...)
	if len(out) < minLen {
		ext := make([]byte, minLen-len(out))
		r := hkdf.New(sha256.New, data[:], nil, []byte(nonceInfo))
		if _, err := io.ReadFull(r, ext); err != nil {
			return nil, err
		}
		out = append(out, ext...)
	}
	if len(out) > maxLen {
		out = out[:maxLen]
	}
	return out, nil
}

// AdditionalData returns per-call data that distinguishes otherwise equal
// generate requests: process id, a process-wide counter and the time.
func AdditionalData() []byte {
	var data [24]byte
	binary.BigEndian.PutUint64(data[0:], uint64(os.Getpid()))
	binary.BigEndian.PutUint64(data[8:], adinCounter.Add(1))
	binary.BigEndian.PutUint64(data[16:], uint64(time.Now().UnixNano()))
	return data[:]
}
