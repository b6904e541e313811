//go:build !unix && !windows

package security

import (
	"runtime"
	"sync"
)

// LockedBuffer is a fixed-size byte buffer that is wiped when destroyed.
// Memory locking is not available on this platform.
type LockedBuffer struct {
	mu   sync.Mutex
	data []byte
}

// NewLockedBuffer allocates a zeroed buffer of the given size.
func NewLockedBuffer(size int) *LockedBuffer {
	b := &LockedBuffer{
		data: make([]byte, size),
	}
	runtime.SetFinalizer(b, func(lb *LockedBuffer) {
		lb.Destroy()
	})
	return b
}

// Bytes returns the underlying byte slice.
func (b *LockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

// Locked always returns false on this platform.
func (b *LockedBuffer) Locked() bool { return false }

// Wipe zeroes the contents but keeps the buffer allocated.
func (b *LockedBuffer) Wipe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	wipeBytes(b.data)
}

// Destroy wipes the memory. It is safe to call more than once.
func (b *LockedBuffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.data == nil {
		return
	}
	wipeBytes(b.data)
	b.data = nil
	runtime.SetFinalizer(b, nil)
}
