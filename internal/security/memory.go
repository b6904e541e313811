//go:build unix

package security

import (
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// LockedBuffer is a fixed-size byte buffer that is wiped when destroyed.
// The backing memory is mlocked when the process has the privilege to do so.
type LockedBuffer struct {
	mu     sync.Mutex
	data   []byte
	locked bool
}

// NewLockedBuffer allocates a zeroed buffer of the given size.
// Failure to lock the memory is not an error: the buffer is still usable,
// it may simply be swapped out.
func NewLockedBuffer(size int) *LockedBuffer {
	b := &LockedBuffer{
		data: make([]byte, size),
	}

	if err := b.lock(); err == nil {
		b.locked = len(b.data) > 0
	}

	runtime.SetFinalizer(b, func(lb *LockedBuffer) {
		lb.Destroy()
	})

	return b
}

// Bytes returns the underlying byte slice.
// The slice must not be retained past Destroy.
func (b *LockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

// Locked reports whether the buffer is pinned in RAM.
func (b *LockedBuffer) Locked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.locked
}

// Wipe zeroes the contents but keeps the buffer allocated.
func (b *LockedBuffer) Wipe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	wipeBytes(b.data)
}

// Destroy wipes and unlocks the memory. It is safe to call more than once.
func (b *LockedBuffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.data == nil {
		return
	}

	wipeBytes(b.data)
	if b.locked {
		b.unlock()
	}
	b.data = nil
	runtime.SetFinalizer(b, nil)
}

func (b *LockedBuffer) lock() error {
	if len(b.data) == 0 {
		return nil
	}
	ptr := unsafe.Pointer(&b.data[0])
	return unix.Mlock(unsafe.Slice((*byte)(ptr), len(b.data)))
}

func (b *LockedBuffer) unlock() {
	if len(b.data) == 0 {
		return
	}
	ptr := unsafe.Pointer(&b.data[0])
	_ = unix.Munlock(unsafe.Slice((*byte)(ptr), len(b.data)))
	b.locked = false
}
