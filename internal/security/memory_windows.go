//go:build windows

package security

import (
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

// LockedBuffer is a fixed-size byte buffer that is wiped when destroyed.
// The backing pages are locked with VirtualLock when the working set
// allows it.
type LockedBuffer struct {
	mu     sync.Mutex
	data   []byte
	locked bool
}

// NewLockedBuffer allocates a zeroed buffer of the given size.
func NewLockedBuffer(size int) *LockedBuffer {
	b := &LockedBuffer{
		data: make([]byte, size),
	}
	if len(b.data) > 0 {
		b.locked = windows.VirtualLock(b.addr(), uintptr(len(b.data))) == nil
	}
	runtime.SetFinalizer(b, func(lb *LockedBuffer) {
		lb.Destroy()
	})
	return b
}

func (b *LockedBuffer) addr() uintptr {
	return uintptr(unsafe.Pointer(&b.data[0]))
}

// Bytes returns the underlying byte slice.
func (b *LockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

// Locked reports whether VirtualLock succeeded.
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
		_ = windows.VirtualUnlock(b.addr(), uintptr(len(b.data)))
		b.locked = false
	}
	b.data = nil
	runtime.SetFinalizer(b, nil)
}
