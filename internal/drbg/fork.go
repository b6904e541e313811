package drbg

import (
	"os"
	"sync/atomic"
)

// The fork generation is the only process-wide mutable state of the
// package. It is read and advanced with atomic operations only; every
// instance keeps a snapshot from its last seeding and reseeds before
// producing output when the snapshot is stale.
var (
	forkGen      atomic.Uint32
	forkPid      atomic.Int64
	forkNotified atomic.Bool

	getpid = os.Getpid
)

func init() {
	forkGen.Store(1)
	forkPid.Store(int64(getpid()))
}

// ForkGeneration returns the current fork generation. Until NotifyFork has
// been called once it also compares the process id, which costs a getpid
// system call per Generate, and the first call after the id changed
// advances the generation. Processes that call NotifyFork in their fork
// hook skip the system call from then on.
func ForkGeneration() uint32 {
	if !forkNotified.Load() {
		pid := int64(getpid())
		if old := forkPid.Load(); old != pid && forkPid.CompareAndSwap(old, pid) {
			forkGen.Add(1)
		}
	}
	return forkGen.Load()
}

// NotifyFork advances the fork generation. A process that duplicated its
// address space calls it in the child before using any instance. Once it
// has been called, fork detection relies on it alone.
func NotifyFork() {
	forkNotified.Store(true)
	forkGen.Add(1)
}
