// Package rcu implements a small deferred-reclamation domain for state
// that is read on hot paths and mutated rarely.
//
// Readers enter a read-side critical section with ReadLock and leave it
// with ReadUnlock. Sections never block, may nest, and any pointer read
// from shared state inside a section stays usable until the section
// ends, no matter what writers do concurrently.
//
// Writers publish new state with a single atomic store, then call
// Synchronize to wait until every section that could still observe the
// old state has ended. Cleanup that must run after a grace period goes
// through Call; Barrier waits for all of it to finish.
package rcu

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// spins between counter polls before the waiter starts sleeping.
const drainSpins = 128

// Domain tracks the read-side sections of one group of readers.
// The zero value is not usable, construct with New.
type Domain struct {
	// epoch's low bit selects the active reader counter. Only
	// Synchronize flips it, under writerMu.
	epoch   atomic.Uint64
	readers [2]atomic.Int64

	writerMu sync.Mutex

	cbMu    sync.Mutex
	cbCond  *sync.Cond
	pending int
}

// New returns an empty Domain with no active readers.
func New() *Domain {
	d := &Domain{}
	d.cbCond = sync.NewCond(&d.cbMu)
	return d
}

// ReadLock enters a read-side critical section and returns the token
// that must be handed back to ReadUnlock. It never blocks; the retry
// only triggers when a writer flipped the epoch concurrently, and
// flips are rare by design.
//
// The re-check after the increment is load bearing: without it a
// reader preempted between sampling the epoch and incrementing could
// charge itself to a parity the next grace period does not wait on.
// Once the increment is verified against an unchanged epoch, every
// Synchronize that retires this parity drains this reader first, and
// the reader's later loads are ordered after the writer's clear by the
// sequentially consistent atomics.
func (d *Domain) ReadLock() int {
	for {
		e := d.epoch.Load()
		idx := int(e & 1)
		d.readers[idx].Add(1)
		if d.epoch.Load() == e {
			return idx
		}
		// raced with a flip, charge the current epoch instead
		d.readers[idx].Add(-1)
	}
}

// ReadUnlock leaves the read-side critical section entered by the
// ReadLock that returned idx.
func (d *Domain) ReadUnlock(idx int) {
	if n := d.readers[idx].Add(-1); n < 0 {
		panic("rcu: ReadUnlock without matching ReadLock")
	}
}

// Synchronize blocks until every read-side critical section that was
// active when it was called has ended. It must not be called from
// inside a read-side section. Concurrent callers are serialized.
func (d *Domain) Synchronize() {
	d.writerMu.Lock()
	defer d.writerMu.Unlock()

	// retire the current epoch; new readers charge the other counter
	retired := int(d.epoch.Add(1)-1) & 1
	d.drain(retired)
}

func (d *Domain) drain(idx int) {
	for spin := 0; d.readers[idx].Load() != 0; spin++ {
		if spin < drainSpins {
			runtime.Gosched()
			continue
		}
		// sections are short by contract, so stragglers here mean
		// the scheduler is busy, not that we are stuck
		time.Sleep(50 * time.Microsecond)
	}
}

// Call runs fn on its own goroutine once a grace period has elapsed,
// i.e. once no reader can still hold a reference published before the
// call. Use it for cleanup of state just unlinked from a shared
// structure.
func (d *Domain) Call(fn func()) {
	d.cbMu.Lock()
	d.pending++
	d.cbMu.Unlock()

	go func() {
		d.Synchronize()
		fn()

		d.cbMu.Lock()
		d.pending--
		if d.pending == 0 {
			d.cbCond.Broadcast()
		}
		d.cbMu.Unlock()
	}()
}

// Barrier blocks until every function handed to Call before the
// barrier has returned.
func (d *Domain) Barrier() {
	d.cbMu.Lock()
	for d.pending > 0 {
		d.cbCond.Wait()
	}
	d.cbMu.Unlock()
}
