package l3domain

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/netdrift/l3domain/rcu"
)

// Type tags a class of domain implementation.
type Type int

const (
	// TypeUnspec marks an empty registry slot and is never a valid
	// registration target.
	TypeUnspec Type = iota
	// TypeVRF is the virtual routing and forwarding domain type.
	TypeVRF

	typeMax = TypeVRF
)

func (t Type) String() string {
	switch t {
	case TypeUnspec:
		return "unspec"
	case TypeVRF:
		return "vrf"
	}
	return "unknown"
}

var (
	// ErrInvalidType means the domain type is unspecified or out of
	// range.
	ErrInvalidType = errors.New("invalid domain type")
	// ErrAlreadyRegistered means the slot for the domain type is
	// already occupied.
	ErrAlreadyRegistered = errors.New("domain type already registered")
	// ErrNotRegistered means the type/handler pair does not match
	// the current registration.
	ErrNotRegistered = errors.New("domain type not registered")
)

// TableLookup is the capability a domain implementation registers: map
// a forwarding table id to the index of the master device owning it,
// zero when the table belongs to no master.
//
// Implementations are invoked inside read-side critical sections and
// must not block. Values must be comparable (register a pointer type):
// Unregister matches the installed handler by identity.
type TableLookup interface {
	DeviceIndexByTable(ns Namespace, tableID uint32) int
}

// readers is the reclamation domain shared by every lookup-path
// function in this package. Registries synchronize against it when a
// handler is removed.
var readers = rcu.New()

// ReadLock enters the package's read-side critical section. Consumers
// calling LinkScopeLookup must hold it for as long as they use the
// returned destination.
func ReadLock() int { return readers.ReadLock() }

// ReadUnlock leaves the read-side critical section entered by the
// ReadLock that returned idx.
func ReadUnlock(idx int) { readers.ReadUnlock(idx) }

// Readers returns the package's reclamation domain. Device-model
// implementations use it to defer teardown of state unlinked from
// their snapshots until in-flight lookups are done with it.
func Readers() *rcu.Domain { return readers }

type handler struct {
	typ    Type
	lookup TableLookup
}

// Registry holds at most one table-lookup handler per domain type.
// Lookups are lock-free; registration and unregistration take a short
// exclusive lock, and unregistration additionally waits out a grace
// period so the removed handler is never invoked once Unregister has
// returned.
//
// One registry per process is the intended shape: domain
// implementations register at attach and unregister at detach, while
// route resolution calls DeviceIndexByTable concurrently from
// anywhere.
type Registry struct {
	mu    sync.Mutex
	slots [typeMax + 1]atomic.Pointer[handler]
	dom   *rcu.Domain
}

// NewRegistry returns an empty registry bound to the package's
// reclamation domain.
func NewRegistry() *Registry {
	return &Registry{dom: readers}
}

func checkType(t Type) error {
	if t <= TypeUnspec || t > typeMax {
		return ErrInvalidType
	}
	return nil
}

// Register installs l as the table-lookup handler for domain type t.
// The slot is published atomically: concurrent lookups observe either
// the empty slot or the fully installed handler.
func (r *Registry) Register(t Type, l TableLookup) error {
	if err := checkType(t); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.slots[t].Load() != nil {
		return ErrAlreadyRegistered
	}
	r.slots[t].Store(&handler{typ: t, lookup: l})

	return nil
}

// Unregister removes the handler for domain type t. The type/handler
// pair must match the current registration exactly, which defends
// against double unregistration and wrong-owner unregistration.
//
// Unregister does not return until every lookup that could still be
// using the handler has finished with it, and all reclamation work
// triggered by the removal has completed. The caller may free the
// handler's backing resources as soon as Unregister returns.
func (r *Registry) Unregister(t Type, l TableLookup) error {
	if err := checkType(t); err != nil {
		return err
	}

	r.mu.Lock()
	cur := r.slots[t].Load()
	if cur == nil || cur.typ != t || cur.lookup != l {
		r.mu.Unlock()
		return ErrNotRegistered
	}
	r.slots[t].Store(nil)
	r.mu.Unlock()

	// the clear is published; wait for the readers that may have
	// picked up the old handler, then for any cleanup they queued
	r.dom.Synchronize()
	r.dom.Barrier()

	return nil
}

// DeviceIndexByTable asks the handler registered for domain type t
// which master device owns tableID. It returns zero when the type is
// invalid, no handler is registered, or the handler has no match.
//
// Safe to call concurrently with Register and Unregister from any
// number of goroutines; it takes no lock.
func (r *Registry) DeviceIndexByTable(ns Namespace, tableID uint32, t Type) int {
	if err := checkType(t); err != nil {
		return 0
	}

	idx := r.dom.ReadLock()
	defer r.dom.ReadUnlock(idx)

	h := r.slots[t].Load()
	if h == nil {
		return 0
	}
	return h.lookup.DeviceIndexByTable(ns, tableID)
}
