package l3domain

import (
	"testing"
	"time"
)

// tableMap is a TableLookup backed by a fixed table→ifindex map.
type tableMap struct {
	tables map[uint32]int
}

func (m *tableMap) DeviceIndexByTable(ns Namespace, tableID uint32) int {
	return m.tables[tableID]
}

func TestRegistryRegisterLookup(t *testing.T) {
	r := NewRegistry()
	ns := fakeNamespace{}

	h := &tableMap{tables: map[uint32]int{7: 42}}
	if err := r.Register(TypeVRF, h); err != nil {
		t.Fatal("register failed:", err)
	}

	if got := r.DeviceIndexByTable(ns, 7, TypeVRF); got != 42 {
		t.Error("lookup should invoke the registered handler, got:", got)
	}
	if got := r.DeviceIndexByTable(ns, 9, TypeVRF); got != 0 {
		t.Error("unknown table should yield 0, got:", got)
	}
}

func TestRegistryInvalidType(t *testing.T) {
	r := NewRegistry()
	h := &tableMap{}

	if err := r.Register(TypeUnspec, h); err != ErrInvalidType {
		t.Error("register with unspec type should fail, got:", err)
	}
	if err := r.Register(typeMax+1, h); err != ErrInvalidType {
		t.Error("register beyond the max type should fail, got:", err)
	}
	if err := r.Unregister(TypeUnspec, h); err != ErrInvalidType {
		t.Error("unregister with unspec type should fail, got:", err)
	}
	if got := r.DeviceIndexByTable(fakeNamespace{}, 1, TypeUnspec); got != 0 {
		t.Error("lookup with unspec type should yield 0, got:", got)
	}
}

func TestRegistryAlreadyRegistered(t *testing.T) {
	r := NewRegistry()
	ns := fakeNamespace{}

	first := &tableMap{tables: map[uint32]int{7: 42}}
	second := &tableMap{tables: map[uint32]int{7: 99}}

	if err := r.Register(TypeVRF, first); err != nil {
		t.Fatal("register failed:", err)
	}
	if err := r.Register(TypeVRF, second); err != ErrAlreadyRegistered {
		t.Error("second register should be rejected, got:", err)
	}

	// the original handler must still be installed
	if got := r.DeviceIndexByTable(ns, 7, TypeVRF); got != 42 {
		t.Error("original handler should remain installed, got:", got)
	}
}

func TestRegistryUnregisterMismatch(t *testing.T) {
	r := NewRegistry()
	ns := fakeNamespace{}

	installed := &tableMap{tables: map[uint32]int{7: 42}}
	other := &tableMap{}

	if err := r.Unregister(TypeVRF, installed); err != ErrNotRegistered {
		t.Error("unregister on an empty slot should fail, got:", err)
	}

	if err := r.Register(TypeVRF, installed); err != nil {
		t.Fatal("register failed:", err)
	}
	if err := r.Unregister(TypeVRF, other); err != ErrNotRegistered {
		t.Error("unregister with the wrong handler should fail, got:", err)
	}
	if got := r.DeviceIndexByTable(ns, 7, TypeVRF); got != 42 {
		t.Error("slot should be unchanged after failed unregister, got:", got)
	}

	if err := r.Unregister(TypeVRF, installed); err != nil {
		t.Error("matching unregister should succeed, got:", err)
	}
	if err := r.Register(TypeVRF, other); err != nil {
		t.Error("register after unregister should succeed, got:", err)
	}
}

// blockingLookup parks inside the handler until released, so a lookup
// can be held in flight across an unregister.
type blockingLookup struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingLookup) DeviceIndexByTable(ns Namespace, tableID uint32) int {
	b.entered <- struct{}{}
	<-b.release
	return 42
}

func TestRegistryUnregisterWaitsForLookups(t *testing.T) {
	r := NewRegistry()
	ns := fakeNamespace{}

	h := &blockingLookup{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	if err := r.Register(TypeVRF, h); err != nil {
		t.Fatal("register failed:", err)
	}

	lookupDone := make(chan int)
	go func() {
		lookupDone <- r.DeviceIndexByTable(ns, 7, TypeVRF)
	}()
	<-h.entered // the lookup now holds the handler

	unregDone := make(chan error)
	go func() {
		unregDone <- r.Unregister(TypeVRF, h)
	}()

	// unregister must not return while the lookup is still using the
	// handler
	select {
	case err := <-unregDone:
		t.Fatal("unregister returned with a lookup in flight:", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(h.release)

	if got := <-lookupDone; got != 42 {
		t.Error("in-flight lookup should finish with the old handler, got:", got)
	}
	if err := <-unregDone; err != nil {
		t.Error("unregister failed:", err)
	}

	// and once unregister has returned, the handler is unreachable
	if got := r.DeviceIndexByTable(ns, 7, TypeVRF); got != 0 {
		t.Error("lookup after unregister should yield 0, got:", got)
	}
}

func TestRegistryUnregisterWaitsForReclamation(t *testing.T) {
	r := NewRegistry()

	h := &tableMap{tables: map[uint32]int{7: 42}}
	if err := r.Register(TypeVRF, h); err != nil {
		t.Fatal("register failed:", err)
	}

	// park a deferred reclamation so the barrier has something to wait on
	started := make(chan struct{})
	release := make(chan struct{})
	Readers().Call(func() {
		close(started)
		<-release
	})
	<-started

	unregDone := make(chan error)
	go func() {
		unregDone <- r.Unregister(TypeVRF, h)
	}()

	select {
	case err := <-unregDone:
		t.Fatal("unregister returned with reclamation still pending:", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	if err := <-unregDone; err != nil {
		t.Error("unregister failed:", err)
	}
}

func TestRegistryConcurrentLookups(t *testing.T) {
	r := NewRegistry()
	ns := fakeNamespace{}

	h := &tableMap{tables: map[uint32]int{7: 42}}
	if err := r.Register(TypeVRF, h); err != nil {
		t.Fatal("register failed:", err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for {
				select {
				case <-stop:
					return
				default:
				}
				got := r.DeviceIndexByTable(ns, 7, TypeVRF)
				if got != 42 && got != 0 {
					t.Error("lookup saw a partial registration:", got)
					return
				}
			}
		}()
	}

	// churn the registration while lookups hammer the slot
	for i := 0; i < 100; i++ {
		if err := r.Unregister(TypeVRF, h); err != nil {
			t.Error("unregister failed:", err)
			break
		}
		if err := r.Register(TypeVRF, h); err != nil {
			t.Error("register failed:", err)
			break
		}
	}

	close(stop)
	for i := 0; i < 8; i++ {
		<-done
	}
}
