// Package l3domain routes table lookups and flow evaluation through a
// virtual domain master device. An interface may be a domain master,
// owning a private forwarding table, or a slave enslaved to exactly one
// master. The package keeps a registry of per-domain-type table-lookup
// handlers, resolves which master governs a device or flow, and
// rewrites flow keys so route resolution keys off the master's identity
// instead of the raw interface.
//
// All lookup-path functions are meant to be called on hot paths: they
// never block, never allocate and degrade to zero results instead of
// returning errors. Concurrent safety on the read side comes from the
// rcu package; see Registry for the write-side rules.
package l3domain

import "net"

// Device is the view of a network device this package needs. It is
// implemented by the surrounding device model (see the nlsys package
// for the netlink-backed one, or test fakes).
//
// IsL3Master and IsL3Slave are mutually exclusive. Implementations must
// be safe to call from read-side critical sections, which means no
// blocking and no lock acquisition.
type Device interface {
	// Index returns the device's interface index. Always non-zero
	// for a real device.
	Index() int

	// IsL3Master reports whether the device owns a forwarding domain.
	IsL3Master() bool

	// IsL3Slave reports whether the device is enslaved to a domain
	// master.
	IsL3Slave() bool

	// Master returns the immediate master device, or nil when the
	// device has none (not enslaved, or mid-detachment).
	Master() Device

	// Ops returns the device's domain operations, or nil when the
	// device exposes none. Only masters carry operations.
	Ops() *Ops
}

// Ops is the per-master operation table. Both slots are optional; a
// nil function means the master does not implement that operation.
// The functions are bound to their device and must be callable from
// read-side critical sections.
type Ops struct {
	// FibTable returns the forwarding table id owned by the master,
	// zero for none.
	FibTable func() uint32

	// LinkScopeLookup resolves a link-local or multicast scoped
	// destination inside the master's domain. It may return nil.
	LinkScopeLookup func(fl *Flow) *Destination
}

// Destination is the result of a link-scope lookup: the device the
// packet should leave through and an optional gateway.
//
// Destinations are not reference counted here. The caller must stay
// inside the read-side critical section it already holds for as long
// as it uses the destination.
type Destination struct {
	Dev     Device
	Gateway net.IP
}

// Namespace resolves interface indexes to devices within one network
// namespace. A zero index always resolves to nil, as does any index
// with no current device.
//
// DeviceByIndex must be non-blocking so it can run inside read-side
// critical sections.
type Namespace interface {
	DeviceByIndex(ifindex int) Device
}
