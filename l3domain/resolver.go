package l3domain

// MasterIndex returns the index of the domain master governing d: the
// device's own index when it is itself a master, the immediate
// master's index when it is a slave, zero otherwise (including a slave
// caught mid-detachment with no current master).
//
// The caller must hold a read-side critical section (see ReadLock) for
// the duration of the call: d and the master it resolves through are
// only guaranteed stable inside one.
func MasterIndex(d Device) int {
	if d == nil {
		return 0
	}

	if d.IsL3Master() {
		return d.Index()
	}
	if d.IsL3Slave() {
		if master := d.Master(); master != nil {
			return master.Index()
		}
	}

	return 0
}

// MasterIndexByIndex walks upward from the device identified by
// ifindex through successive master relations until a domain master is
// found, and returns its index, or zero when the chain ends without
// one. One hop suffices in practice, but composed masters are
// tolerated; a non-progressing step ends the walk.
//
// Like MasterIndex, this must run inside a read-side critical section
// held by the caller.
func MasterIndexByIndex(ns Namespace, ifindex int) int {
	d := ns.DeviceByIndex(ifindex)
	for d != nil && !d.IsL3Master() {
		up := d.Master()
		if up == nil || up.Index() == d.Index() {
			return 0
		}
		d = up
	}

	if d == nil {
		return 0
	}
	return d.Index()
}

// FibTable returns the forwarding table id associated with d: the
// device's own table when it is a master exposing a table accessor,
// its master's table when it is a slave, zero otherwise.
func FibTable(d Device) uint32 {
	if d == nil {
		return 0
	}

	if d.IsL3Master() {
		if ops := d.Ops(); ops != nil && ops.FibTable != nil {
			return ops.FibTable()
		}
	} else if d.IsL3Slave() {
		master := d.Master()
		if master == nil {
			return 0
		}
		if ops := master.Ops(); ops != nil && ops.FibTable != nil {
			return ops.FibTable()
		}
	}

	return 0
}

// FibTableByIndex resolves ifindex within ns and returns the
// forwarding table id of the domain governing it, zero for none.
func FibTableByIndex(ns Namespace, ifindex int) uint32 {
	if ifindex == 0 {
		return 0
	}

	idx := ReadLock()
	defer ReadUnlock(idx)

	return FibTable(ns.DeviceByIndex(ifindex))
}

// LinkScopeLookup resolves a link-local or multicast scoped
// destination through the domain master governing fl's output
// interface. It returns nil when the flow has no output interface,
// the interface is not governed by a master, or the master implements
// no link-scope lookup.
//
// The returned destination is only guaranteed valid while the caller
// stays inside the read-side critical section it already holds (see
// ReadLock).
func LinkScopeLookup(ns Namespace, fl *Flow) *Destination {
	if fl.OutputIface == 0 {
		return nil
	}

	d := ns.DeviceByIndex(fl.OutputIface)
	if d != nil && d.IsL3Slave() {
		d = d.Master()
	}

	if d != nil && d.IsL3Master() {
		if ops := d.Ops(); ops != nil && ops.LinkScopeLookup != nil {
			return ops.LinkScopeLookup(fl)
		}
	}

	return nil
}
