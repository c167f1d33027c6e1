// Package nlsys backs the l3domain device model with the kernel's
// device table, read over netlink. A Monitor keeps a lock-free
// snapshot of the links in one network namespace, exposes it as an
// l3domain.Namespace, and serves the VRF table-lookup handler: VRF
// links are domain masters, links enslaved to a VRF are domain slaves.
package nlsys

import (
	"github.com/vishvananda/netlink"

	"github.com/netdrift/l3domain/l3domain"
)

// sysDevice is one link in a Monitor snapshot. The identity fields are
// immutable once published; detach only runs after a grace period, when
// no lookup can still hold the device.
type sysDevice struct {
	owner *Monitor

	index       int
	name        string
	masterIndex int

	master  bool
	tableID uint32
	ops     *l3domain.Ops
}

func (m *Monitor) newDevice(link netlink.Link) *sysDevice {
	attrs := link.Attrs()
	d := &sysDevice{
		owner:       m,
		index:       attrs.Index,
		name:        attrs.Name,
		masterIndex: attrs.MasterIndex,
	}

	if vrf, ok := link.(*netlink.Vrf); ok {
		d.master = true
		d.tableID = vrf.Table
		d.ops = &l3domain.Ops{
			FibTable: func() uint32 { return d.tableID },
			// the VRF device itself is the link-scoped egress; richer
			// next-hop selection inside the table belongs to the route
			// engine, not here
			LinkScopeLookup: func(fl *l3domain.Flow) *l3domain.Destination {
				return &l3domain.Destination{Dev: d}
			},
		}
	}

	return d
}

func (d *sysDevice) Index() int       { return d.index }
func (d *sysDevice) IsL3Master() bool { return d.master }

// IsL3Slave reports whether the link is enslaved to a VRF. Enslavement
// to anything else (a bridge, a bond) does not make a domain slave.
func (d *sysDevice) IsL3Slave() bool {
	if d.master || d.masterIndex == 0 || d.owner == nil {
		return false
	}
	up := d.owner.deviceByIndex(d.masterIndex)
	return up != nil && up.master
}

func (d *sysDevice) Master() l3domain.Device {
	if d.masterIndex == 0 || d.owner == nil {
		return nil
	}
	if up := d.owner.deviceByIndex(d.masterIndex); up != nil {
		return up
	}
	return nil
}

func (d *sysDevice) Ops() *l3domain.Ops { return d.ops }

// detach cuts the device loose from its monitor. Runs after a grace
// period, so a reference leaked past its read-side section resolves to
// nothing instead of resolving against a future snapshot.
func (d *sysDevice) detach() {
	d.owner = nil
	d.masterIndex = 0
	d.ops = nil
}
