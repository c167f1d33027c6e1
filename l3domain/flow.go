package l3domain

// Flags is the flag set carried by a Flow.
type Flags uint32

const (
	// FlagSkipNexthopOIF tells the route resolution engine not to
	// check the flow's output interface against next-hop interface
	// bindings. It is set once a flow has been re-keyed to a domain
	// master, whose index will not match any next hop.
	FlagSkipNexthopOIF Flags = 1 << 0
)

// Flow is the lookup key used to select a forwarding table during
// route resolution. It is owned by the caller; this package only
// overwrites the interface fields and sets flags, and never retains a
// reference past the call.
type Flow struct {
	InputIface  int
	OutputIface int
	Flags       Flags
}

// UpdateFlow rewrites fl so that table-scoped route resolution uses
// the identity of the domain master governing the flow, if any. The
// output interface takes priority over the input interface; whichever
// resolves to a master first is replaced by the master's index and
// FlagSkipNexthopOIF is set.
//
// Calling UpdateFlow again on the same flow is a no-op, since a master
// resolves to itself.
func UpdateFlow(ns Namespace, fl *Flow) {
	idx := ReadLock()
	defer ReadUnlock(idx)

	if fl.OutputIface != 0 {
		if master := MasterIndex(ns.DeviceByIndex(fl.OutputIface)); master != 0 {
			fl.OutputIface = master
			fl.Flags |= FlagSkipNexthopOIF
			return
		}
	}

	if fl.InputIface != 0 {
		if master := MasterIndex(ns.DeviceByIndex(fl.InputIface)); master != 0 {
			fl.InputIface = master
			fl.Flags |= FlagSkipNexthopOIF
		}
	}
}

// FibRuleMatch reports whether fl references a domain master owning a
// forwarding table, and which table. The output interface is checked
// before the input interface, mirroring UpdateFlow's priority.
func FibRuleMatch(ns Namespace, fl *Flow) (uint32, bool) {
	idx := ReadLock()
	defer ReadUnlock(idx)

	if d := ns.DeviceByIndex(fl.OutputIface); d != nil && d.IsL3Master() {
		if ops := d.Ops(); ops != nil && ops.FibTable != nil {
			return ops.FibTable(), true
		}
	}

	if d := ns.DeviceByIndex(fl.InputIface); d != nil && d.IsL3Master() {
		if ops := d.Ops(); ops != nil && ops.FibTable != nil {
			return ops.FibTable(), true
		}
	}

	return 0, false
}
