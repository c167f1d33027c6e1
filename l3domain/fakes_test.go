package l3domain

// test doubles for the device-model and namespace collaborators

type fakeDevice struct {
	index  int
	master bool
	slave  bool
	up     *fakeDevice
	ops    *Ops
}

func (d *fakeDevice) Index() int       { return d.index }
func (d *fakeDevice) IsL3Master() bool { return d.master }
func (d *fakeDevice) IsL3Slave() bool  { return d.slave }
func (d *fakeDevice) Ops() *Ops        { return d.ops }

func (d *fakeDevice) Master() Device {
	if d.up == nil {
		return nil
	}
	return d.up
}

type fakeNamespace map[int]*fakeDevice

func (ns fakeNamespace) DeviceByIndex(ifindex int) Device {
	if d, ok := ns[ifindex]; ok {
		return d
	}
	return nil
}

func newMaster(index int, tableID uint32) *fakeDevice {
	d := &fakeDevice{index: index, master: true}
	d.ops = &Ops{
		FibTable: func() uint32 { return tableID },
	}
	return d
}

func newSlave(index int, master *fakeDevice) *fakeDevice {
	return &fakeDevice{index: index, slave: true, up: master}
}
