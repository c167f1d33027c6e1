package nlsys

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"

	"github.com/netdrift/l3domain/l3domain"
	"github.com/netdrift/l3domain/log"
	"github.com/netdrift/l3domain/rcu"
)

const (
	// linkChanBuffer absorbs netlink event bursts (interface flaps,
	// batch enslavements) without dropping the subscription.
	linkChanBuffer = 64

	// DefaultResyncInterval is how often the snapshot is rebuilt from
	// a full link dump when the caller does not say otherwise. The
	// periodic resync is the safety net for missed events.
	DefaultResyncInterval = 60 * time.Second
)

// Config tunes a Monitor.
type Config struct {
	// NetNS is the name of the network namespace to watch. Empty
	// means the current namespace.
	NetNS string

	// ResyncInterval overrides DefaultResyncInterval when non-zero.
	ResyncInterval time.Duration
}

// Monitor watches the links of one network namespace and keeps a
// copy-on-write snapshot of them, published through an atomic pointer
// so DeviceByIndex never blocks or locks. It implements both
// l3domain.Namespace and the l3domain.TableLookup handler for VRF
// domains.
//
// Construction registers the monitor with the registry; Close
// unregisters it and waits out the grace period, after which no lookup
// can reach it anymore.
type Monitor struct {
	cfg      Config
	registry *l3domain.Registry
	dom      *rcu.Domain

	handle   *netlink.Handle
	nsHandle netns.NsHandle
	ownNS    bool

	// mu serializes snapshot mutation; readers go through the atomic
	// pointers only
	mu      sync.Mutex
	devices atomic.Pointer[map[int]*sysDevice]
	tables  atomic.Pointer[map[uint32]int]
}

func newMonitor(registry *l3domain.Registry, cfg Config) *Monitor {
	if cfg.ResyncInterval <= 0 {
		cfg.ResyncInterval = DefaultResyncInterval
	}
	m := &Monitor{
		cfg:      cfg,
		registry: registry,
		dom:      l3domain.Readers(),
	}
	devs := map[int]*sysDevice{}
	tables := map[uint32]int{}
	m.devices.Store(&devs)
	m.tables.Store(&tables)
	return m
}

// NewMonitor builds a Monitor over the configured namespace, loads the
// initial snapshot and registers the VRF table-lookup handler with
// registry. Callers still have to start the event loop with Run.
func NewMonitor(registry *l3domain.Registry, cfg Config) (*Monitor, error) {
	m := newMonitor(registry, cfg)

	var err error
	if cfg.NetNS != "" {
		m.nsHandle, err = netns.GetFromName(cfg.NetNS)
		if err != nil {
			return nil, fmt.Errorf("nlsys: namespace %s: %w", cfg.NetNS, err)
		}
		m.ownNS = true
		m.handle, err = netlink.NewHandleAt(m.nsHandle)
	} else {
		m.handle, err = netlink.NewHandle()
	}
	if err != nil {
		return nil, fmt.Errorf("nlsys: netlink handle: %w", err)
	}

	if err := m.resync(); err != nil {
		m.handle.Delete()
		return nil, err
	}

	if err := registry.Register(l3domain.TypeVRF, m); err != nil {
		m.handle.Delete()
		return nil, err
	}

	return m, nil
}

// Run pumps link events into the snapshot until stopCh is closed,
// rebuilding it from a full dump every resync interval. Losing the
// netlink subscription is tolerated: events are missed until the next
// resync, which also resubscribes.
func (m *Monitor) Run(stopCh chan struct{}) {
	opts := netlink.LinkSubscribeOptions{
		ErrorCallback: func(err error) {
			log.Error("nlsys: netlink subscription error: %s", err)
		},
	}
	if m.ownNS {
		opts.Namespace = &m.nsHandle
	}

	linkChan := make(chan netlink.LinkUpdate, linkChanBuffer)
	subscribed := true
	if err := netlink.LinkSubscribeWithOptions(linkChan, stopCh, opts); err != nil {
		log.Error("nlsys: link subscribe failed: %s", err)
		subscribed = false
	}

	ticker := time.NewTicker(m.cfg.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case update, ok := <-linkChan:
			if !ok {
				log.Warning("nlsys: netlink channel closed, resubscribing")
				subscribed = false
				// park on a channel nobody writes to until the
				// resubscribe below succeeds
				linkChan = make(chan netlink.LinkUpdate)
			} else {
				m.apply(update)
				continue
			}

		case <-ticker.C:
			if err := m.resync(); err != nil {
				log.Error("nlsys: resync failed: %s", err)
			}

		case <-stopCh:
			return
		}

		if !subscribed {
			newChan := make(chan netlink.LinkUpdate, linkChanBuffer)
			if err := netlink.LinkSubscribeWithOptions(newChan, stopCh, opts); err != nil {
				log.Error("nlsys: link resubscribe failed: %s", err)
			} else {
				linkChan = newChan
				subscribed = true
				if err := m.resync(); err != nil {
					log.Error("nlsys: resync failed: %s", err)
				}
			}
		}
	}
}

// Close unregisters the VRF handler, which blocks until every lookup
// that could still reach this monitor has finished, then releases the
// netlink resources.
func (m *Monitor) Close() error {
	if err := m.registry.Unregister(l3domain.TypeVRF, m); err != nil {
		return err
	}
	if m.handle != nil {
		m.handle.Delete()
	}
	if m.ownNS {
		m.nsHandle.Close()
	}
	return nil
}

// DeviceByIndex implements l3domain.Namespace against the current
// snapshot. Lock-free.
func (m *Monitor) DeviceByIndex(ifindex int) l3domain.Device {
	if d := m.deviceByIndex(ifindex); d != nil {
		return d
	}
	return nil
}

func (m *Monitor) deviceByIndex(ifindex int) *sysDevice {
	if ifindex == 0 {
		return nil
	}
	devs := *m.devices.Load()
	return devs[ifindex]
}

// DeviceIndexByTable implements l3domain.TableLookup: the index of the
// VRF owning tableID, zero for none. The reserved unspec table never
// matches.
func (m *Monitor) DeviceIndexByTable(_ l3domain.Namespace, tableID uint32) int {
	if tableID == unix.RT_TABLE_UNSPEC {
		return 0
	}
	tables := *m.tables.Load()
	return tables[tableID]
}

// DeviceIndexes returns the indexes of the snapshot's devices, sorted.
func (m *Monitor) DeviceIndexes() []int {
	devs := *m.devices.Load()
	indexes := make([]int, 0, len(devs))
	for idx := range devs {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	return indexes
}

// DeviceName returns the name of the device with the given index, or
// an empty string.
func (m *Monitor) DeviceName(ifindex int) string {
	if d := m.deviceByIndex(ifindex); d != nil {
		return d.name
	}
	return ""
}

// resync rebuilds the snapshot from a full link dump.
func (m *Monitor) resync() error {
	links, err := m.handle.LinkList()
	if err != nil {
		return fmt.Errorf("nlsys: link dump: %w", err)
	}
	m.setLinks(links)
	return nil
}

func (m *Monitor) setLinks(links []netlink.Link) {
	m.mu.Lock()
	defer m.mu.Unlock()

	devs := make(map[int]*sysDevice, len(links))
	for _, link := range links {
		d := m.newDevice(link)
		devs[d.index] = d
	}

	old := m.devices.Swap(&devs)
	m.publishTables(devs)

	for idx, d := range *old {
		if _, ok := devs[idx]; !ok {
			m.reclaim(d)
		}
	}
}

// apply folds one link event into the snapshot, copy-on-write.
func (m *Monitor) apply(update netlink.LinkUpdate) {
	attrs := update.Link.Attrs()
	if attrs == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur := *m.devices.Load()
	next := make(map[int]*sysDevice, len(cur)+1)
	for idx, d := range cur {
		next[idx] = d
	}

	prev := next[attrs.Index]
	if update.Header.Type == unix.RTM_DELLINK {
		if prev == nil {
			return
		}
		delete(next, attrs.Index)
		log.Debug("nlsys: link %s (%d) gone", prev.name, prev.index)
	} else {
		d := m.newDevice(update.Link)
		next[attrs.Index] = d
		if d.master {
			log.Debug("nlsys: vrf %s (%d) owns table %d", d.name, d.index, d.tableID)
		}
	}

	m.devices.Store(&next)
	m.publishTables(next)

	if prev != nil {
		m.reclaim(prev)
	}
}

// publishTables derives the table→master index from a device snapshot.
// Masters are few, so a full rebuild per change is cheap.
func (m *Monitor) publishTables(devs map[int]*sysDevice) {
	tables := make(map[uint32]int)
	for _, d := range devs {
		if d.master && d.tableID != unix.RT_TABLE_UNSPEC {
			tables[d.tableID] = d.index
		}
	}
	m.tables.Store(&tables)
}

// reclaim detaches a device no longer in the snapshot once every
// lookup that might still hold it has finished.
func (m *Monitor) reclaim(d *sysDevice) {
	m.dom.Call(d.detach)
}
