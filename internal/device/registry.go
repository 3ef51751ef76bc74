package device

import (
	"sort"

	"github.com/danmuck/glovelink/internal/protocol"
)

// Registry is the set of devices the server currently reports. It is not safe
// for concurrent use; the link serializes access.
type Registry struct {
	devices map[uint64]*Device
}

func NewRegistry() *Registry {
	return &Registry{devices: make(map[uint64]*Device)}
}

// Reconcile makes the registry match ids. New ids start in Identify, missing
// ids are dropped, and devices present in both are untouched.
func (r *Registry) Reconcile(ids []uint64) (added, removed []uint64) {
	present := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		present[id] = struct{}{}
		if _, ok := r.devices[id]; !ok {
			r.devices[id] = New(id)
			added = append(added, id)
		}
	}
	for id := range r.devices {
		if _, ok := present[id]; !ok {
			delete(r.devices, id)
			removed = append(removed, id)
		}
	}
	sortIDs(added)
	sortIDs(removed)
	return added, removed
}

func (r *Registry) Get(id uint64) (*Device, bool) {
	d, ok := r.devices[id]
	return d, ok
}

func (r *Registry) Len() int {
	return len(r.devices)
}

// Each visits devices in id order.
func (r *Registry) Each(fn func(*Device)) {
	for _, id := range r.ids() {
		fn(r.devices[id])
	}
}

func (r *Registry) Clear() {
	r.devices = make(map[uint64]*Device)
}

// AllReady is true when at least one device exists and every device is Ready.
func (r *Registry) AllReady() bool {
	if len(r.devices) == 0 {
		return false
	}
	for _, d := range r.devices {
		if d.State != Ready {
			return false
		}
	}
	return true
}

func (r *Registry) AnyIdentifying() bool {
	for _, d := range r.devices {
		if d.State == Identify {
			return true
		}
	}
	return false
}

// ByLaterality returns every identified device of that side, in id order.
func (r *Registry) ByLaterality(side protocol.Laterality) []*Device {
	var out []*Device
	r.Each(func(d *Device) {
		if d.Laterality == side && side != protocol.LateralityUnknown {
			out = append(out, d)
		}
	})
	return out
}

func (r *Registry) Snapshot() []Snapshot {
	out := make([]Snapshot, 0, len(r.devices))
	r.Each(func(d *Device) {
		out = append(out, d.Snapshot())
	})
	return out
}

// CountByState feeds the device state gauge.
func (r *Registry) CountByState() map[State]int {
	out := make(map[State]int)
	for _, d := range r.devices {
		out[d.State]++
	}
	return out
}

func (r *Registry) ids() []uint64 {
	ids := make([]uint64, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

func sortIDs(ids []uint64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
