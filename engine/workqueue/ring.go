package workqueue

import (
	"github.com/Carmen-Shannon/oxy-vhm/common"
)

// Ring is the CPU emulation of the GPU ring buffer. Capacity is a power of two and slots are
// addressed by cursor & mask, so the free-running uint32 cursors may wrap.
type Ring struct {
	info  Info
	mask  uint32
	slots []uint32
}

var _ Queue = &Ring{}

// NewRing creates a ring with capacity rounded up to a power of two.
func NewRing(capacity uint32) *Ring {
	capacity = common.CeilPowerOfTwo(capacity)
	r := &Ring{
		mask:  capacity - 1,
		slots: make([]uint32, capacity),
	}
	r.Reset()
	return r
}

func (r *Ring) Capacity() uint32 {
	return uint32(len(r.slots))
}

func (r *Ring) Info() Info {
	return r.info
}

func (r *Ring) Push(items ...Item) bool {
	n := uint32(len(items))
	if r.info.Write-r.info.Read+n > r.Capacity() {
		return false
	}
	for _, it := range items {
		r.slots[r.info.Write&r.mask] = it.Pack()
		r.info.Write++
	}
	r.info.NumActive += int32(n)
	return true
}

func (r *Ring) Pop() (Item, bool) {
	if r.info.Read == r.info.Write {
		return Item{}, false
	}
	slot := r.info.Read & r.mask
	v := r.slots[slot]
	r.slots[slot] = EmptySlot
	r.info.Read++
	return UnpackItem(v), true
}

func (r *Ring) Retire() {
	r.info.NumActive--
}

func (r *Ring) Done() bool {
	return r.info.NumActive == 0 && r.info.Read == r.info.Write
}

func (r *Ring) Reset(seed ...Item) {
	for i := range r.slots {
		r.slots[i] = EmptySlot
	}
	r.info = Info{}
	r.Push(seed...)
}
