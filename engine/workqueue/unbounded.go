package workqueue

import (
	"github.com/gammazero/deque"
)

// Unbounded is a FIFO queue that never rejects a push. It is the reference traversal the
// bounded ring is compared against.
type Unbounded struct {
	items     deque.Deque[Item]
	read      uint32
	write     uint32
	numActive int32
}

var _ Queue = &Unbounded{}

// NewUnbounded creates an empty unbounded queue.
func NewUnbounded() *Unbounded {
	return &Unbounded{}
}

func (u *Unbounded) Capacity() uint32 {
	return 0
}

func (u *Unbounded) Info() Info {
	return Info{Read: u.read, Write: u.write, NumActive: u.numActive}
}

func (u *Unbounded) Push(items ...Item) bool {
	for _, it := range items {
		u.items.PushBack(it)
	}
	u.write += uint32(len(items))
	u.numActive += int32(len(items))
	return true
}

func (u *Unbounded) Pop() (Item, bool) {
	if u.items.Len() == 0 {
		return Item{}, false
	}
	u.read++
	return u.items.PopFront(), true
}

func (u *Unbounded) Retire() {
	u.numActive--
}

func (u *Unbounded) Done() bool {
	return u.numActive == 0 && u.items.Len() == 0
}

func (u *Unbounded) Reset(seed ...Item) {
	u.items.Clear()
	u.read, u.write, u.numActive = 0, 0, 0
	u.Push(seed...)
}
