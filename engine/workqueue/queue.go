// Package workqueue implements the bounded ring buffer that drives breadth-first quadtree
// traversal during collection, together with an unbounded reference queue and the WGSL mirror
// of the ring used by the GPU collect pass.
package workqueue

// EmptySlot marks a queue slot that holds no item. Producers write into empty slots only and
// consumers swap the marker back in after reading.
const EmptySlot uint32 = 0xffffffff

const (
	coordBits = 12
	coordMask = 1<<coordBits - 1
	levelMask = 0xff
)

// Item is a quadtree node awaiting expansion: its level and coordinates at that level.
type Item struct {
	X     uint32
	Y     uint32
	Level uint32
}

// Pack encodes the item as x | y<<12 | level<<24.
func (i Item) Pack() uint32 {
	return i.X&coordMask | (i.Y&coordMask)<<coordBits | (i.Level&levelMask)<<(2*coordBits)
}

// UnpackItem decodes a value produced by Item.Pack.
func UnpackItem(v uint32) Item {
	return Item{
		X:     v & coordMask,
		Y:     (v >> coordBits) & coordMask,
		Level: (v >> (2 * coordBits)) & levelMask,
	}
}

// Info is the cursor state shared by producers and consumers.
// Read and Write are free-running cursors; NumActive counts items pushed but not yet retired.
type Info struct {
	Read      uint32
	Write     uint32
	NumActive int32
}

// Queue is the work queue contract shared by the CPU emulation and the GPU ring.
//
// An item is active from the moment it is pushed until the consumer that popped it calls
// Retire. Traversal is finished once no item is queued and none is active.
type Queue interface {
	// Capacity returns the maximum number of queued items, or 0 when unbounded.
	//
	// Returns:
	//   - uint32: the capacity
	Capacity() uint32

	// Info returns a snapshot of the cursors.
	//
	// Returns:
	//   - Info: the cursor state
	Info() Info

	// Push reserves slots for every item or for none of them.
	//
	// Parameters:
	//   - items: the items to enqueue
	//
	// Returns:
	//   - bool: false if the items did not fit and nothing was pushed
	Push(items ...Item) bool

	// Pop removes the oldest queued item.
	//
	// Returns:
	//   - Item: the popped item
	//   - bool: false if the queue was empty
	Pop() (Item, bool)

	// Retire marks one popped item as fully processed.
	Retire()

	// Done reports whether traversal has finished.
	//
	// Returns:
	//   - bool: true once nothing is queued and nothing is active
	Done() bool

	// Reset empties the queue and pushes the seed items.
	//
	// Parameters:
	//   - seed: the initial items, typically the root node
	Reset(seed ...Item)
}
