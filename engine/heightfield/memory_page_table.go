package heightfield

import (
	"sync"
)

type pageKey struct {
	level, x, y uint32
}

// MemoryPageTable is an in-process PageTable. Pages are mapped explicitly, which makes it the
// page table used by tests and by the demo's procedural surface.
type MemoryPageTable struct {
	mu        *sync.RWMutex
	width     uint32
	height    uint32
	maxLevel  uint32
	allocated bool
	revision  uint64
	pages     map[pageKey][2]uint32
}

var _ PageTable = &MemoryPageTable{}

// NewMemoryPageTable creates an allocated page table of the given size in tiles with no resident pages.
func NewMemoryPageTable(width, height uint32) *MemoryPageTable {
	return &MemoryPageTable{
		mu:        &sync.RWMutex{},
		width:     max(width, 1),
		height:    max(height, 1),
		maxLevel:  MaxLevelForSize(max(width, 1), max(height, 1)),
		allocated: true,
		pages:     make(map[pageKey][2]uint32),
	}
}

func (t *MemoryPageTable) Size() (uint32, uint32) {
	return t.width, t.height
}

func (t *MemoryPageTable) MaxLevel() uint32 {
	return t.maxLevel
}

func (t *MemoryPageTable) Allocated() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.allocated
}

// SetAllocated toggles the allocation state.
func (t *MemoryPageTable) SetAllocated(allocated bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allocated = allocated
	t.revision++
}

// MapPage makes the page at (level, x, y) resident at physical page (physX, physY).
func (t *MemoryPageTable) MapPage(level, x, y, physX, physY uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pages[pageKey{level, x, y}] = [2]uint32{physX, physY}
	t.revision++
}

// UnmapPage evicts the page at (level, x, y).
func (t *MemoryPageTable) UnmapPage(level, x, y uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pages, pageKey{level, x, y})
	t.revision++
}

// MapLevel makes every page of a level resident, assigning physical pages row by row in a
// square physical texture that is physicalPagesPerSide pages wide. It returns the number of
// pages mapped.
func (t *MemoryPageTable) MapLevel(level, physicalPagesPerSide uint32) uint32 {
	w, h := LevelSize(t.width, t.height, level)
	t.mu.Lock()
	defer t.mu.Unlock()
	var n uint32
	for y := uint32(0); y < h; y++ {
		for x := uint32(0); x < w; x++ {
			t.pages[pageKey{level, x, y}] = [2]uint32{n % physicalPagesPerSide, (n / physicalPagesPerSide) % physicalPagesPerSide}
			n++
		}
	}
	t.revision++
	return n
}

func (t *MemoryPageTable) Lookup(level, x, y uint32) PageEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for l := level; l <= t.maxLevel; l++ {
		shift := l - level
		if phys, ok := t.pages[pageKey{l, x >> shift, y >> shift}]; ok {
			return PageEntry{PhysX: phys[0], PhysY: phys[1], Level: l, Resident: true}
		}
	}
	return PageEntry{}
}

func (t *MemoryPageTable) Revision() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.revision
}
