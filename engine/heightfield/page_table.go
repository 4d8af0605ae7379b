package heightfield

import (
	"github.com/Carmen-Shannon/oxy-vhm/common"
)

// MaxPageTableLevels bounds the page table mip count uploaded to the GPU.
const MaxPageTableLevels = 16

// PageEntry is the result of a page table lookup.
type PageEntry struct {
	// PhysX and PhysY locate the page in the physical texture, in pages.
	PhysX, PhysY uint32
	// Level is the page table level that is actually resident. It is equal to or coarser than
	// the requested level.
	Level uint32
	// Resident is false when neither the requested page nor any of its ancestors are resident.
	Resident bool
}

// PageTable is the virtual texture page table supplied by the paging system.
type PageTable interface {
	// Size returns the page table dimensions in tiles at level 0.
	//
	// Returns:
	//   - uint32: the width in tiles
	//   - uint32: the height in tiles
	Size() (uint32, uint32)

	// Allocated reports whether the page table has a valid virtual texture allocation.
	// Surfaces without an allocation are skipped for the frame.
	//
	// Returns:
	//   - bool: true if the page table can be used
	Allocated() bool

	// Lookup resolves the page at (level, x, y) to the finest resident page covering it.
	//
	// Parameters:
	//   - level: the requested page table level, 0 being the finest
	//   - x: the page column at that level
	//   - y: the page row at that level
	//
	// Returns:
	//   - PageEntry: the resident page, or an entry with Resident false
	Lookup(level, x, y uint32) PageEntry

	// Revision returns a counter that changes every time residency changes.
	//
	// Returns:
	//   - uint64: the current revision
	Revision() uint64
}

// MaxLevelForSize returns the page table mip count minus one for a table of the given size.
func MaxLevelForSize(width, height uint32) uint32 {
	return common.CeilLog2(max(width, height))
}

// LevelSize returns the page table dimensions at the given level.
func LevelSize(width, height, level uint32) (uint32, uint32) {
	return max(common.DivideAndRoundUp(width, uint32(1)<<level), 1), max(common.DivideAndRoundUp(height, uint32(1)<<level), 1)
}

// PackPageEntry packs an entry as physX | physY<<12 | level<<24 | resident<<31.
func PackPageEntry(e PageEntry) uint32 {
	if !e.Resident {
		return 0
	}
	return (e.PhysX & 0xfff) | (e.PhysY&0xfff)<<12 | (e.Level&0xf)<<24 | 1<<31
}

// UnpackPageEntry reverses PackPageEntry.
func UnpackPageEntry(v uint32) PageEntry {
	return PageEntry{
		PhysX:    v & 0xfff,
		PhysY:    (v >> 12) & 0xfff,
		Level:    (v >> 24) & 0xf,
		Resident: v&(1<<31) != 0,
	}
}

// PageTableMip locates one level of a packed page table.
type PageTableMip struct {
	Offset, Width, Height uint32
}

// PackPageTable resolves every page of every level and packs the results for GPU upload.
//
// Parameters:
//   - pt: the page table to pack
//   - maxLevel: the coarsest level to include
//
// Returns:
//   - []uint32: the packed entries of all levels, finest first
//   - []PageTableMip: where each level starts in the packed entries
func PackPageTable(pt PageTable, maxLevel uint32) ([]uint32, []PageTableMip) {
	width, height := pt.Size()
	var entries []uint32
	mips := make([]PageTableMip, 0, maxLevel+1)
	for level := uint32(0); level <= maxLevel; level++ {
		w, h := LevelSize(width, height, level)
		mips = append(mips, PageTableMip{Offset: uint32(len(entries)), Width: w, Height: h})
		for y := uint32(0); y < h; y++ {
			for x := uint32(0); x < w; x++ {
				entries = append(entries, PackPageEntry(pt.Lookup(level, x, y)))
			}
		}
	}
	return entries, mips
}
