// Package occlusion caches the per-frame visibility of a surface's occlusion volumes and
// answers node visibility queries during collection.
package occlusion

import (
	"github.com/Carmen-Shannon/oxy-vhm/common"
)

// Visible is the texel value of a visible cell.
const Visible byte = 255

// Result is a mip chain of visibility cells. Mip 0 is the finest grid and each following mip
// halves it. A cell value of Visible means at least part of the cell may be seen.
type Result struct {
	Mips    [][]byte
	Sizes   [][2]uint32
	NumMips uint32
}

// NoOcclusion returns the fallback result: a single visible cell that covers every node.
func NoOcclusion() *Result {
	return &Result{
		Mips:    [][]byte{{Visible}},
		Sizes:   [][2]uint32{{1, 1}},
		NumMips: 1,
	}
}

// Size returns the size of mip 0.
func (r *Result) Size() [2]uint32 {
	return r.Sizes[0]
}

// LevelOffset returns the page-table level that mip 0 corresponds to. The coarsest mip always
// maps to maxLevel, so the fallback maps straight to the root page.
func (r *Result) LevelOffset(maxLevel uint32) int32 {
	return int32(maxLevel) - int32(r.NumMips) + 1
}

// NodeVisible samples the cell covering the page (pageLevel, x, y). Pages finer than mip 0
// sample mip 0 at their shifted-down coordinates. Coordinates are clamped to the mip.
//
// Parameters:
//   - levelOffset: the value of LevelOffset for the surface
//   - pageLevel: the page-table level of the node
//   - x, y: the page coordinates at pageLevel
//
// Returns:
//   - bool: false only when the covering cell is known to be hidden
func (r *Result) NodeVisible(levelOffset int32, pageLevel, x, y uint32) bool {
	if r == nil || r.NumMips == 0 {
		return true
	}
	mip := int32(pageLevel) - levelOffset
	if mip < 0 {
		x >>= uint32(-mip)
		y >>= uint32(-mip)
		mip = 0
	}
	mip = min(mip, int32(r.NumMips)-1)
	size := r.Sizes[mip]
	x = common.Clamp(x, 0, size[0]-1)
	y = common.Clamp(y, 0, size[1]-1)
	return r.Mips[mip][y*size[0]+x] == Visible
}
