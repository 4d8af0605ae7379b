package heightfield

import (
	"github.com/Carmen-Shannon/oxy-vhm/common"
	"github.com/go-gl/mathgl/mgl32"
)

// Nodes of the extended quadtree are addressed by (level, x, y). Level 0 is the finest tail
// level, NumTailLods is the finest page table level and RootLevel is the single root. A node at
// level l covers 2^(l-NumTailLods) page table tiles per side.

// PageLevel returns the page table level that backs nodes at the given level.
func (d *Descriptor) PageLevel(level uint32) uint32 {
	if level < d.NumTailLods {
		return 0
	}
	return level - d.NumTailLods
}

// PageCoords returns the page that contains the node. Tail nodes share their finest page.
func (d *Descriptor) PageCoords(level, x, y uint32) (uint32, uint32, uint32) {
	if level < d.NumTailLods {
		shift := d.NumTailLods - level
		return 0, x >> shift, y >> shift
	}
	return level - d.NumTailLods, x, y
}

// NodeInRange reports whether the node starts inside the page table. Non power of two tables
// leave part of the quadtree uncovered.
func (d *Descriptor) NodeInRange(level, x, y uint32) bool {
	return x<<level < d.PageTableSize[0]<<d.NumTailLods && y<<level < d.PageTableSize[1]<<d.NumTailLods
}

// NodeUVRect returns the UV-space rectangle covered by the node, clamped to the surface.
func (d *Descriptor) NodeUVRect(level, x, y uint32) (mgl32.Vec2, mgl32.Vec2) {
	scale := float32(uint32(1)<<level) / float32(uint32(1)<<d.NumTailLods)
	sx := scale / float32(d.PageTableSize[0])
	sy := scale / float32(d.PageTableSize[1])
	lo := mgl32.Vec2{float32(x) * sx, float32(y) * sy}
	hi := mgl32.Vec2{min(float32(x+1)*sx, 1), min(float32(y+1)*sy, 1)}
	return lo, hi
}

// NodeHeightRange returns the conservative normalized height range of the node.
func (d *Descriptor) NodeHeightRange(level, x, y uint32) MinMax {
	p, px, py := d.PageCoords(level, x, y)
	return d.MinMax.SampleWithOffset(d.MinMaxLevelOffset, p, px, py)
}

// NodeBounds returns the UV-space bounding box of the node including its height range.
func (d *Descriptor) NodeBounds(level, x, y uint32) common.AABB {
	lo, hi := d.NodeUVRect(level, x, y)
	h := d.NodeHeightRange(level, x, y)
	return common.AABB{
		Min: mgl32.Vec3{lo[0], lo[1], h.Min},
		Max: mgl32.Vec3{hi[0], hi[1], h.Max},
	}
}

// Children returns the in-range children of the node. Level 0 nodes have none.
func (d *Descriptor) Children(level, x, y uint32) [][2]uint32 {
	if level == 0 {
		return nil
	}
	children := make([][2]uint32, 0, 4)
	for i := uint32(0); i < 4; i++ {
		cx, cy := 2*x+(i&1), 2*y+(i>>1)
		if d.NodeInRange(level-1, cx, cy) {
			children = append(children, [2]uint32{cx, cy})
		}
	}
	return children
}

// PhysicalUVTransform maps the node's local [0, 1] UV into the physical texture as
// (scale, biasU, biasV). When only a coarser page is resident the transform addresses the
// node's sub-rectangle of that page.
//
// Parameters:
//   - level: the node level
//   - x: the node column
//   - y: the node row
//
// Returns:
//   - [3]float32: the transform, zero when nothing is resident
//   - PageEntry: the resolved page table entry
//   - bool: true when the page at the node's own page level is resident
func (d *Descriptor) PhysicalUVTransform(level, x, y uint32) ([3]float32, PageEntry, bool) {
	p, px, py := d.PageCoords(level, x, y)
	entry := d.PageTable.Lookup(p, px, py)
	if !entry.Resident {
		return [3]float32{}, entry, false
	}

	size := float32(1)
	var ox, oy float32
	if level < d.NumTailLods {
		shift := d.NumTailLods - level
		size = 1 / float32(uint32(1)<<shift)
		mask := uint32(1)<<shift - 1
		ox = float32(x&mask) * size
		oy = float32(y&mask) * size
	}

	delta := entry.Level - p
	inv := 1 / float32(uint32(1)<<delta)
	mask := uint32(1)<<delta - 1
	ox = (float32(px&mask) + ox) * inv
	oy = (float32(py&mask) + oy) * inv
	size *= inv

	ppt := d.PhysicalPageTransform
	return [3]float32{
		size * ppt[1],
		float32(entry.PhysX)*ppt[0] + ppt[2] + ox*ppt[1],
		float32(entry.PhysY)*ppt[0] + ppt[2] + oy*ppt[1],
	}, entry, delta == 0
}
