// Package cull turns a surface and a set of views into per-view lists of tile instances.
//
// A main view runs collection (quadtree traversal driven by distance LOD, frustum and
// occlusion), rasterizes the collected tiles into a LOD map and resolves each tile's neighbor
// LODs. Every cull view then filters that list into its own draw instance buffer.
package cull

import (
	"github.com/Carmen-Shannon/oxy-vhm/engine/workqueue"
)

// CullMode selects how a cull view filters the main view's tiles.
type CullMode int

const (
	// CullModeReuseMainView keeps every tile without a plane test. The caller guarantees the
	// cull view is the main view or sees a subset of it.
	CullModeReuseMainView CullMode = iota
	// CullModeIndependent tests every tile against the cull view's planes.
	CullModeIndependent
)

func (m CullMode) String() string {
	switch m {
	case CullModeReuseMainView:
		return "reuse-main-view"
	case CullModeIndependent:
		return "independent"
	default:
		return "unknown"
	}
}

// Neighbor sides in the order they are stored in RenderInstance.Neighbors.
const (
	SideNegX = iota
	SidePosX
	SideNegY
	SidePosY
	NumSides
)

// QuadItem is a tile emitted by collection.
type QuadItem struct {
	X     uint32
	Y     uint32
	Level uint32
	// Lod is the continuous LOD at the tile's distance, within [Level, Level+1].
	Lod float32
	// UVTransform maps the tile's local UV into the physical texture as (scale, biasU, biasV).
	UVTransform [3]float32
}

// Address packs the tile position the same way as a work queue slot.
func (q QuadItem) Address() uint32 {
	return workqueue.Item{X: q.X, Y: q.Y, Level: q.Level}.Pack()
}

// NeighborLod is the LOD and physical UV transform a tile edge stitches to.
type NeighborLod struct {
	Lod         float32
	UVTransform [3]float32
}

// RenderInstance is one tile to draw with the LODs of its four neighbors.
type RenderInstance struct {
	// AddressLevelPacked is x | y<<12 | level<<24.
	AddressLevelPacked uint32
	Lod                float32
	UVTransform        [3]float32
	Neighbors          [NumSides]NeighborLod
}

// Item returns the tile position.
func (r RenderInstance) Item() workqueue.Item {
	return workqueue.UnpackItem(r.AddressLevelPacked)
}

// CollectStats counts the terminal state of every node collection expanded.
// Expanded == Subdivided + Culled + Emitted always holds. Overflowed counts nodes that should
// have subdivided but were emitted or culled because the queue was full.
type CollectStats struct {
	Expanded   uint32
	Subdivided uint32
	Culled     uint32
	Emitted    uint32
	Overflowed uint32
}

// Add accumulates other into s.
func (s *CollectStats) Add(other CollectStats) {
	s.Expanded += other.Expanded
	s.Subdivided += other.Subdivided
	s.Culled += other.Culled
	s.Emitted += other.Emitted
	s.Overflowed += other.Overflowed
}

// Feedback holds the page requests of one (surface, main view) pair, packed by PackFeedback.
type Feedback struct {
	Requests []uint32
}

// PackFeedback encodes a page request as (level&0xf)<<24 | (y&0xfff)<<12 | (x&0xfff).
func PackFeedback(pageLevel, x, y uint32) uint32 {
	return (pageLevel&0xf)<<24 | (y&0xfff)<<12 | x&0xfff
}

// UnpackFeedback decodes a request produced by PackFeedback.
func UnpackFeedback(v uint32) (uint32, uint32, uint32) {
	return (v >> 24) & 0xf, v & 0xfff, (v >> 12) & 0xfff
}

// DrawIndexedIndirectArgs mirrors the layout consumed by an indexed indirect draw.
type DrawIndexedIndirectArgs struct {
	IndexCount    uint32
	InstanceCount uint32
	FirstIndex    uint32
	BaseVertex    int32
	FirstInstance uint32
}
