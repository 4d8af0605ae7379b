package cull

import (
	"github.com/Carmen-Shannon/oxy-vhm/engine/heightfield"
)

// ResolveNeighbors builds the render instances of the collected quads. Each edge samples the
// LOD map one texel outside the tile's footprint, at the middle of that edge. An edge facing
// off the map keeps the tile's own LOD, otherwise it takes the coarser of the two LODs so the
// finer side stitches to the coarser one.
//
// Parameters:
//   - d: the surface descriptor
//   - m: the rasterized LOD map
//   - quads: the collected tiles
//
// Returns:
//   - []RenderInstance: one instance per quad, in quad order
func ResolveNeighbors(d *heightfield.Descriptor, m *LodMap, quads []QuadItem) []RenderInstance {
	out := make([]RenderInstance, len(quads))
	for i, q := range quads {
		x0, y0, x1, y1 := Footprint(d, q.Level, q.X, q.Y)
		midX := int64(x0+x1) / 2
		midY := int64(y0+y1) / 2
		samples := [NumSides][2]int64{
			SideNegX: {int64(x0) - 1, midY},
			SidePosX: {int64(x1), midY},
			SideNegY: {midX, int64(y0) - 1},
			SidePosY: {midX, int64(y1)},
		}
		adjacent := [NumSides][2]int64{
			SideNegX: {int64(q.X) - 1, int64(q.Y)},
			SidePosX: {int64(q.X) + 1, int64(q.Y)},
			SideNegY: {int64(q.X), int64(q.Y) - 1},
			SidePosY: {int64(q.X), int64(q.Y) + 1},
		}

		inst := RenderInstance{
			AddressLevelPacked: q.Address(),
			Lod:                q.Lod,
			UVTransform:        q.UVTransform,
		}
		for side := range NumSides {
			lod := q.Lod
			if t, ok := m.Sample(samples[side][0], samples[side][1]); ok {
				lod = max(lod, t[0])
			}
			inst.Neighbors[side] = NeighborLod{
				Lod:         lod,
				UVTransform: neighborTransform(d, q, adjacent[side]),
			}
		}
		out[i] = inst
	}
	return out
}

func neighborTransform(d *heightfield.Descriptor, q QuadItem, at [2]int64) [3]float32 {
	if at[0] < 0 || at[1] < 0 || !d.NodeInRange(q.Level, uint32(at[0]), uint32(at[1])) {
		return q.UVTransform
	}
	uv, _, _ := d.PhysicalUVTransform(q.Level, uint32(at[0]), uint32(at[1]))
	return uv
}
