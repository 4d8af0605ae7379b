package cull

import (
	"github.com/Carmen-Shannon/oxy-vhm/engine/heightfield"
)

// LodMapClearValue is the largest finite half float, the initial value of every LOD map texel.
const LodMapClearValue = 65504

// LodMap is the CPU rendition of the RG16Float LOD map. It has one texel per finest page and
// stores the minimum (continuous LOD, level) of the tiles covering it.
type LodMap struct {
	Width  uint32
	Height uint32
	Texels [][2]float32
}

// NewLodMap creates a map of the given size with every texel cleared.
func NewLodMap(width, height uint32) *LodMap {
	m := &LodMap{
		Width:  width,
		Height: height,
		Texels: make([][2]float32, width*height),
	}
	m.Clear()
	return m
}

// Clear resets every texel to LodMapClearValue.
func (m *LodMap) Clear() {
	for i := range m.Texels {
		m.Texels[i] = [2]float32{LodMapClearValue, LodMapClearValue}
	}
}

// Footprint returns the texel rectangle [x0, x1) x [y0, y1) a tile covers, clipped to the map.
// Tail tiles cover the texel of their containing page.
func Footprint(d *heightfield.Descriptor, level, x, y uint32) (x0, y0, x1, y1 uint32) {
	p, px, py := d.PageCoords(level, x, y)
	x0, y0 = px<<p, py<<p
	x1 = min((px+1)<<p, d.PageTableSize[0])
	y1 = min((py+1)<<p, d.PageTableSize[1])
	return x0, y0, x1, y1
}

// Rasterize writes every quad into its footprint with a per-channel minimum blend.
func (m *LodMap) Rasterize(d *heightfield.Descriptor, quads []QuadItem) {
	for _, q := range quads {
		x0, y0, x1, y1 := Footprint(d, q.Level, q.X, q.Y)
		for y := y0; y < min(y1, m.Height); y++ {
			for x := x0; x < min(x1, m.Width); x++ {
				t := &m.Texels[y*m.Width+x]
				t[0] = min(t[0], q.Lod)
				t[1] = min(t[1], float32(q.Level))
			}
		}
	}
}

// Sample returns the texel at (x, y), or false when the coordinates are off the map.
func (m *LodMap) Sample(x, y int64) ([2]float32, bool) {
	if x < 0 || y < 0 || x >= int64(m.Width) || y >= int64(m.Height) {
		return [2]float32{}, false
	}
	return m.Texels[uint32(y)*m.Width+uint32(x)], true
}
