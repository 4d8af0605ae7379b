package heightfield

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/chewxy/math32"
)

// MaxMinMaxMips bounds the number of min/max mips uploaded to the GPU.
const MaxMinMaxMips = 16

// MinMax is a conservative height range in normalized [0, 1] surface height.
type MinMax struct {
	Min, Max float32
}

// DefaultMinMax is the bound used when no hierarchy is available.
var DefaultMinMax = MinMax{Min: 0, Max: 1}

// MinMaxMip locates one level of the hierarchy in the flat pair array.
type MinMaxMip struct {
	Offset, Width, Height uint32
}

// MinMaxHierarchy is a mip chain of height ranges stored as one flat array of pairs plus
// per-mip offsets. Mip 0 is the finest.
type MinMaxHierarchy struct {
	pairs []MinMax
	mips  []MinMaxMip
}

// NewMinMaxHierarchy builds the full mip chain from the finest level.
//
// Parameters:
//   - width: the width of the finest level
//   - height: the height of the finest level
//   - finest: width*height ranges in row-major order
//
// Returns:
//   - *MinMaxHierarchy: the hierarchy, coarsening down to a single 1x1 mip
//   - error: if the data does not match the dimensions or the chain is too deep
func NewMinMaxHierarchy(width, height uint32, finest []MinMax) (*MinMaxHierarchy, error) {
	if width == 0 || height == 0 || uint32(len(finest)) != width*height {
		return nil, errors.New("min/max data does not match its dimensions").
			WithTag("width", width).
			WithTag("height", height).
			WithTag("len", len(finest))
	}

	h := &MinMaxHierarchy{
		pairs: append([]MinMax(nil), finest...),
		mips:  []MinMaxMip{{Offset: 0, Width: width, Height: height}},
	}
	for w, ht := width, height; w > 1 || ht > 1; {
		prev := h.mips[len(h.mips)-1]
		w, ht = max((w+1)/2, 1), max((ht+1)/2, 1)
		mip := MinMaxMip{Offset: uint32(len(h.pairs)), Width: w, Height: ht}
		for y := uint32(0); y < ht; y++ {
			for x := uint32(0); x < w; x++ {
				r := MinMax{Min: math32.MaxFloat32, Max: -math32.MaxFloat32}
				for dy := uint32(0); dy < 2; dy++ {
					for dx := uint32(0); dx < 2; dx++ {
						sx, sy := 2*x+dx, 2*y+dy
						if sx >= prev.Width || sy >= prev.Height {
							continue
						}
						c := h.pairs[prev.Offset+sy*prev.Width+sx]
						r.Min = math32.Min(r.Min, c.Min)
						r.Max = math32.Max(r.Max, c.Max)
					}
				}
				h.pairs = append(h.pairs, r)
			}
		}
		h.mips = append(h.mips, mip)
	}

	if len(h.mips) > MaxMinMaxMips {
		return nil, errors.New("min/max hierarchy has too many mips").WithTag("mips", len(h.mips))
	}
	return h, nil
}

// NewMinMaxHierarchyFromHeights builds a hierarchy from a grid of height samples. The samples
// are the corners of the cells, so a (width+1) x (height+1) grid yields width x height cells.
func NewMinMaxHierarchyFromHeights(width, height uint32, samples []float32) (*MinMaxHierarchy, error) {
	if uint32(len(samples)) != (width+1)*(height+1) {
		return nil, errors.New("height samples do not match the cell grid").
			WithTag("width", width).
			WithTag("height", height).
			WithTag("len", len(samples))
	}
	stride := width + 1
	cells := make([]MinMax, 0, width*height)
	for y := uint32(0); y < height; y++ {
		for x := uint32(0); x < width; x++ {
			a, b := samples[y*stride+x], samples[y*stride+x+1]
			c, d := samples[(y+1)*stride+x], samples[(y+1)*stride+x+1]
			cells = append(cells, MinMax{
				Min: math32.Min(math32.Min(a, b), math32.Min(c, d)),
				Max: math32.Max(math32.Max(a, b), math32.Max(c, d)),
			})
		}
	}
	return NewMinMaxHierarchy(width, height, cells)
}

// NumMips returns the number of mips in the chain.
func (h *MinMaxHierarchy) NumMips() uint32 {
	return uint32(len(h.mips))
}

// Pairs returns the flat array of ranges of all mips.
func (h *MinMaxHierarchy) Pairs() []MinMax {
	return h.pairs
}

// Mips returns the per-mip offsets and sizes.
func (h *MinMaxHierarchy) Mips() []MinMaxMip {
	return h.mips
}

// Sample returns the range at (mip, x, y), clamping the coordinates into the mip.
func (h *MinMaxHierarchy) Sample(mip, x, y uint32) MinMax {
	if h == nil || len(h.mips) == 0 {
		return DefaultMinMax
	}
	m := h.mips[min(mip, uint32(len(h.mips)-1))]
	x = min(x, m.Width-1)
	y = min(y, m.Height-1)
	return h.pairs[m.Offset+y*m.Width+x]
}

// SampleWithOffset returns the range for the page at (pageLevel, x, y) where page level p
// corresponds to mip p+levelOffset. Pages finer than mip 0 sample mip 0 at shifted coordinates.
func (h *MinMaxHierarchy) SampleWithOffset(levelOffset int32, pageLevel, x, y uint32) MinMax {
	if h == nil {
		return DefaultMinMax
	}
	mip := int32(pageLevel) + levelOffset
	if mip < 0 {
		shift := uint32(-mip)
		return h.Sample(0, x>>shift, y>>shift)
	}
	return h.Sample(uint32(mip), x, y)
}
