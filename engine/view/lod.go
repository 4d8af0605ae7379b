package view

import (
	"github.com/Carmen-Shannon/oxy-vhm/common"
	"github.com/Carmen-Shannon/oxy-vhm/engine/heightfield"
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// LodRanges holds the distance thresholds that separate consecutive LODs of one surface seen
// from one view. Threshold k is the distance beyond which LOD k+1 is sufficient.
type LodRanges struct {
	Lod0Distance     float32
	Lod0Distribution float32
	LodDistribution  float32
	LodScale         float32
	NumLods          uint32
}

// CalculateLodRanges derives the thresholds from the world size of a finest-level tile and the
// screen scale of the projection.
//
// Parameters:
//   - d: the surface descriptor
//   - projection: the projection matrix of the view driving LOD
//   - lodScale: the combined global and per-view LOD multiplier
//
// Returns:
//   - LodRanges: the thresholds
func CalculateLodRanges(d *heightfield.Descriptor, projection mgl32.Mat4, lodScale float32) LodRanges {
	lod0UVSize := 1 / float32(uint32(1)<<d.MaxLevel)
	lod0WorldRadius := mgl32.Vec2{d.UVToWorldScale[0] * lod0UVSize, d.UVToWorldScale[1] * lod0UVSize}.Len()
	screenMultiple := common.ProjectionScreenMultiple(projection)

	return LodRanges{
		Lod0Distance:     lod0WorldRadius * screenMultiple / d.Lod0ScreenSize,
		Lod0Distribution: d.Lod0Distribution,
		LodDistribution:  d.LodDistribution,
		LodScale:         lodScale,
		NumLods:          d.NumLods(),
	}
}

// Threshold returns the distance at which LOD k stops being required.
func (r LodRanges) Threshold(k uint32) float32 {
	t := r.Lod0Distance * r.LodScale
	if k == 0 {
		return t
	}
	t *= r.Lod0Distribution
	for i := uint32(1); i < k; i++ {
		t *= r.LodDistribution
	}
	return t
}

// LodFor returns the coarsest LOD acceptable at distance dist: the number of thresholds not
// beyond dist, bounded by the root level.
func (r LodRanges) LodFor(dist float32) uint32 {
	if r.NumLods == 0 {
		return 0
	}
	maxLod := r.NumLods - 1
	t := r.Lod0Distance * r.LodScale
	var lod uint32
	for lod < maxLod && t <= dist {
		lod++
		if lod == 1 {
			t *= r.Lod0Distribution
		} else {
			t *= r.LodDistribution
		}
	}
	return lod
}

// ContinuousLod returns the fractional LOD at distance dist, interpolated logarithmically
// between thresholds and linearly inside LOD 0.
func (r LodRanges) ContinuousLod(dist float32) float32 {
	lod := r.LodFor(dist)
	if r.NumLods == 0 || lod == r.NumLods-1 {
		return float32(lod)
	}
	hi := r.Threshold(lod)
	if lod == 0 {
		return common.Clamp(dist/hi, 0, 1)
	}
	lo := r.Threshold(lod - 1)
	frac := math32.Log(dist/lo) / math32.Log(hi/lo)
	return float32(lod) + common.Clamp(frac, 0, 1)
}

// Vec4 packs the ranges as (lod0Distance, lod0Distribution, lodDistribution, lodScale).
func (r LodRanges) Vec4() [4]float32 {
	return [4]float32{r.Lod0Distance, r.Lod0Distribution, r.LodDistribution, r.LodScale}
}
