package heightfield

import (
	"github.com/Carmen-Shannon/oxy-vhm/common"
	"github.com/go-gl/mathgl/mgl32"
)

// OcclusionVolumeExpansion is added on every side of an occlusion volume, in world units.
const OcclusionVolumeExpansion = 3

// buildOcclusionVolumes derives one world-space volume per cell of the coarsest numLods
// min/max mips, finest of those first. Without a hierarchy the surface bounds are the only
// volume and occlusion results are never accepted.
func (d *Descriptor) buildOcclusionVolumes(numLods uint32) {
	d.NumOcclusionLods = 0
	d.OcclusionGridSize = [2]uint32{}
	if d.MinMax == nil || numLods == 0 {
		d.OcclusionVolumes = []common.AABB{d.Bounds()}
		return
	}

	n := min(numLods, d.MinMax.NumMips())
	mips := d.MinMax.Mips()
	base := uint32(len(mips)) - n
	d.NumOcclusionLods = n
	d.OcclusionGridSize = [2]uint32{mips[base].Width, mips[base].Height}

	volumes := make([]common.AABB, 0, len(d.MinMax.Pairs())-int(mips[base].Offset))
	for mip := base; mip < uint32(len(mips)); mip++ {
		m := mips[mip]
		for y := uint32(0); y < m.Height; y++ {
			for x := uint32(0); x < m.Width; x++ {
				h := d.MinMax.Sample(mip, x, y)
				box := common.AABB{
					Min: mgl32.Vec3{float32(x) / float32(m.Width), float32(y) / float32(m.Height), h.Min},
					Max: mgl32.Vec3{float32(x+1) / float32(m.Width), float32(y+1) / float32(m.Height), h.Max},
				}
				volumes = append(volumes, box.Transformed(d.UVToWorld).Expanded(OcclusionVolumeExpansion))
			}
		}
	}
	d.OcclusionVolumes = volumes
}
