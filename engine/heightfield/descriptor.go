package heightfield

import (
	"github.com/Carmen-Shannon/oxy-vhm/common"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/go-gl/mathgl/mgl32"
)

// MaxTreeLevels bounds MaxLevel+NumTailLods so that node coordinates fit in 12 bits.
const MaxTreeLevels = 12

// Descriptor is the immutable per-frame snapshot of a surface read by the culling pipeline.
// A new Descriptor is built whenever the surface or its page table changes; existing ones are
// never mutated.
type Descriptor struct {
	ID SurfaceID

	PageTable         PageTable
	PageTableRevision uint64
	PageTableSize     [2]uint32
	MaxLevel          uint32
	NumTailLods       uint32

	TileSize            uint32
	TileBorderSize      uint32
	PhysicalTextureSize uint32
	// PhysicalPageTransform is (pageAndBorder, page, border, halfTexel) / physicalTextureSize.
	PhysicalPageTransform [4]float32

	UVToWorld mgl32.Mat4
	WorldToUV mgl32.Mat4
	// WorldToUVTransposeAdjoint transforms world-space plane normals into UV space.
	WorldToUVTransposeAdjoint mgl32.Mat4
	UVToWorldScale            mgl32.Vec3

	Lod0ScreenSize   float32
	Lod0Distribution float32
	LodDistribution  float32

	MinMax            *MinMaxHierarchy
	MinMaxLevelOffset int32

	NumOcclusionLods  uint32
	OcclusionGridSize [2]uint32
	OcclusionVolumes  []common.AABB

	NumQuadsPerTileSide uint32
}

func (s *surfaceImpl) buildDescriptor() (*Descriptor, error) {
	width, height := s.pageTable.Size()
	maxLevel := MaxLevelForSize(width, height)
	if maxLevel+s.numTailLods > MaxTreeLevels {
		return nil, errors.New("surface quadtree is too deep").
			WithTag("surface", s.id).
			WithTag("max_level", maxLevel).
			WithTag("tail_lods", s.numTailLods)
	}
	if s.uvToWorld.Det() == 0 {
		return nil, errors.New("surface transform is singular").WithTag("surface", s.id)
	}
	if s.physicalTextureSize == 0 || s.numQuadsPerTileSide == 0 {
		return nil, errors.New("surface tile parameters must be positive").WithTag("surface", s.id)
	}

	worldToUV := s.uvToWorld.Inv()
	pageAndBorder := float32(s.tileSize + 2*s.tileBorderSize)
	physSize := float32(s.physicalTextureSize)

	d := &Descriptor{
		ID:            s.id,
		PageTable:     s.pageTable,
		PageTableSize: [2]uint32{width, height},
		MaxLevel:      maxLevel,
		NumTailLods:   s.numTailLods,

		TileSize:            s.tileSize,
		TileBorderSize:      s.tileBorderSize,
		PhysicalTextureSize: s.physicalTextureSize,
		PhysicalPageTransform: [4]float32{
			pageAndBorder / physSize,
			float32(s.tileSize) / physSize,
			float32(s.tileBorderSize) / physSize,
			0.5 / physSize,
		},

		UVToWorld:                 s.uvToWorld,
		WorldToUV:                 worldToUV,
		WorldToUVTransposeAdjoint: common.TransposeAdjoint(worldToUV),
		UVToWorldScale:            common.ScaleVector(s.uvToWorld),

		Lod0ScreenSize:   max(s.lod0ScreenSize, 1e-4),
		Lod0Distribution: max(s.lod0Distribution, 1),
		LodDistribution:  max(s.lodDistribution, 1),

		MinMax: s.minMax,

		NumQuadsPerTileSide: s.numQuadsPerTileSide,
	}
	if s.minMax != nil {
		d.MinMaxLevelOffset = int32(s.minMax.NumMips()) - 1 - int32(maxLevel)
	}
	d.buildOcclusionVolumes(s.numOcclusionLods)
	return d, nil
}

// RootLevel returns the level of the single root node.
func (d *Descriptor) RootLevel() uint32 {
	return d.MaxLevel + d.NumTailLods
}

// NumLods returns the number of levels in the extended quadtree.
func (d *Descriptor) NumLods() uint32 {
	return d.RootLevel() + 1
}

// IndexCount returns the fixed number of indices drawn per tile.
func (d *Descriptor) IndexCount() uint32 {
	return d.NumQuadsPerTileSide * d.NumQuadsPerTileSide * 6
}

// Bounds returns the world-space bounds of the whole surface.
func (d *Descriptor) Bounds() common.AABB {
	return d.NodeBounds(d.RootLevel(), 0, 0).Transformed(d.UVToWorld)
}

// TransformPlanes moves world-space planes into the surface's UV space.
func (d *Descriptor) TransformPlanes(planes []common.Plane) []common.Plane {
	out := make([]common.Plane, len(planes))
	for i, p := range planes {
		out[i] = p.Transformed(d.WorldToUV, d.WorldToUVTransposeAdjoint)
	}
	return out
}
