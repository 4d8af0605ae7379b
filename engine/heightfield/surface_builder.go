package heightfield

import (
	"github.com/go-gl/mathgl/mgl32"
)

// SurfaceBuilderOption is a functional option for configuring a Surface.
type SurfaceBuilderOption func(*surfaceImpl)

// WithID sets the surface handle instead of generating one.
func WithID(id SurfaceID) SurfaceBuilderOption {
	return func(s *surfaceImpl) {
		s.id = id
	}
}

// WithPageTable attaches the virtual texture page table.
func WithPageTable(pt PageTable) SurfaceBuilderOption {
	return func(s *surfaceImpl) {
		s.pageTable = pt
	}
}

// WithTransform sets the UV-space to world-space transform.
func WithTransform(m mgl32.Mat4) SurfaceBuilderOption {
	return func(s *surfaceImpl) {
		s.uvToWorld = m
	}
}

// WithMinMax attaches a min/max height hierarchy.
func WithMinMax(h *MinMaxHierarchy) SurfaceBuilderOption {
	return func(s *surfaceImpl) {
		s.minMax = h
	}
}

// WithTileSize sets the page size and border in texels of the physical texture.
func WithTileSize(tileSize, borderSize uint32) SurfaceBuilderOption {
	return func(s *surfaceImpl) {
		s.tileSize = tileSize
		s.tileBorderSize = borderSize
	}
}

// WithPhysicalTextureSize sets the physical texture size in texels.
func WithPhysicalTextureSize(size uint32) SurfaceBuilderOption {
	return func(s *surfaceImpl) {
		s.physicalTextureSize = size
	}
}

// WithLod0ScreenSize sets the screen size at which the finest page table level is used.
func WithLod0ScreenSize(size float32) SurfaceBuilderOption {
	return func(s *surfaceImpl) {
		s.lod0ScreenSize = size
	}
}

// WithLod0Distribution sets the multiplier between the first and second LOD thresholds.
func WithLod0Distribution(d float32) SurfaceBuilderOption {
	return func(s *surfaceImpl) {
		s.lod0Distribution = d
	}
}

// WithLodDistribution sets the multiplier between all subsequent LOD thresholds.
func WithLodDistribution(d float32) SurfaceBuilderOption {
	return func(s *surfaceImpl) {
		s.lodDistribution = d
	}
}

// WithNumTailLods appends LODs below the finest page table level that subdivide geometry only.
func WithNumTailLods(n uint32) SurfaceBuilderOption {
	return func(s *surfaceImpl) {
		s.numTailLods = n
	}
}

// WithNumOcclusionLods sets how many of the coarsest min/max mips become occlusion volumes.
func WithNumOcclusionLods(n uint32) SurfaceBuilderOption {
	return func(s *surfaceImpl) {
		s.numOcclusionLods = n
	}
}

// WithNumQuadsPerTileSide sets the grid resolution of every drawn tile.
func WithNumQuadsPerTileSide(n uint32) SurfaceBuilderOption {
	return func(s *surfaceImpl) {
		s.numQuadsPerTileSide = n
	}
}
