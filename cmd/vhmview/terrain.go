package main

import (
	"github.com/Carmen-Shannon/oxy-vhm/engine/heightfield"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

type terrainConfig struct {
	Pages               uint32  `cli:""        env:"VHM_TERRAIN_PAGES"            help:"Page table size in pages per side."`
	SamplesPerPage      uint32  `cli:",hidden" env:"VHM_TERRAIN_SAMPLES_PER_PAGE" help:"Min/max height cells per page side."`
	TileSize            uint32  `cli:",hidden" env:"VHM_TERRAIN_TILE_SIZE"        help:"Texels per page side without border."`
	TileBorder          uint32  `cli:",hidden" env:"VHM_TERRAIN_TILE_BORDER"      help:"Border texels on each page side."`
	PhysicalTextureSize uint32  `cli:",hidden" env:"VHM_TERRAIN_PHYSICAL_SIZE"    help:"Physical texture size in texels."`
	QuadsPerTileSide    uint32  `cli:",hidden" env:"VHM_TERRAIN_QUADS"            help:"Grid quads per tile side."`
	WorldSize           float32 `cli:""        env:"VHM_TERRAIN_WORLD_SIZE"       help:"World extent of the terrain on each horizontal axis."`
	HeightScale         float32 `cli:""        env:"VHM_TERRAIN_HEIGHT_SCALE"     help:"World height of a normalized height of 1."`
	ResidentLevel       uint32  `cli:",hidden" env:"VHM_TERRAIN_RESIDENT_LEVEL"   help:"Finest page table level mapped at startup."`
}

func defaultTerrainConfig() terrainConfig {
	return terrainConfig{
		Pages:               64,
		SamplesPerPage:      4,
		TileSize:            128,
		TileBorder:          2,
		PhysicalTextureSize: 4096,
		QuadsPerTileSide:    16,
		WorldSize:           8192,
		HeightScale:         600,
		ResidentLevel:       3,
	}
}

// physicalPagesPerSide returns how many bordered pages fit on one side of the physical texture.
func (c terrainConfig) physicalPagesPerSide() uint32 {
	return max(c.PhysicalTextureSize/(c.TileSize+2*c.TileBorder), 1)
}

// heightAt returns the normalized procedural height at surface UV (u, v). The tile shader
// evaluates the same function.
func heightAt(u, v float32) float32 {
	const tau = 2 * math32.Pi
	return 0.5 + 0.25*math32.Sin(u*tau*3)*math32.Cos(v*tau*2) + 0.15*math32.Sin((u+v)*tau*7)
}

// heightSamples evaluates heightAt on the corners of a cells x cells grid.
func heightSamples(cells uint32) []float32 {
	samples := make([]float32, 0, (cells+1)*(cells+1))
	for y := uint32(0); y <= cells; y++ {
		for x := uint32(0); x <= cells; x++ {
			samples = append(samples, heightAt(float32(x)/float32(cells), float32(y)/float32(cells)))
		}
	}
	return samples
}

// newTerrain builds the procedural surface and maps every page from the resident level up to
// the coarsest level. It also returns the number of pages mapped.
func newTerrain(conf terrainConfig) (heightfield.Surface, *heightfield.MemoryPageTable, uint32, error) {
	if conf.Pages == 0 || conf.SamplesPerPage == 0 {
		return nil, nil, 0, errors.New("terrain needs at least one page and one sample per page").
			WithTag("pages", conf.Pages).
			WithTag("samples_per_page", conf.SamplesPerPage)
	}

	cells := conf.Pages * conf.SamplesPerPage
	minMax, err := heightfield.NewMinMaxHierarchyFromHeights(cells, cells, heightSamples(cells))
	if err != nil {
		return nil, nil, 0, errors.New("building terrain min/max hierarchy failed").Wrap(err)
	}

	pt := heightfield.NewMemoryPageTable(conf.Pages, conf.Pages)
	perSide := conf.physicalPagesPerSide()
	var mapped uint32
	for level := conf.ResidentLevel; level <= pt.MaxLevel(); level++ {
		mapped += pt.MapLevel(level, perSide)
	}

	surface := heightfield.NewSurface(
		heightfield.WithPageTable(pt),
		heightfield.WithTransform(mgl32.Scale3D(conf.WorldSize, conf.WorldSize, conf.HeightScale)),
		heightfield.WithMinMax(minMax),
		heightfield.WithTileSize(conf.TileSize, conf.TileBorder),
		heightfield.WithPhysicalTextureSize(conf.PhysicalTextureSize),
		heightfield.WithNumQuadsPerTileSide(conf.QuadsPerTileSide),
	)
	if _, err := surface.Descriptor(); err != nil {
		return nil, nil, 0, errors.New("terrain surface is invalid").Wrap(err)
	}
	return surface, pt, mapped, nil
}

// tileIndices triangulates an n x n quad grid whose (n+1)^2 vertices are numbered row by row.
func tileIndices(n uint32) []uint32 {
	stride := n + 1
	indices := make([]uint32, 0, n*n*6)
	for y := uint32(0); y < n; y++ {
		for x := uint32(0); x < n; x++ {
			i := y*stride + x
			indices = append(indices,
				i, i+1, i+stride,
				i+1, i+stride+1, i+stride,
			)
		}
	}
	return indices
}
