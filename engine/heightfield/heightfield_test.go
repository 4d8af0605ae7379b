package heightfield

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinMaxHierarchy(t *testing.T) {
	finest := []MinMax{
		{0.1, 0.2}, {0.3, 0.4}, {0.0, 0.9}, {0.5, 0.5},
		{0.2, 0.3}, {0.1, 0.1}, {0.4, 0.6}, {0.2, 0.8},
	}
	h, err := NewMinMaxHierarchy(4, 2, finest)
	require.NoError(t, err)

	require.Equal(t, uint32(3), h.NumMips())
	require.Equal(t, []MinMaxMip{{0, 4, 2}, {8, 2, 1}, {10, 1, 1}}, h.Mips())

	assert.Equal(t, MinMax{0.1, 0.4}, h.Sample(1, 0, 0))
	assert.Equal(t, MinMax{0.0, 0.9}, h.Sample(1, 1, 0))
	assert.Equal(t, MinMax{0.0, 0.9}, h.Sample(2, 0, 0))

	// Coordinates are clamped into the mip.
	assert.Equal(t, h.Sample(0, 3, 1), h.Sample(0, 10, 10))

	t.Run("nil hierarchy", func(t *testing.T) {
		var nilH *MinMaxHierarchy
		assert.Equal(t, DefaultMinMax, nilH.Sample(0, 0, 0))
		assert.Equal(t, DefaultMinMax, nilH.SampleWithOffset(0, 0, 0, 0))
	})

	t.Run("finer pages sample mip 0", func(t *testing.T) {
		// Offset -1: page level 0 is twice as fine as mip 0.
		assert.Equal(t, h.Sample(0, 1, 0), h.SampleWithOffset(-1, 0, 3, 1))
		assert.Equal(t, h.Sample(1, 1, 0), h.SampleWithOffset(-1, 2, 1, 0))
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := NewMinMaxHierarchy(3, 3, finest)
		require.Error(t, err)
	})
}

func TestMinMaxFromHeights(t *testing.T) {
	samples := []float32{
		0, 1, 0,
		0, 0, 0.5,
	}
	h, err := NewMinMaxHierarchyFromHeights(2, 1, samples)
	require.NoError(t, err)
	assert.Equal(t, MinMax{0, 1}, h.Sample(0, 0, 0))
	assert.Equal(t, MinMax{0, 1}, h.Sample(0, 1, 0))
	assert.Equal(t, MinMax{0, 1}, h.Sample(1, 0, 0))
}

func TestMemoryPageTable(t *testing.T) {
	pt := NewMemoryPageTable(4, 4)
	require.Equal(t, uint32(2), pt.MaxLevel())
	require.True(t, pt.Allocated())

	assert.False(t, pt.Lookup(0, 1, 1).Resident)

	rev := pt.Revision()
	pt.MapPage(2, 0, 0, 7, 3)
	require.Greater(t, pt.Revision(), rev)

	// Only the root is resident: every finer lookup resolves to it.
	e := pt.Lookup(0, 3, 2)
	assert.Equal(t, PageEntry{PhysX: 7, PhysY: 3, Level: 2, Resident: true}, e)

	pt.MapPage(1, 1, 1, 1, 1)
	assert.Equal(t, uint32(1), pt.Lookup(0, 3, 2).Level)
	assert.Equal(t, uint32(2), pt.Lookup(0, 0, 0).Level)

	assert.Equal(t, uint32(16), pt.MapLevel(0, 8))
	assert.Equal(t, PageEntry{PhysX: 6, PhysY: 1, Level: 0, Resident: true}, pt.Lookup(0, 2, 3))

	pt.SetAllocated(false)
	assert.False(t, pt.Allocated())
}

func TestPackPageTable(t *testing.T) {
	pt := NewMemoryPageTable(3, 2)
	pt.MapPage(pt.MaxLevel(), 0, 0, 5, 6)

	entries, mips := PackPageTable(pt, pt.MaxLevel())
	require.Equal(t, []PageTableMip{{0, 3, 2}, {6, 2, 1}, {8, 1, 1}}, mips)
	require.Len(t, entries, 9)
	for _, e := range entries {
		assert.Equal(t, PageEntry{PhysX: 5, PhysY: 6, Level: 2, Resident: true}, UnpackPageEntry(e))
	}
	assert.Equal(t, uint32(0), PackPageEntry(PageEntry{}))
}

func newTestSurface(t *testing.T, size uint32, opts ...SurfaceBuilderOption) (Surface, *MemoryPageTable) {
	pt := NewMemoryPageTable(size, size)
	pt.MapLevel(pt.MaxLevel(), 1)
	s := NewSurface(append([]SurfaceBuilderOption{
		WithPageTable(pt),
		WithTransform(mgl32.Scale3D(1000, 1000, 100)),
	}, opts...)...)
	return s, pt
}

func TestSurfaceDescriptor(t *testing.T) {
	s, pt := newTestSurface(t, 8, WithNumTailLods(2), WithTileSize(120, 4), WithPhysicalTextureSize(1024))

	d, err := s.Descriptor()
	require.NoError(t, err)
	assert.Equal(t, uint32(3), d.MaxLevel)
	assert.Equal(t, uint32(5), d.RootLevel())
	assert.Equal(t, uint32(6), d.NumLods())
	assert.Equal(t, mgl32.Vec3{1000, 1000, 100}, d.UVToWorldScale)
	assert.InDelta(t, 128.0/1024, d.PhysicalPageTransform[0], 1e-7)
	assert.InDelta(t, 120.0/1024, d.PhysicalPageTransform[1], 1e-7)
	assert.Equal(t, uint32(16*16*6), d.IndexCount())

	t.Run("cached until something changes", func(t *testing.T) {
		again, err := s.Descriptor()
		require.NoError(t, err)
		require.Same(t, d, again)

		pt.MapPage(0, 0, 0, 0, 0)
		rebuilt, err := s.Descriptor()
		require.NoError(t, err)
		require.NotSame(t, d, rebuilt)

		s.SetTransform(mgl32.Scale3D(10, 10, 10))
		moved, err := s.Descriptor()
		require.NoError(t, err)
		require.NotSame(t, rebuilt, moved)
	})

	t.Run("unallocated", func(t *testing.T) {
		pt.SetAllocated(false)
		defer pt.SetAllocated(true)
		require.False(t, s.Allocated())
		_, err := s.Descriptor()
		require.Error(t, err)
	})

	t.Run("too deep", func(t *testing.T) {
		deep, _ := newTestSurface(t, 4096, WithNumTailLods(1))
		_, err := deep.Descriptor()
		require.Error(t, err)
	})
}

func TestNodeGeometry(t *testing.T) {
	s, _ := newTestSurface(t, 4, WithNumTailLods(1))
	d, err := s.Descriptor()
	require.NoError(t, err)

	t.Run("page coords", func(t *testing.T) {
		p, x, y := d.PageCoords(3, 0, 0)
		assert.Equal(t, [3]uint32{2, 0, 0}, [3]uint32{p, x, y})
		p, x, y = d.PageCoords(0, 7, 5)
		assert.Equal(t, [3]uint32{0, 3, 2}, [3]uint32{p, x, y})
	})

	t.Run("uv rect", func(t *testing.T) {
		lo, hi := d.NodeUVRect(1, 1, 2)
		assert.Equal(t, mgl32.Vec2{0.25, 0.5}, lo)
		assert.Equal(t, mgl32.Vec2{0.5, 0.75}, hi)

		lo, hi = d.NodeUVRect(0, 7, 0)
		assert.Equal(t, mgl32.Vec2{0.875, 0}, lo)
		assert.Equal(t, mgl32.Vec2{1, 0.125}, hi)
	})

	t.Run("children", func(t *testing.T) {
		assert.Len(t, d.Children(3, 0, 0), 4)
		assert.Nil(t, d.Children(0, 0, 0))
	})
}

func TestNodeInRangeNonSquare(t *testing.T) {
	pt := NewMemoryPageTable(3, 1)
	pt.MapLevel(pt.MaxLevel(), 1)
	d, err := NewSurface(WithPageTable(pt)).Descriptor()
	require.NoError(t, err)
	require.Equal(t, uint32(2), d.RootLevel())

	children := d.Children(2, 0, 0)
	assert.Equal(t, [][2]uint32{{0, 0}, {1, 0}}, children)
	assert.True(t, d.NodeInRange(0, 2, 0))
	assert.False(t, d.NodeInRange(0, 3, 0))
	assert.False(t, d.NodeInRange(0, 0, 1))
}

func TestPhysicalUVTransform(t *testing.T) {
	pt := NewMemoryPageTable(4, 4)
	s := NewSurface(WithPageTable(pt), WithTileSize(120, 4), WithPhysicalTextureSize(1024), WithNumTailLods(1))
	d, err := s.Descriptor()
	require.NoError(t, err)

	_, _, exact := d.PhysicalUVTransform(1, 0, 0)
	assert.False(t, exact)

	pt.MapPage(1, 1, 0, 2, 3)
	d, err = s.Descriptor()
	require.NoError(t, err)
	ppt := d.PhysicalPageTransform

	t.Run("exact page", func(t *testing.T) {
		tr, e, exact := d.PhysicalUVTransform(2, 1, 0)
		require.True(t, exact)
		require.Equal(t, uint32(1), e.Level)
		assert.InDelta(t, ppt[1], tr[0], 1e-6)
		assert.InDelta(t, 2*ppt[0]+ppt[2], tr[1], 1e-6)
		assert.InDelta(t, 3*ppt[0]+ppt[2], tr[2], 1e-6)
	})

	t.Run("finer page resolved to resident parent", func(t *testing.T) {
		tr, e, exact := d.PhysicalUVTransform(1, 3, 1)
		require.False(t, exact)
		require.Equal(t, uint32(1), e.Level)
		assert.InDelta(t, 0.5*ppt[1], tr[0], 1e-6)
		assert.InDelta(t, 2*ppt[0]+ppt[2]+0.5*ppt[1], tr[1], 1e-6)
		assert.InDelta(t, 3*ppt[0]+ppt[2]+0.5*ppt[1], tr[2], 1e-6)
	})

	t.Run("tail node", func(t *testing.T) {
		tr, _, _ := d.PhysicalUVTransform(0, 7, 2)
		// Level 0 tail node (7, 2) lives in page (3, 1) at level 0, quadrant (1, 0) of it,
		// which is itself quadrant (1, 1) of resident page (1, 0) at level 1.
		assert.InDelta(t, 0.25*ppt[1], tr[0], 1e-6)
		assert.InDelta(t, 2*ppt[0]+ppt[2]+0.75*ppt[1], tr[1], 1e-6)
		assert.InDelta(t, 3*ppt[0]+ppt[2]+0.5*ppt[1], tr[2], 1e-6)
	})
}

func TestOcclusionVolumes(t *testing.T) {
	t.Run("fallback to bounds", func(t *testing.T) {
		s, _ := newTestSurface(t, 4, WithNumOcclusionLods(2))
		vols := s.OcclusionVolumes()
		require.Len(t, vols, 1)
		assert.Equal(t, mgl32.Vec3{0, 0, 0}, vols[0].Min)
		assert.Equal(t, mgl32.Vec3{1000, 1000, 100}, vols[0].Max)
	})

	t.Run("from hierarchy", func(t *testing.T) {
		cells := make([]MinMax, 16)
		for i := range cells {
			cells[i] = MinMax{0, 0.5}
		}
		h, err := NewMinMaxHierarchy(4, 4, cells)
		require.NoError(t, err)

		s, _ := newTestSurface(t, 4, WithMinMax(h), WithNumOcclusionLods(2))
		d, err := s.Descriptor()
		require.NoError(t, err)
		assert.Equal(t, uint32(2), d.NumOcclusionLods)
		assert.Equal(t, [2]uint32{2, 2}, d.OcclusionGridSize)
		require.Len(t, d.OcclusionVolumes, 5)

		first := d.OcclusionVolumes[0]
		assert.InDelta(t, -3, first.Min[0], 1e-3)
		assert.InDelta(t, 503, first.Max[0], 1e-3)
		assert.InDelta(t, 53, first.Max[2], 1e-3)
		assert.Equal(t, int32(0), d.MinMaxLevelOffset)
	})
}

func TestGPUSurfaceParams(t *testing.T) {
	s, pt := newTestSurface(t, 4)
	d, err := s.Descriptor()
	require.NoError(t, err)

	_, mips := PackPageTable(pt, d.MaxLevel)
	g := NewGPUSurfaceParams(d, mips)
	require.Equal(t, 640, g.Size())
	require.Len(t, g.Marshal(), 640)
	assert.Equal(t, [4]uint32{16, 2, 2, 0}, g.PageTableMips[1])
	assert.Equal(t, uint32(0), g.HasMinMax)
	assert.Len(t, MarshalMinMax(nil), 8)
}

func TestSurfaceIDEncodesAsString(t *testing.T) {
	id := NewSurfaceID()
	out, err := json.Marshal(map[string]SurfaceID{"surface": id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"surface":"`+id.String()+`"}`, string(out))
}
