package occlusion

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-vhm/common"
	"github.com/Carmen-Shannon/oxy-vhm/engine/frame"
	"github.com/Carmen-Shannon/oxy-vhm/engine/heightfield"
	"github.com/Carmen-Shannon/oxy-vhm/engine/view"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"
)

func TestNoOcclusion(t *testing.T) {
	r := NoOcclusion()
	require.Equal(t, int32(5), r.LevelOffset(5))
	require.Equal(t, [2]uint32{1, 1}, r.Size())
	for level := uint32(0); level <= 5; level++ {
		require.True(t, r.NodeVisible(r.LevelOffset(5), level, 31>>level, 7>>level))
	}

	var nilResult *Result
	require.True(t, nilResult.NodeVisible(0, 0, 0, 0))
}

func TestAcceptBuildsMipChain(t *testing.T) {
	c := NewCache(nil, true)
	s, v := heightfield.NewSurfaceID(), view.NewViewID()

	// Volumes of a surface with MaxLevel 2 and two occlusion LODs: a 2x2 grid and its parent.
	results := []bool{true, true, false, true, true, true}
	require.True(t, c.Accept(s, v, results, 1, 5, [2]uint32{2, 2}))

	r, ok := c.Lookup(s, v)
	require.True(t, ok)
	require.Equal(t, uint32(2), r.NumMips)
	require.Equal(t, [][2]uint32{{2, 2}, {1, 1}}, r.Sizes)

	offset := r.LevelOffset(2)
	require.Equal(t, int32(1), offset)
	require.False(t, r.NodeVisible(offset, 1, 1, 0))
	require.True(t, r.NodeVisible(offset, 1, 0, 0))
	// Finer pages sample the grid at shifted coordinates.
	require.False(t, r.NodeVisible(offset, 0, 2, 1))
	require.False(t, r.NodeVisible(offset, 0, 3, 0))
	require.True(t, r.NodeVisible(offset, 0, 0, 3))
	require.True(t, r.NodeVisible(offset, 2, 0, 0))
	// Out of range coordinates clamp.
	require.True(t, r.NodeVisible(offset, 1, 9, 9))
}

func TestAcceptRejects(t *testing.T) {
	s, v := heightfield.NewSurfaceID(), view.NewViewID()

	disabled := NewCache(nil, false)
	require.False(t, disabled.Accept(s, v, []bool{false, false, false, false, false}, 0, 5, [2]uint32{2, 2}))

	c := NewCache(nil, true)
	require.False(t, c.Accept(s, v, []bool{false}, 0, 1, [2]uint32{1, 1}))
	_, ok := c.Lookup(s, v)
	require.False(t, ok)
	require.True(t, c.Resolve(s, v).NodeVisible(0, 0, 0, 0))
}

func TestCacheClearsOnEndFrame(t *testing.T) {
	lc := frame.NewLifecycle()
	c := NewCache(lc, true)
	s, v := heightfield.NewSurfaceID(), view.NewViewID()

	lc.BeginFrame()
	require.True(t, c.Accept(s, v, []bool{true, true, true, true, true}, 0, 5, [2]uint32{2, 2}))
	require.Equal(t, 1, c.Len())

	lc.EndFrame()
	require.Equal(t, 0, c.Len())
}

func TestSetEnabled(t *testing.T) {
	c := NewCache(nil, true)
	s, v := heightfield.NewSurfaceID(), view.NewViewID()
	require.True(t, c.Accept(s, v, []bool{true, true, true, true, true}, 0, 5, [2]uint32{2, 2}))

	c.SetEnabled(false)
	_, ok := c.Lookup(s, v)
	require.False(t, ok)
	require.Equal(t, 0, c.Len())
}

func TestAcceptSurfaceVolumes(t *testing.T) {
	pt := heightfield.NewMemoryPageTable(4, 4)
	pt.SetAllocated(true)
	heights := make([]float32, 5*5)
	mm, err := heightfield.NewMinMaxHierarchyFromHeights(4, 4, heights)
	require.NoError(t, err)

	s := heightfield.NewSurface(
		heightfield.WithPageTable(pt),
		heightfield.WithMinMax(mm),
		heightfield.WithNumOcclusionLods(2),
		heightfield.WithTransform(mgl32.Scale3D(100, 100, 10)),
	)
	d, err := s.Descriptor()
	require.NoError(t, err)

	// Only the volumes on the -x half are inside the plane x <= 40.
	planes := []common.Plane{{Normal: [3]float32{-1, 0, 0}, Distance: 40}}
	results := QueryFrustum(d.OcclusionVolumes, planes)
	require.Len(t, results, 5)

	c := NewCache(nil, true)
	v := view.NewViewID()
	require.True(t, c.Accept(d.ID, v, results, 0, len(results), d.OcclusionGridSize))

	r, ok := c.Lookup(d.ID, v)
	require.True(t, ok)
	require.Equal(t, uint32(2), r.NumMips)
	offset := r.LevelOffset(d.MaxLevel)
	require.True(t, r.NodeVisible(offset, 1, 0, 0))
	require.False(t, r.NodeVisible(offset, 1, 1, 0))
	require.True(t, r.NodeVisible(offset, 2, 0, 0))

	require.Equal(t, uint32(1), c.Resolve(d.ID, view.ViewID{}).NumMips, "unknown view falls back")
}

func TestAcceptOddGridMatchesVolumes(t *testing.T) {
	pt := heightfield.NewMemoryPageTable(6, 6)
	pt.SetAllocated(true)
	heights := make([]float32, 7*7)
	mm, err := heightfield.NewMinMaxHierarchyFromHeights(6, 6, heights)
	require.NoError(t, err)

	s := heightfield.NewSurface(
		heightfield.WithPageTable(pt),
		heightfield.WithMinMax(mm),
		heightfield.WithNumOcclusionLods(3),
		heightfield.WithTransform(mgl32.Scale3D(100, 100, 10)),
	)
	d, err := s.Descriptor()
	require.NoError(t, err)
	require.Equal(t, uint32(3), d.MaxLevel)
	require.Equal(t, [2]uint32{3, 3}, d.OcclusionGridSize)
	require.Len(t, d.OcclusionVolumes, 3*3+2*2+1)

	// Only the +x half is inside the plane x >= 50.
	planes := []common.Plane{{Normal: [3]float32{1, 0, 0}, Distance: -50}}
	results := QueryFrustum(d.OcclusionVolumes, planes)

	c := NewCache(nil, true)
	v := view.NewViewID()
	require.True(t, c.Accept(d.ID, v, results, 0, len(results), d.OcclusionGridSize))

	r, ok := c.Lookup(d.ID, v)
	require.True(t, ok)
	require.Equal(t, [][2]uint32{{3, 3}, {2, 2}, {1, 1}}, r.Sizes)

	offset := r.LevelOffset(d.MaxLevel)
	require.Equal(t, int32(1), offset)
	require.True(t, r.NodeVisible(offset, 3, 0, 0), "root stays visible")
	require.True(t, r.NodeVisible(offset, 2, 0, 0))
	require.True(t, r.NodeVisible(offset, 2, 1, 1))
	require.False(t, r.NodeVisible(offset, 1, 0, 1))
	require.True(t, r.NodeVisible(offset, 1, 1, 1))
	require.True(t, r.NodeVisible(offset, 1, 2, 1))
	require.False(t, r.NodeVisible(offset, 0, 1, 4))
	require.True(t, r.NodeVisible(offset, 0, 5, 4))
}
