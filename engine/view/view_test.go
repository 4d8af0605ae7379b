package view

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/Carmen-Shannon/oxy-vhm/common"
	"github.com/Carmen-Shannon/oxy-vhm/engine/config"
	"github.com/Carmen-Shannon/oxy-vhm/engine/heightfield"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

func testDescriptor(t *testing.T, size uint32) *heightfield.Descriptor {
	pt := heightfield.NewMemoryPageTable(size, size)
	pt.SetAllocated(true)
	s := heightfield.NewSurface(
		heightfield.WithPageTable(pt),
		heightfield.WithTransform(mgl32.Scale3D(1024, 1024, 100)),
	)
	d, err := s.Descriptor()
	require.NoError(t, err)
	return d
}

func TestNewViewMatrices(t *testing.T) {
	v := NewView(
		WithPerspective(math.Pi/2, 1, 0.1, 1000),
		WithLookAt(mgl32.Vec3{0, 0, 10}, mgl32.Vec3{0, 1, 10}),
	)
	require.Equal(t, mgl32.Vec3{0, 0, 10}, v.Origin())

	f := v.Frustum()
	require.Greater(t, f.Planes[common.FrustumNear].SignedDistance(mgl32.Vec3{0, 5, 10}), float32(0))
	require.Less(t, f.Planes[common.FrustumNear].SignedDistance(mgl32.Vec3{0, -5, 10}), float32(0))
	require.Len(t, f.ViewPlanes(), common.MaxViewPlanes)
}

func TestViewWithoutControllerIsIdentity(t *testing.T) {
	v := NewView()
	v.Update()
	require.Equal(t, mgl32.Ident4(), v.ViewMatrix())
	require.Nil(t, v.Controller())
}

func TestShadowFrustum(t *testing.T) {
	v := NewView(WithLookAt(mgl32.Vec3{0, 0, 10}, mgl32.Vec3{0, 1, 10}))
	_, _, ok := v.ShadowFrustum()
	require.False(t, ok)

	v.SetShadowFrustum(common.ExtractFrustum(common.Orthographic(-1, 1, -1, 1, 0, 10)), mgl32.Vec3{1, 2, 3})
	_, tr, ok := v.ShadowFrustum()
	require.True(t, ok)
	require.Equal(t, mgl32.Vec3{1, 2, 3}, tr)

	v.ClearShadowFrustum()
	_, _, ok = v.ShadowFrustum()
	require.False(t, ok)
}

func TestOrbitController(t *testing.T) {
	c := NewOrbitController(mgl32.Vec3{}, 10, 0)
	require.InDelta(t, 10, c.Position()[0], 1e-4)

	c.Advance(math.Pi / 2 / 0.25)
	require.InDelta(t, 0, c.Position()[0], 1e-3)
	require.InDelta(t, 10, c.Position()[1], 1e-3)

	c.TogglePause()
	before := c.Position()
	c.Advance(1)
	require.Equal(t, before, c.Position())

	c.Zoom(1)
	require.InDelta(t, 9, c.Position().Len(), 1e-3)
}

func TestOrbitControllerDrag(t *testing.T) {
	c := NewOrbitController(mgl32.Vec3{}, 10, 0)

	c.Drag(0, 100, 0.01)
	require.InDelta(t, 10*math.Sin(1), c.Position()[2], 1e-3)

	c.Drag(0, 1000, 0.01)
	require.InDelta(t, 10*math.Sin(math.Pi/2-0.05), c.Position()[2], 1e-3)

	c.SetElevation(0)
	c.Drag(-math.Pi/2/0.01, 0, 0.01)
	require.InDelta(t, 0, c.Position()[0], 1e-3)
	require.InDelta(t, 10*math.Cos(0.05), c.Position()[1], 1e-3)
}

func TestLodForIsMonotonic(t *testing.T) {
	r := LodRanges{Lod0Distance: 10, Lod0Distribution: 2, LodDistribution: 3, LodScale: 1, NumLods: 6}

	require.Equal(t, uint32(0), r.LodFor(0))
	require.Equal(t, uint32(0), r.LodFor(9.9))
	require.Equal(t, uint32(1), r.LodFor(10))
	require.Equal(t, uint32(2), r.LodFor(20))
	require.Equal(t, uint32(3), r.LodFor(60))
	require.Equal(t, uint32(5), r.LodFor(1e9))

	prev := uint32(0)
	for d := float32(0); d < 5000; d += 7 {
		lod := r.LodFor(d)
		require.GreaterOrEqual(t, lod, prev)
		prev = lod
	}
}

func TestLodScaleMovesThresholds(t *testing.T) {
	r := LodRanges{Lod0Distance: 10, Lod0Distribution: 2, LodDistribution: 2, LodScale: 1, NumLods: 4}
	scaled := r
	scaled.LodScale = 2
	require.Equal(t, r.Threshold(2)*2, scaled.Threshold(2))
	require.Equal(t, uint32(1), r.LodFor(15))
	require.Equal(t, uint32(0), scaled.LodFor(15))
}

func TestContinuousLod(t *testing.T) {
	r := LodRanges{Lod0Distance: 10, Lod0Distribution: 2, LodDistribution: 2, LodScale: 1, NumLods: 4}
	require.InDelta(t, 0.5, r.ContinuousLod(5), 1e-5)
	require.InDelta(t, 1, r.ContinuousLod(10), 1e-5)
	require.InDelta(t, 1.5, r.ContinuousLod(10*math.Sqrt2), 1e-4)
	require.InDelta(t, 3, r.ContinuousLod(1e6), 1e-5)
}

func TestCalculateLodRanges(t *testing.T) {
	d := testDescriptor(t, 4)
	proj := common.Perspective(math.Pi/2, 1, 0.1, 1000)
	r := CalculateLodRanges(d, proj, 1)

	radius := mgl32.Vec2{1024.0 / 4, 1024.0 / 4}.Len()
	require.InDelta(t, radius*0.5/d.Lod0ScreenSize, r.Lod0Distance, 1e-2)
	require.Equal(t, d.NumLods(), r.NumLods)
}

func TestNewMainViewDescriptor(t *testing.T) {
	d := testDescriptor(t, 4)
	v := NewView(
		WithPerspective(math.Pi/2, 1, 0.1, 10000),
		WithLookAt(mgl32.Vec3{512, -100, 50}, mgl32.Vec3{512, 512, 0}),
		WithLodFactor(4),
	)

	m := NewMainViewDescriptor(d, v, config.New())
	require.Equal(t, v.ID(), m.ViewID)
	require.Equal(t, float32(1), m.LodRanges.LodScale)
	require.Len(t, m.Planes, common.MaxViewPlanes)

	// The surface centre in UV space lies in front of the view.
	center := mgl32.Vec3{0.5, 0.5, 0}
	for _, p := range m.Planes {
		require.GreaterOrEqual(t, p.SignedDistance(center), float32(0))
	}

	m = NewMainViewDescriptor(d, v, config.New(config.WithViewLodFactor(true)))
	require.Equal(t, float32(4), m.LodRanges.LodScale)
}

func TestNewChildViewDescriptorShadow(t *testing.T) {
	d := testDescriptor(t, 4)
	v := NewView(WithLookAt(mgl32.Vec3{512, -100, 50}, mgl32.Vec3{512, 512, 0}))

	c := NewChildViewDescriptor(d, v)
	require.False(t, c.Shadow)

	// A box frustum around the origin of a space translated by (-512, -512, 0).
	v.SetShadowFrustum(common.ExtractFrustum(common.Orthographic(-10, 10, -10, 10, -100, 100)), mgl32.Vec3{-512, -512, 0})
	c = NewChildViewDescriptor(d, v)
	require.True(t, c.Shadow)

	inside := mgl32.Vec3{0.5, 0.5, 0}
	outside := mgl32.Vec3{0.1, 0.1, 0}
	insideAll := true
	for _, p := range c.Planes {
		insideAll = insideAll && p.SignedDistance(inside) >= 0
	}
	require.True(t, insideAll)
	require.True(t, common.BoxOutsideAny(c.Planes, common.AABB{Min: outside, Max: outside}))
}

func TestGPUViewLayouts(t *testing.T) {
	var mv GPUMainView
	require.Equal(t, 128, mv.Size())
	var cv GPUChildView
	require.Equal(t, 96, cv.Size())

	c := &ChildViewDescriptor{Planes: []common.Plane{{Normal: [3]float32{1, 0, 0}, Distance: 2}}}
	g := NewGPUChildView(c, true)
	buf := g.Marshal()
	require.Len(t, buf, 96)
	require.Equal(t, math.Float32bits(1), binary.LittleEndian.Uint32(buf[0:]))
	require.Equal(t, math.Float32bits(2), binary.LittleEndian.Uint32(buf[12:]))
	// Padded slots hold the null plane.
	require.Equal(t, math.Float32bits(1), binary.LittleEndian.Uint32(buf[16+12:]))
	require.Equal(t, uint32(1), binary.LittleEndian.Uint32(buf[80:]))
}

func TestDirectionalShadowFrustum(t *testing.T) {
	inside := func(f common.Frustum, p mgl32.Vec3) bool {
		for _, plane := range f.ViewPlanes() {
			if plane.SignedDistance(p) < -1e-3 {
				return false
			}
		}
		return true
	}

	f := DirectionalShadowFrustum(mgl32.Vec3{0, 0, -1}, 100, 200)
	require.True(t, inside(f, mgl32.Vec3{}))
	require.True(t, inside(f, mgl32.Vec3{90, -90, 50}))
	require.True(t, inside(f, mgl32.Vec3{0, 0, -500}), "the far plane is not a culling plane")
	require.False(t, inside(f, mgl32.Vec3{150, 0, 0}))
	require.False(t, inside(f, mgl32.Vec3{0, 0, 150}), "behind the light")

	slanted := DirectionalShadowFrustum(mgl32.Vec3{-0.4, -0.3, -0.87}, 100, 200)
	require.True(t, inside(slanted, mgl32.Vec3{}))
}

func TestViewIDEncodesAsString(t *testing.T) {
	id := NewViewID()
	out, err := json.Marshal(struct{ View ViewID }{id})
	require.NoError(t, err)
	require.Equal(t, `{"View":"`+id.String()+`"}`, string(out))
}
