package scheduler

import (
	"context"
	"testing"

	"github.com/Carmen-Shannon/oxy-vhm/engine/config"
	"github.com/Carmen-Shannon/oxy-vhm/engine/cull"
	"github.com/Carmen-Shannon/oxy-vhm/engine/frame"
	"github.com/Carmen-Shannon/oxy-vhm/engine/heightfield"
	"github.com/Carmen-Shannon/oxy-vhm/engine/occlusion"
	"github.com/Carmen-Shannon/oxy-vhm/engine/view"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cpuBuffers(t *testing.T, b cull.DrawInstanceBuffers) *cull.CPUDrawBuffers {
	t.Helper()
	cpu, ok := b.(*cull.CPUDrawBuffers)
	require.True(t, ok)
	return cpu
}

func TestScenarioSingleTile(t *testing.T) {
	lifecycle := frame.NewLifecycle()
	s := NewScheduler(cull.NewCPUBackend(), lifecycle, nil, WithSettings(config.New(config.WithOcclusion(false))))
	surface, _ := newSurface(1)
	v := newView(mgl32.Vec3{50, -200, 50}, mgl32.Vec3{50, 50, 0})

	buffers, err := s.AddWork(surface, v, v)
	require.NoError(t, err)
	lifecycle.BeginFrame()

	d, err := surface.Descriptor()
	require.NoError(t, err)
	out := cpuBuffers(t, buffers)
	require.Len(t, out.Instances(), 1)
	assert.Equal(t, uint32(0), out.Instances()[0].AddressLevelPacked)
	assert.Equal(t, d.IndexCount(), out.Args().IndexCount)
	assert.Equal(t, uint32(1), out.Args().InstanceCount)

	stats := s.Stats()
	assert.Equal(t, cull.CollectStats{Expanded: 1, Emitted: 1}, stats.Collect)
	lifecycle.EndFrame()
}

func TestScenarioTwoViews(t *testing.T) {
	lifecycle := frame.NewLifecycle()
	s := NewScheduler(cull.NewCPUBackend(), lifecycle, nil)
	surface, _ := newSurface(4)
	mainView := newView(mgl32.Vec3{200, -300, 150}, mgl32.Vec3{200, 200, 0})
	second := newView(mgl32.Vec3{200, -300, 150}, mgl32.Vec3{200, 200, 0})

	a, err := s.AddWork(surface, mainView, mainView)
	require.NoError(t, err)
	b, err := s.AddWork(surface, mainView, second)
	require.NoError(t, err)
	require.NotSame(t, a, b)

	lifecycle.BeginFrame()
	stats := s.Stats()
	assert.Equal(t, 1, stats.MainViewPasses)
	assert.Equal(t, 2, stats.ChildViewPasses)

	reused := cpuBuffers(t, a).Instances()
	independent := cpuBuffers(t, b).Instances()
	assert.NotEmpty(t, reused)
	assert.Equal(t, reused, independent, "an identical cull view keeps every tile of the main view")
	lifecycle.EndFrame()
}

func TestScenarioQueueOverflow(t *testing.T) {
	lifecycle := frame.NewLifecycle()
	settings := config.New(
		config.WithMaxPersistentQueueItems(4),
		config.WithOcclusion(false),
	)
	s := NewScheduler(cull.NewCPUBackend(), lifecycle, nil, WithSettings(settings))
	surface, _ := newSurface(64)
	v := newView(mgl32.Vec3{3210, 3210, 5}, mgl32.Vec3{3210, 6400, 5})

	buffers, err := s.AddWork(surface, v, v)
	require.NoError(t, err)
	require.NoError(t, s.SubmitWork(context.Background()))

	stats := s.Stats().Collect
	assert.Greater(t, stats.Overflowed, uint32(0))
	assert.Equal(t, stats.Expanded, stats.Subdivided+stats.Culled+stats.Emitted)
	assert.NotEmpty(t, cpuBuffers(t, buffers).Instances(), "overflowing nodes are drawn coarser")
}

func TestScenarioOcclusionFallback(t *testing.T) {
	surface, _ := newSurface(4)
	v := newView(mgl32.Vec3{200, -300, 150}, mgl32.Vec3{200, 200, 0})

	run := func(occlusionEnabled bool, accept func(*occlusion.Cache)) []cull.RenderInstance {
		lifecycle := frame.NewLifecycle()
		cache := occlusion.NewCache(lifecycle, occlusionEnabled)
		s := NewScheduler(cull.NewCPUBackend(), lifecycle, cache, WithSettings(config.New(config.WithOcclusion(occlusionEnabled))))
		if accept != nil {
			accept(cache)
		}
		buffers, err := s.AddWork(surface, v, v)
		require.NoError(t, err)
		require.NoError(t, s.SubmitWork(context.Background()))
		return cpuBuffers(t, buffers).Instances()
	}

	disabled := run(false, nil)
	require.NotEmpty(t, disabled)
	assert.Equal(t, disabled, run(true, nil), "no cached result behaves like occlusion disabled")

	hidden := run(true, func(c *occlusion.Cache) {
		require.True(t, c.Accept(surface.ID(), v.ID(), make([]bool, 5), 0, 5, [2]uint32{2, 2}))
	})
	assert.Empty(t, hidden, "every cell reported hidden")
}

func TestScenarioFeedbackReachesSink(t *testing.T) {
	var requests int
	sink := FeedbackSinkFunc(func(_ heightfield.SurfaceID, _ view.ViewID, fb cull.Feedback) {
		requests += len(fb.Requests)
	})
	s := NewScheduler(cull.NewCPUBackend(), nil, nil, WithFeedbackSink(sink))
	surface, _ := newSurface(4)
	v := newView(mgl32.Vec3{200, -300, 150}, mgl32.Vec3{200, 200, 0})

	_, err := s.AddWork(surface, v, v)
	require.NoError(t, err)
	require.NoError(t, s.SubmitWork(context.Background()))
	assert.Greater(t, requests, 0, "no page is resident, so every emitted tile requests one")
}

func TestScenarioSkippedSurfaceDrawsNothing(t *testing.T) {
	lifecycle := frame.NewLifecycle()
	s := NewScheduler(cull.NewCPUBackend(), lifecycle, nil, WithSettings(config.New(config.WithOcclusion(false))))
	v := newView(mgl32.Vec3{50, -200, 50}, mgl32.Vec3{50, 50, 0})

	valid, _ := newSurface(1)
	first, err := s.AddWork(valid, v, v)
	require.NoError(t, err)
	lifecycle.BeginFrame()
	require.Equal(t, uint32(1), cpuBuffers(t, first).Args().InstanceCount)
	lifecycle.EndFrame()

	// Allocated, but too deep to describe.
	deep, _ := newSurface(4, heightfield.WithNumTailLods(heightfield.MaxTreeLevels))
	second, err := s.AddWork(deep, v, v)
	require.NoError(t, err)
	require.Same(t, first, second, "the buffer is recycled")
	lifecycle.BeginFrame()

	out := cpuBuffers(t, second)
	assert.Empty(t, out.Instances())
	assert.Equal(t, cull.DrawIndexedIndirectArgs{}, out.Args())
	lifecycle.EndFrame()
}
