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
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBuffers struct {
	label    string
	released bool
}

func (b *fakeBuffers) Label() string { return b.label }
func (b *fakeBuffers) Release()      { b.released = true }

type fakeResult struct {
	surface  *heightfield.Descriptor
	mainView *view.MainViewDescriptor
}

func (r *fakeResult) Surface() *heightfield.Descriptor    { return r.surface }
func (r *fakeResult) MainView() *view.MainViewDescriptor { return r.mainView }
func (r *fakeResult) Stats() cull.CollectStats {
	return cull.CollectStats{Expanded: 1, Emitted: 1}
}
func (r *fakeResult) Feedback() cull.Feedback {
	return cull.Feedback{Requests: []uint32{cull.PackFeedback(0, 1, 2)}}
}

type childCall struct {
	mainView view.ViewID
	cullView view.ViewID
	mode     cull.CullMode
	buffers  cull.DrawInstanceBuffers
}

// recordingBackend records the calls the scheduler makes.
type recordingBackend struct {
	allocated   []*fakeBuffers
	mainViews   []*view.MainViewDescriptor
	occlusions  []*occlusion.Result
	children    []childCall
	resets      []cull.DrawInstanceBuffers
	submits     int
	failMain    bool
	failAlloc   bool
	lastSetting config.Settings
}

func (b *recordingBackend) NewDrawBuffers(label string) (cull.DrawInstanceBuffers, error) {
	if b.failAlloc {
		return nil, errors.New("out of memory")
	}
	buf := &fakeBuffers{label: label}
	b.allocated = append(b.allocated, buf)
	return buf, nil
}

func (b *recordingBackend) BeginSubmit(ctx context.Context, settings config.Settings) error {
	b.submits++
	b.lastSetting = settings
	return ctx.Err()
}

func (b *recordingBackend) CullMainView(d *heightfield.Descriptor, mv *view.MainViewDescriptor, occ *occlusion.Result) (cull.MainViewResult, error) {
	if b.failMain {
		return nil, errors.New("device lost")
	}
	b.mainViews = append(b.mainViews, mv)
	b.occlusions = append(b.occlusions, occ)
	return &fakeResult{surface: d, mainView: mv}, nil
}

func (b *recordingBackend) CullChildView(res cull.MainViewResult, cv *view.ChildViewDescriptor, mode cull.CullMode, buffers cull.DrawInstanceBuffers) error {
	b.children = append(b.children, childCall{
		mainView: res.MainView().ViewID,
		cullView: cv.ViewID,
		mode:     mode,
		buffers:  buffers,
	})
	return nil
}

func (b *recordingBackend) ResetDrawBuffers(buffers cull.DrawInstanceBuffers) error {
	b.resets = append(b.resets, buffers)
	return nil
}

func (b *recordingBackend) EndSubmit() error {
	return nil
}

func newSurface(size uint32, options ...heightfield.SurfaceBuilderOption) (heightfield.Surface, *heightfield.MemoryPageTable) {
	pt := heightfield.NewMemoryPageTable(size, size)
	world := float32(size) * 100
	options = append([]heightfield.SurfaceBuilderOption{
		heightfield.WithPageTable(pt),
		heightfield.WithTransform(mgl32.Scale3D(world, world, 10)),
	}, options...)
	return heightfield.NewSurface(options...), pt
}

func newView(eye, target mgl32.Vec3) view.View {
	return view.NewView(
		view.WithPerspective(mgl32.DegToRad(60), 1, 0.1, 100000),
		view.WithLookAt(eye, target),
	)
}

func TestAddWorkDedup(t *testing.T) {
	backend := &recordingBackend{}
	s := NewScheduler(backend, frame.NewLifecycle(), nil)
	surface, _ := newSurface(4)
	v1 := newView(mgl32.Vec3{200, -300, 100}, mgl32.Vec3{200, 200, 0})
	v2 := newView(mgl32.Vec3{200, -300, 100}, mgl32.Vec3{200, 200, 0})

	a, err := s.AddWork(surface, v1, v1)
	require.NoError(t, err)
	b, err := s.AddWork(surface, v1, v1)
	require.NoError(t, err)
	c, err := s.AddWork(surface, v1, v2)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Len(t, backend.allocated, 2)

	stats := s.Stats()
	assert.Equal(t, 2, stats.Requests)
	assert.Equal(t, 1, stats.DedupHits)
	assert.Equal(t, 2, stats.LiveBuffers)

	require.NoError(t, s.SubmitWork(context.Background()))
	assert.Len(t, backend.mainViews, 1, "collection runs once per surface and main view")
	assert.Len(t, backend.children, 2)
}

func TestAddWorkSkipsUnallocatedSurface(t *testing.T) {
	backend := &recordingBackend{}
	s := NewScheduler(backend, nil, nil)
	surface, pt := newSurface(4)
	pt.SetAllocated(false)
	v := newView(mgl32.Vec3{0, -100, 10}, mgl32.Vec3{0, 0, 0})

	buffers, err := s.AddWork(surface, v, v)
	require.NoError(t, err)
	assert.Nil(t, buffers)
	assert.Equal(t, 1, s.Stats().Skipped)
	assert.Empty(t, backend.allocated)

	require.NoError(t, s.SubmitWork(context.Background()))
	assert.Zero(t, backend.submits, "nothing to submit")
}

func TestAddWorkRequiresViews(t *testing.T) {
	s := NewScheduler(&recordingBackend{}, nil, nil)
	surface, _ := newSurface(1)
	_, err := s.AddWork(surface, nil, nil)
	require.Error(t, err)
}

func TestAddWorkAllocationFailure(t *testing.T) {
	backend := &recordingBackend{failAlloc: true}
	s := NewScheduler(backend, nil, nil)
	surface, _ := newSurface(1)
	v := newView(mgl32.Vec3{50, -200, 50}, mgl32.Vec3{50, 50, 0})

	_, err := s.AddWork(surface, v, v)
	require.Error(t, err)
	assert.Zero(t, s.Stats().Requests)
}

func TestSubmitWorkOrdersBySurfaceAndView(t *testing.T) {
	backend := &recordingBackend{}
	s := NewScheduler(backend, nil, nil)
	s1, _ := newSurface(2)
	s2, _ := newSurface(2)
	main1 := newView(mgl32.Vec3{100, -300, 100}, mgl32.Vec3{100, 100, 0})
	main2 := newView(mgl32.Vec3{100, -400, 100}, mgl32.Vec3{100, 100, 0})
	other := newView(mgl32.Vec3{100, -300, 100}, mgl32.Vec3{100, 100, 0})

	for _, w := range []struct {
		surface        heightfield.Surface
		main, cullView view.View
	}{
		{s1, main1, main1},
		{s2, main1, main1},
		{s1, main2, main2},
		{s1, main1, other},
	} {
		_, err := s.AddWork(w.surface, w.main, w.cullView)
		require.NoError(t, err)
	}
	require.NoError(t, s.SubmitWork(context.Background()))

	require.Len(t, backend.mainViews, 3)
	assert.Equal(t, main1.ID(), backend.mainViews[0].ViewID)
	assert.Equal(t, main2.ID(), backend.mainViews[1].ViewID)
	assert.Equal(t, main1.ID(), backend.mainViews[2].ViewID)

	require.Len(t, backend.children, 4)
	assert.Equal(t, main1.ID(), backend.children[0].cullView)
	assert.Equal(t, cull.CullModeReuseMainView, backend.children[0].mode)
	assert.Equal(t, other.ID(), backend.children[1].cullView)
	assert.Equal(t, cull.CullModeIndependent, backend.children[1].mode)
	assert.Equal(t, main1.ID(), backend.children[1].mainView)

	stats := s.Stats()
	assert.Equal(t, 3, stats.MainViewPasses)
	assert.Equal(t, 4, stats.ChildViewPasses)
	assert.Equal(t, uint32(3), stats.Collect.Emitted)
}

func TestIndependentCullFlag(t *testing.T) {
	backend := &recordingBackend{}
	s := NewScheduler(backend, nil, nil, WithSettings(config.New(config.WithFeatureFlags(string(config.FlagIndependentCull)))))
	surface, _ := newSurface(1)
	v := newView(mgl32.Vec3{50, -200, 50}, mgl32.Vec3{50, 50, 0})

	_, err := s.AddWork(surface, v, v)
	require.NoError(t, err)
	require.NoError(t, s.SubmitWork(context.Background()))
	require.Len(t, backend.children, 1)
	assert.Equal(t, cull.CullModeIndependent, backend.children[0].mode)
}

func TestPoolRecyclingAndDiscard(t *testing.T) {
	backend := &recordingBackend{}
	lifecycle := frame.NewLifecycle()
	s := NewScheduler(backend, lifecycle, nil)
	surface, _ := newSurface(1)
	v1 := newView(mgl32.Vec3{50, -200, 50}, mgl32.Vec3{50, 50, 0})
	v2 := newView(mgl32.Vec3{50, -300, 50}, mgl32.Vec3{50, 50, 0})

	runFrame := func(views ...view.View) []cull.DrawInstanceBuffers {
		var out []cull.DrawInstanceBuffers
		for _, v := range views {
			buffers, err := s.AddWork(surface, v, v)
			require.NoError(t, err)
			out = append(out, buffers)
		}
		lifecycle.BeginFrame()
		lifecycle.EndFrame()
		return out
	}

	first := runFrame(v1, v2)
	require.Len(t, backend.allocated, 2)

	second := runFrame(v2)
	assert.Len(t, backend.allocated, 2, "an unclaimed buffer is recycled")
	assert.Contains(t, first, second[0])

	for range DiscardFrames {
		runFrame(v2)
	}
	assert.Equal(t, 1, s.Stats().LiveBuffers, "buffers unused for more than the discard window are released")

	released := 0
	for _, b := range backend.allocated {
		if b.released {
			released++
		}
	}
	assert.Equal(t, 1, released)
}

func TestPoolBound(t *testing.T) {
	backend := &recordingBackend{}
	lifecycle := frame.NewLifecycle()
	s := NewScheduler(backend, lifecycle, nil)
	surface, _ := newSurface(1)

	views := make([]view.View, 6)
	for i := range views {
		views[i] = newView(mgl32.Vec3{50, -200 - float32(i)*10, 50}, mgl32.Vec3{50, 50, 0})
	}

	// Frame f requests views[f%6] and views[(f+1)%6]; at most the keys of the last five
	// frames may stay alive.
	recent := make([]map[view.ViewID]struct{}, 0)
	for f := 0; f < 20; f++ {
		keys := map[view.ViewID]struct{}{}
		for _, v := range []view.View{views[f%6], views[(f+1)%6]} {
			_, err := s.AddWork(surface, v, v)
			require.NoError(t, err)
			keys[v.ID()] = struct{}{}
		}
		recent = append(recent, keys)
		if len(recent) > DiscardFrames+1 {
			recent = recent[1:]
		}
		distinct := map[view.ViewID]struct{}{}
		for _, k := range recent {
			for id := range k {
				distinct[id] = struct{}{}
			}
		}

		lifecycle.BeginFrame()
		assert.LessOrEqual(t, s.Stats().LiveBuffers, len(distinct), "frame %d", f)
		lifecycle.EndFrame()
	}
}

func TestFramingViolationEndsFrame(t *testing.T) {
	backend := &recordingBackend{}
	lifecycle := frame.NewLifecycle()
	s := NewScheduler(backend, lifecycle, nil)
	surface, _ := newSurface(1)
	v := newView(mgl32.Vec3{50, -200, 50}, mgl32.Vec3{50, 50, 0})

	_, err := s.AddWork(surface, v, v)
	require.NoError(t, err)
	lifecycle.BeginFrame()
	require.Equal(t, 1, backend.submits)
	frameID := s.Stats().FrameID

	_, err = s.AddWork(surface, v, v)
	require.NoError(t, err)
	assert.False(t, lifecycle.InFrame(), "the open frame was ended")

	stats := s.Stats()
	assert.Equal(t, 1, stats.FramingViolations)
	assert.Equal(t, frameID+1, stats.FrameID)
	assert.Equal(t, 1, stats.Requests, "the work starts a new frame instead of deduplicating")

	lifecycle.BeginFrame()
	assert.Equal(t, 2, backend.submits)
	lifecycle.EndFrame()
}

func TestFramingViolationWithoutLifecycleFrame(t *testing.T) {
	backend := &recordingBackend{}
	s := NewScheduler(backend, nil, nil)
	surface, _ := newSurface(1)
	v := newView(mgl32.Vec3{50, -200, 50}, mgl32.Vec3{50, 50, 0})

	_, err := s.AddWork(surface, v, v)
	require.NoError(t, err)
	require.NoError(t, s.SubmitWork(context.Background()))

	_, err = s.AddWork(surface, v, v)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Stats().FramingViolations)
	assert.Equal(t, uint64(1), s.Stats().FrameID)
}

func TestMainViewFailureSkipsGroup(t *testing.T) {
	backend := &recordingBackend{failMain: true}
	s := NewScheduler(backend, nil, nil)
	surface, _ := newSurface(1)
	v := newView(mgl32.Vec3{50, -200, 50}, mgl32.Vec3{50, 50, 0})

	buffers, err := s.AddWork(surface, v, v)
	require.NoError(t, err)
	require.NoError(t, s.SubmitWork(context.Background()))
	assert.Empty(t, backend.children)
	assert.Equal(t, 1, s.Stats().FailedGroups)
	assert.Equal(t, []cull.DrawInstanceBuffers{buffers}, backend.resets)
}

func TestSubmitWorkCancelled(t *testing.T) {
	s := NewScheduler(&recordingBackend{}, nil, nil)
	surface, _ := newSurface(1)
	v := newView(mgl32.Vec3{50, -200, 50}, mgl32.Vec3{50, 50, 0})
	_, err := s.AddWork(surface, v, v)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, s.SubmitWork(ctx))
}

func TestSubmitWorkSurfaceLosesAllocation(t *testing.T) {
	backend := &recordingBackend{}
	s := NewScheduler(backend, nil, nil)
	surface, pt := newSurface(1)
	v := newView(mgl32.Vec3{50, -200, 50}, mgl32.Vec3{50, 50, 0})
	_, err := s.AddWork(surface, v, v)
	require.NoError(t, err)

	pt.SetAllocated(false)
	require.NoError(t, s.SubmitWork(context.Background()))
	assert.Empty(t, backend.mainViews)
	assert.Len(t, backend.resets, 1)
}

func TestFeedbackSink(t *testing.T) {
	surface, _ := newSurface(1)
	v := newView(mgl32.Vec3{50, -200, 50}, mgl32.Vec3{50, 50, 0})

	var got []cull.Feedback
	sink := FeedbackSinkFunc(func(id heightfield.SurfaceID, vid view.ViewID, fb cull.Feedback) {
		assert.Equal(t, surface.ID(), id)
		assert.Equal(t, v.ID(), vid)
		got = append(got, fb)
	})

	s := NewScheduler(&recordingBackend{}, nil, nil, WithFeedbackSink(sink))
	_, err := s.AddWork(surface, v, v)
	require.NoError(t, err)
	require.NoError(t, s.SubmitWork(context.Background()))
	require.Len(t, got, 1)
	assert.Len(t, got[0].Requests, 1)

	got = nil
	s = NewScheduler(&recordingBackend{}, nil, nil,
		WithFeedbackSink(sink),
		WithSettings(config.New(config.WithFeatureFlags(string(config.FlagNoFeedback)))),
	)
	_, err = s.AddWork(surface, v, v)
	require.NoError(t, err)
	require.NoError(t, s.SubmitWork(context.Background()))
	assert.Empty(t, got)
}

func TestFixCullingCamera(t *testing.T) {
	backend := &recordingBackend{}
	lifecycle := frame.NewLifecycle()
	s := NewScheduler(backend, lifecycle, nil, WithSettings(config.New(config.WithFixCullingCamera(true))))
	surface, _ := newSurface(1)
	ctrl := view.NewOrbitController(mgl32.Vec3{50, 50, 0}, 300, 0.5)
	v := view.NewView(view.WithController(ctrl))

	for range 2 {
		_, err := s.AddWork(surface, v, v)
		require.NoError(t, err)
		lifecycle.BeginFrame()
		lifecycle.EndFrame()
		ctrl.Advance(1)
		v.Update()
	}
	require.Len(t, backend.mainViews, 2)
	assert.Same(t, backend.mainViews[0], backend.mainViews[1])

	settings := s.Settings()
	settings.FixCullingCamera = false
	s.SetSettings(settings)
	_, err := s.AddWork(surface, v, v)
	require.NoError(t, err)
	require.NoError(t, s.SubmitWork(context.Background()))
	require.Len(t, backend.mainViews, 3)
	assert.NotSame(t, backend.mainViews[0], backend.mainViews[2])
}

func TestOcclusionLookup(t *testing.T) {
	backend := &recordingBackend{}
	lifecycle := frame.NewLifecycle()
	cache := occlusion.NewCache(lifecycle, true)
	s := NewScheduler(backend, lifecycle, cache)
	surface, _ := newSurface(4)
	v := newView(mgl32.Vec3{200, -300, 100}, mgl32.Vec3{200, 200, 0})

	require.True(t, cache.Accept(surface.ID(), v.ID(), make([]bool, 5), 0, 5, [2]uint32{2, 2}))
	_, err := s.AddWork(surface, v, v)
	require.NoError(t, err)
	require.NoError(t, s.SubmitWork(context.Background()))
	require.Len(t, backend.occlusions, 1)
	assert.Equal(t, uint32(2), backend.occlusions[0].NumMips)

	lifecycle.BeginFrame()
	lifecycle.EndFrame()
	_, err = s.AddWork(surface, v, v)
	require.NoError(t, err)
	require.NoError(t, s.SubmitWork(context.Background()))
	require.Len(t, backend.occlusions, 2)
	assert.Equal(t, occlusion.NoOcclusion(), backend.occlusions[1], "the cache clears every frame")
}

func TestRelease(t *testing.T) {
	backend := &recordingBackend{}
	s := NewScheduler(backend, nil, nil)
	surface, _ := newSurface(1)
	v := newView(mgl32.Vec3{50, -200, 50}, mgl32.Vec3{50, 50, 0})
	_, err := s.AddWork(surface, v, v)
	require.NoError(t, err)

	s.Release()
	assert.Zero(t, s.Stats().LiveBuffers)
	require.Len(t, backend.allocated, 1)
	assert.True(t, backend.allocated[0].released)
}

func TestInvalidSurfaceResetsEveryBuffer(t *testing.T) {
	backend := &recordingBackend{}
	s := NewScheduler(backend, nil, nil)
	surface, _ := newSurface(4, heightfield.WithNumTailLods(heightfield.MaxTreeLevels))
	v1 := newView(mgl32.Vec3{50, -200, 50}, mgl32.Vec3{50, 50, 0})
	v2 := newView(mgl32.Vec3{50, -300, 50}, mgl32.Vec3{50, 50, 0})

	a, err := s.AddWork(surface, v1, v1)
	require.NoError(t, err)
	b, err := s.AddWork(surface, v1, v2)
	require.NoError(t, err)
	require.NotNil(t, a)

	require.NoError(t, s.SubmitWork(context.Background()))
	assert.Empty(t, backend.mainViews)
	assert.ElementsMatch(t, []cull.DrawInstanceBuffers{a, b}, backend.resets)
}
