package gpu

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-vhm/common"
	"github.com/Carmen-Shannon/oxy-vhm/engine/config"
	"github.com/Carmen-Shannon/oxy-vhm/engine/cull"
	"github.com/Carmen-Shannon/oxy-vhm/engine/heightfield"
	"github.com/Carmen-Shannon/oxy-vhm/engine/occlusion"
	"github.com/Carmen-Shannon/oxy-vhm/engine/renderer"
	"github.com/Carmen-Shannon/oxy-vhm/engine/view"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newDeviceRenderer returns a headless renderer, preferring a hardware adapter and falling back
// to a software one. The test is skipped when neither exists.
func newDeviceRenderer(t *testing.T) renderer.Renderer {
	t.Helper()
	create := func(software bool) (r renderer.Renderer, failure any) {
		defer func() {
			failure = recover()
		}()
		return renderer.NewRenderer(renderer.BackendTypeWGPU, renderer.WithForceSoftwareRenderer(software)), nil
	}

	r, failure := create(false)
	if failure != nil {
		r, failure = create(true)
	}
	if failure != nil {
		t.Skipf("no webgpu adapter available: %v", failure)
	}
	t.Cleanup(r.Release)
	return r
}

func newDeviceBackend(t *testing.T, r renderer.Renderer, options ...Option) *Backend {
	t.Helper()
	b, err := NewBackend(r, options...)
	require.NoError(t, err)
	t.Cleanup(b.Release)
	return b
}

func newDeviceSurface(t *testing.T, size uint32) *heightfield.Descriptor {
	t.Helper()
	s := heightfield.NewSurface(
		heightfield.WithPageTable(heightfield.NewMemoryPageTable(size, size)),
		heightfield.WithTransform(mgl32.Scale3D(float32(size)*100, float32(size)*100, 10)),
	)
	d, err := s.Descriptor()
	require.NoError(t, err)
	return d
}

// finestView never reaches a LOD threshold, so every node subdivides down to level zero.
func finestView(d *heightfield.Descriptor) *view.MainViewDescriptor {
	return &view.MainViewDescriptor{
		ViewID: view.NewViewID(),
		LodRanges: view.LodRanges{
			Lod0Distance:     1e9,
			Lod0Distribution: 2,
			LodDistribution:  2,
			LodScale:         1,
			NumLods:          d.NumLods(),
		},
	}
}

type childCull struct {
	child *view.ChildViewDescriptor
	mode  cull.CullMode
}

type cullOutcome struct {
	stats     cull.CollectStats
	args      []cull.DrawIndexedIndirectArgs
	addresses [][]uint32
}

func sortedAddresses(instances []cull.RenderInstance) []uint32 {
	out := make([]uint32, len(instances))
	for i, inst := range instances {
		out[i] = inst.AddressLevelPacked
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func runCull(t *testing.T, backend cull.Backend, settings config.Settings, d *heightfield.Descriptor, mv *view.MainViewDescriptor, children []childCull) (cullOutcome, []cull.DrawInstanceBuffers) {
	t.Helper()
	buffers := make([]cull.DrawInstanceBuffers, len(children))
	for i := range children {
		b, err := backend.NewDrawBuffers("device test")
		require.NoError(t, err)
		t.Cleanup(b.Release)
		buffers[i] = b
	}

	require.NoError(t, backend.BeginSubmit(context.Background(), settings))
	res, err := backend.CullMainView(d, mv, occlusion.NoOcclusion())
	require.NoError(t, err)
	for i, c := range children {
		require.NoError(t, backend.CullChildView(res, c.child, c.mode, buffers[i]))
	}
	require.NoError(t, backend.EndSubmit())
	return cullOutcome{stats: res.Stats()}, buffers
}

func cpuOutcome(t *testing.T, settings config.Settings, d *heightfield.Descriptor, mv *view.MainViewDescriptor, children []childCull) cullOutcome {
	t.Helper()
	out, buffers := runCull(t, cull.NewCPUBackend(), settings, d, mv, children)
	for _, b := range buffers {
		cpu := b.(*cull.CPUDrawBuffers)
		out.args = append(out.args, cpu.Args())
		out.addresses = append(out.addresses, sortedAddresses(cpu.Instances()))
	}
	return out
}

func gpuOutcome(t *testing.T, r renderer.Renderer, settings config.Settings, d *heightfield.Descriptor, mv *view.MainViewDescriptor, children []childCull) cullOutcome {
	t.Helper()
	backend := newDeviceBackend(t, r, WithReadback(true))
	out, buffers := runCull(t, backend, settings, d, mv, children)
	for _, b := range buffers {
		dst := b.(*DrawBuffers)
		raw, err := r.ReadBuffer(dst.Args(), 0, GPUDrawArgsSize)
		require.NoError(t, err)
		args := UnmarshalDrawArgs(raw)
		out.args = append(out.args, args)

		var instances []cull.RenderInstance
		if args.InstanceCount > 0 {
			raw, err = r.ReadBuffer(dst.Instances(), 0, uint64(args.InstanceCount)*GPURenderInstanceSize)
			require.NoError(t, err)
			instances = UnmarshalRenderInstances(raw, int(args.InstanceCount))
		}
		out.addresses = append(out.addresses, sortedAddresses(instances))
	}
	return out
}

func TestDeviceSingleTileMatchesCPU(t *testing.T) {
	r := newDeviceRenderer(t)
	settings := config.New(config.WithOcclusion(false))
	d := newDeviceSurface(t, 1)
	mv := finestView(d)
	children := []childCull{{child: &view.ChildViewDescriptor{ViewID: mv.ViewID}, mode: cull.CullModeReuseMainView}}

	want := cpuOutcome(t, settings, d, mv, children)
	got := gpuOutcome(t, r, settings, d, mv, children)

	assert.Equal(t, cull.CollectStats{Expanded: 1, Emitted: 1}, got.stats)
	assert.Equal(t, want.stats, got.stats)
	assert.Equal(t, want.args, got.args)
	assert.Equal(t, want.addresses, got.addresses)
	assert.Equal(t, cull.DrawIndexedIndirectArgs{IndexCount: d.IndexCount(), InstanceCount: 1}, got.args[0])
}

func TestDeviceTwoViewsMatchCPU(t *testing.T) {
	r := newDeviceRenderer(t)
	settings := config.New(config.WithOcclusion(false))
	d := newDeviceSurface(t, 4)
	mv := finestView(d)
	half := &view.ChildViewDescriptor{
		ViewID: view.NewViewID(),
		Planes: []common.Plane{{Normal: [3]float32{-1, 0, 0}, Distance: 0.4}},
	}
	children := []childCull{
		{child: &view.ChildViewDescriptor{ViewID: mv.ViewID}, mode: cull.CullModeReuseMainView},
		{child: half, mode: cull.CullModeIndependent},
	}

	want := cpuOutcome(t, settings, d, mv, children)
	got := gpuOutcome(t, r, settings, d, mv, children)

	assert.Equal(t, want.stats, got.stats)
	assert.Equal(t, want.args, got.args)
	assert.Equal(t, want.addresses, got.addresses)
	assert.Equal(t, uint32(16), got.args[0].InstanceCount)
	assert.Equal(t, uint32(8), got.args[1].InstanceCount)
}

func TestDeviceQueueOverflowMatchesCPU(t *testing.T) {
	r := newDeviceRenderer(t)
	settings := config.New(
		config.WithMaxPersistentQueueItems(4),
		config.WithOcclusion(false),
	)
	d := newDeviceSurface(t, 64)
	mv := finestView(d)
	children := []childCull{{child: &view.ChildViewDescriptor{ViewID: mv.ViewID}, mode: cull.CullModeReuseMainView}}

	want := cpuOutcome(t, settings, d, mv, children)
	got := gpuOutcome(t, r, settings, d, mv, children)

	// Which nodes overflow depends on lane scheduling, so only the outcome shape is compared.
	require.Greater(t, want.stats.Overflowed, uint32(0))
	assert.Greater(t, got.stats.Overflowed, uint32(0))
	assert.Equal(t, got.stats.Expanded, got.stats.Subdivided+got.stats.Culled+got.stats.Emitted)
	assert.Equal(t, got.stats.Emitted, got.args[0].InstanceCount)
	assert.Equal(t, want.args[0].IndexCount, got.args[0].IndexCount)
	assert.NotZero(t, got.args[0].InstanceCount, "overflowing nodes are drawn coarser")
}

func TestDeviceResultsArriveOnLaterSubmit(t *testing.T) {
	r := newDeviceRenderer(t)
	backend := newDeviceBackend(t, r)
	require.False(t, backend.readback)

	settings := config.New(config.WithOcclusion(false))
	d := newDeviceSurface(t, 1)
	mv := finestView(d)

	submit := func() cull.MainViewResult {
		require.NoError(t, backend.BeginSubmit(context.Background(), settings))
		res, err := backend.CullMainView(d, mv, occlusion.NoOcclusion())
		require.NoError(t, err)
		require.NoError(t, backend.EndSubmit())
		return res
	}

	first := submit()
	assert.Zero(t, first.Stats(), "counters of a submit are never ready within it")

	var delivered cull.MainViewResult
	for range 200 {
		res := submit()
		if res.Stats().Emitted > 0 {
			delivered = res
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NotNil(t, delivered, "mapped counters reach a later submit")
	assert.Equal(t, cull.CollectStats{Expanded: 1, Emitted: 1}, delivered.Stats())
	assert.Len(t, delivered.Feedback().Requests, 1)
}

func TestDeviceExhaustedIterationsCountAsOverflow(t *testing.T) {
	r := newDeviceRenderer(t)
	backend := newDeviceBackend(t, r, WithReadback(true), WithCollectIterations(1))
	settings := config.New(config.WithOcclusion(false))
	d := newDeviceSurface(t, 64)
	mv := finestView(d)

	out, _ := runCull(t, backend, settings, d, mv, nil)
	assert.Greater(t, out.stats.Overflowed, uint32(0), "children left in the ring are reported")
	assert.Less(t, out.stats.Expanded, uint32(64*64))
	assert.Equal(t, out.stats.Expanded, out.stats.Subdivided+out.stats.Culled+out.stats.Emitted)
}
