package gpu

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-vhm/engine/cull"
	"github.com/Carmen-Shannon/oxy-vhm/engine/heightfield"
	"github.com/Carmen-Shannon/oxy-vhm/engine/occlusion"
	"github.com/Carmen-Shannon/oxy-vhm/engine/renderer"
	"github.com/Carmen-Shannon/oxy-vhm/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-vhm/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-vhm/engine/view"
	"github.com/Carmen-Shannon/oxy-vhm/internal/wgsltest"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGPUStructSizes(t *testing.T) {
	var q GPUQuadItem
	var a GPUCullArgs
	var p GPUCollectParams
	assert.Equal(t, GPUQuadItemSize, q.Size())
	assert.Equal(t, 36, a.Size())
	assert.Equal(t, 288, p.Size())
	assert.Len(t, p.Marshal(), 288)
}

func TestPassShadersCompile(t *testing.T) {
	includes := shader.WithIncludes(Includes())
	for _, pass := range computePasses {
		t.Run(pass.key, func(t *testing.T) {
			s, err := shader.NewShader(pass.key, shader.ShaderTypeCompute, pass.source, includes)
			require.NoError(t, err)
			assert.NotEmpty(t, s.BindGroupLayoutDescriptor(0).Entries)
			wgsltest.Compile(t, pass.key, s.Source())
		})
	}
	t.Run(PipelineLodMap, func(t *testing.T) {
		s, err := shader.NewShader(PipelineLodMap, shader.ShaderTypeVertex, lodMapSource, includes)
		require.NoError(t, err)
		assert.Equal(t, "vs_main", s.EntryPoint())
		wgsltest.Compile(t, PipelineLodMap, s.Source())
	})
}

func TestNewCullPipelines(t *testing.T) {
	pipelines, err := NewCullPipelines()
	require.NoError(t, err)
	require.Len(t, pipelines, len(computePasses)+1)

	keys := make(map[string]pipeline.Pipeline, len(pipelines))
	for _, p := range pipelines {
		keys[p.PipelineKey()] = p
	}
	for _, key := range []string{
		PipelineInitBuffers, PipelineCollectQuads, PipelineBuildCullArgs, PipelineLodMap,
		PipelineResolveNeighbors, PipelineInitInstances, PipelineCullInstances, PipelineBuildDrawArgs,
	} {
		assert.Contains(t, keys, key)
	}

	lodMap := keys[PipelineLodMap]
	require.Equal(t, pipeline.PipelineTypeRender, lodMap.Type())
	format, offscreen := lodMap.ColorTarget()
	assert.True(t, offscreen)
	assert.Equal(t, LodMapFormat, format)

	resolve := renderer.BindGroupLayoutDescriptor(keys[PipelineResolveNeighbors], 0)
	require.Len(t, resolve.Entries, 6)
	assert.Equal(t, uint32(5), resolve.Entries[5].Binding)
	assert.Equal(t, wgpu.TextureSampleTypeFloat, resolve.Entries[5].Texture.SampleType)

	collect := renderer.BindGroupLayoutDescriptor(keys[PipelineCollectQuads], 0)
	assert.Len(t, collect.Entries, 10)
}

func TestRenderInstanceMarshal(t *testing.T) {
	in := []cull.RenderInstance{
		{
			AddressLevelPacked: 0x12345,
			Lod:                2.5,
			UVTransform:        [3]float32{0.25, 0.5, 0.75},
			Neighbors: [cull.NumSides]cull.NeighborLod{
				{Lod: 1, UVTransform: [3]float32{1, 0, 0}},
				{Lod: 2, UVTransform: [3]float32{0.5, 0.5, 0}},
				{Lod: 3, UVTransform: [3]float32{0.5, 0, 0.5}},
				{Lod: 4, UVTransform: [3]float32{0.125, 0.25, 0.5}},
			},
		},
		{AddressLevelPacked: 7},
	}
	buf := MarshalRenderInstances(in)
	require.Len(t, buf, 2*GPURenderInstanceSize)
	assert.Equal(t, in, UnmarshalRenderInstances(buf, 2))
	assert.Len(t, UnmarshalRenderInstances(buf, 5), 2, "count clamps to the buffer")
}

func TestNewGPUCullArgs(t *testing.T) {
	args := NewGPUCullArgs(65)
	assert.Equal(t, uint32(len(LodMapIndices)), args.LodMap.IndexCount)
	assert.Equal(t, uint32(65), args.LodMap.InstanceCount)
	assert.Equal(t, uint32(2), args.DispatchX)
	assert.Equal(t, uint32(1), args.DispatchY)
	assert.Equal(t, uint32(65), args.NumQuads)

	empty := NewGPUCullArgs(0)
	assert.Zero(t, empty.DispatchX)
}

func TestNewGPUCollectParams(t *testing.T) {
	d := &heightfield.Descriptor{MaxLevel: 6}
	occ := &occlusion.Result{
		Mips:    [][]byte{make([]byte, 16), make([]byte, 4), make([]byte, 1)},
		Sizes:   [][2]uint32{{4, 4}, {2, 2}, {1, 1}},
		NumMips: 3,
	}

	p := NewGPUCollectParams(d, occ, true, true, 100)
	assert.Equal(t, uint32(1), p.FeedbackEnabled)
	assert.Equal(t, uint32(1), p.OcclusionEnabled)
	assert.Equal(t, int32(4), p.OcclusionLevelOffset)
	assert.Equal(t, uint32(3), p.OcclusionNumMips)
	assert.Equal(t, uint32(100), p.MaxIterations)
	assert.Equal(t, [4]uint32{0, 4, 4, 0}, p.OcclusionMips[0])
	assert.Equal(t, [4]uint32{16, 2, 2, 0}, p.OcclusionMips[1])
	assert.Equal(t, [4]uint32{20, 1, 1, 0}, p.OcclusionMips[2])

	off := NewGPUCollectParams(d, occ, false, false, 100)
	assert.Zero(t, off.OcclusionEnabled)
	assert.Zero(t, off.FeedbackEnabled)

	assert.Zero(t, NewGPUCollectParams(d, nil, true, true, 1).OcclusionEnabled)
}

func TestMarshalOcclusion(t *testing.T) {
	fallback := MarshalOcclusion(nil)
	require.Len(t, fallback, 4)
	assert.Equal(t, []byte{occlusion.Visible, 0, 0, 0}, fallback)

	occ := &occlusion.Result{
		Mips:    [][]byte{{occlusion.Visible, 0, 0, occlusion.Visible}, {occlusion.Visible}},
		Sizes:   [][2]uint32{{2, 2}, {1, 1}},
		NumMips: 2,
	}
	buf := MarshalOcclusion(occ)
	require.Len(t, buf, 20)
	assert.Equal(t, byte(occlusion.Visible), buf[0])
	assert.Equal(t, byte(0), buf[4])
	assert.Equal(t, byte(occlusion.Visible), buf[16])
}

func TestUnmarshalFeedback(t *testing.T) {
	buf := []byte{1, 0, 0, 0, 2, 0, 0, 0}
	assert.Equal(t, []uint32{1, 2}, UnmarshalFeedback(buf, 2).Requests)
	assert.Equal(t, []uint32{1, 2}, UnmarshalFeedback(buf, 9).Requests)
	assert.Empty(t, UnmarshalFeedback(nil, 3).Requests)
}

func TestUnmarshalDrawArgs(t *testing.T) {
	buf := make([]byte, GPUDrawArgsSize)
	buf[0] = 6
	buf[4] = 3
	args := UnmarshalDrawArgs(buf)
	assert.Equal(t, cull.DrawIndexedIndirectArgs{IndexCount: 6, InstanceCount: 3}, args)
	assert.Equal(t, cull.DrawIndexedIndirectArgs{}, UnmarshalDrawArgs(buf[:4]))
}

func TestAsyncResultWaitsForBothReads(t *testing.T) {
	b := &Backend{latest: make(map[resultKey]asyncResult)}
	key := resultKey{surface: heightfield.NewSurfaceID(), mainView: view.NewViewID()}

	info := make([]byte, 48)
	info[16] = 2 // feedback count
	info[20] = 3 // expanded
	info[24] = 1 // subdivided
	info[32] = 2 // emitted
	feedback := []byte{7, 0, 0, 0, 9, 0, 0, 0, 11, 0, 0, 0}

	p := &pendingResult{key: key, waiting: 2}
	b.inFlight = 2
	b.finishRead(p, &p.feedback, feedback, nil)
	assert.Empty(t, b.latest, "counters still in flight")

	b.finishRead(p, &p.info, info, nil)
	assert.Zero(t, b.inFlight)
	require.Contains(t, b.latest, key)
	assert.Equal(t, cull.CollectStats{Expanded: 3, Subdivided: 1, Emitted: 2}, b.latest[key].stats)
	assert.Equal(t, []uint32{7, 9}, b.latest[key].feedback.Requests)

	failed := &pendingResult{key: resultKey{surface: heightfield.NewSurfaceID()}, waiting: 2}
	b.inFlight = 2
	b.finishRead(failed, &failed.info, nil, errors.New("lost device"))
	b.finishRead(failed, &failed.feedback, feedback, nil)
	assert.NotContains(t, b.latest, failed.key)
	assert.Zero(t, b.inFlight)
}
