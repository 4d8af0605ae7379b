package main

import (
	_ "embed"
	"encoding/binary"
	"math"

	"github.com/Carmen-Shannon/oxy-vhm/engine/cull"
	"github.com/Carmen-Shannon/oxy-vhm/engine/cull/gpu"
	"github.com/Carmen-Shannon/oxy-vhm/engine/heightfield"
	"github.com/Carmen-Shannon/oxy-vhm/engine/renderer"
	"github.com/Carmen-Shannon/oxy-vhm/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-vhm/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-vhm/engine/renderer/shader"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"
)

const pipelineTileDraw = "vhmview_tile_draw"

//go:embed assets/tile_draw.wgsl
var tileDrawSource string

const tileCameraSource = `struct TileCamera {
    view_proj: mat4x4<f32>,
}`

// tileDraw renders the instances a cull view produced with one indexed indirect draw.
type tileDraw struct {
	renderer renderer.Renderer
	indices  bind_group_provider.BindGroupProvider
	// groups caches one bind group per instance buffer, pooled draw buffers are reused across frames.
	groups  map[*wgpu.Buffer]*tileGroup
	surface *wgpu.Buffer
	camera  *wgpu.Buffer
	quads   uint32
	frame   uint64
}

type tileGroup struct {
	provider bind_group_provider.BindGroupProvider
	lastUsed uint64
}

func newTileDraw(r renderer.Renderer, quadsPerTileSide uint32) (*tileDraw, error) {
	includes := gpu.Includes()
	includes["tile_camera"] = shader.Include{Source: tileCameraSource, Type: "TileCamera"}

	vs, err := shader.NewShader(pipelineTileDraw+"_vs", shader.ShaderTypeVertex, tileDrawSource, shader.WithIncludes(includes))
	if err != nil {
		return nil, err
	}
	fs, err := shader.NewShader(pipelineTileDraw+"_fs", shader.ShaderTypeFragment, tileDrawSource, shader.WithIncludes(includes))
	if err != nil {
		return nil, err
	}
	if err := r.RegisterPipelines(pipeline.NewPipeline(pipelineTileDraw, pipeline.PipelineTypeRender,
		pipeline.WithVertexShader(vs),
		pipeline.WithFragmentShader(fs),
		pipeline.WithDepthTestEnabled(true),
		pipeline.WithDepthWriteEnabled(true),
		pipeline.WithCullMode(wgpu.CullModeNone),
	)); err != nil {
		return nil, errors.New("registering tile draw pipeline failed").Wrap(err)
	}

	var params heightfield.GPUSurfaceParams
	surface, err := r.CreateBuffer("Tile Draw Surface", uint64(params.Size()), wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst)
	if err != nil {
		return nil, err
	}
	camera, err := r.CreateBuffer("Tile Draw Camera", 64, wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst)
	if err != nil {
		surface.Release()
		return nil, err
	}

	indices := bind_group_provider.NewBindGroupProvider("Tile Indices")
	if err := r.InitIndexBuffer(indices, tileIndices(quadsPerTileSide)); err != nil {
		surface.Release()
		camera.Release()
		return nil, errors.New("creating tile index buffer failed").Wrap(err)
	}

	return &tileDraw{
		renderer: r,
		indices:  indices,
		groups:   make(map[*wgpu.Buffer]*tileGroup),
		surface:  surface,
		camera:   camera,
		quads:    quadsPerTileSide,
	}, nil
}

// Draw encodes the draw of one cull view's instances. It must run inside the renderer frame.
func (t *tileDraw) Draw(d *heightfield.Descriptor, viewProj mgl32.Mat4, buffers cull.DrawInstanceBuffers) error {
	dst, ok := buffers.(*gpu.DrawBuffers)
	if !ok {
		return errors.New("tile draw needs device draw buffers").WithTag("label", buffers.Label())
	}
	if d.NumQuadsPerTileSide != t.quads {
		return errors.New("surface tile grid does not match the index buffer").
			WithTag("surface", d.ID).
			WithTag("quads", d.NumQuadsPerTileSide)
	}

	group, err := t.group(dst)
	if err != nil {
		return err
	}

	_, mips := heightfield.PackPageTable(d.PageTable, d.MaxLevel)
	params := heightfield.NewGPUSurfaceParams(d, mips)
	t.renderer.WriteBuffers([]bind_group_provider.BufferWrite{
		{Provider: group, Binding: 0, Data: params.Marshal()},
		{Provider: group, Binding: 2, Data: marshalMat4(viewProj)},
	})
	return t.renderer.DrawCallIndirect(pipelineTileDraw, t.indices, []bind_group_provider.BindGroupProvider{group}, dst.Args(), 0)
}

func (t *tileDraw) group(dst *gpu.DrawBuffers) (bind_group_provider.BindGroupProvider, error) {
	instances := dst.Instances()
	if g, ok := t.groups[instances]; ok {
		g.lastUsed = t.frame
		return g.provider, nil
	}
	g := bind_group_provider.NewBindGroupProvider(dst.Label()+" Tile Draw",
		bind_group_provider.WithSharedBuffer(0, t.surface),
		bind_group_provider.WithSharedBuffer(1, instances),
		bind_group_provider.WithSharedBuffer(2, t.camera),
	)
	descriptor := renderer.BindGroupLayoutDescriptor(t.renderer.Pipeline(pipelineTileDraw), 0)
	if err := t.renderer.InitBindGroup(g, descriptor, nil, nil); err != nil {
		g.Release()
		return nil, errors.New("creating tile draw bind group failed").WithTag("label", dst.Label()).Wrap(err)
	}
	t.groups[instances] = &tileGroup{provider: g, lastUsed: t.frame}
	return g, nil
}

// EndFrame drops the bind groups whose instance buffers were not drawn for more than
// maxAge frames.
func (t *tileDraw) EndFrame(maxAge uint64) {
	for buf, g := range t.groups {
		if t.frame-g.lastUsed > maxAge {
			g.provider.Release()
			delete(t.groups, buf)
		}
	}
	t.frame++
}

func (t *tileDraw) Release() {
	for buf, g := range t.groups {
		g.provider.Release()
		delete(t.groups, buf)
	}
	t.indices.Release()
	t.surface.Release()
	t.camera.Release()
}

func marshalMat4(m mgl32.Mat4) []byte {
	buf := make([]byte, 64)
	for i, v := range m {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}
