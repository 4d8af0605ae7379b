package gpu

import (
	_ "embed"
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-vhm/engine/cull"
	"github.com/Carmen-Shannon/oxy-vhm/engine/heightfield"
	"github.com/Carmen-Shannon/oxy-vhm/engine/occlusion"
	"github.com/Carmen-Shannon/oxy-vhm/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-vhm/engine/view"
	"github.com/Carmen-Shannon/oxy-vhm/engine/workqueue"
)

// GPUQuadItemSource is the canonical WGSL definition of the QuadItem struct (24 bytes).
//
//go:embed assets/quad_item.wgsl
var GPUQuadItemSource string

// GPURenderInstanceSource is the canonical WGSL definition of the RenderInstance struct (96 bytes).
//
//go:embed assets/render_instance.wgsl
var GPURenderInstanceSource string

// GPUCullArgsSource is the canonical WGSL definition of the CullArgs struct (36 bytes).
//
//go:embed assets/cull_args.wgsl
var GPUCullArgsSource string

// GPUDrawArgsSource is the canonical WGSL definition of the DrawArgs struct (20 bytes).
//
//go:embed assets/draw_args.wgsl
var GPUDrawArgsSource string

// GPUCollectParamsSource is the canonical WGSL definition of the CollectParams struct (288 bytes).
//
//go:embed assets/collect_params.wgsl
var GPUCollectParamsSource string

//go:embed assets/cull_math.wgsl
var cullMathSource string

//go:embed assets/node_math.wgsl
var nodeMathSource string

//go:embed assets/node_bounds.wgsl
var nodeBoundsSource string

//go:embed assets/page_lookup.wgsl
var pageLookupSource string

//go:embed assets/init_buffers.wgsl
var initBuffersSource string

//go:embed assets/collect_quads.wgsl
var collectQuadsSource string

//go:embed assets/build_cull_args.wgsl
var buildCullArgsSource string

//go:embed assets/lod_map.wgsl
var lodMapSource string

//go:embed assets/resolve_neighbors.wgsl
var resolveNeighborsSource string

//go:embed assets/init_instances.wgsl
var initInstancesSource string

//go:embed assets/cull_instances.wgsl
var cullInstancesSource string

//go:embed assets/build_draw_args.wgsl
var buildDrawArgsSource string

// Includes returns every WGSL fragment the culling shaders pull in by name. Draw shaders that
// read RenderInstances use the same registry.
//
// Returns:
//   - map[string]shader.Include: the includes keyed by include name
func Includes() map[string]shader.Include {
	return map[string]shader.Include{
		"surface_params":  {Source: heightfield.GPUSurfaceParamsSource, Type: "SurfaceParams"},
		"main_view":       {Source: view.GPUMainViewSource, Type: "MainView"},
		"child_view":      {Source: view.GPUChildViewSource, Type: "ChildView"},
		"queue_info":      {Source: workqueue.GPUQueueInfoSource, Type: "QueueInfo"},
		"work_queue":      {Source: workqueue.GPUWorkQueueSource},
		"quad_item":       {Source: GPUQuadItemSource, Type: "QuadItem"},
		"render_instance": {Source: GPURenderInstanceSource, Type: "RenderInstance"},
		"cull_args":       {Source: GPUCullArgsSource, Type: "CullArgs"},
		"draw_args":       {Source: GPUDrawArgsSource, Type: "DrawArgs"},
		"collect_params":  {Source: GPUCollectParamsSource, Type: "CollectParams"},
		"cull_math":       {Source: cullMathSource},
		"node_math":       {Source: nodeMathSource},
		"node_bounds":     {Source: nodeBoundsSource},
		"page_lookup":     {Source: pageLookupSource},
	}
}

// Byte offsets into the CullArgs buffer.
const (
	// LodMapDrawArgsOffset is where the indexed indirect draw of the LOD map starts.
	LodMapDrawArgsOffset = 0
	// DispatchArgsOffset is where the indirect dispatch of resolve and final cull starts.
	DispatchArgsOffset = 20
)

// MaxOcclusionMips bounds the occlusion mips a collect pass can address.
const MaxOcclusionMips = 16

// LodMapIndices draws one quad per LOD map instance from four corners.
var LodMapIndices = []uint32{0, 1, 2, 2, 1, 3}

// GPUQuadItem is the GPU-side layout of a QuadItem.
// Size: 24 bytes.
type GPUQuadItem struct {
	Packed      uint32     // offset  0: u32
	Lod         float32    // offset  4: f32
	UVTransform [3]float32 // offset  8: uv_scale, uv_bias_x, uv_bias_y
	_pad        uint32     // offset 20
}

// Size returns the size of the GPUQuadItem struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (24)
func (g *GPUQuadItem) Size() int {
	return int(unsafe.Sizeof(*g))
}

// QuadItem decodes the GPU item.
func (g *GPUQuadItem) QuadItem() cull.QuadItem {
	it := workqueue.UnpackItem(g.Packed)
	return cull.QuadItem{X: it.X, Y: it.Y, Level: it.Level, Lod: g.Lod, UVTransform: g.UVTransform}
}

// GPUQuadItemSize is the stride of the quad buffer.
const GPUQuadItemSize = 24

// UnmarshalGPUQuadItems decodes a quad buffer read back from the GPU.
func UnmarshalGPUQuadItems(buf []byte, n int) []cull.QuadItem {
	n = min(n, len(buf)/GPUQuadItemSize)
	out := make([]cull.QuadItem, n)
	for i := range n {
		b := buf[i*GPUQuadItemSize:]
		g := GPUQuadItem{
			Packed: binary.LittleEndian.Uint32(b[0:]),
			Lod:    getFloat(b[4:]),
		}
		for k := range 3 {
			g.UVTransform[k] = getFloat(b[8+k*4:])
		}
		out[i] = g.QuadItem()
	}
	return out
}

// GPURenderInstanceSize is the stride of a RenderInstance buffer.
const GPURenderInstanceSize = 96

// MarshalRenderInstances serializes instances in the WGSL RenderInstance layout.
//
// Layout per instance: packed (0), lod (4), uv_scale (8), pad (12), uv_bias (16), pad (24),
// then four 16-byte NeighborLod entries (lod, uv_scale, uv_bias) from offset 32.
func MarshalRenderInstances(instances []cull.RenderInstance) []byte {
	buf := make([]byte, len(instances)*GPURenderInstanceSize)
	for i, inst := range instances {
		b := buf[i*GPURenderInstanceSize:]
		binary.LittleEndian.PutUint32(b[0:], inst.AddressLevelPacked)
		putFloat(b[4:], inst.Lod)
		putFloat(b[8:], inst.UVTransform[0])
		putFloat(b[16:], inst.UVTransform[1])
		putFloat(b[20:], inst.UVTransform[2])
		for side, n := range inst.Neighbors {
			o := 32 + side*16
			putFloat(b[o:], n.Lod)
			putFloat(b[o+4:], n.UVTransform[0])
			putFloat(b[o+8:], n.UVTransform[1])
			putFloat(b[o+12:], n.UVTransform[2])
		}
	}
	return buf
}

// UnmarshalRenderInstances decodes at most n instances from a buffer in the WGSL layout.
func UnmarshalRenderInstances(buf []byte, n int) []cull.RenderInstance {
	n = min(n, len(buf)/GPURenderInstanceSize)
	out := make([]cull.RenderInstance, n)
	for i := range n {
		b := buf[i*GPURenderInstanceSize:]
		inst := cull.RenderInstance{
			AddressLevelPacked: binary.LittleEndian.Uint32(b[0:]),
			Lod:                getFloat(b[4:]),
			UVTransform:        [3]float32{getFloat(b[8:]), getFloat(b[16:]), getFloat(b[20:])},
		}
		for side := range cull.NumSides {
			o := 32 + side*16
			inst.Neighbors[side] = cull.NeighborLod{
				Lod:         getFloat(b[o:]),
				UVTransform: [3]float32{getFloat(b[o+4:]), getFloat(b[o+8:]), getFloat(b[o+12:])},
			}
		}
		out[i] = inst
	}
	return out
}

// GPUCullArgs is the indirect argument block written by the collect stage.
// Size: 36 bytes.
type GPUCullArgs struct {
	LodMap    cull.DrawIndexedIndirectArgs // offset  0: indexed indirect draw of the LOD map
	DispatchX uint32                  // offset 20: indirect dispatch
	DispatchY uint32                  // offset 24
	DispatchZ uint32                  // offset 28
	NumQuads  uint32                  // offset 32
}

// Size returns the size of the GPUCullArgs struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (36)
func (g *GPUCullArgs) Size() int {
	return int(unsafe.Sizeof(*g))
}

// NewGPUCullArgs returns the arguments the BuildArgs pass writes for n collected quads.
func NewGPUCullArgs(n uint32) GPUCullArgs {
	return GPUCullArgs{
		LodMap:    cull.DrawIndexedIndirectArgs{IndexCount: uint32(len(LodMapIndices)), InstanceCount: n},
		DispatchX: (n + 63) / 64,
		DispatchY: 1,
		DispatchZ: 1,
		NumQuads:  n,
	}
}

// UnmarshalGPUCullArgs decodes a CullArgs block read back from the GPU.
func UnmarshalGPUCullArgs(buf []byte) GPUCullArgs {
	var g GPUCullArgs
	if len(buf) < g.Size() {
		return g
	}
	g.LodMap = UnmarshalDrawArgs(buf)
	g.DispatchX = binary.LittleEndian.Uint32(buf[20:])
	g.DispatchY = binary.LittleEndian.Uint32(buf[24:])
	g.DispatchZ = binary.LittleEndian.Uint32(buf[28:])
	g.NumQuads = binary.LittleEndian.Uint32(buf[32:])
	return g
}

// GPUDrawArgsSize is the size of the DrawArgs block of a draw instance buffer.
const GPUDrawArgsSize = 20

// UnmarshalDrawArgs decodes an indexed indirect argument block.
func UnmarshalDrawArgs(buf []byte) cull.DrawIndexedIndirectArgs {
	if len(buf) < GPUDrawArgsSize {
		return cull.DrawIndexedIndirectArgs{}
	}
	return cull.DrawIndexedIndirectArgs{
		IndexCount:    binary.LittleEndian.Uint32(buf[0:]),
		InstanceCount: binary.LittleEndian.Uint32(buf[4:]),
		FirstIndex:    binary.LittleEndian.Uint32(buf[8:]),
		BaseVertex:    int32(binary.LittleEndian.Uint32(buf[12:])),
		FirstInstance: binary.LittleEndian.Uint32(buf[16:]),
	}
}

// GPUCollectParams is the uniform block of the collect pass.
// Size: 288 bytes.
type GPUCollectParams struct {
	FeedbackEnabled      uint32                      // offset  0: u32
	OcclusionEnabled     uint32                      // offset  4: u32
	OcclusionLevelOffset int32                       // offset  8: i32
	OcclusionNumMips     uint32                      // offset 12: u32
	MaxIterations        uint32                      // offset 16: u32
	_pad                 [3]uint32                   // offset 20
	OcclusionMips        [MaxOcclusionMips][4]uint32 // offset 32: array<vec4<u32>, 16>
}

// NewGPUCollectParams builds the collect uniforms. occ may be nil, in which case the
// occlusion test is disabled.
//
// Parameters:
//   - d: the surface descriptor
//   - occ: the occlusion result to test against
//   - useOcclusion: whether the occlusion test runs
//   - feedback: whether page requests are written
//   - maxIterations: the bound on pops per invocation
//
// Returns:
//   - GPUCollectParams: the uniforms
func NewGPUCollectParams(d *heightfield.Descriptor, occ *occlusion.Result, useOcclusion, feedback bool, maxIterations uint32) GPUCollectParams {
	g := GPUCollectParams{MaxIterations: maxIterations}
	if feedback {
		g.FeedbackEnabled = 1
	}
	if useOcclusion && occ != nil && occ.NumMips > 0 {
		g.OcclusionEnabled = 1
		g.OcclusionLevelOffset = occ.LevelOffset(d.MaxLevel)
		g.OcclusionNumMips = min(occ.NumMips, MaxOcclusionMips)
		var offset uint32
		for i := range g.OcclusionNumMips {
			size := occ.Sizes[i]
			g.OcclusionMips[i] = [4]uint32{offset, size[0], size[1], 0}
			offset += size[0] * size[1]
		}
	}
	return g
}

// Size returns the size of the GPUCollectParams struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (288)
func (g *GPUCollectParams) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUCollectParams struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: the serialized byte buffer
func (g *GPUCollectParams) Marshal() []byte {
	buf := make([]byte, g.Size())
	binary.LittleEndian.PutUint32(buf[0:], g.FeedbackEnabled)
	binary.LittleEndian.PutUint32(buf[4:], g.OcclusionEnabled)
	binary.LittleEndian.PutUint32(buf[8:], uint32(g.OcclusionLevelOffset))
	binary.LittleEndian.PutUint32(buf[12:], g.OcclusionNumMips)
	binary.LittleEndian.PutUint32(buf[16:], g.MaxIterations)
	for i := range MaxOcclusionMips {
		for k := range 4 {
			binary.LittleEndian.PutUint32(buf[32+i*16+k*4:], g.OcclusionMips[i][k])
		}
	}
	return buf
}

// MarshalOcclusion flattens the occlusion mips into one u32 per cell, in the order addressed
// by GPUCollectParams.OcclusionMips. A nil result yields one visible cell.
func MarshalOcclusion(occ *occlusion.Result) []byte {
	if occ == nil || occ.NumMips == 0 {
		occ = occlusion.NoOcclusion()
	}
	var cells int
	for i := range min(occ.NumMips, MaxOcclusionMips) {
		cells += len(occ.Mips[i])
	}
	buf := make([]byte, max(cells, 1)*4)
	var o int
	for i := range min(occ.NumMips, MaxOcclusionMips) {
		for _, v := range occ.Mips[i] {
			binary.LittleEndian.PutUint32(buf[o:], uint32(v))
			o += 4
		}
	}
	return buf
}

// UnmarshalFeedback decodes count page requests from a feedback buffer.
func UnmarshalFeedback(buf []byte, count uint32) cull.Feedback {
	count = min(count, uint32(len(buf)/4))
	requests := make([]uint32, count)
	for i := range count {
		requests[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return cull.Feedback{Requests: requests}
}

func putFloat(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}

func getFloat(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
