package view

import (
	_ "embed"
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-vhm/common"
)

// GPUMainViewSource is the canonical WGSL definition of the MainView struct.
// Matches GPUMainView layout exactly (128 bytes, uniform aligned).
//
//go:embed assets/main_view.wgsl
var GPUMainViewSource string

// GPUChildViewSource is the canonical WGSL definition of the ChildView struct.
// Matches GPUChildView layout exactly (96 bytes, uniform aligned).
//
//go:embed assets/child_view.wgsl
var GPUChildViewSource string

// GPUMainView is the GPU-aligned representation of a MainViewDescriptor.
// Size: 128 bytes.
type GPUMainView struct {
	Planes      [common.MaxViewPlanes][4]float32 // offset   0: array<vec4<f32>, 5>
	OriginWorld [4]float32                       // offset  80: vec4<f32>
	LodRanges   [4]float32                       // offset  96: vec4<f32>
	NumLods     uint32                           // offset 112: u32
	_pad        [3]uint32                        // offset 116
}

// NewGPUMainView converts a main view descriptor.
func NewGPUMainView(m *MainViewDescriptor) GPUMainView {
	g := GPUMainView{
		OriginWorld: [4]float32{m.Origin[0], m.Origin[1], m.Origin[2], 1},
		LodRanges:   m.LodRanges.Vec4(),
		NumLods:     m.LodRanges.NumLods,
	}
	for i, p := range m.PaddedPlanes() {
		g.Planes[i] = p.Vec4()
	}
	return g
}

// Size returns the size of the GPUMainView struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (128)
func (g *GPUMainView) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUMainView struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: the serialized byte buffer
func (g *GPUMainView) Marshal() []byte {
	buf := make([]byte, g.Size())
	putPlanes(buf, g.Planes)
	for i := range 4 {
		binary.LittleEndian.PutUint32(buf[80+i*4:], math.Float32bits(g.OriginWorld[i]))
		binary.LittleEndian.PutUint32(buf[96+i*4:], math.Float32bits(g.LodRanges[i]))
	}
	binary.LittleEndian.PutUint32(buf[112:], g.NumLods)
	return buf
}

// GPUChildView is the GPU-aligned representation of a ChildViewDescriptor.
// Size: 96 bytes.
type GPUChildView struct {
	Planes        [common.MaxViewPlanes][4]float32 // offset  0: array<vec4<f32>, 5>
	ReuseMainView uint32                           // offset 80: u32
	_pad          [3]uint32                        // offset 84
}

// NewGPUChildView converts a child view descriptor. With reuseMainView set the cull pass
// accepts every instance without testing planes.
func NewGPUChildView(c *ChildViewDescriptor, reuseMainView bool) GPUChildView {
	var g GPUChildView
	for i, p := range c.PaddedPlanes() {
		g.Planes[i] = p.Vec4()
	}
	if reuseMainView {
		g.ReuseMainView = 1
	}
	return g
}

// Size returns the size of the GPUChildView struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (96)
func (g *GPUChildView) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUChildView struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: the serialized byte buffer
func (g *GPUChildView) Marshal() []byte {
	buf := make([]byte, g.Size())
	putPlanes(buf, g.Planes)
	binary.LittleEndian.PutUint32(buf[80:], g.ReuseMainView)
	return buf
}

func putPlanes(buf []byte, planes [common.MaxViewPlanes][4]float32) {
	for i := range planes {
		for k := range 4 {
			binary.LittleEndian.PutUint32(buf[i*16+k*4:], math.Float32bits(planes[i][k]))
		}
	}
}
