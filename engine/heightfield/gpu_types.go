package heightfield

import (
	_ "embed"
	"encoding/binary"
	"math"
	"unsafe"
)

// GPUSurfaceParamsSource is the canonical WGSL definition of the SurfaceParams struct.
// Matches GPUSurfaceParams layout exactly (640 bytes, uniform aligned).
//
//go:embed assets/surface_params.wgsl
var GPUSurfaceParamsSource string

// GPUSurfaceParams is the GPU-aligned representation of a surface Descriptor.
// Matches the WGSL SurfaceParams struct layout exactly (see GPUSurfaceParamsSource).
// Size: 640 bytes.
type GPUSurfaceParams struct {
	UVToWorld             [16]float32                   // offset   0: mat4x4<f32>
	PageTableSize         [2]uint32                     // offset  64: vec2<u32>
	MaxLevel              uint32                        // offset  72: u32
	NumTailLods           uint32                        // offset  76: u32
	PhysicalPageTransform [4]float32                    // offset  80: vec4<f32>
	UVToWorldScale        [4]float32                    // offset  96: vec4<f32>, w unused
	MinMaxLevelOffset     int32                         // offset 112: i32
	MinMaxNumMips         uint32                        // offset 116: u32
	NumQuadsPerTileSide   uint32                        // offset 120: u32
	HasMinMax             uint32                        // offset 124: u32
	PageTableMips         [MaxPageTableLevels][4]uint32 // offset 128: array<vec4<u32>, 16>
	MinMaxMips            [MaxMinMaxMips][4]uint32      // offset 384: array<vec4<u32>, 16>
}

// NewGPUSurfaceParams converts a descriptor and the page table mips produced by PackPageTable.
func NewGPUSurfaceParams(d *Descriptor, pageMips []PageTableMip) GPUSurfaceParams {
	g := GPUSurfaceParams{
		UVToWorld:             d.UVToWorld,
		PageTableSize:         d.PageTableSize,
		MaxLevel:              d.MaxLevel,
		NumTailLods:           d.NumTailLods,
		PhysicalPageTransform: d.PhysicalPageTransform,
		UVToWorldScale:        [4]float32{d.UVToWorldScale[0], d.UVToWorldScale[1], d.UVToWorldScale[2], 0},
		MinMaxLevelOffset:     d.MinMaxLevelOffset,
		NumQuadsPerTileSide:   d.NumQuadsPerTileSide,
	}
	for i, m := range pageMips {
		if i >= MaxPageTableLevels {
			break
		}
		g.PageTableMips[i] = [4]uint32{m.Offset, m.Width, m.Height, 0}
	}
	if d.MinMax != nil {
		g.HasMinMax = 1
		g.MinMaxNumMips = d.MinMax.NumMips()
		for i, m := range d.MinMax.Mips() {
			g.MinMaxMips[i] = [4]uint32{m.Offset, m.Width, m.Height, 0}
		}
	}
	return g
}

// Size returns the size of the GPUSurfaceParams struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (640)
func (g *GPUSurfaceParams) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUSurfaceParams struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: the serialized byte buffer
func (g *GPUSurfaceParams) Marshal() []byte {
	buf := make([]byte, g.Size())
	for i := range 16 {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(g.UVToWorld[i]))
	}
	binary.LittleEndian.PutUint32(buf[64:], g.PageTableSize[0])
	binary.LittleEndian.PutUint32(buf[68:], g.PageTableSize[1])
	binary.LittleEndian.PutUint32(buf[72:], g.MaxLevel)
	binary.LittleEndian.PutUint32(buf[76:], g.NumTailLods)
	for i := range 4 {
		binary.LittleEndian.PutUint32(buf[80+i*4:], math.Float32bits(g.PhysicalPageTransform[i]))
		binary.LittleEndian.PutUint32(buf[96+i*4:], math.Float32bits(g.UVToWorldScale[i]))
	}
	binary.LittleEndian.PutUint32(buf[112:], uint32(g.MinMaxLevelOffset))
	binary.LittleEndian.PutUint32(buf[116:], g.MinMaxNumMips)
	binary.LittleEndian.PutUint32(buf[120:], g.NumQuadsPerTileSide)
	binary.LittleEndian.PutUint32(buf[124:], g.HasMinMax)
	for i := range MaxPageTableLevels {
		for k := range 4 {
			binary.LittleEndian.PutUint32(buf[128+i*16+k*4:], g.PageTableMips[i][k])
			binary.LittleEndian.PutUint32(buf[384+i*16+k*4:], g.MinMaxMips[i][k])
		}
	}
	return buf
}

// MarshalMinMax serializes the hierarchy's pairs as vec2<f32> entries.
// A nil hierarchy yields a single default pair so the storage binding is never empty.
func MarshalMinMax(h *MinMaxHierarchy) []byte {
	pairs := []MinMax{DefaultMinMax}
	if h != nil {
		pairs = h.Pairs()
	}
	buf := make([]byte, len(pairs)*8)
	for i, p := range pairs {
		binary.LittleEndian.PutUint32(buf[i*8:], math.Float32bits(p.Min))
		binary.LittleEndian.PutUint32(buf[i*8+4:], math.Float32bits(p.Max))
	}
	return buf
}

// MarshalPageTable serializes packed page entries.
func MarshalPageTable(entries []uint32) []byte {
	buf := make([]byte, max(len(entries), 1)*4)
	for i, e := range entries {
		binary.LittleEndian.PutUint32(buf[i*4:], e)
	}
	return buf
}
