package workqueue

import (
	_ "embed"
	"encoding/binary"
	"unsafe"
)

// GPUQueueInfoSource is the canonical WGSL definition of the QueueInfo struct.
// Matches GPUQueueInfo layout exactly (48 bytes, storage aligned).
//
//go:embed assets/queue_info.wgsl
var GPUQueueInfoSource string

// GPUWorkQueueSource holds the WGSL ring buffer functions. It expects queue_info and
// queue_items bindings in the including shader.
//
//go:embed assets/work_queue.wgsl
var GPUWorkQueueSource string

// GPUQueueInfo is the GPU-side cursor block plus the per-pass counters of the collect stage.
// Size: 48 bytes.
type GPUQueueInfo struct {
	Read          uint32    // offset  0: atomic<u32>
	Write         uint32    // offset  4: atomic<u32>
	NumActive     int32     // offset  8: atomic<i32>
	QuadCount     uint32    // offset 12: atomic<u32>
	FeedbackCount uint32    // offset 16: atomic<u32>
	Expanded      uint32    // offset 20: atomic<u32>
	Subdivided    uint32    // offset 24: atomic<u32>
	Culled        uint32    // offset 28: atomic<u32>
	Emitted       uint32    // offset 32: atomic<u32>
	Overflowed    uint32    // offset 36: atomic<u32>
	_pad          [2]uint32 // offset 40
}

// Size returns the size of the GPUQueueInfo struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (48)
func (g *GPUQueueInfo) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Info returns the cursor part of the block.
func (g *GPUQueueInfo) Info() Info {
	return Info{Read: g.Read, Write: g.Write, NumActive: g.NumActive}
}

// UnmarshalGPUQueueInfo decodes a QueueInfo block read back from the GPU.
func UnmarshalGPUQueueInfo(buf []byte) GPUQueueInfo {
	var g GPUQueueInfo
	if len(buf) < g.Size() {
		return g
	}
	g.Read = binary.LittleEndian.Uint32(buf[0:])
	g.Write = binary.LittleEndian.Uint32(buf[4:])
	g.NumActive = int32(binary.LittleEndian.Uint32(buf[8:]))
	g.QuadCount = binary.LittleEndian.Uint32(buf[12:])
	g.FeedbackCount = binary.LittleEndian.Uint32(buf[16:])
	g.Expanded = binary.LittleEndian.Uint32(buf[20:])
	g.Subdivided = binary.LittleEndian.Uint32(buf[24:])
	g.Culled = binary.LittleEndian.Uint32(buf[28:])
	g.Emitted = binary.LittleEndian.Uint32(buf[32:])
	g.Overflowed = binary.LittleEndian.Uint32(buf[36:])
	return g
}
