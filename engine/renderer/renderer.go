package renderer

import (
	"sync"

	"github.com/Carmen-Shannon/oxy-vhm/common"
	"github.com/Carmen-Shannon/oxy-vhm/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-vhm/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-vhm/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-vhm/engine/window"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/cogentcore/webgpu/wgpu"
)

// renderer is the implementation of the Renderer interface.
type renderer struct {
	mu *sync.Mutex

	pipelineCache map[string]pipeline.Pipeline

	backendType RendererBackendType
	backend     RendererBackend

	// Pre-creation config collected from builder options
	window               window.Window
	forceFallbackAdapter bool
	pendingPresentMode   *PresentMode
	pendingMSAA          *MSAASampleCount
}

// Renderer defines the interface for the rendering system.
//
// The Renderer caches pipelines by key and records GPU work through a backend. Compute work,
// copies and offscreen passes of a frame are batched into one command encoder between
// BeginComputeFrame and EndComputeFrame. Drawing to the window happens between BeginFrame
// and EndFrame. A Renderer built without a window is headless and only records compute and
// offscreen work.
type Renderer interface {
	// Pipeline retrieves the cached Pipeline associated with the given key.
	// If the Pipeline does not exist, this will return nil.
	//
	// Parameters:
	//   - key: the unique identifier for the Pipeline to retrieve
	//
	// Returns:
	//   - pipeline.Pipeline: the Pipeline associated with the key, or nil if not found
	Pipeline(key string) pipeline.Pipeline

	// RegisterPipelines creates the GPU pipeline objects of one or more pipelines and caches them
	// by PipelineKey. Keys that are already registered are skipped.
	//
	// Parameters:
	//   - pipelines: the Pipelines to register
	//
	// Returns:
	//   - error: an error if pipeline creation fails
	RegisterPipelines(pipelines ...pipeline.Pipeline) error

	// Headless reports whether the renderer has no window surface.
	//
	// Returns:
	//   - bool: true when BeginFrame and Present are unavailable
	Headless() bool

	// Resize configures the underlying backend to handle a new surface size.
	//
	// Parameters:
	//   - width: the new width of the surface in pixels
	//   - height: the new height of the surface in pixels
	Resize(width, height int)

	// SetPresentMode sets the surface present mode. A call to Resize is required after changing
	// this for the new mode to take effect.
	//
	// Parameters:
	//   - mode: the PresentMode to use (VSync or Uncapped)
	SetPresentMode(mode PresentMode)

	// CreateBuffer creates a GPU buffer that is not tied to a bind group.
	//
	// Parameters:
	//   - label: the debug label
	//   - size: the size in bytes
	//   - usage: the buffer usage flags
	//
	// Returns:
	//   - *wgpu.Buffer: the created buffer, owned by the caller
	//   - error: an error if the buffer could not be created
	CreateBuffer(label string, size uint64, usage wgpu.BufferUsage) (*wgpu.Buffer, error)

	// CreateTexture creates a 2D texture from staging data. Mips with data are uploaded.
	//
	// Parameters:
	//   - staging: the format, size and optional pixel data per mip
	//   - usage: the texture usage flags
	//
	// Returns:
	//   - *wgpu.Texture: the created texture, owned by the caller
	//   - *wgpu.TextureView: a view over every mip, owned by the caller
	//   - error: an error if texture creation fails
	CreateTexture(staging common.TextureStagingData, usage wgpu.TextureUsage) (*wgpu.Texture, *wgpu.TextureView, error)

	// InitIndexBuffer uploads 32-bit indices and stores the buffer on the provider for indirect
	// draws.
	//
	// Parameters:
	//   - provider: the BindGroupProvider to store the index buffer on
	//   - indices: the index data
	//
	// Returns:
	//   - error: an error if buffer creation fails
	InitIndexBuffer(provider bind_group_provider.BindGroupProvider, indices []uint32) error

	// InitBindGroup creates the missing buffers and the bind group of a provider from a layout
	// descriptor. Shared buffers and texture views must be set on the provider before this call.
	// Buffer usage and size can be overridden per binding.
	//
	// Parameters:
	//   - provider: the BindGroupProvider to store the created bind group on
	//   - descriptor: the layout descriptor defining the bind group entries
	//   - bufferUsageOverrides: additional buffer usage flags keyed by binding index (nil safe)
	//   - bufferSizeOverrides: buffer sizes replacing MinBindingSize keyed by binding index (nil safe)
	//
	// Returns:
	//   - error: an error if bind group creation fails
	InitBindGroup(provider bind_group_provider.BindGroupProvider, descriptor wgpu.BindGroupLayoutDescriptor, bufferUsageOverrides map[int]wgpu.BufferUsage, bufferSizeOverrides map[int]uint64) error

	// WriteBuffers writes all staged buffer writes to the GPU queue.
	//
	// Parameters:
	//   - writes: a slice of BufferWrite structs describing the data to write
	WriteBuffers(writes []bind_group_provider.BufferWrite)

	// BeginComputeFrame creates the command encoder that batches compute dispatches, copies and
	// offscreen passes into one GPU submission. Must be paired with EndComputeFrame.
	//
	// Returns:
	//   - error: an error if the command encoder could not be created
	BeginComputeFrame() error

	// EndComputeFrame finishes the batched command encoder and submits it to the GPU queue.
	//
	// Returns:
	//   - error: an error if no frame is open or the encoder could not be finished
	EndComputeFrame() error

	// DispatchCompute encodes a compute pass of the cached pipeline pipelineKey.
	//
	// Parameters:
	//   - pipelineKey: the unique identifier for the cached compute Pipeline to use
	//   - providers: the BindGroupProviders bound to groups 0..n-1
	//   - workGroupCount: the number of workgroups to dispatch in the x, y, and z dimensions
	//
	// Returns:
	//   - error: an error if the pipeline is unknown or no compute frame is open
	DispatchCompute(pipelineKey string, providers []bind_group_provider.BindGroupProvider, workGroupCount [3]uint32) error

	// DispatchComputeIndirect encodes a compute pass whose workgroup counts are written by an
	// earlier pass into indirect at offset.
	//
	// Parameters:
	//   - pipelineKey: the unique identifier for the cached compute Pipeline to use
	//   - providers: the BindGroupProviders bound to groups 0..n-1
	//   - indirect: the buffer holding the workgroup counts
	//   - offset: the byte offset of the counts, a multiple of 4
	//
	// Returns:
	//   - error: an error if the pipeline is unknown or no compute frame is open
	DispatchComputeIndirect(pipelineKey string, providers []bind_group_provider.BindGroupProvider, indirect *wgpu.Buffer, offset uint64) error

	// BeginOffscreenPass starts a render pass into target within the compute frame.
	//
	// Parameters:
	//   - target: the color attachment view
	//   - clear: the clear color
	//
	// Returns:
	//   - error: an error if no compute frame is open or a pass is already open
	BeginOffscreenPass(target *wgpu.TextureView, clear wgpu.Color) error

	// DrawIndexedIndirect encodes an indirect indexed draw within the open offscreen pass.
	//
	// Parameters:
	//   - pipelineKey: the unique identifier for the cached offscreen render Pipeline
	//   - indexProvider: the BindGroupProvider holding the index buffer
	//   - bindGroups: the BindGroupProviders bound to groups 0..n-1
	//   - indirect: the buffer holding DrawIndexedIndirect arguments
	//   - offset: the byte offset of the arguments
	//
	// Returns:
	//   - error: an error if the pipeline is unknown or no offscreen pass is open
	DrawIndexedIndirect(pipelineKey string, indexProvider bind_group_provider.BindGroupProvider, bindGroups []bind_group_provider.BindGroupProvider, indirect *wgpu.Buffer, offset uint64) error

	// EndOffscreenPass ends the open offscreen pass.
	EndOffscreenPass()

	// ReadBuffer blocks until the GPU finished the submitted work and returns a copy of size
	// bytes of src at offset. It must be called outside of a compute frame.
	//
	// Parameters:
	//   - src: the buffer to read, created with CopySrc usage
	//   - offset: the byte offset
	//   - size: the number of bytes
	//
	// Returns:
	//   - []byte: the bytes read
	//   - error: an error if the read back failed
	ReadBuffer(src *wgpu.Buffer, offset, size uint64) ([]byte, error)

	// ReadBufferAsync records a copy of size bytes of src at offset into the open compute
	// frame. The copy is mapped once the frame has executed on the GPU and done receives it
	// from a later PollReadbacks call. It never waits for the device.
	//
	// Parameters:
	//   - src: the buffer to read, created with CopySrc usage
	//   - offset: the byte offset
	//   - size: the number of bytes
	//   - done: called with the bytes read or the mapping error
	//
	// Returns:
	//   - error: an error if no compute frame is open or the staging buffer could not be created
	ReadBufferAsync(src *wgpu.Buffer, offset, size uint64, done func([]byte, error)) error

	// PollReadbacks checks the device for finished work without blocking and runs the callbacks
	// of the asynchronous reads that completed.
	//
	// Returns:
	//   - int: the number of callbacks run
	PollReadbacks() int

	// BeginFrame acquires the swapchain texture and begins the main render pass.
	// Must be paired with EndFrame.
	//
	// Returns:
	//   - error: an error if the renderer is headless or the swapchain texture could not be acquired
	BeginFrame() error

	// DrawCallIndirect encodes an indirect indexed draw within the main render pass. The
	// instance count is read from the indirect buffer on the GPU, allowing a compute pass to
	// control how many instances are drawn without CPU readback.
	//
	// Parameters:
	//   - pipelineKey: the unique identifier for the cached render Pipeline to use
	//   - indexProvider: the BindGroupProvider holding the index buffer
	//   - bindGroups: the BindGroupProviders bound to groups 0..n-1
	//   - indirect: the GPU buffer containing DrawIndexedIndirect arguments (20 bytes)
	//   - offset: the byte offset of the arguments
	//
	// Returns:
	//   - error: an error if the pipeline is not found
	DrawCallIndirect(pipelineKey string, indexProvider bind_group_provider.BindGroupProvider, bindGroups []bind_group_provider.BindGroupProvider, indirect *wgpu.Buffer, offset uint64) error

	// EndFrame ends the main render pass and submits the command buffer to the GPU.
	// Does not present the surface. Call Present after EndFrame to display the frame.
	EndFrame()

	// Present presents the surface to the display and releases the swapchain texture.
	Present()

	// Release releases every cached pipeline and the GPU device.
	Release()
}

var _ Renderer = &renderer{}

// NewRenderer creates a new Renderer instance with the specified backend type.
// Without WithWindow the renderer is headless.
//
// Parameters:
//   - backendType: the type of rendering backend to use (e.g., WGPU)
//   - options: variadic list of RendererBuilderOption functions to configure the Renderer
//
// Returns:
//   - Renderer: a new instance of Renderer configured with the specified backend and options
func NewRenderer(backendType RendererBackendType, options ...RendererBuilderOption) Renderer {
	r := &renderer{
		mu:            &sync.Mutex{},
		pipelineCache: make(map[string]pipeline.Pipeline),
		backendType:   backendType,
	}

	// Options run first so config flags are available before the backend requests an adapter.
	for _, opt := range options {
		opt(r)
	}

	msaa := MSAA4x
	if r.pendingMSAA != nil {
		msaa = *r.pendingMSAA
	}

	var surfaceDescriptor *wgpu.SurfaceDescriptor
	if r.window != nil {
		surfaceDescriptor = r.window.SurfaceDescriptor()
	}

	switch backendType {
	case BackendTypeWGPU:
		fallthrough
	default:
		r.backend = newWGPURendererBackend(surfaceDescriptor, r.forceFallbackAdapter, msaa)
	}

	if r.pendingPresentMode != nil {
		r.backend.SetPresentMode(*r.pendingPresentMode)
	}

	if r.window != nil {
		r.backend.ConfigureSurface(r.window.Width(), r.window.Height())
	}
	return r
}

func (r *renderer) Headless() bool {
	return r.backend.Headless()
}

func (r *renderer) Resize(width, height int) {
	r.backend.ConfigureSurface(width, height)
}

func (r *renderer) SetPresentMode(mode PresentMode) {
	r.backend.SetPresentMode(mode)
}

func (r *renderer) Pipeline(key string) pipeline.Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pipelineCache[key]
}

func (r *renderer) RegisterPipelines(pipelines ...pipeline.Pipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range pipelines {
		key := p.PipelineKey()
		if _, exists := r.pipelineCache[key]; exists {
			continue
		}
		switch p.Type() {
		case pipeline.PipelineTypeCompute:
			if err := r.backend.RegisterComputePipeline(p); err != nil {
				return err
			}
		case pipeline.PipelineTypeRender:
			if err := r.backend.RegisterRenderPipeline(p); err != nil {
				return err
			}
		}
		r.pipelineCache[key] = p
	}
	return nil
}

func (r *renderer) lookup(key string) (pipeline.Pipeline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.pipelineCache[key]
	if !exists {
		return nil, errors.New("pipeline not found in cache").WithTag("pipeline", key)
	}
	return p, nil
}

func (r *renderer) CreateBuffer(label string, size uint64, usage wgpu.BufferUsage) (*wgpu.Buffer, error) {
	return r.backend.CreateBuffer(label, size, usage)
}

func (r *renderer) CreateTexture(staging common.TextureStagingData, usage wgpu.TextureUsage) (*wgpu.Texture, *wgpu.TextureView, error) {
	return r.backend.CreateTexture(staging, usage)
}

func (r *renderer) InitIndexBuffer(provider bind_group_provider.BindGroupProvider, indices []uint32) error {
	return r.backend.InitIndexBuffer(provider, indices)
}

func (r *renderer) InitBindGroup(provider bind_group_provider.BindGroupProvider, descriptor wgpu.BindGroupLayoutDescriptor, bufferUsageOverrides map[int]wgpu.BufferUsage, bufferSizeOverrides map[int]uint64) error {
	return r.backend.InitBindGroup(provider, descriptor, bufferUsageOverrides, bufferSizeOverrides)
}

func (r *renderer) WriteBuffers(writes []bind_group_provider.BufferWrite) {
	r.backend.WriteBuffers(writes)
}

func (r *renderer) BeginComputeFrame() error {
	return r.backend.BeginComputeFrame()
}

func (r *renderer) EndComputeFrame() error {
	return r.backend.EndComputeFrame()
}

func (r *renderer) DispatchCompute(pipelineKey string, providers []bind_group_provider.BindGroupProvider, workGroupCount [3]uint32) error {
	p, err := r.lookup(pipelineKey)
	if err != nil {
		return err
	}
	return r.backend.DispatchCompute(p, providers, workGroupCount)
}

func (r *renderer) DispatchComputeIndirect(pipelineKey string, providers []bind_group_provider.BindGroupProvider, indirect *wgpu.Buffer, offset uint64) error {
	p, err := r.lookup(pipelineKey)
	if err != nil {
		return err
	}
	return r.backend.DispatchComputeIndirect(p, providers, indirect, offset)
}

func (r *renderer) BeginOffscreenPass(target *wgpu.TextureView, clear wgpu.Color) error {
	return r.backend.BeginOffscreenPass(target, clear)
}

func (r *renderer) DrawIndexedIndirect(pipelineKey string, indexProvider bind_group_provider.BindGroupProvider, bindGroups []bind_group_provider.BindGroupProvider, indirect *wgpu.Buffer, offset uint64) error {
	p, err := r.lookup(pipelineKey)
	if err != nil {
		return err
	}
	return r.backend.DrawIndexedIndirect(p, indexProvider, bindGroups, indirect, offset)
}

func (r *renderer) EndOffscreenPass() {
	r.backend.EndOffscreenPass()
}

func (r *renderer) ReadBuffer(src *wgpu.Buffer, offset, size uint64) ([]byte, error) {
	return r.backend.ReadBuffer(src, offset, size)
}

func (r *renderer) ReadBufferAsync(src *wgpu.Buffer, offset, size uint64, done func([]byte, error)) error {
	return r.backend.ReadBufferAsync(src, offset, size, done)
}

func (r *renderer) PollReadbacks() int {
	return r.backend.PollReadbacks()
}

func (r *renderer) BeginFrame() error {
	return r.backend.BeginFrame()
}

func (r *renderer) DrawCallIndirect(pipelineKey string, indexProvider bind_group_provider.BindGroupProvider, bindGroups []bind_group_provider.BindGroupProvider, indirect *wgpu.Buffer, offset uint64) error {
	p, err := r.lookup(pipelineKey)
	if err != nil {
		return err
	}
	r.backend.DrawCallIndirect(p, indexProvider, bindGroups, indirect, offset)
	return nil
}

func (r *renderer) EndFrame() {
	r.backend.EndFrame()
}

func (r *renderer) Present() {
	r.backend.Present()
}

func (r *renderer) Release() {
	r.mu.Lock()
	for key, p := range r.pipelineCache {
		p.Release()
		delete(r.pipelineCache, key)
	}
	r.mu.Unlock()
	r.backend.Release()
}

// BindGroupLayoutDescriptor returns the layout a bind group must match to be used at the given
// group index of p. Render pipelines merge the visibility of their vertex and fragment stages.
//
// Parameters:
//   - p: the pipeline the bind group will be used with
//   - group: the group index
//
// Returns:
//   - wgpu.BindGroupLayoutDescriptor: the layout descriptor, empty when the group is unused
func BindGroupLayoutDescriptor(p pipeline.Pipeline, group int) wgpu.BindGroupLayoutDescriptor {
	if p == nil {
		return wgpu.BindGroupLayoutDescriptor{}
	}
	if p.Type() == pipeline.PipelineTypeCompute {
		if s := p.Shader(shader.ShaderTypeCompute); s != nil {
			return s.BindGroupLayoutDescriptor(group)
		}
		return wgpu.BindGroupLayoutDescriptor{}
	}
	layouts := map[int]wgpu.BindGroupLayoutDescriptor{}
	if vs := p.Shader(shader.ShaderTypeVertex); vs != nil {
		if fs := p.Shader(shader.ShaderTypeFragment); fs != nil {
			layouts = mergeBindGroupLayouts(vs.BindGroupLayoutDescriptors(), fs.BindGroupLayoutDescriptors())
		} else {
			layouts = vs.BindGroupLayoutDescriptors()
		}
	}
	return layouts[group]
}
