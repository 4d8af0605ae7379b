package renderer

import (
	"runtime"
	"sort"
	"sync"

	"github.com/Carmen-Shannon/oxy-vhm/common"
	"github.com/Carmen-Shannon/oxy-vhm/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-vhm/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-vhm/engine/renderer/shader"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/cogentcore/webgpu/wgpu"
)

var (
	errComputeFrameNotOpen = errors.New("no compute frame is open")
	errOffscreenPassOpen   = errors.New("an offscreen pass is open")
	errNoOffscreenPass     = errors.New("no offscreen pass is open")
	errNoSurface           = errors.New("renderer is headless")
)

type wgpuRendererBackendImpl struct {
	mu     *sync.Mutex
	device *wgpu.Device
	queue  *wgpu.Queue

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	surface  *wgpu.Surface

	surfaceFormat        *wgpu.TextureFormat
	msaaTexture          *wgpu.Texture
	msaaTextureView      *wgpu.TextureView
	depthTexture         *wgpu.Texture
	depthTextureView     *wgpu.TextureView
	renderPassDescriptor *wgpu.RenderPassDescriptor

	presentMode wgpu.PresentMode // defaults to PresentModeImmediate (Uncapped)
	sampleCount MSAASampleCount  // MSAA sample count for the main render pass

	// Frame state for batched rendering across multiple draw calls
	frameEncoder *wgpu.CommandEncoder
	framePass    *wgpu.RenderPassEncoder
	frameSurface *wgpu.Texture
	frameView    *wgpu.TextureView

	// Compute frame state. Every compute dispatch, copy and offscreen pass recorded between
	// BeginComputeFrame and EndComputeFrame goes into this one encoder.
	computeFrameEncoder *wgpu.CommandEncoder
	offscreenPass       *wgpu.RenderPassEncoder

	// Asynchronous reads recorded into the open compute frame, and the callbacks of reads whose
	// mapping finished. Map callbacks only run inside device calls made under mu.
	readbacks      []pendingReadback
	readbacksReady []func()
}

type pendingReadback struct {
	staging *wgpu.Buffer
	size    uint64
	done    func([]byte, error)
}

type wgpuRendererBackend interface {
	Device() *wgpu.Device
	Queue() *wgpu.Queue

	// Headless reports whether the backend was created without a window surface.
	//
	// Returns:
	//   - bool: true when there is no surface to present to
	Headless() bool

	// ConfigureSurface is a wrapper for boilerplate logic required when calling ConfigureSurface on a surface.
	// This is required when the surface size changes, such as when the window is resized.
	// It is a no-op on a headless backend.
	//
	// Parameters:
	//   - width: the new width of the surface in pixels
	//   - height: the new height of the surface in pixels
	ConfigureSurface(width, height int)

	// SetPresentMode sets the surface present mode which controls how frames are delivered to the display.
	//
	// Parameters:
	//   - mode: the PresentMode to use (VSync or Uncapped)
	SetPresentMode(mode PresentMode)

	// RegisterRenderPipeline creates the shader modules, pipeline layout and render pipeline for p.
	// Pipelines with a color target render offscreen without depth and multisampling.
	//
	// Parameters:
	//   - p: the pipeline object containing the shaders and configuration for the pipeline
	//
	// Returns:
	//   - error: an error if the pipeline could not be created, otherwise nil
	RegisterRenderPipeline(p pipeline.Pipeline) error

	// RegisterComputePipeline creates the shader module, pipeline layout and compute pipeline for p.
	//
	// Parameters:
	//   - p: the pipeline object containing the compute shader
	//
	// Returns:
	//   - error: an error if the pipeline could not be created, otherwise nil
	RegisterComputePipeline(p pipeline.Pipeline) error

	// CreateBuffer creates an uninitialized GPU buffer.
	//
	// Parameters:
	//   - label: the debug label
	//   - size: the size in bytes, rounded up to a multiple of 4
	//   - usage: the buffer usage flags
	//
	// Returns:
	//   - *wgpu.Buffer: the created buffer
	//   - error: an error if the buffer could not be created
	CreateBuffer(label string, size uint64, usage wgpu.BufferUsage) (*wgpu.Buffer, error)

	// CreateTexture creates a 2D texture with one mip level per staging mip (at least one)
	// and uploads the staging mips that carry data.
	//
	// Parameters:
	//   - staging: the texture description and optional pixel data
	//   - usage: the texture usage flags, CopyDst is added when data is uploaded
	//
	// Returns:
	//   - *wgpu.Texture: the created texture
	//   - *wgpu.TextureView: a view over every mip level
	//   - error: an error if the texture or its view could not be created
	CreateTexture(staging common.TextureStagingData, usage wgpu.TextureUsage) (*wgpu.Texture, *wgpu.TextureView, error)

	// InitIndexBuffer uploads 32-bit indices and stores the buffer on the provider.
	//
	// Parameters:
	//   - provider: the BindGroupProvider to store the index buffer on
	//   - indices: the index data
	//
	// Returns:
	//   - error: an error if the buffer could not be created
	InitIndexBuffer(provider bind_group_provider.BindGroupProvider, indices []uint32) error

	// InitBindGroup creates the missing buffers and the bind group described by descriptor and
	// stores them on the provider. Texture bindings must already hold a view.
	//
	// Parameters:
	//   - provider: the BindGroupProvider describing the layout entries and storage for the bind group
	//   - descriptor: the BindGroupLayoutDescriptor describing the layout of the bind group
	//   - bufferUsageOverrides: a map of binding indices to buffer usage flags ORed into the derived usage
	//   - bufferSizeOverrides: a map of binding indices to buffer sizes replacing MinBindingSize
	//
	// Returns:
	//   - error: an error if the bind group could not be initialized, otherwise nil
	InitBindGroup(provider bind_group_provider.BindGroupProvider, descriptor wgpu.BindGroupLayoutDescriptor, bufferUsageOverrides map[int]wgpu.BufferUsage, bufferSizeOverrides map[int]uint64) error

	// WriteBuffers writes all staged buffer writes to the GPU queue.
	//
	// Parameters:
	//   - writes: a slice of BufferWrite structs describing the data to write
	WriteBuffers(writes []bind_group_provider.BufferWrite)

	// BeginComputeFrame creates the command encoder that batches the compute work of a frame.
	//
	// Returns:
	//   - error: an error if the command encoder could not be created
	BeginComputeFrame() error

	// EndComputeFrame finishes the batched command encoder and submits it.
	//
	// Returns:
	//   - error: an error if the encoder could not be finished
	EndComputeFrame() error

	// DispatchCompute encodes a compute pass binding providers to groups 0..n-1.
	//
	// Parameters:
	//   - p: the compute pipeline
	//   - providers: the bind groups in group order
	//   - workGroupCount: the number of workgroups in x, y and z
	//
	// Returns:
	//   - error: an error if no compute frame is open
	DispatchCompute(p pipeline.Pipeline, providers []bind_group_provider.BindGroupProvider, workGroupCount [3]uint32) error

	// DispatchComputeIndirect encodes a compute pass whose workgroup counts are read from
	// indirect at offset.
	//
	// Parameters:
	//   - p: the compute pipeline
	//   - providers: the bind groups in group order
	//   - indirect: the buffer holding three u32 workgroup counts
	//   - offset: the byte offset of the counts
	//
	// Returns:
	//   - error: an error if no compute frame is open
	DispatchComputeIndirect(p pipeline.Pipeline, providers []bind_group_provider.BindGroupProvider, indirect *wgpu.Buffer, offset uint64) error


	// BeginOffscreenPass starts a render pass into target inside the compute frame.
	//
	// Parameters:
	//   - target: the color attachment
	//   - clear: the clear color
	//
	// Returns:
	//   - error: an error if no compute frame is open or a pass is already open
	BeginOffscreenPass(target *wgpu.TextureView, clear wgpu.Color) error

	// DrawIndexedIndirect encodes an indirect indexed draw in the open offscreen pass.
	//
	// Parameters:
	//   - p: the offscreen render pipeline
	//   - indexProvider: the provider holding the index buffer
	//   - bindGroups: the bind groups in group order
	//   - indirect: the buffer holding the DrawIndexedIndirect arguments
	//   - offset: the byte offset of the arguments
	//
	// Returns:
	//   - error: an error if no offscreen pass is open
	DrawIndexedIndirect(p pipeline.Pipeline, indexProvider bind_group_provider.BindGroupProvider, bindGroups []bind_group_provider.BindGroupProvider, indirect *wgpu.Buffer, offset uint64) error

	// EndOffscreenPass ends the open offscreen pass.
	EndOffscreenPass()

	// ReadBuffer copies size bytes at offset of src into a mappable buffer, submits, waits for
	// the device and returns the bytes. It must not be called while a compute frame is open.
	//
	// Parameters:
	//   - src: the buffer to read, created with CopySrc usage
	//   - offset: the byte offset
	//   - size: the number of bytes
	//
	// Returns:
	//   - []byte: a copy of the buffer contents
	//   - error: an error if mapping failed
	ReadBuffer(src *wgpu.Buffer, offset, size uint64) ([]byte, error)

	// ReadBufferAsync records a copy into a mappable buffer within the open compute frame. The
	// buffer is mapped after EndComputeFrame submits and done runs from PollReadbacks.
	//
	// Parameters:
	//   - src: the buffer to read, created with CopySrc usage
	//   - offset: the byte offset
	//   - size: the number of bytes
	//   - done: receives a copy of the buffer contents or the mapping error
	//
	// Returns:
	//   - error: an error if no compute frame is open
	ReadBufferAsync(src *wgpu.Buffer, offset, size uint64, done func([]byte, error)) error

	// PollReadbacks polls the device without waiting and runs the completed read callbacks.
	//
	// Returns:
	//   - int: the number of callbacks run
	PollReadbacks() int

	// BeginFrame acquires the next swapchain texture, creates a command encoder, and begins
	// the main render pass. Must be paired with EndFrame.
	//
	// Returns:
	//   - error: an error if the swapchain texture could not be acquired
	BeginFrame() error

	// DrawCallIndirect encodes an indirect indexed draw within the current render pass.
	// The instance count is read from the indirect buffer on the GPU.
	//
	// Parameters:
	//   - p: the cached Pipeline containing the render pipeline to use
	//   - indexProvider: the BindGroupProvider holding the index buffer
	//   - bindGroups: the bind groups in group order
	//   - indirect: the GPU buffer containing DrawIndexedIndirect arguments (20 bytes)
	//   - offset: the byte offset of the arguments
	DrawCallIndirect(p pipeline.Pipeline, indexProvider bind_group_provider.BindGroupProvider, bindGroups []bind_group_provider.BindGroupProvider, indirect *wgpu.Buffer, offset uint64)

	// EndFrame ends the current render pass and submits the command buffer to the GPU.
	EndFrame()

	// Present presents the surface to the display and releases the swapchain texture.
	Present()

	// Release releases the surface attachments, the device and the instance.
	Release()
}

var _ RendererBackend = &wgpuRendererBackendImpl{}

func newWGPURendererBackend(surfaceDescriptor *wgpu.SurfaceDescriptor, forceFallbackAdapter bool, sampleCount MSAASampleCount) wgpuRendererBackend {
	runtime.LockOSThread()
	w := &wgpuRendererBackendImpl{
		mu:          &sync.Mutex{},
		instance:    wgpu.CreateInstance(nil),
		presentMode: wgpu.PresentModeImmediate,
		sampleCount: sampleCount,
	}
	if surfaceDescriptor != nil {
		w.surface = w.instance.CreateSurface(surfaceDescriptor)
	}

	a, err := w.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: forceFallbackAdapter,
		CompatibleSurface:    w.surface,
		PowerPreference:      wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		panic(err)
	}
	w.adapter = a

	// The cull passes bind up to four groups; the demo's tile pass binds three.
	limits := wgpu.DefaultLimits()
	limits.MaxBindGroups = 8
	limits.MaxStorageBuffersPerShaderStage = 10

	d, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Main Device",
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: limits,
		},
	})
	if err != nil {
		panic(err)
	}
	w.device = d
	w.queue = d.GetQueue()

	return w
}

func (b *wgpuRendererBackendImpl) Headless() bool {
	return b.surface == nil
}

func (b *wgpuRendererBackendImpl) ConfigureSurface(width, height int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.surface == nil {
		return
	}

	capabilities := b.surface.GetCapabilities(b.adapter)
	b.surfaceFormat = &capabilities.Formats[0]

	b.surface.Configure(b.adapter, b.device, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      *b.surfaceFormat,
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: b.presentMode,
		AlphaMode:   capabilities.AlphaModes[0],
	})

	b.releaseAttachments()

	count := uint32(b.sampleCount)
	msaaEnabled := count > 1
	size := wgpu.Extent3D{Width: uint32(width), Height: uint32(height), DepthOrArrayLayers: 1}

	var err error
	if msaaEnabled {
		// The render pass draws into the MSAA texture and resolves into the swapchain view.
		b.msaaTexture, err = b.device.CreateTexture(&wgpu.TextureDescriptor{
			Label:         "MSAA Texture",
			Size:          size,
			MipLevelCount: 1,
			SampleCount:   count,
			Dimension:     wgpu.TextureDimension2D,
			Format:        *b.surfaceFormat,
			Usage:         wgpu.TextureUsageRenderAttachment,
		})
		if err != nil {
			panic(err)
		}
		b.msaaTextureView, err = b.msaaTexture.CreateView(nil)
		if err != nil {
			panic(err)
		}
	}

	// Depth texture sample count must match the color attachment.
	b.depthTexture, err = b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "Depth Texture",
		Size:          size,
		MipLevelCount: 1,
		SampleCount:   count,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatDepth24Plus,
		Usage:         wgpu.TextureUsageRenderAttachment,
	})
	if err != nil {
		panic(err)
	}
	b.depthTextureView, err = b.depthTexture.CreateView(nil)
	if err != nil {
		panic(err)
	}

	// With MSAA, View is the MSAA texture and ResolveTarget is set per frame to the swapchain
	// view. Without it, View is set per frame.
	storeOp := wgpu.StoreOpStore
	if msaaEnabled {
		storeOp = wgpu.StoreOpDiscard
	}
	b.renderPassDescriptor = &wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				View:       b.msaaTextureView,
				LoadOp:     wgpu.LoadOpClear,
				StoreOp:    storeOp,
				ClearValue: wgpu.Color{R: 0.45, G: 0.6, B: 0.8, A: 1.0},
			},
		},
		DepthStencilAttachment: &wgpu.RenderPassDepthStencilAttachment{
			View:            b.depthTextureView,
			DepthLoadOp:     wgpu.LoadOpClear,
			DepthStoreOp:    wgpu.StoreOpDiscard,
			DepthClearValue: 1.0,
		},
	}
}

func (b *wgpuRendererBackendImpl) releaseAttachments() {
	if b.msaaTextureView != nil {
		b.msaaTextureView.Release()
		b.msaaTextureView = nil
	}
	if b.msaaTexture != nil {
		b.msaaTexture.Release()
		b.msaaTexture = nil
	}
	if b.depthTextureView != nil {
		b.depthTextureView.Release()
		b.depthTextureView = nil
	}
	if b.depthTexture != nil {
		b.depthTexture.Release()
		b.depthTexture = nil
	}
}

func (b *wgpuRendererBackendImpl) SetPresentMode(mode PresentMode) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch mode {
	case PresentModeVSync:
		b.presentMode = wgpu.PresentModeFifo
	case PresentModeUncapped:
		fallthrough
	default:
		b.presentMode = wgpu.PresentModeImmediate
	}
}

func (b *wgpuRendererBackendImpl) RegisterRenderPipeline(p pipeline.Pipeline) error {
	vertexShader := p.Shader(shader.ShaderTypeVertex)
	fragmentShader := p.Shader(shader.ShaderTypeFragment)
	if vertexShader == nil || fragmentShader == nil {
		return errors.New("render pipeline needs a vertex and a fragment shader").WithTag("pipeline", p.PipelineKey())
	}

	colorFormat, offscreen := p.ColorTarget()
	if !offscreen {
		if b.surfaceFormat == nil {
			return errors.New("surface pipeline on a renderer without surface").WithTag("pipeline", p.PipelineKey()).Wrap(errNoSurface)
		}
		colorFormat = *b.surfaceFormat
	}

	vs, err := b.createShaderModule(vertexShader)
	if err != nil {
		return err
	}
	fs, err := b.createShaderModule(fragmentShader)
	if err != nil {
		return err
	}

	merged := mergeBindGroupLayouts(vertexShader.BindGroupLayoutDescriptors(), fragmentShader.BindGroupLayoutDescriptors())
	pipelineLayout, err := b.createPipelineLayout(p.PipelineKey(), merged)
	if err != nil {
		return err
	}

	target := wgpu.ColorTargetState{
		Format:    colorFormat,
		WriteMask: p.WriteMask(),
	}
	if p.BlendEnabled() {
		target.Blend = p.BlendState()
	}

	desc := &wgpu.RenderPipelineDescriptor{
		Label:  p.PipelineKey() + " Render Pipeline",
		Layout: pipelineLayout,
		Vertex: wgpu.VertexState{
			Module:     vs,
			EntryPoint: vertexShader.EntryPoint(),
		},
		Fragment: &wgpu.FragmentState{
			Module:     fs,
			EntryPoint: fragmentShader.EntryPoint(),
			Targets:    []wgpu.ColorTargetState{target},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  p.Topology(),
			FrontFace: p.FrontFace(),
			CullMode:  p.CullMode(),
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	}

	if !offscreen {
		desc.Multisample.Count = uint32(b.sampleCount)
		depthCompare := wgpu.CompareFunctionLess
		if !p.DepthTestEnabled() {
			depthCompare = wgpu.CompareFunctionAlways
		}
		desc.DepthStencil = &wgpu.DepthStencilState{
			Format:            wgpu.TextureFormatDepth24Plus,
			DepthWriteEnabled: p.DepthWriteEnabled(),
			DepthCompare:      depthCompare,
			StencilFront:      wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
			StencilBack:       wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
		}
	}

	created, err := b.device.CreateRenderPipeline(desc)
	if err != nil {
		return errors.New("creating render pipeline failed").WithTag("pipeline", p.PipelineKey()).Wrap(err)
	}
	p.SetRenderPipeline(created)
	return nil
}

func (b *wgpuRendererBackendImpl) RegisterComputePipeline(p pipeline.Pipeline) error {
	computeShader := p.Shader(shader.ShaderTypeCompute)
	if computeShader == nil {
		return errors.New("compute pipeline needs a compute shader").WithTag("pipeline", p.PipelineKey())
	}

	s, err := b.createShaderModule(computeShader)
	if err != nil {
		return err
	}

	layout, err := b.createPipelineLayout(p.PipelineKey(), computeShader.BindGroupLayoutDescriptors())
	if err != nil {
		return err
	}

	created, err := b.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  p.PipelineKey() + " Compute Pipeline",
		Layout: layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     s,
			EntryPoint: computeShader.EntryPoint(),
		},
	})
	if err != nil {
		return errors.New("creating compute pipeline failed").WithTag("pipeline", p.PipelineKey()).Wrap(err)
	}
	p.SetComputePipeline(created)
	return nil
}

func (b *wgpuRendererBackendImpl) createShaderModule(s shader.Shader) (*wgpu.ShaderModule, error) {
	m, err := b.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: s.Key(),
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: s.Source(),
		},
	})
	if err != nil {
		return nil, errors.New("creating shader module failed").WithTag("shader", s.Key()).Wrap(err)
	}
	return m, nil
}

func (b *wgpuRendererBackendImpl) createPipelineLayout(label string, descriptors map[int]wgpu.BindGroupLayoutDescriptor) (*wgpu.PipelineLayout, error) {
	maxGroup := -1
	for g := range descriptors {
		maxGroup = max(maxGroup, g)
	}
	bindGroupLayouts := make([]*wgpu.BindGroupLayout, maxGroup+1)
	for g := range bindGroupLayouts {
		// Gaps get an empty layout so group indices stay aligned with the shader.
		desc := descriptors[g]
		layout, err := b.device.CreateBindGroupLayout(&desc)
		if err != nil {
			return nil, errors.New("creating bind group layout failed").
				WithTag("pipeline", label).
				WithTag("group", g).
				Wrap(err)
		}
		bindGroupLayouts[g] = layout
	}

	layout, err := b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            label,
		BindGroupLayouts: bindGroupLayouts,
	})
	if err != nil {
		return nil, errors.New("creating pipeline layout failed").WithTag("pipeline", label).Wrap(err)
	}
	return layout, nil
}

func (b *wgpuRendererBackendImpl) CreateBuffer(label string, size uint64, usage wgpu.BufferUsage) (*wgpu.Buffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  alignBufferSize(size),
		Usage: usage,
	})
	if err != nil {
		return nil, errors.New("creating buffer failed").WithTag("buffer", label).WithTag("size", size).Wrap(err)
	}
	return buf, nil
}

func (b *wgpuRendererBackendImpl) CreateTexture(staging common.TextureStagingData, usage wgpu.TextureUsage) (*wgpu.Texture, *wgpu.TextureView, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(staging.Mips) > 0 {
		usage |= wgpu.TextureUsageCopyDst
	}
	tex, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:     staging.Label,
		Usage:     usage,
		Dimension: wgpu.TextureDimension2D,
		Size: wgpu.Extent3D{
			Width:              max(staging.Width, 1),
			Height:             max(staging.Height, 1),
			DepthOrArrayLayers: 1,
		},
		Format:        staging.Format,
		MipLevelCount: uint32(max(len(staging.Mips), 1)),
		SampleCount:   1,
	})
	if err != nil {
		return nil, nil, errors.New("creating texture failed").WithTag("texture", staging.Label).Wrap(err)
	}

	b.writeTexture(tex, staging)

	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, nil, errors.New("creating texture view failed").WithTag("texture", staging.Label).Wrap(err)
	}
	return tex, view, nil
}

func (b *wgpuRendererBackendImpl) writeTexture(tex *wgpu.Texture, staging common.TextureStagingData) {
	for mip, data := range staging.Mips {
		if len(data) == 0 {
			continue
		}
		w, h := staging.MipSize(uint32(mip))
		b.queue.WriteTexture(
			&wgpu.ImageCopyTexture{
				Texture:  tex,
				MipLevel: uint32(mip),
				Origin:   wgpu.Origin3D{},
				Aspect:   wgpu.TextureAspectAll,
			},
			data,
			&wgpu.TextureDataLayout{
				Offset:       0,
				BytesPerRow:  w * staging.BytesPerTexel,
				RowsPerImage: h,
			},
			&wgpu.Extent3D{
				Width:              w,
				Height:             h,
				DepthOrArrayLayers: 1,
			},
		)
	}
}

func (b *wgpuRendererBackendImpl) InitIndexBuffer(provider bind_group_provider.BindGroupProvider, indices []uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(indices) == 0 {
		return errors.New("empty index data").WithTag("provider", provider.Label())
	}
	buf, err := b.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    provider.Label() + " Index Buffer",
		Contents: common.SliceToBytes(indices),
		Usage:    wgpu.BufferUsageIndex | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return errors.New("creating index buffer failed").WithTag("provider", provider.Label()).Wrap(err)
	}
	provider.SetIndexBuffer(buf, len(indices))
	return nil
}

func (b *wgpuRendererBackendImpl) InitBindGroup(provider bind_group_provider.BindGroupProvider, descriptor wgpu.BindGroupLayoutDescriptor, bufferUsageOverrides map[int]wgpu.BufferUsage, bufferSizeOverrides map[int]uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(descriptor.Entries) == 0 {
		return nil
	}

	layout := provider.BindGroupLayout()
	if layout == nil {
		var err error
		layout, err = b.device.CreateBindGroupLayout(&descriptor)
		if err != nil {
			return errors.New("creating bind group layout failed").WithTag("provider", provider.Label()).Wrap(err)
		}
		provider.SetBindGroupLayout(layout)
	}

	bindGroupEntries := make([]wgpu.BindGroupEntry, len(descriptor.Entries))
	for i, entry := range descriptor.Entries {
		binding := int(entry.Binding)

		if entry.Texture.SampleType != wgpu.TextureSampleTypeUndefined {
			tv := provider.TextureView(binding)
			if tv == nil {
				return errors.New("texture binding has no view").
					WithTag("provider", provider.Label()).
					WithTag("binding", binding)
			}
			bindGroupEntries[i] = wgpu.BindGroupEntry{
				Binding:     entry.Binding,
				TextureView: tv,
			}
			continue
		}

		usage := wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc
		switch entry.Buffer.Type {
		case wgpu.BufferBindingTypeUniform:
			usage |= wgpu.BufferUsageUniform
		case wgpu.BufferBindingTypeStorage, wgpu.BufferBindingTypeReadOnlyStorage:
			usage |= wgpu.BufferUsageStorage
		}
		if overrideUsage, ok := bufferUsageOverrides[binding]; ok {
			usage |= overrideUsage
		}

		buf := provider.Buffer(binding)
		if buf == nil {
			bufSize := entry.Buffer.MinBindingSize
			if overrideSize, ok := bufferSizeOverrides[binding]; ok {
				bufSize = overrideSize
			}
			var err error
			buf, err = b.device.CreateBuffer(&wgpu.BufferDescriptor{
				Label: provider.Label() + " Buffer",
				Size:  alignBufferSize(bufSize),
				Usage: usage,
			})
			if err != nil {
				return errors.New("creating bind group buffer failed").
					WithTag("provider", provider.Label()).
					WithTag("binding", binding).
					Wrap(err)
			}
			provider.SetBuffer(binding, buf)
		}
		bindGroupEntries[i] = wgpu.BindGroupEntry{
			Binding: entry.Binding,
			Buffer:  buf,
			Offset:  0,
			Size:    wgpu.WholeSize,
		}
	}

	provider.InvalidateBindGroup()
	bindGroup, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   provider.Label() + " Bind Group",
		Layout:  layout,
		Entries: bindGroupEntries,
	})
	if err != nil {
		return errors.New("creating bind group failed").WithTag("provider", provider.Label()).Wrap(err)
	}
	provider.SetBindGroup(bindGroup)
	return nil
}

func (b *wgpuRendererBackendImpl) WriteBuffers(writes []bind_group_provider.BufferWrite) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, w := range writes {
		buf := w.Provider.Buffer(w.Binding)
		if buf == nil || len(w.Data) == 0 {
			continue
		}
		b.queue.WriteBuffer(buf, w.Offset, w.Data)
	}
}

func (b *wgpuRendererBackendImpl) BeginComputeFrame() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.computeFrameEncoder != nil {
		return errors.New("compute frame already open")
	}
	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return errors.New("creating command encoder failed").Wrap(err)
	}
	b.computeFrameEncoder = encoder
	return nil
}

func (b *wgpuRendererBackendImpl) EndComputeFrame() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.computeFrameEncoder == nil {
		return errComputeFrameNotOpen
	}
	if b.offscreenPass != nil {
		b.offscreenPass.End()
		b.offscreenPass = nil
	}

	encoder := b.computeFrameEncoder
	b.computeFrameEncoder = nil
	defer encoder.Release()

	readbacks := b.readbacks
	b.readbacks = nil

	commandBuffer, err := encoder.Finish(nil)
	if err != nil {
		err = errors.New("finishing compute frame failed").Wrap(err)
		for _, rb := range readbacks {
			rb.staging.Release()
			done := rb.done
			b.readbacksReady = append(b.readbacksReady, func() { done(nil, err) })
		}
		return err
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()

	for _, rb := range readbacks {
		b.mapReadback(rb)
	}
	return nil
}

func (b *wgpuRendererBackendImpl) mapReadback(rb pendingReadback) {
	rb.staging.MapAsync(wgpu.MapModeRead, 0, rb.size, func(status wgpu.BufferMapAsyncStatus) {
		var (
			out []byte
			err error
		)
		if status == wgpu.BufferMapAsyncStatusSuccess {
			out = make([]byte, rb.size)
			copy(out, rb.staging.GetMappedRange(0, uint(rb.size)))
			rb.staging.Unmap()
		} else {
			err = errors.Newf("mapping readback buffer failed: %v", status)
		}
		b.readbacksReady = append(b.readbacksReady, func() {
			rb.staging.Release()
			rb.done(out, err)
		})
	})
}

func (b *wgpuRendererBackendImpl) ReadBufferAsync(src *wgpu.Buffer, offset, size uint64, done func([]byte, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.computeFrameEncoder == nil {
		return errComputeFrameNotOpen
	}
	if b.offscreenPass != nil {
		return errOffscreenPassOpen
	}

	size = alignBufferSize(size)
	staging, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Async Readback Buffer",
		Size:  size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return errors.New("creating readback buffer failed").Wrap(err)
	}
	b.computeFrameEncoder.CopyBufferToBuffer(src, offset, staging, 0, size)
	b.readbacks = append(b.readbacks, pendingReadback{staging: staging, size: size, done: done})
	return nil
}

func (b *wgpuRendererBackendImpl) PollReadbacks() int {
	b.mu.Lock()
	b.device.Poll(false, nil)
	ready := b.readbacksReady
	b.readbacksReady = nil
	b.mu.Unlock()

	for _, fn := range ready {
		fn()
	}
	return len(ready)
}

func (b *wgpuRendererBackendImpl) beginComputePass(p pipeline.Pipeline, providers []bind_group_provider.BindGroupProvider) (*wgpu.ComputePassEncoder, error) {
	if b.computeFrameEncoder == nil {
		return nil, errComputeFrameNotOpen
	}
	if b.offscreenPass != nil {
		return nil, errOffscreenPassOpen
	}

	pass := b.computeFrameEncoder.BeginComputePass(&wgpu.ComputePassDescriptor{Label: p.PipelineKey()})
	pass.SetPipeline(p.Pipeline().(*wgpu.ComputePipeline))
	for i, bg := range providers {
		pass.SetBindGroup(uint32(i), bg.BindGroup(), nil)
	}
	return pass, nil
}

func (b *wgpuRendererBackendImpl) DispatchCompute(p pipeline.Pipeline, providers []bind_group_provider.BindGroupProvider, workGroupCount [3]uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pass, err := b.beginComputePass(p, providers)
	if err != nil {
		return err
	}
	pass.DispatchWorkgroups(workGroupCount[0], workGroupCount[1], workGroupCount[2])
	pass.End()
	return nil
}

func (b *wgpuRendererBackendImpl) DispatchComputeIndirect(p pipeline.Pipeline, providers []bind_group_provider.BindGroupProvider, indirect *wgpu.Buffer, offset uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pass, err := b.beginComputePass(p, providers)
	if err != nil {
		return err
	}
	pass.DispatchWorkgroupsIndirect(indirect, offset)
	pass.End()
	return nil
}

func (b *wgpuRendererBackendImpl) BeginOffscreenPass(target *wgpu.TextureView, clear wgpu.Color) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.computeFrameEncoder == nil {
		return errComputeFrameNotOpen
	}
	if b.offscreenPass != nil {
		return errOffscreenPassOpen
	}
	b.offscreenPass = b.computeFrameEncoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				View:       target,
				LoadOp:     wgpu.LoadOpClear,
				StoreOp:    wgpu.StoreOpStore,
				ClearValue: clear,
			},
		},
	})
	return nil
}

func (b *wgpuRendererBackendImpl) DrawIndexedIndirect(p pipeline.Pipeline, indexProvider bind_group_provider.BindGroupProvider, bindGroups []bind_group_provider.BindGroupProvider, indirect *wgpu.Buffer, offset uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.offscreenPass == nil {
		return errNoOffscreenPass
	}
	encodeIndexedIndirect(b.offscreenPass, p, indexProvider, bindGroups, indirect, offset)
	return nil
}

func (b *wgpuRendererBackendImpl) EndOffscreenPass() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.offscreenPass == nil {
		return
	}
	b.offscreenPass.End()
	b.offscreenPass = nil
}

func (b *wgpuRendererBackendImpl) ReadBuffer(src *wgpu.Buffer, offset, size uint64) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.computeFrameEncoder != nil {
		return nil, errors.New("read back while a compute frame is open")
	}

	size = alignBufferSize(size)
	staging, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Readback Buffer",
		Size:  size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, errors.New("creating readback buffer failed").Wrap(err)
	}
	defer staging.Release()

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, errors.New("creating command encoder failed").Wrap(err)
	}
	encoder.CopyBufferToBuffer(src, offset, staging, 0, size)
	commandBuffer, err := encoder.Finish(nil)
	encoder.Release()
	if err != nil {
		return nil, errors.New("finishing readback failed").Wrap(err)
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()

	var status wgpu.BufferMapAsyncStatus
	mapped := false
	staging.MapAsync(wgpu.MapModeRead, 0, size, func(s wgpu.BufferMapAsyncStatus) {
		status = s
		mapped = s == wgpu.BufferMapAsyncStatusSuccess
	})
	b.device.Poll(true, nil)
	if !mapped {
		return nil, errors.Newf("mapping readback buffer failed: %v", status)
	}

	out := make([]byte, size)
	copy(out, staging.GetMappedRange(0, uint(size)))
	staging.Unmap()
	return out, nil
}

func (b *wgpuRendererBackendImpl) BeginFrame() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.surface == nil {
		return errNoSurface
	}
	if b.frameSurface != nil {
		return errors.New("previous frame surface not yet presented")
	}

	surfaceTexture, err := b.surface.GetCurrentTexture()
	if err != nil {
		return errors.New("acquiring surface texture failed").Wrap(err)
	}

	view, err := surfaceTexture.CreateView(nil)
	if err != nil {
		surfaceTexture.Release()
		return errors.New("creating surface view failed").Wrap(err)
	}

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		view.Release()
		surfaceTexture.Release()
		return errors.New("creating command encoder failed").Wrap(err)
	}

	if b.sampleCount > 1 {
		b.renderPassDescriptor.ColorAttachments[0].ResolveTarget = view
	} else {
		b.renderPassDescriptor.ColorAttachments[0].View = view
	}

	b.frameEncoder = encoder
	b.framePass = encoder.BeginRenderPass(b.renderPassDescriptor)
	b.frameSurface = surfaceTexture
	b.frameView = view
	return nil
}

func (b *wgpuRendererBackendImpl) DrawCallIndirect(p pipeline.Pipeline, indexProvider bind_group_provider.BindGroupProvider, bindGroups []bind_group_provider.BindGroupProvider, indirect *wgpu.Buffer, offset uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.framePass == nil {
		return
	}
	encodeIndexedIndirect(b.framePass, p, indexProvider, bindGroups, indirect, offset)
}

func encodeIndexedIndirect(pass *wgpu.RenderPassEncoder, p pipeline.Pipeline, indexProvider bind_group_provider.BindGroupProvider, bindGroups []bind_group_provider.BindGroupProvider, indirect *wgpu.Buffer, offset uint64) {
	pass.SetPipeline(p.Pipeline().(*wgpu.RenderPipeline))
	for i, bg := range bindGroups {
		pass.SetBindGroup(uint32(i), bg.BindGroup(), nil)
	}
	pass.SetIndexBuffer(indexProvider.IndexBuffer(), wgpu.IndexFormatUint32, 0, wgpu.WholeSize)
	pass.DrawIndexedIndirect(indirect, offset)
}

func (b *wgpuRendererBackendImpl) EndFrame() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.framePass == nil {
		return
	}
	b.framePass.End()
	b.framePass = nil

	commandBuffer, err := b.frameEncoder.Finish(nil)
	b.frameEncoder.Release()
	b.frameEncoder = nil
	if err != nil {
		b.frameView.Release()
		b.frameSurface.Release()
		b.frameSurface = nil
		b.frameView = nil
		return
	}

	b.queue.Submit(commandBuffer)
	commandBuffer.Release()
}

func (b *wgpuRendererBackendImpl) Present() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameSurface == nil {
		return
	}

	b.surface.Present()

	b.frameView.Release()
	b.frameView = nil
	b.frameSurface.Release()
	b.frameSurface = nil
}

func (b *wgpuRendererBackendImpl) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.releaseAttachments()
	if b.surface != nil {
		b.surface.Release()
		b.surface = nil
	}
	if b.queue != nil {
		b.queue.Release()
		b.queue = nil
	}
	if b.device != nil {
		b.device.Release()
		b.device = nil
	}
	if b.adapter != nil {
		b.adapter.Release()
		b.adapter = nil
	}
	if b.instance != nil {
		b.instance.Release()
		b.instance = nil
	}
}

func (b *wgpuRendererBackendImpl) Device() *wgpu.Device {
	return b.device
}

func (b *wgpuRendererBackendImpl) Queue() *wgpu.Queue {
	return b.queue
}

// alignBufferSize rounds a buffer size up to the 4 byte copy alignment, with a minimum of 4.
func alignBufferSize(size uint64) uint64 {
	return max((size+3)&^3, 4)
}

// mergeBindGroupLayouts combines the bind group layouts of a vertex and a fragment shader.
// Entries present in both stages get the union of their visibilities.
func mergeBindGroupLayouts(
	vertexLayouts, fragmentLayouts map[int]wgpu.BindGroupLayoutDescriptor,
) map[int]wgpu.BindGroupLayoutDescriptor {
	merged := make(map[int]wgpu.BindGroupLayoutDescriptor)

	groupIndices := make(map[int]bool)
	for g := range vertexLayouts {
		groupIndices[g] = true
	}
	for g := range fragmentLayouts {
		groupIndices[g] = true
	}

	for g := range groupIndices {
		vDesc, hasV := vertexLayouts[g]
		fDesc, hasF := fragmentLayouts[g]

		switch {
		case hasV && !hasF:
			merged[g] = vDesc
		case hasF && !hasV:
			merged[g] = fDesc
		default:
			entryMap := make(map[uint32]wgpu.BindGroupLayoutEntry)
			for _, e := range vDesc.Entries {
				entryMap[e.Binding] = e
			}
			for _, e := range fDesc.Entries {
				if existing, ok := entryMap[e.Binding]; ok {
					existing.Visibility |= e.Visibility
					entryMap[e.Binding] = existing
				} else {
					entryMap[e.Binding] = e
				}
			}

			entries := make([]wgpu.BindGroupLayoutEntry, 0, len(entryMap))
			for _, e := range entryMap {
				entries = append(entries, e)
			}
			sort.Slice(entries, func(i, j int) bool {
				return entries[i].Binding < entries[j].Binding
			})

			merged[g] = wgpu.BindGroupLayoutDescriptor{
				Label:   vDesc.Label,
				Entries: entries,
			}
		}
	}

	return merged
}
