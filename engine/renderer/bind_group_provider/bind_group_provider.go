package bind_group_provider

import (
	"github.com/cogentcore/webgpu/wgpu"
)

// bindGroupProvider is the unexported implementation of BindGroupProvider.
type bindGroupProvider struct {
	// label is a debug label added for convenience.
	label string

	// The following fields are GPU allocated resources. They are populated by the Renderer
	// during initialization, or shared in by the caller before it.

	bindGroup       *wgpu.BindGroup
	bindGroupLayout *wgpu.BindGroupLayout
	buffers         map[int]*wgpu.Buffer
	textureViews    map[int]*wgpu.TextureView
	indexBuffer     *wgpu.Buffer
	indexCount      int

	// shared marks bindings whose resources belong to someone else and survive Release.
	sharedBuffers  map[int]bool
	sharedTextures map[int]bool
}

// BindGroupProvider describes the resources of one bind group. Owners create a provider,
// share or let the Renderer create its resources, and bind it in dispatches and draws.
//
// Usage pattern:
//  1. Owner creates a BindGroupProvider with a label
//  2. Owner shares resources created elsewhere with ShareBuffer / ShareTextureView
//  3. Renderer.InitBindGroup(provider, layout) creates the missing buffers and the bind group
//  4. Renderer.WriteBuffers updates the owned buffers
//  5. Dispatches and draws bind BindGroup()
type BindGroupProvider interface {
	// Release releases the GPU resources owned by this provider. Shared resources are only
	// dropped from the provider.
	Release()

	// Label returns the debug label for this provider.
	//
	// Returns:
	//   - string: the debug label
	Label() string

	// BindGroup returns the created bind group for shader binding.
	// Returns nil if GPU resources have not been initialized.
	//
	// Returns:
	//   - *wgpu.BindGroup: the bind group or nil
	BindGroup() *wgpu.BindGroup

	// BindGroupLayout returns the created bind group layout for this provider.
	// Returns nil if GPU resources have not been initialized.
	//
	// Returns:
	//   - *wgpu.BindGroupLayout: the bind group layout or nil
	BindGroupLayout() *wgpu.BindGroupLayout

	// Buffer returns the buffer for a binding.
	// Returns nil if GPU resources have not been initialized.
	//
	// Parameters:
	//   - binding: the binding index
	//
	// Returns:
	//   - *wgpu.Buffer: the buffer or nil
	Buffer(binding int) *wgpu.Buffer

	// TextureView returns the GPU texture view for a specific binding, or nil if not set.
	//
	// Parameters:
	//   - binding: the binding index
	//
	// Returns:
	//   - *wgpu.TextureView: the texture view or nil
	TextureView(binding int) *wgpu.TextureView

	// IndexBuffer returns the index buffer used by draws, or nil if not set.
	//
	// Returns:
	//   - *wgpu.Buffer: the index buffer or nil
	IndexBuffer() *wgpu.Buffer

	// IndexCount returns the number of indices for direct draw calls.
	//
	// Returns:
	//   - int: the index count
	IndexCount() int

	// SetBindGroup sets the bind group after GPU initialization.
	//
	// Parameters:
	//   - bg: the created bind group
	SetBindGroup(bg *wgpu.BindGroup)

	// SetBindGroupLayout sets the bind group layout after GPU initialization.
	//
	// Parameters:
	//   - bgl: the created bind group layout
	SetBindGroupLayout(bgl *wgpu.BindGroupLayout)

	// SetBuffer stores a buffer the provider owns.
	//
	// Parameters:
	//   - binding: the binding index
	//   - buf: the created buffer
	SetBuffer(binding int, buf *wgpu.Buffer)

	// ShareBuffer stores a buffer owned elsewhere. Release leaves it alive.
	//
	// Parameters:
	//   - binding: the binding index
	//   - buf: the shared buffer
	ShareBuffer(binding int, buf *wgpu.Buffer)

	// SetTextureView stores a texture view the provider owns.
	//
	// Parameters:
	//   - binding: the binding index
	//   - tv: the texture view to store
	SetTextureView(binding int, tv *wgpu.TextureView)

	// ShareTextureView stores a texture view owned elsewhere. Release leaves it alive.
	//
	// Parameters:
	//   - binding: the binding index
	//   - tv: the shared texture view
	ShareTextureView(binding int, tv *wgpu.TextureView)

	// SetIndexBuffer stores the index buffer and its index count.
	//
	// Parameters:
	//   - buf: the index buffer
	//   - count: the number of indices
	SetIndexBuffer(buf *wgpu.Buffer, count int)

	// InvalidateBindGroup releases the bind group so that the next InitBindGroup rebuilds it
	// around the current resources.
	InvalidateBindGroup()
}

// Compile-time check that bindGroupProvider implements BindGroupProvider
var _ BindGroupProvider = &bindGroupProvider{}

// NewBindGroupProvider creates a new BindGroupProvider with the provided options.
//
// Parameters:
//   - label: the debug label used for every resource the provider creates
//   - options: a variadic list of options to configure the provider
//
// Returns:
//   - BindGroupProvider: a new instance of BindGroupProvider configured with the provided options
func NewBindGroupProvider(label string, options ...BindGroupProviderOption) BindGroupProvider {
	p := &bindGroupProvider{
		label:          label,
		buffers:        make(map[int]*wgpu.Buffer),
		textureViews:   make(map[int]*wgpu.TextureView),
		sharedBuffers:  make(map[int]bool),
		sharedTextures: make(map[int]bool),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

func (p *bindGroupProvider) Label() string {
	return p.label
}

func (p *bindGroupProvider) BindGroup() *wgpu.BindGroup {
	return p.bindGroup
}

func (p *bindGroupProvider) BindGroupLayout() *wgpu.BindGroupLayout {
	return p.bindGroupLayout
}

func (p *bindGroupProvider) Buffer(binding int) *wgpu.Buffer {
	return p.buffers[binding]
}

func (p *bindGroupProvider) TextureView(binding int) *wgpu.TextureView {
	return p.textureViews[binding]
}

func (p *bindGroupProvider) IndexBuffer() *wgpu.Buffer {
	return p.indexBuffer
}

func (p *bindGroupProvider) IndexCount() int {
	return p.indexCount
}

func (p *bindGroupProvider) SetBindGroup(bg *wgpu.BindGroup) {
	p.bindGroup = bg
}

func (p *bindGroupProvider) SetBindGroupLayout(bgl *wgpu.BindGroupLayout) {
	p.bindGroupLayout = bgl
}

func (p *bindGroupProvider) SetBuffer(binding int, buf *wgpu.Buffer) {
	p.buffers[binding] = buf
	delete(p.sharedBuffers, binding)
}

func (p *bindGroupProvider) ShareBuffer(binding int, buf *wgpu.Buffer) {
	p.buffers[binding] = buf
	p.sharedBuffers[binding] = true
}

func (p *bindGroupProvider) SetTextureView(binding int, tv *wgpu.TextureView) {
	p.textureViews[binding] = tv
	delete(p.sharedTextures, binding)
}

func (p *bindGroupProvider) ShareTextureView(binding int, tv *wgpu.TextureView) {
	p.textureViews[binding] = tv
	p.sharedTextures[binding] = true
}

func (p *bindGroupProvider) SetIndexBuffer(buf *wgpu.Buffer, count int) {
	p.indexBuffer = buf
	p.indexCount = count
}

func (p *bindGroupProvider) InvalidateBindGroup() {
	if p.bindGroup != nil {
		p.bindGroup.Release()
		p.bindGroup = nil
	}
}

func (p *bindGroupProvider) Release() {
	for i, tv := range p.textureViews {
		if tv != nil && !p.sharedTextures[i] {
			tv.Release()
		}
		delete(p.textureViews, i)
		delete(p.sharedTextures, i)
	}
	for i, buf := range p.buffers {
		if buf != nil && !p.sharedBuffers[i] {
			buf.Release()
		}
		delete(p.buffers, i)
		delete(p.sharedBuffers, i)
	}

	p.InvalidateBindGroup()
	if p.bindGroupLayout != nil {
		p.bindGroupLayout.Release()
		p.bindGroupLayout = nil
	}
	if p.indexBuffer != nil {
		p.indexBuffer.Release()
		p.indexBuffer = nil
		p.indexCount = 0
	}
}
