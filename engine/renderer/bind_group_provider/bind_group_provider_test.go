package bind_group_provider

import (
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
)

func TestNewBindGroupProviderKeepsLabel(t *testing.T) {
	p := NewBindGroupProvider("cull.collect")

	assert.Equal(t, "cull.collect", p.Label())
	assert.Nil(t, p.BindGroup())
	assert.Nil(t, p.BindGroupLayout())
	assert.Nil(t, p.Buffer(0))
	assert.Nil(t, p.TextureView(0))
	assert.Nil(t, p.IndexBuffer())
	assert.Zero(t, p.IndexCount())
}

func TestShareThenSetBufferChangesOwnership(t *testing.T) {
	p := NewBindGroupProvider("shared").(*bindGroupProvider)

	// nil handles keep Release from touching the driver.
	p.ShareBuffer(2, nil)
	assert.True(t, p.sharedBuffers[2])

	p.SetBuffer(2, nil)
	assert.False(t, p.sharedBuffers[2])

	p.ShareTextureView(1, nil)
	assert.True(t, p.sharedTextures[1])
	p.SetTextureView(1, nil)
	assert.False(t, p.sharedTextures[1])
}

func TestReleaseClearsBindings(t *testing.T) {
	p := NewBindGroupProvider("release",
		WithSharedBuffer(0, nil),
		WithSharedTextureView(3, nil),
	).(*bindGroupProvider)
	p.SetIndexBuffer(nil, 6)

	p.Release()

	assert.Empty(t, p.buffers)
	assert.Empty(t, p.textureViews)
	assert.Empty(t, p.sharedBuffers)
	assert.Empty(t, p.sharedTextures)
	assert.Equal(t, 6, p.IndexCount(), "a nil index buffer is left untouched")
}

func TestBufferWriteTargetsProvider(t *testing.T) {
	p := NewBindGroupProvider("writes")
	w := BufferWrite{Provider: p, Binding: 1, Offset: 16, Data: []byte{1, 2, 3, 4}}

	assert.Equal(t, "writes", w.Provider.Label())
	assert.Equal(t, uint64(16), w.Offset)
	var layout *wgpu.BindGroupLayout
	assert.Nil(t, layout)
}
