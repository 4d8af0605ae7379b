// package common contains common types that are used throughout this engine. They are not interface-wrapped structs, just plain structs that express
// commonly used data-types.
package common

import (
	"github.com/cogentcore/webgpu/wgpu"
)

// TextureStagingData holds pixel data for a texture pending GPU upload.
// Each entry of Mips is one mip level, tightly packed rows, starting with the full resolution level.
type TextureStagingData struct {
	// Label names the GPU texture for debugging.
	Label string
	// Format is the texel format of every mip level.
	Format wgpu.TextureFormat
	// BytesPerTexel is the size of a single texel in Format.
	BytesPerTexel uint32
	// Width is the width of mip 0 in texels.
	Width uint32
	// Height is the height of mip 0 in texels.
	Height uint32
	// Mips holds the pixel data of every mip level.
	Mips [][]byte
}

// MipSize returns the dimensions of the given mip level, clamped to at least one texel.
func (t *TextureStagingData) MipSize(mip uint32) (uint32, uint32) {
	return max(t.Width>>mip, 1), max(t.Height>>mip, 1)
}
