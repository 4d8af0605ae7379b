package common

import (
	"unsafe"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// SliceToBytes converts any slice to a byte slice for GPU buffer uploads.
// Uses unsafe pointer operations to create a view into the original data.
// WARNING: The returned slice shares memory with the input - do not modify.
//
// Parameters:
//   - data: source slice of any type
//
// Returns:
//   - []byte: byte slice view of the input data, or nil if input is empty
func SliceToBytes[T any](data []T) []byte {
	if len(data) == 0 {
		return nil
	}
	size := int(unsafe.Sizeof(data[0])) * len(data)
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), size)
}

// Perspective creates a perspective projection matrix for the WebGPU clip space depth range [0, 1].
// mgl32.Perspective targets the OpenGL range [-1, 1] and would misplace the near plane.
//
// Parameters:
//   - fovY: vertical field of view in radians
//   - aspect: viewport aspect ratio (width/height)
//   - near: near clipping plane distance (must be > 0)
//   - far: far clipping plane distance (must be > near)
//
// Returns:
//   - mgl32.Mat4: the column-major projection matrix
func Perspective(fovY, aspect, near, far float32) mgl32.Mat4 {
	f := 1 / math32.Tan(fovY/2)
	var out mgl32.Mat4
	out[0] = f / aspect
	out[5] = f
	out[10] = far / (near - far)
	out[11] = -1
	out[14] = (near * far) / (near - far)
	return out
}

// Orthographic creates an orthographic projection matrix for the WebGPU clip space depth range [0, 1].
func Orthographic(left, right, bottom, top, near, far float32) mgl32.Mat4 {
	var out mgl32.Mat4
	out[0] = 2 / (right - left)
	out[5] = 2 / (top - bottom)
	out[10] = 1 / (near - far)
	out[12] = -(right + left) / (right - left)
	out[13] = -(top + bottom) / (top - bottom)
	out[14] = near / (near - far)
	out[15] = 1
	return out
}

// ProjectionScreenMultiple returns half of the larger of the projection's x and y scale terms,
// which converts a world radius at unit distance into a screen fraction.
func ProjectionScreenMultiple(proj mgl32.Mat4) float32 {
	return math32.Max(0.5*proj.At(0, 0), 0.5*proj.At(1, 1))
}

// ScaleVector returns the length of each basis vector of m's upper 3x3 block.
func ScaleVector(m mgl32.Mat4) mgl32.Vec3 {
	return mgl32.Vec3{m.Col(0).Vec3().Len(), m.Col(1).Vec3().Len(), m.Col(2).Vec3().Len()}
}
