package common

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// AABB is an axis-aligned bounding box.
type AABB struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

// Center returns the midpoint of the box.
func (b AABB) Center() mgl32.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Extent returns the half size of the box.
func (b AABB) Extent() mgl32.Vec3 {
	return b.Max.Sub(b.Min).Mul(0.5)
}

// Expanded grows the box by d on every side.
func (b AABB) Expanded(d float32) AABB {
	e := mgl32.Vec3{d, d, d}
	return AABB{Min: b.Min.Sub(e), Max: b.Max.Add(e)}
}

// Transformed returns the box enclosing all eight corners of b after transformation by m.
func (b AABB) Transformed(m mgl32.Mat4) AABB {
	out := AABB{
		Min: mgl32.Vec3{math32.MaxFloat32, math32.MaxFloat32, math32.MaxFloat32},
		Max: mgl32.Vec3{-math32.MaxFloat32, -math32.MaxFloat32, -math32.MaxFloat32},
	}
	for i := 0; i < 8; i++ {
		corner := b.Min
		if i&1 != 0 {
			corner[0] = b.Max[0]
		}
		if i&2 != 0 {
			corner[1] = b.Max[1]
		}
		if i&4 != 0 {
			corner[2] = b.Max[2]
		}
		p := mgl32.TransformCoordinate(corner, m)
		for k := 0; k < 3; k++ {
			out.Min[k] = math32.Min(out.Min[k], p[k])
			out.Max[k] = math32.Max(out.Max[k], p[k])
		}
	}
	return out
}

// DistanceTo returns the distance from p to the closest point of the box, zero when p is inside.
func (b AABB) DistanceTo(p mgl32.Vec3) float32 {
	var d mgl32.Vec3
	for k := 0; k < 3; k++ {
		d[k] = math32.Max(math32.Max(b.Min[k]-p[k], 0), p[k]-b.Max[k])
	}
	return d.Len()
}

// Contains reports whether p lies inside the box, boundary included.
func (b AABB) Contains(p mgl32.Vec3) bool {
	for k := 0; k < 3; k++ {
		if p[k] < b.Min[k] || p[k] > b.Max[k] {
			return false
		}
	}
	return true
}
