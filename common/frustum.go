package common

import "github.com/go-gl/mathgl/mgl32"

// MaxViewPlanes is the number of planes a culling view carries. The far plane of a perspective
// frustum is dropped, so a view holds at most Left, Right, Bottom, Top and Near.
const MaxViewPlanes = 5

// Plane represents a plane in 3D space using the equation: ax + by + cz + d = 0
// where (a, b, c) is the normal and d is the distance from origin.
// A point p is inside the plane when dot(Normal, p) + Distance >= 0.
type Plane struct {
	Normal   [3]float32
	Distance float32
}

// NullPlane is the plane (0, 0, 0, 1). Every point is inside it, so unused plane slots never cull.
var NullPlane = Plane{Distance: 1}

// Frustum represents the six planes of a view frustum for culling.
// Planes are oriented so that positive half-space is inside the frustum.
type Frustum struct {
	Planes [6]Plane // Left, Right, Bottom, Top, Near, Far
}

// FrustumPlane indices for clarity
const (
	FrustumLeft   = 0
	FrustumRight  = 1
	FrustumBottom = 2
	FrustumTop    = 3
	FrustumNear   = 4
	FrustumFar    = 5
)

// ExtractFrustum extracts frustum planes from a view-projection matrix.
// Uses the Gribb/Hartmann method for plane extraction, with the near plane taken from the
// WebGPU clip-space depth range [0, w].
//
// Reference: https://www8.cs.umu.se/kurser/5DV051/HT12/lab/plane_extraction.pdf
//
// Parameters:
//   - viewProj: the combined Projection * View matrix
//
// Returns:
//   - Frustum: the extracted frustum with normalized planes
func ExtractFrustum(viewProj mgl32.Mat4) Frustum {
	r0, r1, r2, r3 := viewProj.Row(0), viewProj.Row(1), viewProj.Row(2), viewProj.Row(3)

	var f Frustum
	f.Planes[FrustumLeft] = PlaneFromVec4(r3.Add(r0)).Normalized()
	f.Planes[FrustumRight] = PlaneFromVec4(r3.Sub(r0)).Normalized()
	f.Planes[FrustumBottom] = PlaneFromVec4(r3.Add(r1)).Normalized()
	f.Planes[FrustumTop] = PlaneFromVec4(r3.Sub(r1)).Normalized()
	f.Planes[FrustumNear] = PlaneFromVec4(r2).Normalized()
	f.Planes[FrustumFar] = PlaneFromVec4(r3.Sub(r2)).Normalized()
	return f
}

// ViewPlanes returns the culling planes of the frustum without the far plane.
func (f Frustum) ViewPlanes() []Plane {
	return append([]Plane(nil), f.Planes[:MaxViewPlanes]...)
}

// PlaneFromVec4 builds a plane from (a, b, c, d).
func PlaneFromVec4(v mgl32.Vec4) Plane {
	return Plane{Normal: [3]float32{v[0], v[1], v[2]}, Distance: v[3]}
}

// Vec4 returns the plane as (a, b, c, d).
func (p Plane) Vec4() mgl32.Vec4 {
	return mgl32.Vec4{p.Normal[0], p.Normal[1], p.Normal[2], p.Distance}
}

// IsNull reports whether the plane has a zero normal.
func (p Plane) IsNull() bool {
	return p.Normal == [3]float32{}
}

// SignedDistance returns dot(Normal, pt) + Distance. Negative values are outside.
func (p Plane) SignedDistance(pt mgl32.Vec3) float32 {
	return mgl32.Vec3(p.Normal).Dot(pt) + p.Distance
}

// Normalized scales the plane so that its normal has unit length. Null planes are returned unchanged.
func (p Plane) Normalized() Plane {
	n := mgl32.Vec3(p.Normal)
	length := n.Len()
	if length <= 0 {
		return p
	}
	inv := 1 / length
	return Plane{Normal: n.Mul(inv), Distance: p.Distance * inv}
}

// Translated converts a plane expressed in a space translated by t (q = p + t) back into the
// untranslated space. Used for pre-shadow translated frustums.
func (p Plane) Translated(t mgl32.Vec3) Plane {
	if p.IsNull() {
		return p
	}
	return Plane{Normal: p.Normal, Distance: p.Distance + mgl32.Vec3(p.Normal).Dot(t)}
}

// Transformed maps the plane through the point transform m. transposeAdjoint must be the
// transpose of the adjoint of m's upper 3x3 block (see TransposeAdjoint). Orientation is
// preserved even when m flips handedness: a point known to be inside is transformed along
// with the plane and the result is negated if it would end up outside.
//
// Parameters:
//   - m: the point transform from the plane's space into the destination space
//   - transposeAdjoint: the matching normal transform
//
// Returns:
//   - Plane: the normalized plane in the destination space
func (p Plane) Transformed(m, transposeAdjoint mgl32.Mat4) Plane {
	if p.IsNull() {
		return p
	}
	p = p.Normalized()
	n := mgl32.Vec3(p.Normal)
	onPlane := n.Mul(-p.Distance)
	inside := onPlane.Add(n)

	tn := transposeAdjoint.Mul4x1(n.Vec4(0)).Vec3()
	to := mgl32.TransformCoordinate(onPlane, m)
	out := Plane{Normal: tn, Distance: -tn.Dot(to)}.Normalized()
	if out.SignedDistance(mgl32.TransformCoordinate(inside, m)) < 0 {
		out = Plane{Normal: mgl32.Vec3(out.Normal).Mul(-1), Distance: -out.Distance}
	}
	return out
}

// BoxOutside reports whether the axis-aligned box lies entirely in the negative half-space.
// Only the box corner furthest along the normal is tested.
func (p Plane) BoxOutside(box AABB) bool {
	if p.IsNull() {
		return false
	}
	var corner mgl32.Vec3
	for i := 0; i < 3; i++ {
		if p.Normal[i] >= 0 {
			corner[i] = box.Max[i]
		} else {
			corner[i] = box.Min[i]
		}
	}
	return p.SignedDistance(corner) < 0
}

// BoxOutsideAny reports whether the box is entirely outside at least one of the planes.
func BoxOutsideAny(planes []Plane, box AABB) bool {
	for _, p := range planes {
		if p.BoxOutside(box) {
			return true
		}
	}
	return false
}

// TransposeAdjoint returns the transpose of the adjoint of the upper 3x3 block of m, which
// transforms plane normals consistently with m even when m is not invertible.
func TransposeAdjoint(m mgl32.Mat4) mgl32.Mat4 {
	a := m.Mat3()
	c0 := a.Col(1).Cross(a.Col(2))
	c1 := a.Col(2).Cross(a.Col(0))
	c2 := a.Col(0).Cross(a.Col(1))
	return mgl32.Mat4{
		c0[0], c0[1], c0[2], 0,
		c1[0], c1[1], c1[2], 0,
		c2[0], c2[1], c2[2], 0,
		0, 0, 0, 1,
	}
}
