package view

import (
	"github.com/Carmen-Shannon/oxy-vhm/common"
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// DirectionalShadowFrustum builds the orthographic frustum of a directional light centered on
// the origin. Pass the world-space center of the shadowed region as the pre-shadow
// translation of SetShadowFrustum to move it into place.
//
// Parameters:
//   - lightDir: the direction the light travels, towards the ground
//   - halfExtent: half the width and height of the frustum in world units
//   - depth: the distance from the near plane to the far plane, centered on the origin
//
// Returns:
//   - common.Frustum: the light frustum
func DirectionalShadowFrustum(lightDir mgl32.Vec3, halfExtent, depth float32) common.Frustum {
	dir := lightDir.Normalize()
	eye := dir.Mul(-depth * 0.5)

	// Pick an up vector that is not parallel to the light.
	up := mgl32.Vec3{0, 0, 1}
	if math32.Abs(dir.Z()) > 0.99 {
		up = mgl32.Vec3{0, 1, 0}
	}

	lightView := mgl32.LookAtV(eye, mgl32.Vec3{}, up)
	lightProj := common.Orthographic(-halfExtent, halfExtent, -halfExtent, halfExtent, 0, depth)
	return common.ExtractFrustum(lightProj.Mul4(lightView))
}
