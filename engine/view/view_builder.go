package view

import (
	"github.com/go-gl/mathgl/mgl32"
)

// ViewBuilderOption is a functional option for configuring a View.
type ViewBuilderOption func(*viewImpl)

// WithID sets the view handle instead of generating one.
func WithID(id ViewID) ViewBuilderOption {
	return func(v *viewImpl) {
		v.id = id
	}
}

// WithUp sets the view's up vector.
func WithUp(up mgl32.Vec3) ViewBuilderOption {
	return func(v *viewImpl) {
		v.up = up
	}
}

// WithPerspective sets the vertical field of view in radians, the aspect ratio and the clip distances.
func WithPerspective(fov, aspect, near, far float32) ViewBuilderOption {
	return func(v *viewImpl) {
		v.fov = fov
		v.aspect = aspect
		v.near = near
		v.far = far
	}
}

// WithLodFactor sets the view-specific LOD multiplier.
func WithLodFactor(factor float32) ViewBuilderOption {
	return func(v *viewImpl) {
		v.lodFactor = factor
	}
}

// WithController attaches a Controller to the view.
func WithController(ctrl Controller) ViewBuilderOption {
	return func(v *viewImpl) {
		v.controller = ctrl
	}
}

// WithLookAt attaches a static controller placed at eye and looking at target.
func WithLookAt(eye, target mgl32.Vec3) ViewBuilderOption {
	return func(v *viewImpl) {
		v.controller = NewStaticController(eye, target)
	}
}
