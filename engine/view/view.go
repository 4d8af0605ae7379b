// Package view models the views a surface is rendered through and their per-frame
// descriptors: the main view that drives LOD and occlusion decisions and the child views that
// final culling runs against.
package view

import (
	"math"
	"sync"

	"github.com/Carmen-Shannon/oxy-vhm/common"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// ViewID is the opaque handle of a view. It keys the scheduler's pools and the occlusion cache.
type ViewID uuid.UUID

// NewViewID returns a fresh random handle.
func NewViewID() ViewID {
	return ViewID(uuid.New())
}

func (id ViewID) String() string {
	return uuid.UUID(id).String()
}

func (id ViewID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

type viewImpl struct {
	mu *sync.Mutex

	id ViewID
	up mgl32.Vec3

	fov    float32
	aspect float32
	near   float32
	far    float32

	lodFactor float32

	shadowFrustum     *common.Frustum
	shadowTranslation mgl32.Vec3

	origin               mgl32.Vec3
	viewMatrix           mgl32.Mat4
	projectionMatrix     mgl32.Mat4
	viewProjectionMatrix mgl32.Mat4
	frustum              common.Frustum

	controller Controller
}

// View defines a point of view a surface is culled for.
// The view holds perspective settings and computes view/projection matrices and frustum
// planes from an attached Controller each frame via Update().
type View interface {
	// ID returns the view handle.
	//
	// Returns:
	//   - ViewID: the opaque handle
	ID() ViewID

	// Origin returns the world-space view position used for LOD distances.
	//
	// Returns:
	//   - mgl32.Vec3: the view origin
	Origin() mgl32.Vec3

	// Fov returns the field of view in radians.
	//
	// Returns:
	//   - float32: field of view in radians
	Fov() float32

	// Aspect returns the aspect ratio (width / height).
	//
	// Returns:
	//   - float32: the aspect ratio
	Aspect() float32

	// ViewMatrix returns the current view matrix.
	//
	// Returns:
	//   - mgl32.Mat4: the view matrix
	ViewMatrix() mgl32.Mat4

	// ProjectionMatrix returns the current projection matrix. Its scale terms set the screen
	// size of a tile and therefore the LOD distances.
	//
	// Returns:
	//   - mgl32.Mat4: the projection matrix
	ProjectionMatrix() mgl32.Mat4

	// ViewProjectionMatrix returns the current combined view-projection matrix.
	//
	// Returns:
	//   - mgl32.Mat4: the combined view-projection matrix
	ViewProjectionMatrix() mgl32.Mat4

	// Frustum returns the world-space frustum planes of the view.
	//
	// Returns:
	//   - common.Frustum: the frustum
	Frustum() common.Frustum

	// ShadowFrustum returns the frustum a shadow pass culls against, expressed in a space
	// translated by the returned pre-shadow translation.
	//
	// Returns:
	//   - common.Frustum: the shadow frustum
	//   - mgl32.Vec3: the pre-shadow translation
	//   - bool: false if the view is not a shadow view
	ShadowFrustum() (common.Frustum, mgl32.Vec3, bool)

	// LodFactor returns the view-specific LOD multiplier.
	//
	// Returns:
	//   - float32: the factor, 1 by default
	LodFactor() float32

	// Controller returns the attached Controller, or nil.
	//
	// Returns:
	//   - Controller: the attached controller or nil
	Controller() Controller

	// Update reads position/target from the controller and recomputes matrices.
	// Should be called once per frame. If no controller is attached, this method does nothing.
	Update()

	// SetAspect sets the aspect ratio (width / height) and recomputes matrices.
	//
	// Parameters:
	//   - aspect: the aspect ratio
	SetAspect(aspect float32)

	// SetLodFactor sets the view-specific LOD multiplier.
	//
	// Parameters:
	//   - factor: the multiplier
	SetLodFactor(factor float32)

	// SetShadowFrustum marks the view as a shadow view culling against f, which is expressed
	// in a space translated by translation.
	//
	// Parameters:
	//   - f: the shadow frustum
	//   - translation: the pre-shadow translation
	SetShadowFrustum(f common.Frustum, translation mgl32.Vec3)

	// ClearShadowFrustum turns the view back into a regular view.
	ClearShadowFrustum()

	// SetController attaches a Controller to the view.
	//
	// Parameters:
	//   - ctrl: the controller to attach
	SetController(ctrl Controller)
}

var _ View = &viewImpl{}

// NewView creates a new View with default perspective settings.
//
// Parameters:
//   - options: functional options to configure the view
//
// Returns:
//   - View: the newly created view
func NewView(options ...ViewBuilderOption) View {
	v := &viewImpl{
		mu:                   &sync.Mutex{},
		id:                   NewViewID(),
		up:                   mgl32.Vec3{0, 0, 1},
		fov:                  60.0 * (math.Pi / 180.0), // radians
		aspect:               1.0,
		near:                 0.1,
		far:                  100000.0,
		lodFactor:            1,
		viewMatrix:           mgl32.Ident4(),
		projectionMatrix:     mgl32.Ident4(),
		viewProjectionMatrix: mgl32.Ident4(),
	}
	for _, option := range options {
		option(v)
	}
	v.updateMatrices()
	return v
}

func (v *viewImpl) ID() ViewID {
	return v.id
}

func (v *viewImpl) Origin() mgl32.Vec3 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.origin
}

func (v *viewImpl) Fov() float32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fov
}

func (v *viewImpl) Aspect() float32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.aspect
}

func (v *viewImpl) ViewMatrix() mgl32.Mat4 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.viewMatrix
}

func (v *viewImpl) ProjectionMatrix() mgl32.Mat4 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.projectionMatrix
}

func (v *viewImpl) ViewProjectionMatrix() mgl32.Mat4 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.viewProjectionMatrix
}

func (v *viewImpl) Frustum() common.Frustum {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.frustum
}

func (v *viewImpl) ShadowFrustum() (common.Frustum, mgl32.Vec3, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.shadowFrustum == nil {
		return common.Frustum{}, mgl32.Vec3{}, false
	}
	return *v.shadowFrustum, v.shadowTranslation, true
}

func (v *viewImpl) LodFactor() float32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lodFactor
}

func (v *viewImpl) Controller() Controller {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.controller
}

func (v *viewImpl) Update() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.controller == nil {
		return
	}
	v.updateMatrices()
}

func (v *viewImpl) SetAspect(aspect float32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.aspect = aspect
	v.updateMatrices()
}

func (v *viewImpl) SetLodFactor(factor float32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lodFactor = factor
}

func (v *viewImpl) SetShadowFrustum(f common.Frustum, translation mgl32.Vec3) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.shadowFrustum = &f
	v.shadowTranslation = translation
}

func (v *viewImpl) ClearShadowFrustum() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.shadowFrustum = nil
	v.shadowTranslation = mgl32.Vec3{}
}

func (v *viewImpl) SetController(ctrl Controller) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.controller = ctrl
	v.updateMatrices()
}

// updateMatrices recalculates the view, projection, view-projection matrices and the frustum.
// It reads position and target from the attached controller. Caller must hold the mutex.
func (v *viewImpl) updateMatrices() {
	if v.controller == nil {
		return
	}
	v.origin = v.controller.Position()
	v.viewMatrix = mgl32.LookAtV(v.origin, v.controller.Target(), v.up)
	v.projectionMatrix = common.Perspective(v.fov, v.aspect, v.near, v.far)
	v.viewProjectionMatrix = v.projectionMatrix.Mul4(v.viewMatrix)
	v.frustum = common.ExtractFrustum(v.viewProjectionMatrix)
}
