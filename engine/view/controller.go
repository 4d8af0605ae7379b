package view

import (
	"math"
	"sync"

	"github.com/Carmen-Shannon/oxy-vhm/common"
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Controller supplies a view's position and target each frame.
type Controller interface {
	// Position returns the world-space eye position.
	//
	// Returns:
	//   - mgl32.Vec3: the eye position
	Position() mgl32.Vec3

	// Target returns the world-space point the view looks at.
	//
	// Returns:
	//   - mgl32.Vec3: the look-at target
	Target() mgl32.Vec3
}

type staticController struct {
	position mgl32.Vec3
	target   mgl32.Vec3
}

// NewStaticController returns a controller that never moves.
func NewStaticController(position, target mgl32.Vec3) Controller {
	return &staticController{position: position, target: target}
}

func (c *staticController) Position() mgl32.Vec3 {
	return c.position
}

func (c *staticController) Target() mgl32.Vec3 {
	return c.target
}

// OrbitController circles a target at a fixed radius and elevation. Z is up.
type OrbitController struct {
	mu *sync.Mutex

	target       mgl32.Vec3
	radius       float32
	minRadius    float32
	maxRadius    float32
	azimuth      float32
	elevation    float32
	orbitSpeed   float32
	minElevation float32
	maxElevation float32
	paused       bool
}

var _ Controller = &OrbitController{}

// NewOrbitController creates an orbit around target at the given radius and elevation in radians.
func NewOrbitController(target mgl32.Vec3, radius, elevation float32) *OrbitController {
	return &OrbitController{
		mu:           &sync.Mutex{},
		target:       target,
		radius:       radius,
		minRadius:    1,
		maxRadius:    radius * 8,
		elevation:    elevation,
		orbitSpeed:   0.25,
		minElevation: 0.05,
		maxElevation: math.Pi/2 - 0.05,
	}
}

func (c *OrbitController) Position() mgl32.Vec3 {
	c.mu.Lock()
	defer c.mu.Unlock()
	horizontal := c.radius * math32.Cos(c.elevation)
	return c.target.Add(mgl32.Vec3{
		horizontal * math32.Cos(c.azimuth),
		horizontal * math32.Sin(c.azimuth),
		c.radius * math32.Sin(c.elevation),
	})
}

func (c *OrbitController) Target() mgl32.Vec3 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// Advance moves the orbit forward by dt seconds unless paused.
func (c *OrbitController) Advance(dt float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return
	}
	c.azimuth = float32(math.Mod(float64(c.azimuth+c.orbitSpeed*dt), 2*math.Pi))
}

// TogglePause stops or resumes Advance.
func (c *OrbitController) TogglePause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = !c.paused
}

// Zoom scales the radius by (1 - delta*0.1), clamped to the radius limits.
func (c *OrbitController) Zoom(delta float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.radius = common.Clamp(c.radius*(1-delta*0.1), c.minRadius, c.maxRadius)
}

// SetElevation sets the elevation in radians, clamped to avoid the poles.
func (c *OrbitController) SetElevation(elevation float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.elevation = common.Clamp(elevation, c.minElevation, c.maxElevation)
}

// Drag rotates the orbit by a cursor delta. One pixel turns the orbit by radiansPerPixel.
func (c *OrbitController) Drag(dx, dy, radiansPerPixel float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.azimuth = float32(math.Mod(float64(c.azimuth-dx*radiansPerPixel), 2*math.Pi))
	c.elevation = common.Clamp(c.elevation+dy*radiansPerPixel, c.minElevation, c.maxElevation)
}
