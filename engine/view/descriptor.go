package view

import (
	"github.com/Carmen-Shannon/oxy-vhm/common"
	"github.com/Carmen-Shannon/oxy-vhm/engine/config"
	"github.com/Carmen-Shannon/oxy-vhm/engine/heightfield"
	"github.com/go-gl/mathgl/mgl32"
)

// MainViewDescriptor is the per-(surface, view) snapshot that drives collection: the view
// frustum in the surface's UV space, the world-space origin LOD distances are measured from,
// and the LOD thresholds.
type MainViewDescriptor struct {
	ViewID    ViewID
	Origin    mgl32.Vec3
	Planes    []common.Plane
	LodRanges LodRanges
}

// NewMainViewDescriptor snapshots v for collection against the surface d.
//
// Parameters:
//   - d: the surface descriptor
//   - v: the main view
//   - settings: the pipeline configuration providing the LOD scale
//
// Returns:
//   - *MainViewDescriptor: the snapshot
func NewMainViewDescriptor(d *heightfield.Descriptor, v View, settings config.Settings) *MainViewDescriptor {
	lodScale := max(settings.LodScale, config.MinLodScale)
	if settings.EnableViewLodFactor {
		lodScale *= v.LodFactor()
	}
	return &MainViewDescriptor{
		ViewID:    v.ID(),
		Origin:    v.Origin(),
		Planes:    d.TransformPlanes(v.Frustum().ViewPlanes()),
		LodRanges: CalculateLodRanges(d, v.ProjectionMatrix(), lodScale),
	}
}

// PaddedPlanes returns the planes padded with NullPlane to MaxViewPlanes entries.
func (m *MainViewDescriptor) PaddedPlanes() [common.MaxViewPlanes]common.Plane {
	return padPlanes(m.Planes)
}

// ChildViewDescriptor is the snapshot of a view that final culling runs against.
type ChildViewDescriptor struct {
	ViewID ViewID
	Planes []common.Plane
	Shadow bool
}

// NewChildViewDescriptor snapshots v for final culling against the surface d. Shadow views
// cull against their shadow frustum, moved out of the pre-shadow translated space.
//
// Parameters:
//   - d: the surface descriptor
//   - v: the child view
//
// Returns:
//   - *ChildViewDescriptor: the snapshot
func NewChildViewDescriptor(d *heightfield.Descriptor, v View) *ChildViewDescriptor {
	if shadow, translation, ok := v.ShadowFrustum(); ok {
		planes := shadow.ViewPlanes()
		for i := range planes {
			planes[i] = planes[i].Translated(translation)
		}
		return &ChildViewDescriptor{ViewID: v.ID(), Planes: d.TransformPlanes(planes), Shadow: true}
	}
	return &ChildViewDescriptor{ViewID: v.ID(), Planes: d.TransformPlanes(v.Frustum().ViewPlanes())}
}

// PaddedPlanes returns the planes padded with NullPlane to MaxViewPlanes entries.
func (c *ChildViewDescriptor) PaddedPlanes() [common.MaxViewPlanes]common.Plane {
	return padPlanes(c.Planes)
}

func padPlanes(planes []common.Plane) [common.MaxViewPlanes]common.Plane {
	var out [common.MaxViewPlanes]common.Plane
	for i := range out {
		if i < len(planes) {
			out[i] = planes[i]
		} else {
			out[i] = common.NullPlane
		}
	}
	return out
}
