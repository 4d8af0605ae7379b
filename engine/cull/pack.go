package cull

import (
	"github.com/Carmen-Shannon/oxy-vhm/common"
	"github.com/Carmen-Shannon/oxy-vhm/engine/heightfield"
	"github.com/Carmen-Shannon/oxy-vhm/engine/view"
)

// Pack filters the main view's instances for one cull view. At most maxInstances survive and
// the returned draw arguments draw all of them with the surface's tile index count.
//
// Parameters:
//   - d: the surface descriptor
//   - instances: the resolved instances of the main view
//   - child: the cull view snapshot, ignored with CullModeReuseMainView
//   - mode: the cull variant
//   - maxInstances: the capacity of the instance buffer
//
// Returns:
//   - []RenderInstance: the surviving instances
//   - DrawIndexedIndirectArgs: the draw arguments
func Pack(d *heightfield.Descriptor, instances []RenderInstance, child *view.ChildViewDescriptor, mode CullMode, maxInstances uint32) ([]RenderInstance, DrawIndexedIndirectArgs) {
	out := make([]RenderInstance, 0, min(uint32(len(instances)), maxInstances))
	for _, inst := range instances {
		if uint32(len(out)) >= maxInstances {
			break
		}
		if mode == CullModeIndependent {
			it := inst.Item()
			if common.BoxOutsideAny(child.Planes, d.NodeBounds(it.Level, it.X, it.Y)) {
				continue
			}
		}
		out = append(out, inst)
	}
	return out, DrawIndexedIndirectArgs{
		IndexCount:    d.IndexCount(),
		InstanceCount: uint32(len(out)),
	}
}
