package cull

import (
	"context"

	"github.com/Carmen-Shannon/oxy-vhm/engine/config"
	"github.com/Carmen-Shannon/oxy-vhm/engine/heightfield"
	"github.com/Carmen-Shannon/oxy-vhm/engine/occlusion"
	"github.com/Carmen-Shannon/oxy-vhm/engine/view"
)

// DrawInstanceBuffers is the output of culling for one (surface, main view, cull view)
// triple: a list of RenderInstances and the indirect arguments that draw them. The scheduler
// pools them across frames.
type DrawInstanceBuffers interface {
	// Label returns the debug label the buffers were created with.
	//
	// Returns:
	//   - string: the label
	Label() string

	// Release frees the underlying resources. The buffers must not be used afterwards.
	Release()
}

// MainViewResult is the output of the main view stages, consumed by every cull view of the
// same (surface, main view) pair within one submit.
type MainViewResult interface {
	// Surface returns the surface snapshot the result was built from.
	//
	// Returns:
	//   - *heightfield.Descriptor: the surface snapshot
	Surface() *heightfield.Descriptor

	// MainView returns the main view snapshot the result was built from.
	//
	// Returns:
	//   - *view.MainViewDescriptor: the main view snapshot
	MainView() *view.MainViewDescriptor

	// Stats returns the collection counters. Backends that cannot read them back report zeros.
	//
	// Returns:
	//   - CollectStats: the counters
	Stats() CollectStats

	// Feedback returns the page requests. Only valid after the submit has ended.
	//
	// Returns:
	//   - Feedback: the page requests
	Feedback() Feedback
}

// Backend executes the culling stages. A submit brackets every stage recorded for one frame.
type Backend interface {
	// NewDrawBuffers allocates draw instance buffers sized for the current settings.
	//
	// Parameters:
	//   - label: the debug label
	//
	// Returns:
	//   - DrawInstanceBuffers: the new buffers
	//   - error: an error if allocation failed
	NewDrawBuffers(label string) (DrawInstanceBuffers, error)

	// BeginSubmit opens a submit.
	//
	// Parameters:
	//   - ctx: the context of the submit
	//   - settings: the configuration read for the whole submit
	//
	// Returns:
	//   - error: an error if the submit could not start
	BeginSubmit(ctx context.Context, settings config.Settings) error

	// CullMainView runs collection, LOD-map rasterization and neighbor resolve.
	//
	// Parameters:
	//   - d: the surface snapshot
	//   - mv: the main view snapshot
	//   - occ: the occlusion results to test against, the visible fallback when none exist
	//
	// Returns:
	//   - MainViewResult: the tiles for the cull views
	//   - error: an error if resources could not be created
	CullMainView(d *heightfield.Descriptor, mv *view.MainViewDescriptor, occ *occlusion.Result) (MainViewResult, error)

	// CullChildView runs final cull and pack into buffers.
	//
	// Parameters:
	//   - res: the main view result of the same submit
	//   - cv: the cull view snapshot
	//   - mode: the cull variant
	//   - buffers: the destination buffers
	//
	// Returns:
	//   - error: an error if the stage could not be recorded
	CullChildView(res MainViewResult, cv *view.ChildViewDescriptor, mode CullMode, buffers DrawInstanceBuffers) error

	// ResetDrawBuffers makes buffers draw nothing. It is used for work that could not be culled
	// this frame so a recycled buffer never draws another request's tiles.
	//
	// Parameters:
	//   - buffers: the buffers to clear
	//
	// Returns:
	//   - error: an error if the reset could not be recorded
	ResetDrawBuffers(buffers DrawInstanceBuffers) error

	// EndSubmit executes everything recorded since BeginSubmit.
	//
	// Returns:
	//   - error: an error if execution failed
	EndSubmit() error
}
