// Package heightfield models a virtual heightfield surface: its page table, transform, LOD
// distribution constants and min/max height hierarchy, and the immutable per-frame Descriptor
// the culling pipeline reads.
package heightfield

import (
	"sync"

	"github.com/Carmen-Shannon/oxy-vhm/common"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// SurfaceID is the opaque handle of a surface. It keys the scheduler's pools and the
// occlusion cache.
type SurfaceID uuid.UUID

// NewSurfaceID returns a fresh random handle.
func NewSurfaceID() SurfaceID {
	return SurfaceID(uuid.New())
}

func (id SurfaceID) String() string {
	return uuid.UUID(id).String()
}

// MarshalText encodes the handle in its canonical UUID form, so log tags and JSON carry the
// string rather than the raw bytes.
func (id SurfaceID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

// Surface is a heightfield whose height data lives in a paged virtual texture.
type Surface interface {
	// ID returns the surface handle.
	//
	// Returns:
	//   - SurfaceID: the opaque handle
	ID() SurfaceID

	// PageTable returns the page table, or nil if none is attached.
	//
	// Returns:
	//   - PageTable: the virtual texture page table
	PageTable() PageTable

	// SetPageTable replaces the page table. The descriptor is rebuilt on next access.
	//
	// Parameters:
	//   - pt: the new page table
	SetPageTable(pt PageTable)

	// Transform returns the UV-space to world-space transform.
	//
	// Returns:
	//   - mgl32.Mat4: the transform
	Transform() mgl32.Mat4

	// SetTransform replaces the UV-space to world-space transform. The descriptor is rebuilt on next access.
	//
	// Parameters:
	//   - m: the new transform
	SetTransform(m mgl32.Mat4)

	// MinMax returns the min/max height hierarchy, or nil if none is attached.
	//
	// Returns:
	//   - *MinMaxHierarchy: the hierarchy
	MinMax() *MinMaxHierarchy

	// SetMinMax replaces the min/max height hierarchy. The descriptor and the occlusion volumes
	// are rebuilt on next access.
	//
	// Parameters:
	//   - h: the new hierarchy, or nil for the default [0, 1] bound
	SetMinMax(h *MinMaxHierarchy)

	// Allocated reports whether the surface has a page table with a valid allocation.
	//
	// Returns:
	//   - bool: true if the surface can be culled this frame
	Allocated() bool

	// Descriptor returns the immutable snapshot used by the culling pipeline. The snapshot is
	// cached and rebuilt whenever the surface or its page table changes.
	//
	// Returns:
	//   - *Descriptor: the snapshot
	//   - error: if the surface is not allocated or its parameters are out of range
	Descriptor() (*Descriptor, error)

	// OcclusionVolumes returns the world-space volumes the external occlusion system should
	// query for this surface, in the order the occlusion cache expects the results.
	//
	// Returns:
	//   - []common.AABB: the volumes
	OcclusionVolumes() []common.AABB
}

// surfaceImpl is the implementation of the Surface interface.
type surfaceImpl struct {
	mu *sync.Mutex

	id                  SurfaceID
	pageTable           PageTable
	uvToWorld           mgl32.Mat4
	minMax              *MinMaxHierarchy
	tileSize            uint32
	tileBorderSize      uint32
	physicalTextureSize uint32
	lod0ScreenSize      float32
	lod0Distribution    float32
	lodDistribution     float32
	numTailLods         uint32
	numOcclusionLods    uint32
	numQuadsPerTileSide uint32

	revision           uint64
	descriptor         *Descriptor
	descriptorRevision uint64
	descriptorPages    uint64
}

var _ Surface = &surfaceImpl{}

// NewSurface creates a new Surface with the given options applied over the defaults.
//
// Parameters:
//   - options: variadic list of SurfaceBuilderOption functions to configure the surface
//
// Returns:
//   - Surface: the new surface
func NewSurface(options ...SurfaceBuilderOption) Surface {
	s := &surfaceImpl{
		mu:                  &sync.Mutex{},
		id:                  NewSurfaceID(),
		uvToWorld:           mgl32.Ident4(),
		tileSize:            128,
		tileBorderSize:      2,
		physicalTextureSize: 4096,
		lod0ScreenSize:      1,
		lod0Distribution:    2,
		lodDistribution:     2,
		numQuadsPerTileSide: 16,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func (s *surfaceImpl) ID() SurfaceID {
	return s.id
}

func (s *surfaceImpl) PageTable() PageTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageTable
}

func (s *surfaceImpl) SetPageTable(pt PageTable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageTable = pt
	s.revision++
}

func (s *surfaceImpl) Transform() mgl32.Mat4 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uvToWorld
}

func (s *surfaceImpl) SetTransform(m mgl32.Mat4) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uvToWorld = m
	s.revision++
}

func (s *surfaceImpl) MinMax() *MinMaxHierarchy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minMax
}

func (s *surfaceImpl) SetMinMax(h *MinMaxHierarchy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minMax = h
	s.revision++
}

func (s *surfaceImpl) Allocated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageTable != nil && s.pageTable.Allocated()
}

func (s *surfaceImpl) Descriptor() (*Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pageTable == nil || !s.pageTable.Allocated() {
		return nil, errors.New("surface has no valid page table allocation").WithTag("surface", s.id)
	}

	pages := s.pageTable.Revision()
	if s.descriptor != nil && s.descriptorRevision == s.revision && s.descriptorPages == pages {
		return s.descriptor, nil
	}

	d, err := s.buildDescriptor()
	if err != nil {
		return nil, err
	}
	d.PageTableRevision = pages
	s.descriptor = d
	s.descriptorRevision = s.revision
	s.descriptorPages = pages
	return d, nil
}

func (s *surfaceImpl) OcclusionVolumes() []common.AABB {
	d, err := s.Descriptor()
	if err != nil {
		return nil
	}
	return d.OcclusionVolumes
}
