package occlusion

import (
	"sync"

	"github.com/Carmen-Shannon/oxy-vhm/common"
	"github.com/Carmen-Shannon/oxy-vhm/engine/frame"
	"github.com/Carmen-Shannon/oxy-vhm/engine/heightfield"
	"github.com/Carmen-Shannon/oxy-vhm/engine/view"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

// Key identifies the results of one surface seen from one view.
type Key struct {
	Surface heightfield.SurfaceID
	View    view.ViewID
}

// Cache holds the occlusion results accepted during the current frame. It clears itself at
// the end of every frame.
type Cache struct {
	mu      sync.Mutex
	enabled bool
	results map[Key]*Result
}

// NewCache creates a cache attached to the lifecycle's end-of-frame hook.
//
// Parameters:
//   - lifecycle: the frame lifecycle the cache clears on
//   - enabled: whether results are accepted at all
//
// Returns:
//   - *Cache: the cache
func NewCache(lifecycle frame.Lifecycle, enabled bool) *Cache {
	c := &Cache{
		enabled: enabled,
		results: make(map[Key]*Result),
	}
	if lifecycle != nil {
		lifecycle.OnEndFrame(c.Reset)
	}
	return c
}

// SetEnabled turns result acceptance on or off. Disabling drops the cached results.
func (c *Cache) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
	if !enabled {
		clear(c.results)
	}
}

// Accept stores the query results of the occlusion volumes for (surface, view).
// results[start:start+num] hold one entry per volume, ordered finest mip first and row-major
// within a mip. grid is the size of the finest mip. Sizes halve per mip rounding up, like
// the min/max hierarchy the volumes come from, and never drop below one. Results are ignored when the cache is disabled or hold a single volume, which carries
// no more information than the fallback.
//
// Parameters:
//   - surface: the surface handle
//   - v: the view handle
//   - results: the visibility of every queried volume
//   - start: the index of the first volume of this surface in results
//   - num: the number of volumes of this surface
//   - grid: the size of the finest volume grid
//
// Returns:
//   - bool: true if the results were stored
func (c *Cache) Accept(surface heightfield.SurfaceID, v view.ViewID, results []bool, start, num int, grid [2]uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled || num <= 1 || grid[0] == 0 || grid[1] == 0 {
		return false
	}

	r := &Result{}
	consumed := 0
	w, h := grid[0], grid[1]
	for consumed < num {
		cells := make([]byte, w*h)
		for i := range cells {
			idx := start + consumed + i
			// Volumes beyond the submitted range are treated as visible.
			if consumed+i >= num || idx >= len(results) || results[idx] {
				cells[i] = Visible
			}
		}
		r.Mips = append(r.Mips, cells)
		r.Sizes = append(r.Sizes, [2]uint32{w, h})
		consumed += len(cells)
		if w == 1 && h == 1 {
			break
		}
		w, h = max((w+1)/2, 1), max((h+1)/2, 1)
	}
	r.NumMips = uint32(len(r.Mips))
	c.results[Key{Surface: surface, View: v}] = r

	logs.WithTag("surface", surface).
		WithTag("view", v).
		WithTag("mips", r.NumMips).
		Debug("occlusion results accepted")
	return true
}

// Lookup returns the results accepted this frame for (surface, view).
func (c *Cache) Lookup(surface heightfield.SurfaceID, v view.ViewID) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return nil, false
	}
	r, ok := c.results[Key{Surface: surface, View: v}]
	return r, ok
}

// Resolve returns the cached results for (surface, view) or the visible fallback.
func (c *Cache) Resolve(surface heightfield.SurfaceID, v view.ViewID) *Result {
	if r, ok := c.Lookup(surface, v); ok {
		return r
	}
	return NoOcclusion()
}

// Len returns the number of cached results.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}

// Reset drops every cached result.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.results)
}

// QueryFrustum tests occlusion volumes against view planes and reports which may be visible.
// It stands in for hardware occlusion queries where none are available.
func QueryFrustum(volumes []common.AABB, planes []common.Plane) []bool {
	out := make([]bool, len(volumes))
	for i, v := range volumes {
		out[i] = !common.BoxOutsideAny(planes, v)
	}
	return out
}
