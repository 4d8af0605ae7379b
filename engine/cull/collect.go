package cull

import (
	"github.com/Carmen-Shannon/oxy-vhm/common"
	"github.com/Carmen-Shannon/oxy-vhm/engine/config"
	"github.com/Carmen-Shannon/oxy-vhm/engine/heightfield"
	"github.com/Carmen-Shannon/oxy-vhm/engine/occlusion"
	"github.com/Carmen-Shannon/oxy-vhm/engine/view"
	"github.com/Carmen-Shannon/oxy-vhm/engine/workqueue"
)

// CollectInput is everything collection reads for one (surface, main view) pair.
type CollectInput struct {
	Surface   *heightfield.Descriptor
	MainView  *view.MainViewDescriptor
	Occlusion *occlusion.Result
	Settings  config.Settings
}

// CollectOutput is the result of collection.
type CollectOutput struct {
	Quads    []QuadItem
	Feedback Feedback
	Stats    CollectStats
}

type collector struct {
	in              CollectInput
	queue           workqueue.Queue
	occlusionOffset int32
	useOcclusion    bool
	feedback        bool
	out             CollectOutput
}

// Collect traverses the surface quadtree from the root through q. lanes logical invocations
// drain the queue round-robin: every step each idle lane pops one item, then every busy lane
// expands its item and retires it. The queue bounds how many nodes may wait at once, so the
// lane count affects which nodes overflow.
//
// Parameters:
//   - q: the work queue, reset and seeded with the root node
//   - lanes: the number of logical invocations
//   - in: the surface and main view snapshots
//
// Returns:
//   - CollectOutput: the emitted tiles, the page requests and the counters
func Collect(q workqueue.Queue, lanes uint32, in CollectInput) CollectOutput {
	c := &collector{
		in:           in,
		queue:        q,
		useOcclusion: in.Settings.Occlusion && in.Occlusion != nil,
		feedback:     !in.Settings.Features.IsSet(config.FlagNoFeedback),
	}
	if c.useOcclusion {
		c.occlusionOffset = in.Occlusion.LevelOffset(in.Surface.MaxLevel)
	}

	lanes = max(lanes, 1)
	items := make([]workqueue.Item, lanes)
	busy := make([]bool, lanes)

	q.Reset(workqueue.Item{Level: in.Surface.RootLevel()})
	for !q.Done() {
		for i := range items {
			if !busy[i] {
				items[i], busy[i] = q.Pop()
			}
		}
		progressed := false
		for i := range items {
			if !busy[i] {
				continue
			}
			c.expand(items[i])
			q.Retire()
			busy[i] = false
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return c.out
}

func (c *collector) expand(it workqueue.Item) {
	d := c.in.Surface
	mv := c.in.MainView
	c.out.Stats.Expanded++

	box := d.NodeBounds(it.Level, it.X, it.Y)
	if common.BoxOutsideAny(mv.Planes, box) {
		c.out.Stats.Culled++
		return
	}

	p, px, py := d.PageCoords(it.Level, it.X, it.Y)
	if c.useOcclusion && !c.in.Occlusion.NodeVisible(c.occlusionOffset, p, px, py) {
		c.out.Stats.Culled++
		return
	}

	dist := box.Transformed(d.UVToWorld).DistanceTo(mv.Origin)
	if it.Level > 0 && mv.LodRanges.LodFor(dist) < it.Level {
		children := d.Children(it.Level, it.X, it.Y)
		pushed := make([]workqueue.Item, len(children))
		for i, ch := range children {
			pushed[i] = workqueue.Item{X: ch[0], Y: ch[1], Level: it.Level - 1}
		}
		if c.queue.Push(pushed...) {
			c.out.Stats.Subdivided++
			return
		}
		c.out.Stats.Overflowed++
	}

	c.emit(it, dist, p, px, py)
}

func (c *collector) emit(it workqueue.Item, dist float32, p, px, py uint32) {
	settings := c.in.Settings
	if uint32(len(c.out.Quads)) >= settings.MaxRenderInstances {
		c.out.Stats.Culled++
		return
	}

	uv, _, exact := c.in.Surface.PhysicalUVTransform(it.Level, it.X, it.Y)
	lod := c.in.MainView.LodRanges.ContinuousLod(dist)
	c.out.Quads = append(c.out.Quads, QuadItem{
		X:           it.X,
		Y:           it.Y,
		Level:       it.Level,
		Lod:         common.Clamp(lod, float32(it.Level), float32(it.Level)+1),
		UVTransform: uv,
	})
	c.out.Stats.Emitted++

	if c.feedback && !exact && uint32(len(c.out.Feedback.Requests)) < settings.MaxFeedbackItems {
		c.out.Feedback.Requests = append(c.out.Feedback.Requests, PackFeedback(p, px, py))
	}
}
