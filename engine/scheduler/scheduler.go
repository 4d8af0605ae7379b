// Package scheduler batches the culling work of a frame. Callers register (surface, main view,
// cull view) triples with AddWork and get back the draw instance buffers the work will fill;
// SubmitWork then runs collection once per (surface, main view) and final culling once per
// triple.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Carmen-Shannon/oxy-vhm/engine/config"
	"github.com/Carmen-Shannon/oxy-vhm/engine/cull"
	"github.com/Carmen-Shannon/oxy-vhm/engine/frame"
	"github.com/Carmen-Shannon/oxy-vhm/engine/heightfield"
	"github.com/Carmen-Shannon/oxy-vhm/engine/occlusion"
	"github.com/Carmen-Shannon/oxy-vhm/engine/view"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

// DiscardFrames is the number of frames a pooled buffer may go unused before it is released.
const DiscardFrames = 4

// Scheduler owns the pool of draw instance buffers and the per-frame work list.
//
// A Scheduler is driven from a single submitting goroutine: AddWork, SubmitWork and the
// lifecycle hooks must not run concurrently.
type Scheduler interface {
	// AddWork registers the intent to draw surface as seen through cullView, with LOD decisions
	// made for mainView. Identical triples within a frame return the same buffers. Calling
	// AddWork after the frame was submitted ends the frame first.
	//
	// Parameters:
	//   - surface: the surface to cull
	//   - mainView: the view that drives LOD selection, collection and feedback
	//   - cullView: the view whose frustum filters the final instances
	//
	// Returns:
	//   - cull.DrawInstanceBuffers: the buffers filled by the next SubmitWork, or nil when the
	//     surface has no valid page table allocation
	//   - error: an error if new buffers could not be allocated
	AddWork(surface heightfield.Surface, mainView, cullView view.View) (cull.DrawInstanceBuffers, error)

	// SubmitWork runs the culling work registered since the last submit. It is called by the
	// lifecycle's begin-frame hook when work is pending and may be called directly once all
	// AddWork calls of a frame are done.
	//
	// Parameters:
	//   - ctx: cancels the submit before any work is recorded
	//
	// Returns:
	//   - error: an error if the backend could not open or execute the submit
	SubmitWork(ctx context.Context) error

	// Stats returns the counters of the current frame.
	//
	// Returns:
	//   - Stats: the counters
	Stats() Stats

	// Settings returns the configuration read by the next submit.
	//
	// Returns:
	//   - config.Settings: the settings
	Settings() config.Settings

	// SetSettings replaces the configuration read by the next submit.
	//
	// Parameters:
	//   - settings: the new settings, normalized on assignment
	SetSettings(settings config.Settings)

	// Release frees every pooled buffer.
	Release()
}

// Stats are the counters of one frame.
type Stats struct {
	// FrameID is the pool's discard id of the frame.
	FrameID uint64
	// Requests is the number of distinct work items registered.
	Requests int
	// DedupHits is the number of AddWork calls answered from the dedup table.
	DedupHits int
	// Skipped is the number of AddWork calls for surfaces without an allocation.
	Skipped int
	// MainViewPasses is the number of collection passes run.
	MainViewPasses int
	// ChildViewPasses is the number of final cull passes run.
	ChildViewPasses int
	// FailedGroups is the number of (surface, main view) groups dropped on backend errors.
	FailedGroups int
	// FramingViolations is the number of AddWork calls made after the frame was submitted.
	FramingViolations int
	// LiveBuffers is the size of the buffer pool.
	LiveBuffers int
	// Collect sums the traversal counters of every collection pass once they are available.
	Collect cull.CollectStats
}

// FeedbackSink receives the page requests collection produced for a (surface, main view).
type FeedbackSink interface {
	// SubmitFeedback hands over the page requests of one collection pass.
	//
	// Parameters:
	//   - surface: the surface handle
	//   - v: the main view handle
	//   - feedback: the page requests
	SubmitFeedback(surface heightfield.SurfaceID, v view.ViewID, feedback cull.Feedback)
}

// FeedbackSinkFunc adapts a function to the FeedbackSink interface.
type FeedbackSinkFunc func(surface heightfield.SurfaceID, v view.ViewID, feedback cull.Feedback)

func (f FeedbackSinkFunc) SubmitFeedback(surface heightfield.SurfaceID, v view.ViewID, feedback cull.Feedback) {
	f(surface, v, feedback)
}

type discardFeedback struct{}

func (discardFeedback) SubmitFeedback(heightfield.SurfaceID, view.ViewID, cull.Feedback) {}

type workKey struct {
	surface  heightfield.SurfaceID
	mainView view.ViewID
	cullView view.ViewID
}

type groupKey struct {
	surface  heightfield.SurfaceID
	mainView view.ViewID
}

type poolEntry struct {
	buffers  cull.DrawInstanceBuffers
	lastUsed uint64
}

type workDesc struct {
	surface  int
	mainView int
	cullView int
	buffer   int
}

// sortKey orders work by surface, then main view, then cull view.
func (w workDesc) sortKey() uint64 {
	return uint64(w.surface)<<48 | uint64(w.mainView)<<32 | uint64(w.cullView)<<16 | uint64(w.buffer)
}

type pendingFeedback struct {
	key    groupKey
	result cull.MainViewResult
}

// schedulerImpl is the implementation of the Scheduler interface.
type schedulerImpl struct {
	backend   cull.Backend
	lifecycle frame.Lifecycle
	occlusion *occlusion.Cache
	feedback  FeedbackSink
	settings  config.Settings

	pool      []*poolEntry
	discardID uint64
	allocated int

	surfaces  []heightfield.Surface
	mainViews []view.View
	cullViews []view.View
	work      []workDesc
	dedup     map[workKey]*poolEntry
	submitted bool

	frozen map[groupKey]*view.MainViewDescriptor
	stats  Stats
}

var _ Scheduler = &schedulerImpl{}

// NewScheduler creates a scheduler and attaches it to the lifecycle's frame hooks.
//
// Parameters:
//   - backend: the backend that runs the culling stages
//   - lifecycle: the frame lifecycle; a fresh one is created when nil
//   - occ: the occlusion result cache; nil disables occlusion lookups
//   - options: variadic list of SchedulerBuilderOption functions
//
// Returns:
//   - Scheduler: the scheduler
func NewScheduler(backend cull.Backend, lifecycle frame.Lifecycle, occ *occlusion.Cache, options ...SchedulerBuilderOption) Scheduler {
	if lifecycle == nil {
		lifecycle = frame.NewLifecycle()
	}
	s := &schedulerImpl{
		backend:   backend,
		lifecycle: lifecycle,
		occlusion: occ,
		feedback:  discardFeedback{},
		settings:  config.Default().Normalized(),
		dedup:     make(map[workKey]*poolEntry),
		frozen:    make(map[groupKey]*view.MainViewDescriptor),
	}
	for _, option := range options {
		option(s)
	}
	lifecycle.OnBeginFrame(s.beginFrame)
	lifecycle.OnEndFrame(s.endFrame)
	return s
}

func (s *schedulerImpl) Settings() config.Settings {
	return s.settings
}

func (s *schedulerImpl) SetSettings(settings config.Settings) {
	s.settings = settings.Normalized()
}

func (s *schedulerImpl) Stats() Stats {
	stats := s.stats
	stats.FrameID = s.discardID
	stats.LiveBuffers = len(s.pool)
	return stats
}

func (s *schedulerImpl) AddWork(surface heightfield.Surface, mainView, cullView view.View) (cull.DrawInstanceBuffers, error) {
	if s.submitted {
		s.recoverFraming()
	}
	if surface == nil || !surface.Allocated() {
		s.stats.Skipped++
		instrumentWorkRequest(resultSkipped)
		return nil, nil
	}
	if mainView == nil || cullView == nil {
		return nil, errors.New("work needs a main view and a cull view").WithTag("surface", surface.ID())
	}

	key := workKey{surface: surface.ID(), mainView: mainView.ID(), cullView: cullView.ID()}
	if entry, ok := s.dedup[key]; ok {
		s.stats.DedupHits++
		instrumentWorkRequest(resultDedup)
		return entry.buffers, nil
	}

	index, entry, err := s.claimBuffers()
	if err != nil {
		return nil, err
	}

	s.dedup[key] = entry
	s.work = append(s.work, workDesc{
		surface:  s.internSurface(surface),
		mainView: internView(&s.mainViews, mainView),
		cullView: internView(&s.cullViews, cullView),
		buffer:   index,
	})
	s.stats.Requests++
	instrumentWorkRequest(resultNew)
	return entry.buffers, nil
}

// recoverFraming closes the frame whose work was already submitted so the new work starts a
// clean one.
func (s *schedulerImpl) recoverFraming() {
	s.stats.FramingViolations++
	framingViolations.Inc()
	logs.Warn(errors.New("work added after the frame was submitted, ending the frame").
		WithTag("frame", s.lifecycle.FrameID()).
		WithTag("discard_id", s.discardID))

	violations := s.stats.FramingViolations
	if s.lifecycle.InFrame() {
		s.lifecycle.EndFrame()
	}
	if s.submitted {
		s.endFrame()
	}
	s.stats.FramingViolations = violations
}

// claimBuffers recycles a pooled buffer not claimed this frame or allocates a new one.
func (s *schedulerImpl) claimBuffers() (int, *poolEntry, error) {
	for i, entry := range s.pool {
		if entry.lastUsed < s.discardID {
			entry.lastUsed = s.discardID
			return i, entry, nil
		}
	}

	label := fmt.Sprintf("VHM Draw Instances %d", s.allocated)
	buffers, err := s.backend.NewDrawBuffers(label)
	if err != nil {
		return 0, nil, errors.New("allocating draw instance buffers failed").WithTag("label", label).Wrap(err)
	}
	s.allocated++
	entry := &poolEntry{buffers: buffers, lastUsed: s.discardID}
	s.pool = append(s.pool, entry)
	buffersAllocated.Inc()
	pooledBuffersGauge.Set(float64(len(s.pool)))
	logs.WithTag("label", label).
		WithTag("pooled", len(s.pool)).
		Debug("draw instance buffers allocated")
	return len(s.pool) - 1, entry, nil
}

func (s *schedulerImpl) internSurface(surface heightfield.Surface) int {
	for i, existing := range s.surfaces {
		if existing.ID() == surface.ID() {
			return i
		}
	}
	s.surfaces = append(s.surfaces, surface)
	return len(s.surfaces) - 1
}

func internView(views *[]view.View, v view.View) int {
	for i, existing := range *views {
		if existing.ID() == v.ID() {
			return i
		}
	}
	*views = append(*views, v)
	return len(*views) - 1
}

func (s *schedulerImpl) SubmitWork(ctx context.Context) error {
	if len(s.work) == 0 {
		return nil
	}
	defer instrumentSubmitLatency(time.Now())

	work := s.work
	s.work = nil
	s.submitted = true
	sort.Slice(work, func(i, j int) bool { return work[i].sortKey() < work[j].sortKey() })

	settings := s.settings
	if !settings.FixCullingCamera {
		clear(s.frozen)
	}
	if err := s.backend.BeginSubmit(ctx, settings); err != nil {
		return errors.New("opening culling submit failed").Wrap(err)
	}

	var results []pendingFeedback
	for i := 0; i < len(work); {
		surface := s.surfaces[work[i].surface]
		end := i
		for end < len(work) && work[end].surface == work[i].surface {
			end++
		}

		d, err := surface.Descriptor()
		if err != nil {
			logs.WithTag("surface", surface.ID()).
				WithTag("work_items", end-i).
				WithTag("reason", err.Error()).
				Debug("surface skipped, no valid allocation")
			s.resetBuffers(work[i:end])
			i = end
			continue
		}

		for i < end {
			groupEnd := i
			for groupEnd < end && work[groupEnd].mainView == work[i].mainView {
				groupEnd++
			}
			if res, ok := s.cullGroup(d, work[i:groupEnd], settings); ok {
				results = append(results, pendingFeedback{
					key:    groupKey{surface: d.ID, mainView: s.mainViews[work[i].mainView].ID()},
					result: res,
				})
			}
			i = groupEnd
		}
	}

	if err := s.backend.EndSubmit(); err != nil {
		return errors.New("executing culling submit failed").Wrap(err)
	}

	for _, r := range results {
		s.stats.Collect.Add(r.result.Stats())
		settings.Features.IfNotSet(config.FlagNoFeedback, func() {
			if fb := r.result.Feedback(); len(fb.Requests) > 0 {
				s.feedback.SubmitFeedback(r.key.surface, r.key.mainView, fb)
			}
		})
	}

	logs.WithTag("frame", s.lifecycle.FrameID()).
		WithTag("work_items", len(work)).
		WithTag("main_views", s.stats.MainViewPasses).
		WithTag("child_views", s.stats.ChildViewPasses).
		Debug("culling work submitted")
	return nil
}

// cullGroup runs collection for the (surface, main view) shared by work and final culling for
// every item in it. Backend errors drop the group for this frame.
func (s *schedulerImpl) cullGroup(d *heightfield.Descriptor, work []workDesc, settings config.Settings) (cull.MainViewResult, bool) {
	mainView := s.mainViews[work[0].mainView]
	key := groupKey{surface: d.ID, mainView: mainView.ID()}

	mvd := s.mainViewDescriptor(d, mainView, key, settings)
	occ := occlusion.NoOcclusion()
	if settings.Occlusion && s.occlusion != nil {
		occ = s.occlusion.Resolve(d.ID, mainView.ID())
	}

	res, err := s.backend.CullMainView(d, mvd, occ)
	if err != nil {
		s.stats.FailedGroups++
		logs.Warn(errors.New("culling main view failed").
			WithTag("surface", d.ID).
			WithTag("view", mainView.ID()).
			Wrap(err))
		s.resetBuffers(work)
		return nil, false
	}
	s.stats.MainViewPasses++
	mainViewPasses.Inc()

	for _, w := range work {
		cullView := s.cullViews[w.cullView]
		cvd := view.NewChildViewDescriptor(d, cullView)
		if settings.FixCullingCamera && !cvd.Shadow {
			cvd = &view.ChildViewDescriptor{ViewID: cullView.ID(), Planes: mvd.Planes}
		}

		mode := cull.CullModeIndependent
		if cullView.ID() == mainView.ID() && !settings.Features.IsSet(config.FlagIndependentCull) {
			mode = cull.CullModeReuseMainView
		}

		entry := s.pool[w.buffer]
		if err := s.backend.CullChildView(res, cvd, mode, entry.buffers); err != nil {
			logs.Warn(errors.New("culling child view failed").
				WithTag("surface", d.ID).
				WithTag("view", cullView.ID()).
				WithTag("mode", mode).
				Wrap(err))
			s.resetBuffers([]workDesc{w})
			continue
		}
		s.stats.ChildViewPasses++
		childViewPasses.Inc()
	}
	return res, true
}

// resetBuffers clears the buffers of work that produced no cull result this frame.
func (s *schedulerImpl) resetBuffers(work []workDesc) {
	for _, w := range work {
		entry := s.pool[w.buffer]
		if err := s.backend.ResetDrawBuffers(entry.buffers); err != nil {
			logs.Warn(errors.New("resetting draw instance buffers failed").
				WithTag("label", entry.buffers.Label()).
				Wrap(err))
		}
	}
}

// mainViewDescriptor builds the main view snapshot, or reuses the first one captured for key
// while the culling camera is fixed.
func (s *schedulerImpl) mainViewDescriptor(d *heightfield.Descriptor, v view.View, key groupKey, settings config.Settings) *view.MainViewDescriptor {
	if settings.FixCullingCamera {
		if mvd, ok := s.frozen[key]; ok {
			return mvd
		}
	}
	mvd := view.NewMainViewDescriptor(d, v, settings)
	if settings.FixCullingCamera {
		s.frozen[key] = mvd
	}
	return mvd
}

func (s *schedulerImpl) beginFrame() {
	if len(s.work) == 0 {
		return
	}
	if err := s.SubmitWork(context.Background()); err != nil {
		logs.Error(errors.New("submitting culling work failed").
			WithTag("frame", s.lifecycle.FrameID()).
			Wrap(err))
	}
}

// endFrame resets the per-frame tables, advances the discard id and releases every buffer
// unused for more than DiscardFrames frames.
func (s *schedulerImpl) endFrame() {
	s.surfaces = s.surfaces[:0]
	s.mainViews = s.mainViews[:0]
	s.cullViews = s.cullViews[:0]
	s.work = s.work[:0]
	clear(s.dedup)
	s.submitted = false
	s.stats = Stats{}

	s.discardID++
	released := 0
	for i := 0; i < len(s.pool); {
		entry := s.pool[i]
		if s.discardID-entry.lastUsed > DiscardFrames {
			entry.buffers.Release()
			last := len(s.pool) - 1
			s.pool[i] = s.pool[last]
			s.pool[last] = nil
			s.pool = s.pool[:last]
			released++
			continue
		}
		i++
	}
	if released > 0 {
		buffersReleased.Add(float64(released))
		pooledBuffersGauge.Set(float64(len(s.pool)))
		logs.WithTag("released", released).
			WithTag("pooled", len(s.pool)).
			WithTag("discard_id", s.discardID).
			Debug("stale draw instance buffers released")
	}
}

func (s *schedulerImpl) Release() {
	for _, entry := range s.pool {
		entry.buffers.Release()
	}
	buffersReleased.Add(float64(len(s.pool)))
	s.pool = nil
	pooledBuffersGauge.Set(0)
	clear(s.dedup)
	s.work = nil
}
