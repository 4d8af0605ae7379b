package cull

import (
	"context"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-vhm/engine/config"
	"github.com/Carmen-Shannon/oxy-vhm/engine/heightfield"
	"github.com/Carmen-Shannon/oxy-vhm/engine/occlusion"
	"github.com/Carmen-Shannon/oxy-vhm/engine/view"
	"github.com/Carmen-Shannon/oxy-vhm/engine/workqueue"
	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/aukilabs/go-tooling/pkg/errors"
)

// CPUDrawBuffers are draw instance buffers held in memory.
type CPUDrawBuffers struct {
	mu        sync.Mutex
	label     string
	instances []RenderInstance
	args      DrawIndexedIndirectArgs
	released  bool
}

var _ DrawInstanceBuffers = &CPUDrawBuffers{}

func (b *CPUDrawBuffers) Label() string {
	return b.label
}

func (b *CPUDrawBuffers) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.instances = nil
	b.released = true
}

// Released reports whether Release was called.
func (b *CPUDrawBuffers) Released() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.released
}

// Instances returns a copy of the instances written by the last cull.
func (b *CPUDrawBuffers) Instances() []RenderInstance {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]RenderInstance(nil), b.instances...)
}

// Args returns the indirect draw arguments written by the last cull.
func (b *CPUDrawBuffers) Args() DrawIndexedIndirectArgs {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.args
}

type cpuMainViewResult struct {
	surface   *heightfield.Descriptor
	mainView  *view.MainViewDescriptor
	stats     CollectStats
	feedback  Feedback
	quads     []QuadItem
	lodMap    *LodMap
	instances []RenderInstance
}

func (r *cpuMainViewResult) Surface() *heightfield.Descriptor {
	return r.surface
}

func (r *cpuMainViewResult) MainView() *view.MainViewDescriptor {
	return r.mainView
}

func (r *cpuMainViewResult) Stats() CollectStats {
	return r.stats
}

func (r *cpuMainViewResult) Feedback() Feedback {
	return r.feedback
}

// CPUBackend runs every stage on the calling goroutine unless a worker pool is configured.
// It mirrors the GPU passes closely enough to serve as their reference and to run the
// pipeline without a device.
type CPUBackend struct {
	settings config.Settings
	lanes    uint32
	ring     *workqueue.Ring
	inSubmit bool

	// pool packs child views concurrently. Results are complete once EndSubmit returns.
	pool    worker.DynamicWorkerPool
	pooled  bool
	pending sync.WaitGroup
	mu      sync.Mutex
	errs    []error
	taskID  int
}

var _ Backend = &CPUBackend{}

// CPUBackendOption configures a CPUBackend.
type CPUBackendOption func(*CPUBackend)

// WithCollectLanes overrides the number of logical invocations collection runs with.
func WithCollectLanes(lanes uint32) CPUBackendOption {
	return func(b *CPUBackend) {
		b.lanes = lanes
	}
}

// WithWorkerPool packs child views on up to workers reusable goroutines. Each child view
// only reads its main view result and writes its own buffers.
func WithWorkerPool(workers int) CPUBackendOption {
	return func(b *CPUBackend) {
		if workers > 1 {
			b.pool = worker.NewDynamicWorkerPool(workers, 256, 1*time.Second)
			b.pooled = true
		}
	}
}

// NewCPUBackend creates a CPU backend.
func NewCPUBackend(options ...CPUBackendOption) *CPUBackend {
	b := &CPUBackend{settings: config.Default().Normalized()}
	for _, option := range options {
		option(b)
	}
	return b
}

func (b *CPUBackend) NewDrawBuffers(label string) (DrawInstanceBuffers, error) {
	return &CPUDrawBuffers{label: label}, nil
}

func (b *CPUBackend) BeginSubmit(ctx context.Context, settings config.Settings) error {
	if err := ctx.Err(); err != nil {
		return errors.New("cpu submit cancelled").Wrap(err)
	}
	if b.inSubmit {
		return errors.New("cpu submit already open")
	}
	b.settings = settings.Normalized()
	b.inSubmit = true
	return nil
}

func (b *CPUBackend) queue() workqueue.Queue {
	if b.settings.Features.IsSet(config.FlagUnboundedQueue) {
		return workqueue.NewUnbounded()
	}
	capacity := b.settings.QueueCapacity()
	if b.ring == nil || b.ring.Capacity() != capacity {
		b.ring = workqueue.NewRing(capacity)
	}
	return b.ring
}

func (b *CPUBackend) CullMainView(d *heightfield.Descriptor, mv *view.MainViewDescriptor, occ *occlusion.Result) (MainViewResult, error) {
	if !b.inSubmit {
		return nil, errors.New("cpu main view culled outside a submit")
	}
	lanes := b.lanes
	if lanes == 0 {
		lanes = b.settings.CollectLanes()
	}
	out := Collect(b.queue(), lanes, CollectInput{
		Surface:   d,
		MainView:  mv,
		Occlusion: occ,
		Settings:  b.settings,
	})

	lodMap := NewLodMap(d.PageTableSize[0], d.PageTableSize[1])
	lodMap.Rasterize(d, out.Quads)

	return &cpuMainViewResult{
		surface:   d,
		mainView:  mv,
		stats:     out.Stats,
		feedback:  out.Feedback,
		quads:     out.Quads,
		lodMap:    lodMap,
		instances: ResolveNeighbors(d, lodMap, out.Quads),
	}, nil
}

func (b *CPUBackend) CullChildView(res MainViewResult, cv *view.ChildViewDescriptor, mode CullMode, buffers DrawInstanceBuffers) error {
	r, ok := res.(*cpuMainViewResult)
	if !ok {
		return errors.New("main view result does not belong to the cpu backend")
	}
	dst, ok := buffers.(*CPUDrawBuffers)
	if !ok {
		return errors.New("draw buffers do not belong to the cpu backend").WithTag("label", buffers.Label())
	}
	if dst.Released() {
		return errors.New("draw buffers already released").WithTag("label", dst.label)
	}

	maxInstances := b.settings.MaxRenderInstances
	if !b.pooled {
		return packInto(r, cv, mode, dst, maxInstances)
	}

	b.pending.Add(1)
	id := b.taskID
	b.taskID++
	b.pool.SubmitTask(worker.Task{
		ID: id,
		Do: func() (any, error) {
			defer b.pending.Done()
			if err := packInto(r, cv, mode, dst, maxInstances); err != nil {
				b.mu.Lock()
				b.errs = append(b.errs, err)
				b.mu.Unlock()
			}
			return nil, nil
		},
	})
	return nil
}

func (b *CPUBackend) ResetDrawBuffers(buffers DrawInstanceBuffers) error {
	dst, ok := buffers.(*CPUDrawBuffers)
	if !ok {
		return errors.New("draw buffers do not belong to the cpu backend").WithTag("label", buffers.Label())
	}
	dst.mu.Lock()
	defer dst.mu.Unlock()
	dst.instances = nil
	dst.args = DrawIndexedIndirectArgs{}
	return nil
}

func packInto(r *cpuMainViewResult, cv *view.ChildViewDescriptor, mode CullMode, dst *CPUDrawBuffers, maxInstances uint32) error {
	instances, args := Pack(r.surface, r.instances, cv, mode, maxInstances)

	dst.mu.Lock()
	defer dst.mu.Unlock()
	if dst.released {
		return errors.New("draw buffers already released").WithTag("label", dst.label)
	}
	dst.instances = instances
	dst.args = args
	return nil
}

func (b *CPUBackend) EndSubmit() error {
	b.pending.Wait()
	b.inSubmit = false

	b.mu.Lock()
	errs := b.errs
	b.errs = nil
	b.mu.Unlock()
	if len(errs) > 0 {
		return errors.New("cpu child view culling failed").WithTag("failures", len(errs)).Wrap(errs[0])
	}
	return nil
}
