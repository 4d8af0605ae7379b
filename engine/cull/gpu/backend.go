package gpu

import (
	"context"
	"fmt"

	"github.com/Carmen-Shannon/oxy-vhm/common"
	"github.com/Carmen-Shannon/oxy-vhm/engine/config"
	"github.com/Carmen-Shannon/oxy-vhm/engine/cull"
	"github.com/Carmen-Shannon/oxy-vhm/engine/heightfield"
	"github.com/Carmen-Shannon/oxy-vhm/engine/occlusion"
	"github.com/Carmen-Shannon/oxy-vhm/engine/renderer"
	"github.com/Carmen-Shannon/oxy-vhm/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-vhm/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-vhm/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-vhm/engine/view"
	"github.com/Carmen-Shannon/oxy-vhm/engine/workqueue"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/cogentcore/webgpu/wgpu"
)

// Pipeline keys of the culling passes, in execution order.
const (
	PipelineInitBuffers      = "vhm_cull_init_buffers"
	PipelineCollectQuads     = "vhm_cull_collect_quads"
	PipelineBuildCullArgs    = "vhm_cull_build_cull_args"
	PipelineLodMap           = "vhm_cull_lod_map"
	PipelineResolveNeighbors = "vhm_cull_resolve_neighbors"
	PipelineInitInstances    = "vhm_cull_init_instances"
	PipelineCullInstances    = "vhm_cull_cull_instances"
	PipelineBuildDrawArgs    = "vhm_cull_build_draw_args"
)

// LodMapFormat is the texture format of the LOD map render target.
const LodMapFormat = wgpu.TextureFormatRG16Float

// DefaultCollectIterations bounds the pops each collect invocation attempts before giving up.
const DefaultCollectIterations = 1 << 16

const (
	storageUsage  = wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc
	uniformUsage  = wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst
	indirectUsage = wgpu.BufferUsageStorage | wgpu.BufferUsageIndirect | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc
)

var computePasses = []struct {
	key    string
	source string
}{
	{PipelineInitBuffers, initBuffersSource},
	{PipelineCollectQuads, collectQuadsSource},
	{PipelineBuildCullArgs, buildCullArgsSource},
	{PipelineResolveNeighbors, resolveNeighborsSource},
	{PipelineInitInstances, initInstancesSource},
	{PipelineCullInstances, cullInstancesSource},
	{PipelineBuildDrawArgs, buildDrawArgsSource},
}

// gpuBuffer is a device buffer that is recreated whenever its required size changes.
type gpuBuffer struct {
	buf  *wgpu.Buffer
	size uint64
}

func (g *gpuBuffer) ensure(r renderer.Renderer, label string, size uint64, usage wgpu.BufferUsage) (bool, error) {
	if g.buf != nil && g.size == size {
		return false, nil
	}
	g.release()
	buf, err := r.CreateBuffer(label, size, usage)
	if err != nil {
		return false, err
	}
	g.buf, g.size = buf, size
	return true, nil
}

func (g *gpuBuffer) release() {
	if g.buf != nil {
		g.buf.Release()
	}
	g.buf, g.size = nil, 0
}

// DrawBuffers are draw instance buffers on the device. Instances holds RenderInstances in the
// WGSL layout and Args holds the indexed indirect arguments that draw them.
type DrawBuffers struct {
	label     string
	instances gpuBuffer
	args      gpuBuffer
	childView gpuBuffer
	released  bool
}

var _ cull.DrawInstanceBuffers = &DrawBuffers{}

func (b *DrawBuffers) Label() string {
	return b.label
}

func (b *DrawBuffers) Release() {
	b.instances.release()
	b.args.release()
	b.childView.release()
	b.released = true
}

// Instances returns the instance storage buffer.
func (b *DrawBuffers) Instances() *wgpu.Buffer {
	return b.instances.buf
}

// Args returns the indexed indirect argument buffer.
func (b *DrawBuffers) Args() *wgpu.Buffer {
	return b.args.buf
}

func (b *DrawBuffers) ensure(r renderer.Renderer, maxInstances uint32) error {
	if b.released {
		return errors.New("draw buffers already released").WithTag("label", b.label)
	}
	if _, err := b.instances.ensure(r, b.label+" Instances", uint64(maxInstances)*GPURenderInstanceSize, storageUsage); err != nil {
		return err
	}
	if _, err := b.args.ensure(r, b.label+" Args", GPUDrawArgsSize, indirectUsage); err != nil {
		return err
	}
	var cv view.GPUChildView
	_, err := b.childView.ensure(r, b.label+" Child View", uint64(cv.Size()), uniformUsage)
	return err
}

// gpuSlot holds the volatile resources of one (surface, main view) pair within a submit.
// Slots are handed out in submit order and reused by the next submit.
type gpuSlot struct {
	label string

	surface       gpuBuffer
	mainView      gpuBuffer
	collectParams gpuBuffer
	queueInfo     gpuBuffer
	queueItems    gpuBuffer
	minMax        gpuBuffer
	pageTable     gpuBuffer
	occlusion     gpuBuffer
	quads         gpuBuffer
	feedback      gpuBuffer
	args          gpuBuffer
	resolved      gpuBuffer

	lodMap     *wgpu.Texture
	lodMapView *wgpu.TextureView
	lodMapSize [2]uint32

	providers map[string]bind_group_provider.BindGroupProvider
}

func (s *gpuSlot) invalidate() {
	for _, p := range s.providers {
		p.Release()
	}
	s.providers = make(map[string]bind_group_provider.BindGroupProvider)
}

func (s *gpuSlot) release() {
	s.invalidate()
	for _, g := range []*gpuBuffer{
		&s.surface, &s.mainView, &s.collectParams, &s.queueInfo, &s.queueItems, &s.minMax,
		&s.pageTable, &s.occlusion, &s.quads, &s.feedback, &s.args, &s.resolved,
	} {
		g.release()
	}
	s.releaseLodMap()
}

func (s *gpuSlot) releaseLodMap() {
	if s.lodMapView != nil {
		s.lodMapView.Release()
		s.lodMapView = nil
	}
	if s.lodMap != nil {
		s.lodMap.Release()
		s.lodMap = nil
	}
	s.lodMapSize = [2]uint32{}
}

type gpuMainViewResult struct {
	slot     *gpuSlot
	surface  *heightfield.Descriptor
	mainView *view.MainViewDescriptor
	stats    cull.CollectStats
	feedback cull.Feedback
}

func (r *gpuMainViewResult) Surface() *heightfield.Descriptor {
	return r.surface
}

func (r *gpuMainViewResult) MainView() *view.MainViewDescriptor {
	return r.mainView
}

func (r *gpuMainViewResult) Stats() cull.CollectStats {
	return r.stats
}

func (r *gpuMainViewResult) Feedback() cull.Feedback {
	return r.feedback
}

// Backend records every stage into the renderer's compute frame. All stages of a submit go
// into one command encoder that EndSubmit executes. Collection counters and page requests are
// copied into mappable buffers within the same frame and mapped without waiting on the device.
// They are handed to the result of the next submit that culls the same surface and main view,
// so MainViewResult.Stats and Feedback lag the GPU by at least one frame.
type Backend struct {
	renderer   renderer.Renderer
	settings   config.Settings
	iterations uint32
	readback   bool

	inFlight int
	latest   map[resultKey]asyncResult

	lodIndices bind_group_provider.BindGroupProvider

	slots     []*gpuSlot
	used      int
	results   []*gpuMainViewResult
	transient []bind_group_provider.BindGroupProvider
	inSubmit  bool
}

var _ cull.Backend = &Backend{}

type resultKey struct {
	surface  heightfield.SurfaceID
	mainView view.ViewID
}

type asyncResult struct {
	stats    cull.CollectStats
	feedback cull.Feedback
}

// pendingResult gathers the two reads of one main view result.
type pendingResult struct {
	key      resultKey
	info     []byte
	feedback []byte
	waiting  int
	failed   bool
}

// Option configures a Backend.
type Option func(*Backend)

// WithCollectIterations overrides the bound on pops per collect invocation.
func WithCollectIterations(n uint32) Option {
	return func(b *Backend) {
		b.iterations = max(n, 1)
	}
}

// WithReadback makes EndSubmit wait for the device and fill MainViewResult.Stats and Feedback
// of the submit that produced them. It stalls the frame and is meant for tests.
func WithReadback(enabled bool) Option {
	return func(b *Backend) {
		b.readback = enabled
	}
}

// NewBackend registers the culling pipelines on r.
//
// Parameters:
//   - r: the renderer that records and executes the passes
//   - options: backend options
//
// Returns:
//   - *Backend: the backend
//   - error: an error if a shader or pipeline could not be created
func NewBackend(r renderer.Renderer, options ...Option) (*Backend, error) {
	b := &Backend{
		renderer:   r,
		settings:   config.Default().Normalized(),
		iterations: DefaultCollectIterations,
		latest:     make(map[resultKey]asyncResult),
	}
	for _, option := range options {
		option(b)
	}

	pipelines, err := NewCullPipelines()
	if err != nil {
		return nil, err
	}
	if err := r.RegisterPipelines(pipelines...); err != nil {
		return nil, errors.New("registering cull pipelines failed").Wrap(err)
	}

	b.lodIndices = bind_group_provider.NewBindGroupProvider("LOD Map Quad")
	if err := r.InitIndexBuffer(b.lodIndices, LodMapIndices); err != nil {
		return nil, err
	}
	return b, nil
}

// NewCullPipelines builds the pipelines of every culling pass without registering them.
//
// Returns:
//   - []pipeline.Pipeline: the pipelines in execution order
//   - error: an error if a shader fails to pre-process
func NewCullPipelines() ([]pipeline.Pipeline, error) {
	includes := shader.WithIncludes(Includes())
	pipelines := make([]pipeline.Pipeline, 0, len(computePasses)+1)
	for _, pass := range computePasses {
		cs, err := shader.NewShader(pass.key, shader.ShaderTypeCompute, pass.source, includes)
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, pipeline.NewPipeline(pass.key, pipeline.PipelineTypeCompute, pipeline.WithComputeShader(cs)))
	}

	vs, err := shader.NewShader(PipelineLodMap+"_vs", shader.ShaderTypeVertex, lodMapSource, includes)
	if err != nil {
		return nil, err
	}
	fs, err := shader.NewShader(PipelineLodMap+"_fs", shader.ShaderTypeFragment, lodMapSource, includes)
	if err != nil {
		return nil, err
	}
	minBlend := &wgpu.BlendState{
		Color: wgpu.BlendComponent{
			SrcFactor: wgpu.BlendFactorOne,
			DstFactor: wgpu.BlendFactorOne,
			Operation: wgpu.BlendOperationMin,
		},
		Alpha: wgpu.BlendComponent{
			SrcFactor: wgpu.BlendFactorOne,
			DstFactor: wgpu.BlendFactorOne,
			Operation: wgpu.BlendOperationMin,
		},
	}
	pipelines = append(pipelines, pipeline.NewPipeline(PipelineLodMap, pipeline.PipelineTypeRender,
		pipeline.WithVertexShader(vs),
		pipeline.WithFragmentShader(fs),
		pipeline.WithColorTarget(LodMapFormat),
		pipeline.WithBlendState(minBlend),
		pipeline.WithCullMode(wgpu.CullModeNone),
	))
	return pipelines, nil
}

func (b *Backend) NewDrawBuffers(label string) (cull.DrawInstanceBuffers, error) {
	buffers := &DrawBuffers{label: label}
	if err := buffers.ensure(b.renderer, b.settings.MaxRenderInstances); err != nil {
		buffers.Release()
		return nil, errors.New("allocating draw buffers failed").WithTag("label", label).Wrap(err)
	}
	return buffers, nil
}

func (b *Backend) BeginSubmit(ctx context.Context, settings config.Settings) error {
	if err := ctx.Err(); err != nil {
		return errors.New("gpu submit cancelled").Wrap(err)
	}
	if b.inSubmit {
		return errors.New("gpu submit already open")
	}
	if b.inFlight > 0 {
		b.renderer.PollReadbacks()
	}
	if err := b.renderer.BeginComputeFrame(); err != nil {
		return errors.New("beginning gpu submit failed").Wrap(err)
	}
	b.settings = settings.Normalized()
	b.used = 0
	b.results = b.results[:0]
	b.inSubmit = true
	return nil
}

func (b *Backend) nextSlot() *gpuSlot {
	if b.used == len(b.slots) {
		b.slots = append(b.slots, &gpuSlot{
			label:     fmt.Sprintf("Cull Slot %d", b.used),
			providers: make(map[string]bind_group_provider.BindGroupProvider),
		})
	}
	s := b.slots[b.used]
	b.used++
	return s
}

func (b *Backend) CullMainView(d *heightfield.Descriptor, mv *view.MainViewDescriptor, occ *occlusion.Result) (cull.MainViewResult, error) {
	if !b.inSubmit {
		return nil, errors.New("gpu main view culled outside a submit")
	}
	s := b.nextSlot()

	entries, mips := heightfield.PackPageTable(d.PageTable, d.MaxLevel)
	pageTable := heightfield.MarshalPageTable(entries)
	minMax := heightfield.MarshalMinMax(d.MinMax)
	surface := heightfield.NewGPUSurfaceParams(d, mips)
	mainView := view.NewGPUMainView(mv)

	useOcclusion := b.settings.Occlusion && occ != nil
	params := NewGPUCollectParams(d, occ, useOcclusion, !b.settings.Features.IsSet(config.FlagNoFeedback), b.iterations)
	occlusionCells := MarshalOcclusion(occ)

	if err := b.ensureSlot(s, d, uint64(len(pageTable)), uint64(len(minMax)), uint64(len(occlusionCells))); err != nil {
		return nil, errors.New("allocating cull resources failed").WithTag("slot", s.label).Wrap(err)
	}

	initGroup, err := b.provider(s, PipelineInitBuffers, map[int]*wgpu.Buffer{
		0: s.surface.buf, 1: s.queueInfo.buf, 2: s.queueItems.buf, 3: s.args.buf, 4: s.feedback.buf,
	}, nil)
	if err != nil {
		return nil, err
	}
	collect, err := b.provider(s, PipelineCollectQuads, map[int]*wgpu.Buffer{
		0: s.surface.buf, 1: s.mainView.buf, 2: s.collectParams.buf, 3: s.queueInfo.buf, 4: s.queueItems.buf,
		5: s.minMax.buf, 6: s.pageTable.buf, 7: s.occlusion.buf, 8: s.quads.buf, 9: s.feedback.buf,
	}, nil)
	if err != nil {
		return nil, err
	}
	buildArgs, err := b.provider(s, PipelineBuildCullArgs, map[int]*wgpu.Buffer{
		0: s.queueInfo.buf, 1: s.quads.buf, 2: s.args.buf,
	}, nil)
	if err != nil {
		return nil, err
	}
	lodMap, err := b.provider(s, PipelineLodMap, map[int]*wgpu.Buffer{
		0: s.surface.buf, 1: s.quads.buf,
	}, nil)
	if err != nil {
		return nil, err
	}
	resolve, err := b.provider(s, PipelineResolveNeighbors, map[int]*wgpu.Buffer{
		0: s.surface.buf, 1: s.pageTable.buf, 2: s.quads.buf, 3: s.args.buf, 4: s.resolved.buf,
	}, map[int]*wgpu.TextureView{5: s.lodMapView})
	if err != nil {
		return nil, err
	}

	b.renderer.WriteBuffers([]bind_group_provider.BufferWrite{
		{Provider: collect, Binding: 0, Data: surface.Marshal()},
		{Provider: collect, Binding: 1, Data: mainView.Marshal()},
		{Provider: collect, Binding: 2, Data: params.Marshal()},
		{Provider: collect, Binding: 5, Data: minMax},
		{Provider: collect, Binding: 6, Data: pageTable},
		{Provider: collect, Binding: 7, Data: occlusionCells},
	})

	initGroups := (max(b.settings.QueueCapacity(), b.settings.MaxFeedbackItems) + 63) / 64
	if err := b.renderer.DispatchCompute(PipelineInitBuffers, []bind_group_provider.BindGroupProvider{initGroup}, [3]uint32{initGroups, 1, 1}); err != nil {
		return nil, err
	}
	if err := b.renderer.DispatchCompute(PipelineCollectQuads, []bind_group_provider.BindGroupProvider{collect}, [3]uint32{b.settings.CollectPassWavefronts, 1, 1}); err != nil {
		return nil, err
	}
	if err := b.renderer.DispatchCompute(PipelineBuildCullArgs, []bind_group_provider.BindGroupProvider{buildArgs}, [3]uint32{1, 1, 1}); err != nil {
		return nil, err
	}

	clearValue := wgpu.Color{R: cull.LodMapClearValue, G: cull.LodMapClearValue}
	if err := b.renderer.BeginOffscreenPass(s.lodMapView, clearValue); err != nil {
		return nil, err
	}
	err = b.renderer.DrawIndexedIndirect(PipelineLodMap, b.lodIndices, []bind_group_provider.BindGroupProvider{lodMap}, s.args.buf, LodMapDrawArgsOffset)
	b.renderer.EndOffscreenPass()
	if err != nil {
		return nil, err
	}

	if err := b.renderer.DispatchComputeIndirect(PipelineResolveNeighbors, []bind_group_provider.BindGroupProvider{resolve}, s.args.buf, DispatchArgsOffset); err != nil {
		return nil, err
	}

	res := &gpuMainViewResult{slot: s, surface: d, mainView: mv}
	key := resultKey{surface: d.ID, mainView: mv.ViewID}
	if last, ok := b.latest[key]; ok {
		res.stats, res.feedback = last.stats, last.feedback
		delete(b.latest, key)
	}
	b.results = append(b.results, res)
	return res, nil
}

// ensureSlot sizes every resource of s for the surface and the submit's settings. Providers
// are rebuilt whenever a resource they reference is recreated.
func (b *Backend) ensureSlot(s *gpuSlot, d *heightfield.Descriptor, pageTableBytes, minMaxBytes, occlusionBytes uint64) error {
	var (
		sp           heightfield.GPUSurfaceParams
		mv           view.GPUMainView
		cp           GPUCollectParams
		qi           workqueue.GPUQueueInfo
		maxInstances = uint64(b.settings.MaxRenderInstances)
	)
	buffers := []struct {
		g     *gpuBuffer
		name  string
		size  uint64
		usage wgpu.BufferUsage
	}{
		{&s.surface, "Surface Params", uint64(sp.Size()), uniformUsage},
		{&s.mainView, "Main View", uint64(mv.Size()), uniformUsage},
		{&s.collectParams, "Collect Params", uint64(cp.Size()), uniformUsage},
		{&s.queueInfo, "Queue Info", uint64(qi.Size()), storageUsage},
		{&s.queueItems, "Queue Items", uint64(b.settings.QueueCapacity()) * 4, storageUsage},
		{&s.minMax, "Min Max", minMaxBytes, storageUsage},
		{&s.pageTable, "Page Table", pageTableBytes, storageUsage},
		{&s.occlusion, "Occlusion", occlusionBytes, storageUsage},
		{&s.quads, "Quads", maxInstances * GPUQuadItemSize, storageUsage},
		{&s.feedback, "Feedback", uint64(b.settings.MaxFeedbackItems) * 4, storageUsage},
		{&s.args, "Cull Args", 36, indirectUsage},
		{&s.resolved, "Resolved Instances", maxInstances * GPURenderInstanceSize, storageUsage},
	}
	changed := false
	for _, buf := range buffers {
		created, err := buf.g.ensure(b.renderer, s.label+" "+buf.name, buf.size, buf.usage)
		if err != nil {
			return err
		}
		changed = changed || created
	}

	size := d.PageTableSize
	if s.lodMap == nil || s.lodMapSize != size {
		s.releaseLodMap()
		tex, texView, err := b.renderer.CreateTexture(common.TextureStagingData{
			Label:  s.label + " LOD Map",
			Format: LodMapFormat,
			Width:  size[0],
			Height: size[1],
		}, wgpu.TextureUsageRenderAttachment|wgpu.TextureUsageTextureBinding)
		if err != nil {
			return err
		}
		s.lodMap, s.lodMapView, s.lodMapSize = tex, texView, size
		changed = true
	}

	if changed {
		logs.WithTag("slot", s.label).
			WithTag("max_instances", maxInstances).
			WithTag("queue_capacity", b.settings.QueueCapacity()).
			Debug("cull slot resources allocated")
		s.invalidate()
	}
	return nil
}

// provider returns the bind group of pass in slot s, creating it over the slot's shared
// resources on first use.
func (b *Backend) provider(s *gpuSlot, pass string, buffers map[int]*wgpu.Buffer, views map[int]*wgpu.TextureView) (bind_group_provider.BindGroupProvider, error) {
	if p, ok := s.providers[pass]; ok {
		return p, nil
	}
	p, err := b.newProvider(s.label+" "+pass, pass, buffers, views)
	if err != nil {
		return nil, err
	}
	s.providers[pass] = p
	return p, nil
}

func (b *Backend) newProvider(label, pass string, buffers map[int]*wgpu.Buffer, views map[int]*wgpu.TextureView) (bind_group_provider.BindGroupProvider, error) {
	options := make([]bind_group_provider.BindGroupProviderOption, 0, len(buffers)+len(views))
	for binding, buf := range buffers {
		options = append(options, bind_group_provider.WithSharedBuffer(binding, buf))
	}
	for binding, tv := range views {
		options = append(options, bind_group_provider.WithSharedTextureView(binding, tv))
	}
	p := bind_group_provider.NewBindGroupProvider(label, options...)

	descriptor := renderer.BindGroupLayoutDescriptor(b.renderer.Pipeline(pass), 0)
	if err := b.renderer.InitBindGroup(p, descriptor, nil, nil); err != nil {
		p.Release()
		return nil, errors.New("creating cull bind group failed").WithTag("pass", pass).Wrap(err)
	}
	return p, nil
}

func (b *Backend) CullChildView(res cull.MainViewResult, cv *view.ChildViewDescriptor, mode cull.CullMode, buffers cull.DrawInstanceBuffers) error {
	if !b.inSubmit {
		return errors.New("gpu child view culled outside a submit")
	}
	r, ok := res.(*gpuMainViewResult)
	if !ok {
		return errors.New("main view result does not belong to the gpu backend")
	}
	dst, ok := buffers.(*DrawBuffers)
	if !ok {
		return errors.New("draw buffers do not belong to the gpu backend").WithTag("label", buffers.Label())
	}
	if err := dst.ensure(b.renderer, b.settings.MaxRenderInstances); err != nil {
		return err
	}
	s := r.slot

	initGroup, err := b.newProvider(dst.label+" "+PipelineInitInstances, PipelineInitInstances, map[int]*wgpu.Buffer{
		0: s.surface.buf, 1: dst.args.buf,
	}, nil)
	if err != nil {
		return err
	}
	b.transient = append(b.transient, initGroup)
	cullGroup, err := b.newProvider(dst.label+" "+PipelineCullInstances, PipelineCullInstances, map[int]*wgpu.Buffer{
		0: s.surface.buf, 1: dst.childView.buf, 2: s.minMax.buf, 3: s.args.buf,
		4: s.resolved.buf, 5: dst.instances.buf, 6: dst.args.buf,
	}, nil)
	if err != nil {
		return err
	}
	b.transient = append(b.transient, cullGroup)
	build, err := b.newProvider(dst.label+" "+PipelineBuildDrawArgs, PipelineBuildDrawArgs, map[int]*wgpu.Buffer{
		0: dst.instances.buf, 1: dst.args.buf,
	}, nil)
	if err != nil {
		return err
	}
	b.transient = append(b.transient, build)

	gcv := view.NewGPUChildView(cv, mode == cull.CullModeReuseMainView)
	b.renderer.WriteBuffers([]bind_group_provider.BufferWrite{
		{Provider: cullGroup, Binding: 1, Data: gcv.Marshal()},
	})

	if err := b.renderer.DispatchCompute(PipelineInitInstances, []bind_group_provider.BindGroupProvider{initGroup}, [3]uint32{1, 1, 1}); err != nil {
		return err
	}
	if err := b.renderer.DispatchComputeIndirect(PipelineCullInstances, []bind_group_provider.BindGroupProvider{cullGroup}, s.args.buf, DispatchArgsOffset); err != nil {
		return err
	}
	return b.renderer.DispatchCompute(PipelineBuildDrawArgs, []bind_group_provider.BindGroupProvider{build}, [3]uint32{1, 1, 1})
}

// ResetDrawBuffers zeroes the indirect arguments of buffers. The queue write lands before the
// submit's command buffer, and buffers that were never culled have nothing to clear.
func (b *Backend) ResetDrawBuffers(buffers cull.DrawInstanceBuffers) error {
	dst, ok := buffers.(*DrawBuffers)
	if !ok {
		return errors.New("draw buffers do not belong to the gpu backend").WithTag("label", buffers.Label())
	}
	if dst.released || dst.args.buf == nil {
		return nil
	}
	args := bind_group_provider.NewBindGroupProvider(dst.label+" Reset", bind_group_provider.WithSharedBuffer(0, dst.args.buf))
	defer args.Release()
	b.renderer.WriteBuffers([]bind_group_provider.BufferWrite{
		{Provider: args, Binding: 0, Data: make([]byte, GPUDrawArgsSize)},
	})
	return nil
}

func (b *Backend) EndSubmit() error {
	if !b.inSubmit {
		return nil
	}
	b.inSubmit = false
	defer b.releaseTransient()

	if !b.readback {
		for _, res := range b.results {
			b.readResultAsync(res)
		}
	}
	if err := b.renderer.EndComputeFrame(); err != nil {
		return errors.New("executing gpu submit failed").Wrap(err)
	}
	if !b.readback {
		return nil
	}
	for _, res := range b.results {
		if err := b.readResult(res); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) readResult(res *gpuMainViewResult) error {
	s := res.slot
	raw, err := b.renderer.ReadBuffer(s.queueInfo.buf, 0, s.queueInfo.size)
	if err != nil {
		return errors.New("reading collect counters failed").WithTag("slot", s.label).Wrap(err)
	}
	info := workqueue.UnmarshalGPUQueueInfo(raw)
	res.stats = cull.CollectStats{
		Expanded:   info.Expanded,
		Subdivided: info.Subdivided,
		Culled:     info.Culled,
		Emitted:    info.Emitted,
		Overflowed: info.Overflowed,
	}

	count := min(info.FeedbackCount, b.settings.MaxFeedbackItems)
	if count == 0 {
		res.feedback = cull.Feedback{}
		return nil
	}
	raw, err = b.renderer.ReadBuffer(s.feedback.buf, 0, uint64(count)*4)
	if err != nil {
		return errors.New("reading feedback failed").WithTag("slot", s.label).Wrap(err)
	}
	res.feedback = UnmarshalFeedback(raw, count)
	return nil
}

// readResultAsync records copies of the counters and page requests of res into the open frame.
// Failures only cost the frame's feedback and are logged.
func (b *Backend) readResultAsync(res *gpuMainViewResult) {
	s := res.slot
	p := &pendingResult{key: resultKey{surface: res.surface.ID, mainView: res.mainView.ViewID}}
	reads := []struct {
		buf  *gpuBuffer
		into *[]byte
	}{
		{&s.queueInfo, &p.info},
		{&s.feedback, &p.feedback},
	}
	for _, r := range reads {
		into := r.into
		err := b.renderer.ReadBufferAsync(r.buf.buf, 0, r.buf.size, func(raw []byte, err error) {
			b.finishRead(p, into, raw, err)
		})
		if err != nil {
			logs.Warn(errors.New("scheduling gpu readback failed").WithTag("slot", s.label).Wrap(err))
			p.failed = true
			continue
		}
		p.waiting++
		b.inFlight++
	}
}

func (b *Backend) finishRead(p *pendingResult, into *[]byte, raw []byte, err error) {
	b.inFlight--
	p.waiting--
	if err != nil {
		logs.Warn(errors.New("gpu readback failed").WithTag("surface", p.key.surface.String()).Wrap(err))
		p.failed = true
	}
	*into = raw
	if p.waiting > 0 || p.failed {
		return
	}

	info := workqueue.UnmarshalGPUQueueInfo(p.info)
	count := min(info.FeedbackCount, uint32(len(p.feedback)/4))
	b.latest[p.key] = asyncResult{
		stats: cull.CollectStats{
			Expanded:   info.Expanded,
			Subdivided: info.Subdivided,
			Culled:     info.Culled,
			Emitted:    info.Emitted,
			Overflowed: info.Overflowed,
		},
		feedback: UnmarshalFeedback(p.feedback, count),
	}
}

func (b *Backend) releaseTransient() {
	for _, p := range b.transient {
		p.Release()
	}
	b.transient = b.transient[:0]
}

// Release frees every pooled resource. Draw buffers handed out stay owned by the caller.
func (b *Backend) Release() {
	b.releaseTransient()
	for _, s := range b.slots {
		s.release()
	}
	b.slots = nil
	if b.lodIndices != nil {
		b.lodIndices.Release()
		b.lodIndices = nil
	}
}
