package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"reflect"
	"syscall"
	"time"

	"github.com/Carmen-Shannon/oxy-vhm/common"
	"github.com/Carmen-Shannon/oxy-vhm/engine/config"
	"github.com/Carmen-Shannon/oxy-vhm/engine/cull/gpu"
	"github.com/Carmen-Shannon/oxy-vhm/engine/frame"
	"github.com/Carmen-Shannon/oxy-vhm/engine/heightfield"
	"github.com/Carmen-Shannon/oxy-vhm/engine/occlusion"
	"github.com/Carmen-Shannon/oxy-vhm/engine/profiler"
	"github.com/Carmen-Shannon/oxy-vhm/engine/renderer"
	"github.com/Carmen-Shannon/oxy-vhm/engine/scheduler"
	"github.com/Carmen-Shannon/oxy-vhm/engine/view"
	"github.com/Carmen-Shannon/oxy-vhm/engine/window"
	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
)

var (
	// The vhmview version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "vhmview_info",
		Help:        "vhmview information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

var _ = reflect.TypeOf(appConfig{})

type appConfig struct {
	AdminAddr               string        `cli:""        env:"VHM_ADMIN_ADDR"                 help:"Admin listening address for metrics and pprof, empty to disable."`
	LogLevel                string        `cli:""        env:"VHM_LOG_LEVEL"                  help:"Log level (debug|info|warning|error)."`
	LogIndent               bool          `cli:""        env:"VHM_LOG_INDENT"                 help:"Indent logs."`
	Width                   int           `cli:""        env:"VHM_WIDTH"                      help:"Window width."`
	Height                  int           `cli:""        env:"VHM_HEIGHT"                     help:"Window height."`
	Software                bool          `cli:",hidden" env:"VHM_SOFTWARE"                   help:"Force the software adapter."`
	VSync                   bool          `cli:""        env:"VHM_VSYNC"                      help:"Wait for vertical blank before presenting."`
	LodScale                float32       `cli:""        env:"VHM_LOD_SCALE"                  help:"Multiplier of every LOD distance."`
	Occlusion               bool          `cli:""        env:"VHM_OCCLUSION"                  help:"Consume occlusion results during collection."`
	FixCullingCamera        bool          `cli:""        env:"VHM_FIX_CULLING_CAMERA"         help:"Freeze the culling camera at startup."`
	MaxRenderInstances      uint32        `cli:",hidden" env:"VHM_MAX_RENDER_INSTANCES"       help:"Tile capacity of every draw buffer."`
	MaxFeedbackItems        uint32        `cli:",hidden" env:"VHM_MAX_FEEDBACK_ITEMS"         help:"Page requests kept per surface and main view."`
	MaxPersistentQueueItems uint32        `cli:",hidden" env:"VHM_MAX_PERSISTENT_QUEUE_ITEMS" help:"Work queue capacity of the collection pass."`
	CollectPassWavefronts   uint32        `cli:",hidden" env:"VHM_COLLECT_PASS_WAVEFRONTS"    help:"Wavefronts that drain the work queue."`
	FeatureFlags            []string      `cli:",hidden" env:"VHM_FEATURE_FLAGS"              help:"Comma separated feature flags."`
	ShadowView              bool          `cli:""        env:"VHM_SHADOW_VIEW"                help:"Cull a sun shadow view next to the camera view."`
	StreamBudget            int           `cli:",hidden" env:"VHM_STREAM_BUDGET"              help:"Pages mapped per frame from feedback."`
	ProfileInterval         time.Duration `cli:",hidden" env:"VHM_PROFILE_INTERVAL"           help:"Interval between profiler reports."`
	Terrain                 terrainConfig `cli:",hidden" env:"-"                              help:"Terrain configuration."`
	Version                 bool          `cli:""        env:"-"                              help:"Show version."`
	Help                    bool          `cli:""        env:"-"                              help:"Show help."`
}

func main() {
	defaults := config.Default()
	conf := appConfig{
		AdminAddr:               ":18190",
		LogLevel:                logs.InfoLevel.String(),
		Width:                   1600,
		Height:                  900,
		LodScale:                defaults.LodScale,
		Occlusion:               defaults.Occlusion,
		MaxRenderInstances:      defaults.MaxRenderInstances,
		MaxFeedbackItems:        defaults.MaxFeedbackItems,
		MaxPersistentQueueItems: defaults.MaxPersistentQueueItems,
		CollectPassWavefronts:   defaults.CollectPassWavefronts,
		ShadowView:              true,
		StreamBudget:            32,
		ProfileInterval:         time.Second,
		Terrain:                 defaultTerrainConfig(),
	}

	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Renders a procedural virtual heightmap with GPU quadtree culling.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}
	errors.Encoder = json.Marshal

	if conf.AdminAddr != "" {
		go serveAdmin(ctx, conf.AdminAddr)
	}

	if err := run(ctx, conf); err != nil {
		logs.Fatal(err)
	}
}

func serveAdmin(ctx context.Context, addr string) {
	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))

	server := &http.Server{Addr: addr, Handler: &admin}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logs.WithTag("addr", addr).Info("serving admin")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logs.Error(errors.New("admin server failed").Wrap(err))
	}
}

func (c appConfig) settings() config.Settings {
	return config.New(
		config.WithLodScale(c.LodScale),
		config.WithOcclusion(c.Occlusion),
		config.WithFixCullingCamera(c.FixCullingCamera),
		config.WithMaxRenderInstances(c.MaxRenderInstances),
		config.WithMaxFeedbackItems(c.MaxFeedbackItems),
		config.WithMaxPersistentQueueItems(c.MaxPersistentQueueItems),
		config.WithCollectPassWavefronts(c.CollectPassWavefronts),
		config.WithFeatureFlags(c.FeatureFlags...),
	)
}

func run(ctx context.Context, conf appConfig) error {
	surface, pageTable, mapped, err := newTerrain(conf.Terrain)
	if err != nil {
		return err
	}

	w, err := window.NewWindow(
		window.WithTitle("VHM Viewer"),
		window.WithSize(conf.Width, conf.Height),
	)
	if err != nil {
		return errors.New("creating window failed").Wrap(err)
	}

	presentMode := renderer.PresentModeUncapped
	if conf.VSync {
		presentMode = renderer.PresentModeVSync
	}
	r := renderer.NewRenderer(renderer.BackendTypeWGPU,
		renderer.WithWindow(w),
		renderer.WithPresentMode(presentMode),
		renderer.WithForceSoftwareRenderer(conf.Software),
	)
	defer r.Release()
	if r.Headless() {
		return errors.New("renderer has no window surface")
	}

	backend, err := gpu.NewBackend(r)
	if err != nil {
		return errors.New("creating gpu culling backend failed").Wrap(err)
	}
	defer backend.Release()

	tiles, err := newTileDraw(r, conf.Terrain.QuadsPerTileSide)
	if err != nil {
		return err
	}
	defer tiles.Release()

	streamer := newPageStreamer(pageTable, conf.Terrain.physicalPagesPerSide(), mapped, conf.StreamBudget)
	lifecycle := frame.NewLifecycle()
	occ := occlusion.NewCache(lifecycle, conf.Occlusion)
	sched := scheduler.NewScheduler(backend, lifecycle, occ,
		scheduler.WithSettings(conf.settings()),
		scheduler.WithFeedbackSink(streamer),
	)
	defer sched.Release()

	bounds := common.AABB{Max: mgl32.Vec3{conf.Terrain.WorldSize, conf.Terrain.WorldSize, conf.Terrain.HeightScale}}
	orbit := view.NewOrbitController(bounds.Center(), conf.Terrain.WorldSize*0.4, 0.35)
	mainView := view.NewView(
		view.WithPerspective(mgl32.DegToRad(60), float32(w.Width())/float32(max(w.Height(), 1)), 1, conf.Terrain.WorldSize*4),
		view.WithController(orbit),
	)
	var shadowView view.View
	if conf.ShadowView {
		shadowView = view.NewView(view.WithLookAt(target.Add(mgl32.Vec3{0, 0, 1}), target))
	}

	prof := profiler.NewProfiler(profiler.WithInterval(conf.ProfileInterval))
	bindInput(w, r, presentMode, sched, occ, orbit, mainView)

	last := time.Now()
	w.SetUpdateCallback(func() {
		if ctx.Err() != nil {
			w.Close()
			return
		}
		now := time.Now()
		dt := float32(now.Sub(last).Seconds())
		last = now

		if err := renderFrame(frameInputs{
			dt:         dt,
			surface:    surface,
			mainView:   mainView,
			shadowView: shadowView,
			orbit:      orbit,
			lifecycle:  lifecycle,
			occ:        occ,
			sched:      sched,
			streamer:   streamer,
			renderer:   r,
			tiles:      tiles,
			prof:       prof,
			sunRadius:  conf.Terrain.WorldSize * 0.75,
		}); err != nil {
			logs.Warn(errors.New("frame failed").Wrap(err))
		}
	})

	logs.WithTag("pages", conf.Terrain.Pages).
		WithTag("resident_pages", mapped).
		WithTag("world_size", conf.Terrain.WorldSize).
		Info("starting vhm viewer")
	w.ProcessMessages()
	return nil
}

type frameInputs struct {
	dt         float32
	surface    heightfield.Surface
	mainView   view.View
	shadowView view.View
	orbit      *view.OrbitController
	lifecycle  frame.Lifecycle
	occ        *occlusion.Cache
	sched      scheduler.Scheduler
	streamer   *pageStreamer
	renderer   renderer.Renderer
	tiles      *tileDraw
	prof       *profiler.Profiler
	sunRadius  float32
}

// renderFrame runs one frame: the views move, occlusion results and culling work are handed
// to the scheduler, the frame begins (which submits the culling), the camera view's tiles are
// drawn and the frame ends.
func renderFrame(in frameInputs) error {
	in.orbit.Advance(in.dt)
	in.mainView.Update()
	if in.shadowView != nil {
		updateShadowView(in.shadowView, in.orbit.Target(), in.sunRadius)
	}

	d, err := in.surface.Descriptor()
	if err != nil {
		return err
	}
	volumes := in.surface.OcclusionVolumes()
	results := occlusion.QueryFrustum(volumes, in.mainView.Frustum().ViewPlanes())
	in.occ.Accept(in.surface.ID(), in.mainView.ID(), results, 0, len(results), d.OcclusionGridSize)

	camera, err := in.sched.AddWork(in.surface, in.mainView, in.mainView)
	if err != nil {
		return err
	}
	if in.shadowView != nil {
		if _, err := in.sched.AddWork(in.surface, in.mainView, in.shadowView); err != nil {
			return err
		}
	}

	in.lifecycle.BeginFrame()
	defer in.lifecycle.EndFrame()
	in.streamer.Pump()

	if err := in.renderer.BeginFrame(); err != nil {
		return err
	}
	if camera != nil {
		if err := in.tiles.Draw(d, in.mainView.ViewProjectionMatrix(), camera); err != nil {
			in.renderer.EndFrame()
			return err
		}
	}
	in.renderer.EndFrame()
	in.renderer.Present()

	in.tiles.EndFrame(scheduler.DiscardFrames + 1)
	in.prof.Tick(in.sched.Stats())
	return nil
}

// sunDirection points from the sun towards the ground.
var sunDirection = mgl32.Vec3{-0.4, -0.3, -0.87}

func updateShadowView(v view.View, center mgl32.Vec3, radius float32) {
	v.SetShadowFrustum(view.DirectionalShadowFrustum(sunDirection, radius, 2*radius), center)
}

// bindInput wires window events to the camera and the culling settings.
//
// Dragging rotates the orbit. Space pauses it, V toggles vsync, F freezes the culling camera, O toggles occlusion
// and -/= scale the LOD distances.
func bindInput(w window.Window, r renderer.Renderer, presentMode renderer.PresentMode, sched scheduler.Scheduler, occ *occlusion.Cache, orbit *view.OrbitController, mainView view.View) {
	w.SetResizeCallback(func(width, height int) {
		if width == 0 || height == 0 {
			return
		}
		r.Resize(width, height)
		mainView.SetAspect(float32(width) / float32(height))
	})

	w.SetScrollCallback(func(delta float32) {
		orbit.Zoom(delta)
	})

	w.SetDragCallback(func(dx, dy float32) {
		orbit.Drag(dx, dy, 0.005)
	})

	w.SetKeyDownCallback(func(keyCode uint32) {
		settings := sched.Settings()
		switch keyCode {
		case common.KeySpace:
			orbit.TogglePause()
			return
		case common.KeyV:
			if presentMode == renderer.PresentModeVSync {
				presentMode = renderer.PresentModeUncapped
			} else {
				presentMode = renderer.PresentModeVSync
			}
			r.SetPresentMode(presentMode)
			// The surface only picks up the mode when reconfigured.
			r.Resize(w.Width(), w.Height())
			return
		case common.KeyF:
			settings.FixCullingCamera = !settings.FixCullingCamera
		case common.KeyO:
			settings.Occlusion = !settings.Occlusion
			occ.SetEnabled(settings.Occlusion)
		case common.KeyMinus:
			settings.LodScale /= 1.25
		case common.KeyEqual:
			settings.LodScale *= 1.25
		default:
			return
		}
		sched.SetSettings(settings)
		logs.WithTag("fix_culling_camera", settings.FixCullingCamera).
			WithTag("occlusion", settings.Occlusion).
			WithTag("lod_scale", sched.Settings().LodScale).
			Info("culling settings changed")
	})
}
