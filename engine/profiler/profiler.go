package profiler

import (
	"runtime"
	"time"

	"github.com/Carmen-Shannon/oxy-vhm/engine/cull"
	"github.com/Carmen-Shannon/oxy-vhm/engine/scheduler"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

// Report is the summary of one profiling interval.
type Report struct {
	FPS float64
	// Per-frame averages of the scheduler counters over the interval.
	MainViewPasses  float64
	ChildViewPasses float64
	Emitted         float64
	Culled          float64
	// Totals over the interval.
	Overflowed        uint32
	FramingViolations int
	FailedGroups      int
	// LiveBuffers is the pool size seen on the last tick.
	LiveBuffers int

	HeapMB      float64
	AllocRateMB float64
	GCCount     uint32
	LastPauseUs uint64
	MaxPauseUs  uint64
	SysMB       float64
}

// Profiler tracks frame rate, culling statistics and memory statistics.
// Logs a Report at a configurable interval.
type Profiler struct {
	frameCount     int
	lastTime       time.Time
	updateInterval time.Duration
	now            func() time.Time
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64

	mainViewPasses    int
	childViewPasses   int
	collect           cull.CollectStats
	framingViolations int
	failedGroups      int
	lastReport        Report
}

// ProfilerOption configures a Profiler.
type ProfilerOption func(p *Profiler)

// WithInterval sets how often a report is logged.
func WithInterval(d time.Duration) ProfilerOption {
	return func(p *Profiler) {
		if d > 0 {
			p.updateInterval = d
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) ProfilerOption {
	return func(p *Profiler) {
		p.now = now
		p.lastTime = now()
	}
}

// NewProfiler creates a new Profiler. The update interval defaults to 1 second.
//
// Parameters:
//   - options: variadic list of ProfilerOption functions
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler(options ...ProfilerOption) *Profiler {
	p := &Profiler{
		lastTime:       time.Now(),
		updateInterval: time.Second,
		now:            time.Now,
	}
	for _, option := range options {
		option(p)
	}
	return p
}

// Tick should be called once per frame, after the frame's culling work was submitted.
// Logs a Report when the update interval has elapsed.
//
// Parameters:
//   - stats: the scheduler counters of the frame
//
// Returns:
//   - bool: true if a report was logged this tick, false otherwise
func (p *Profiler) Tick(stats scheduler.Stats) bool {
	p.frameCount++
	p.mainViewPasses += stats.MainViewPasses
	p.childViewPasses += stats.ChildViewPasses
	p.collect.Add(stats.Collect)
	p.framingViolations += stats.FramingViolations
	p.failedGroups += stats.FailedGroups

	currentTime := p.now()
	elapsed := currentTime.Sub(p.lastTime)
	if elapsed < p.updateInterval {
		return false
	}

	frames := float64(p.frameCount)
	r := Report{
		FPS:               frames / elapsed.Seconds(),
		MainViewPasses:    float64(p.mainViewPasses) / frames,
		ChildViewPasses:   float64(p.childViewPasses) / frames,
		Emitted:           float64(p.collect.Emitted) / frames,
		Culled:            float64(p.collect.Culled) / frames,
		Overflowed:        p.collect.Overflowed,
		FramingViolations: p.framingViolations,
		FailedGroups:      p.failedGroups,
		LiveBuffers:       stats.LiveBuffers,
	}
	p.readMemStats(&r, elapsed)
	p.lastReport = r

	logs.WithTag("fps", r.FPS).
		WithTag("main_views", r.MainViewPasses).
		WithTag("child_views", r.ChildViewPasses).
		WithTag("emitted", r.Emitted).
		WithTag("culled", r.Culled).
		WithTag("overflowed", r.Overflowed).
		WithTag("live_buffers", r.LiveBuffers).
		WithTag("heap_mb", r.HeapMB).
		WithTag("alloc_rate_mb", r.AllocRateMB).
		WithTag("gc", r.GCCount).
		WithTag("gc_max_pause_us", r.MaxPauseUs).
		Info("profiler")
	if r.Overflowed > 0 {
		logs.WithTag("overflowed", r.Overflowed).
			Debug("work queue overflowed, raise MaxPersistentQueueItems for full detail")
	}

	p.frameCount = 0
	p.lastTime = currentTime
	p.mainViewPasses, p.childViewPasses = 0, 0
	p.collect = cull.CollectStats{}
	p.framingViolations, p.failedGroups = 0, 0
	return true
}

// LastReport returns the most recently logged report.
func (p *Profiler) LastReport() Report {
	return p.lastReport
}

func (p *Profiler) readMemStats(r *Report, elapsed time.Duration) {
	runtime.ReadMemStats(&p.memStats)
	// Alloc: Bytes of allocated heap objects (live memory)
	// TotalAlloc: Cumulative bytes allocated for heap objects (tracks churn)
	// Sys: Total bytes of memory obtained from the OS
	r.HeapMB = float64(p.memStats.Alloc) / 1024 / 1024
	r.SysMB = float64(p.memStats.Sys) / 1024 / 1024
	allocDelta := p.memStats.TotalAlloc - p.lastTotalAlloc
	r.AllocRateMB = float64(allocDelta) / 1024 / 1024 / elapsed.Seconds()

	gcCount := p.memStats.NumGC
	r.GCCount = gcCount
	if gcCount > 0 {
		// PauseNs is a circular buffer of the last 256 GC pauses
		r.LastPauseUs = p.memStats.PauseNs[(gcCount-1)%256] / 1000
		startIdx := p.lastGCCount
		if gcCount-startIdx > 256 {
			startIdx = gcCount - 256
		}
		for i := startIdx; i < gcCount; i++ {
			r.MaxPauseUs = max(r.MaxPauseUs, p.memStats.PauseNs[i%256]/1000)
		}
	}
	p.lastGCCount = gcCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
}
