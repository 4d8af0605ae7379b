package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultLabel = "result"

	resultNew     = "new"
	resultDedup   = "dedup"
	resultSkipped = "skipped"
)

var (
	workRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vhm_scheduler_work_requests_total",
		Help: "The number of AddWork calls by outcome.",
	}, []string{
		resultLabel,
	})

	buffersAllocated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vhm_scheduler_buffers_allocated_total",
		Help: "The number of draw instance buffers allocated.",
	})

	buffersReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vhm_scheduler_buffers_released_total",
		Help: "The number of stale draw instance buffers released.",
	})

	pooledBuffersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vhm_scheduler_pooled_buffers",
		Help: "The number of draw instance buffers alive in the pool.",
	})

	framingViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vhm_scheduler_framing_violations_total",
		Help: "The number of AddWork calls made after the frame was submitted.",
	})

	submitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "vhm_scheduler_submit_seconds",
		Help: "The time to record and execute the culling work of a frame.",
	})

	mainViewPasses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vhm_cull_main_view_passes_total",
		Help: "The number of collection passes run, one per surface and main view.",
	})

	childViewPasses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vhm_cull_child_view_passes_total",
		Help: "The number of final cull passes run, one per draw instance buffer filled.",
	})
)

func instrumentWorkRequest(result string) {
	workRequests.
		With(prometheus.Labels{resultLabel: result}).
		Inc()
}

func instrumentSubmitLatency(start time.Time) {
	submitLatency.Observe(time.Since(start).Seconds())
}
