// Package frame provides the explicit frame boundary that the scheduler and the occlusion
// cache hook into.
package frame

import (
	"sync"
)

// Lifecycle brackets the work of one rendered frame.
//
// BeginFrame runs the begin hooks (the scheduler submits pending work there), EndFrame runs
// the end hooks (pools age, per-frame caches clear). Hooks run outside the lifecycle lock and
// may call InFrame and FrameID, and EndFrame from a hook is ignored while one is running.
type Lifecycle interface {
	// BeginFrame opens a frame. If a frame is already open it is ended first.
	BeginFrame()

	// EndFrame closes the open frame. It is a no-op when no frame is open.
	EndFrame()

	// FrameID returns the number of frames begun so far.
	//
	// Returns:
	//   - uint64: the current frame id
	FrameID() uint64

	// InFrame reports whether a frame is open.
	//
	// Returns:
	//   - bool: true between BeginFrame and EndFrame
	InFrame() bool

	// OnBeginFrame registers a hook run at the start of every frame, in registration order.
	//
	// Parameters:
	//   - fn: the hook
	OnBeginFrame(fn func())

	// OnEndFrame registers a hook run at the end of every frame, in registration order.
	//
	// Parameters:
	//   - fn: the hook
	OnEndFrame(fn func())
}

type lifecycleImpl struct {
	mu      sync.Mutex
	frameID uint64
	inFrame bool
	ending  bool
	onBegin []func()
	onEnd   []func()
}

var _ Lifecycle = &lifecycleImpl{}

// NewLifecycle creates a lifecycle with no open frame.
func NewLifecycle() Lifecycle {
	return &lifecycleImpl{}
}

func (l *lifecycleImpl) BeginFrame() {
	l.EndFrame()

	l.mu.Lock()
	l.frameID++
	l.inFrame = true
	hooks := append([]func(){}, l.onBegin...)
	l.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

func (l *lifecycleImpl) EndFrame() {
	l.mu.Lock()
	if !l.inFrame || l.ending {
		l.mu.Unlock()
		return
	}
	l.ending = true
	hooks := append([]func(){}, l.onEnd...)
	l.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}

	l.mu.Lock()
	l.inFrame = false
	l.ending = false
	l.mu.Unlock()
}

func (l *lifecycleImpl) FrameID() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frameID
}

func (l *lifecycleImpl) InFrame() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFrame
}

func (l *lifecycleImpl) OnBeginFrame(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onBegin = append(l.onBegin, fn)
}

func (l *lifecycleImpl) OnEndFrame(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onEnd = append(l.onEnd, fn)
}
