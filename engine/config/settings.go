// Package config holds the runtime knobs read by the culling pipeline each time it runs.
package config

import (
	"github.com/Carmen-Shannon/oxy-vhm/common"
)

// Settings is the configuration surface of the culling pipeline. It is read when a frame is
// submitted, never passed per call.
type Settings struct {
	// LodScale multiplies every LOD distance threshold. Clamped to at least MinLodScale.
	LodScale float32
	// EnableViewLodFactor applies the per-view LOD factor on top of LodScale.
	EnableViewLodFactor bool
	// Occlusion enables consumption of cached occlusion results during collection.
	Occlusion bool
	// MaxRenderInstances bounds the tile buffer and every cull view's instance buffer.
	MaxRenderInstances uint32
	// MaxFeedbackItems bounds the feedback requests written per (surface, main view).
	MaxFeedbackItems uint32
	// MaxPersistentQueueItems is the work queue capacity, rounded up to a power of two.
	MaxPersistentQueueItems uint32
	// CollectPassWavefronts is the number of 64-wide wavefronts that drain the work queue.
	CollectPassWavefronts uint32
	// FixCullingCamera freezes the main-view descriptors captured the first time a
	// (surface, main view) pair is culled.
	FixCullingCamera bool
	// Features toggles optional behaviour, see the Flag constants.
	Features FeatureFlag
}

// MinLodScale is the lower bound applied to Settings.LodScale.
const MinLodScale = 0.01

// WavefrontSize is the number of invocations in one collection wavefront.
const WavefrontSize = 64

// SettingsOption configures a Settings value.
type SettingsOption func(*Settings)

// Default returns the default pipeline configuration.
func Default() Settings {
	return Settings{
		LodScale:                1,
		EnableViewLodFactor:     false,
		Occlusion:               true,
		MaxRenderInstances:      4096,
		MaxFeedbackItems:        1024,
		MaxPersistentQueueItems: 4096,
		CollectPassWavefronts:   16,
		Features:                FeatureFlag{},
	}
}

// New returns the default configuration with the options applied and normalized.
//
// Parameters:
//   - opts: the options to apply over the defaults
//
// Returns:
//   - Settings: the normalized configuration
func New(opts ...SettingsOption) Settings {
	s := Default()
	for _, opt := range opts {
		opt(&s)
	}
	return s.Normalized()
}

// Normalized clamps every knob into its valid range.
func (s Settings) Normalized() Settings {
	s.LodScale = max(s.LodScale, MinLodScale)
	s.MaxRenderInstances = max(s.MaxRenderInstances, 1)
	s.MaxFeedbackItems = max(s.MaxFeedbackItems, 1)
	s.MaxPersistentQueueItems = common.CeilPowerOfTwo(s.MaxPersistentQueueItems)
	s.CollectPassWavefronts = max(s.CollectPassWavefronts, 1)
	if s.Features == nil {
		s.Features = FeatureFlag{}
	}
	return s
}

// QueueCapacity returns the power-of-two work queue capacity.
func (s Settings) QueueCapacity() uint32 {
	return common.CeilPowerOfTwo(s.MaxPersistentQueueItems)
}

// CollectLanes returns the number of invocations that drain the work queue.
func (s Settings) CollectLanes() uint32 {
	return s.CollectPassWavefronts * WavefrontSize
}
