package config

// WithLodScale sets the global LOD distance multiplier.
func WithLodScale(scale float32) SettingsOption {
	return func(s *Settings) {
		s.LodScale = scale
	}
}

// WithViewLodFactor enables or disables the per-view LOD factor.
func WithViewLodFactor(enabled bool) SettingsOption {
	return func(s *Settings) {
		s.EnableViewLodFactor = enabled
	}
}

// WithOcclusion enables or disables occlusion result consumption.
func WithOcclusion(enabled bool) SettingsOption {
	return func(s *Settings) {
		s.Occlusion = enabled
	}
}

// WithMaxRenderInstances sets the tile and instance buffer capacity.
func WithMaxRenderInstances(n uint32) SettingsOption {
	return func(s *Settings) {
		s.MaxRenderInstances = n
	}
}

// WithMaxFeedbackItems sets the feedback buffer capacity.
func WithMaxFeedbackItems(n uint32) SettingsOption {
	return func(s *Settings) {
		s.MaxFeedbackItems = n
	}
}

// WithMaxPersistentQueueItems sets the work queue capacity. The value is rounded up to a power of two.
func WithMaxPersistentQueueItems(n uint32) SettingsOption {
	return func(s *Settings) {
		s.MaxPersistentQueueItems = n
	}
}

// WithCollectPassWavefronts sets the number of wavefronts draining the work queue.
func WithCollectPassWavefronts(n uint32) SettingsOption {
	return func(s *Settings) {
		s.CollectPassWavefronts = n
	}
}

// WithFixCullingCamera freezes main-view descriptors for debugging.
func WithFixCullingCamera(fixed bool) SettingsOption {
	return func(s *Settings) {
		s.FixCullingCamera = fixed
	}
}

// WithFeatureFlags enables the named feature flags.
func WithFeatureFlags(flags ...string) SettingsOption {
	return func(s *Settings) {
		s.Features = NewFeatureFlag(flags)
	}
}
