package config

// Flag names an optional pipeline behaviour.
type Flag string

const (
	// FlagIndependentCull runs the independent cull variant even when the cull view is the main view.
	FlagIndependentCull Flag = "INDEPENDENT_CULL"
	// FlagUnboundedQueue makes the CPU backend traverse with the unbounded reference queue.
	FlagUnboundedQueue Flag = "UNBOUNDED_QUEUE"
	// FlagNoFeedback skips feedback extraction for the paging system.
	FlagNoFeedback Flag = "NO_FEEDBACK"
)

// FeatureFlag is a lookup map for features that is enabled or disabled
type FeatureFlag map[Flag]struct{}

// NewFeatureFlag return a new feature flags initialized with list of flags
func NewFeatureFlag(flags []string) FeatureFlag {
	featureFlag := make(FeatureFlag)
	for _, f := range flags {
		featureFlag[Flag(f)] = struct{}{}
	}
	return featureFlag
}

// IsSet reports whether flag is set.
func (f FeatureFlag) IsSet(flag Flag) bool {
	_, ok := f[flag]
	return ok
}

// IfSet runs function `do ` if flag is set in the feature flags
func (f FeatureFlag) IfSet(flag Flag, do func()) {
	if !f.IsSet(flag) {
		return
	}
	do()
}

// IfNotSet runs function `do` if flag is not set in the feature flags
func (f FeatureFlag) IfNotSet(flag Flag, do func()) {
	if f.IsSet(flag) {
		return
	}
	do()
}
