package scheduler

import (
	"github.com/Carmen-Shannon/oxy-vhm/engine/config"
)

// SchedulerBuilderOption is a functional option for configuring a schedulerImpl.
type SchedulerBuilderOption func(s *schedulerImpl)

// WithSettings sets the configuration read by every submit.
//
// Parameters:
//   - settings: the pipeline settings, normalized on assignment
//
// Returns:
//   - SchedulerBuilderOption: option function to apply
func WithSettings(settings config.Settings) SchedulerBuilderOption {
	return func(s *schedulerImpl) {
		s.settings = settings.Normalized()
	}
}

// WithFeedbackSink sets the receiver of the page requests produced by collection. Without it
// the requests are discarded.
//
// Parameters:
//   - sink: the feedback receiver
//
// Returns:
//   - SchedulerBuilderOption: option function to apply
func WithFeedbackSink(sink FeedbackSink) SchedulerBuilderOption {
	return func(s *schedulerImpl) {
		if sink != nil {
			s.feedback = sink
		}
	}
}
