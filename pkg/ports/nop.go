package ports

import (
	"context"
	"time"

	"github.com/aescanero/newsroom/pkg/domain"
)

// NopMetrics discards all metrics.
type NopMetrics struct{}

func (NopMetrics) RecordStoryStarted(string)                                {}
func (NopMetrics) RecordStageTransition(domain.Stage, domain.Stage)         {}
func (NopMetrics) RecordStoryFinished(domain.Status, time.Duration)         {}
func (NopMetrics) RecordActivity(string, string, time.Duration)             {}
func (NopMetrics) RecordRetry(string)                                       {}
func (NopMetrics) RecordEnvelope(string, domain.Kind, string)               {}
func (NopMetrics) RecordHandlerDuration(string, domain.Kind, time.Duration) {}
func (NopMetrics) RecordHostStatus(string, int, int, int)                   {}

// NopNotifier ignores instance changes.
type NopNotifier struct{}

func (NopNotifier) InstanceChanged(context.Context, *domain.Instance) {}

// Notifiers fans a change out to several notifiers.
type Notifiers []Notifier

func (n Notifiers) InstanceChanged(ctx context.Context, inst *domain.Instance) {
	for _, notifier := range n {
		notifier.InstanceChanged(ctx, inst)
	}
}
