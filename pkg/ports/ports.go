// Package ports declares the capability interfaces the newsroom core depends
// on. Adapters under pkg/adapters implement them.
package ports

import (
	"context"
	"time"

	"github.com/aescanero/newsroom/pkg/domain"
)

// Message is one transport-level delivery.
type Message struct {
	// ID is the transport's delivery identifier (a stream entry ID for Redis).
	ID string
	// Key orders deliveries: messages sharing a key land on one partition.
	Key  string
	Body []byte
	// Ack confirms processing. Unacked messages are redelivered.
	Ack func(ctx context.Context) error
}

// MessageHandler receives deliveries for one subscription. Calls are
// sequential per partition; the handler decides when to Ack.
type MessageHandler func(ctx context.Context, msg Message)

// Transport carries opaque messages between processes.
type Transport interface {
	Publish(ctx context.Context, topic string, msg Message) error
	// Subscribe starts delivery in the background and returns once the
	// subscription is registered. Delivery stops when ctx is cancelled.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error
	Close() error
}

// InstanceStore persists orchestration instances with per-story
// compare-and-swap.
type InstanceStore interface {
	// Create stores a new instance at version 1, failing with
	// domain.ErrInstanceExists if the story already has one.
	Create(ctx context.Context, inst *domain.Instance) error
	Get(ctx context.Context, id domain.StoryID) (*domain.Instance, error)
	// CompareAndSwap replaces the stored instance if its version still equals
	// expected, and bumps inst.Version. Fails with domain.ErrVersionConflict.
	CompareAndSwap(ctx context.Context, inst *domain.Instance, expected int64) error
	List(ctx context.Context) ([]*domain.Instance, error)
	Close() error
}

// DedupStore remembers processed envelope IDs.
type DedupStore interface {
	Seen(ctx context.Context, key string) (bool, error)
	MarkDone(ctx context.Context, key string, ttl time.Duration) error
}

// Completer is an AI completion provider.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CMSPublisher pushes packaged stories into a content management system.
type CMSPublisher interface {
	CreateOrUpdate(ctx context.Context, draft domain.Draft, pkg domain.PackagingResult) (string, error)
	Schedule(ctx context.Context, cmsID string, when time.Time) error
	PublishNow(ctx context.Context, cmsID string) error
}

// Syndicator produces feed entries for published stories.
type Syndicator interface {
	Syndicate(ctx context.Context, cmsID string, pkg domain.PackagingResult) error
}

// Notifier surfaces instance changes to operators.
type Notifier interface {
	InstanceChanged(ctx context.Context, inst *domain.Instance)
}

// MetricsCollector records pipeline metrics.
type MetricsCollector interface {
	RecordStoryStarted(desk string)
	RecordStageTransition(from, to domain.Stage)
	RecordStoryFinished(status domain.Status, duration time.Duration)
	RecordActivity(activity string, status string, duration time.Duration)
	RecordRetry(op string)
	RecordEnvelope(role string, kind domain.Kind, outcome string)
	RecordHandlerDuration(role string, kind domain.Kind, duration time.Duration)
	RecordHostStatus(role string, idle, busy, queued int)
}
