package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/newsroom/pkg/domain"
	"github.com/aescanero/newsroom/pkg/ports"
)

// Publisher emits successor envelopes.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload domain.Payload, opts ...PublishOption) (Envelope, error)
}

// Delivery is one received envelope. Err is set, and Envelope left empty,
// when the message could not be decoded; Body always holds the raw message.
type Delivery struct {
	Envelope Envelope
	Err      error
	Body     []byte
	Topic    string
	Key      string

	msg ports.Message
}

// Ack confirms the delivery to the transport.
func (d Delivery) Ack(ctx context.Context) error {
	if d.msg.Ack == nil {
		return nil
	}
	return d.msg.Ack(ctx)
}

// Handler consumes deliveries of one subscription.
type Handler func(ctx context.Context, d Delivery)

// Bus publishes and subscribes envelopes over a transport.
type Bus struct {
	transport ports.Transport
	role      string
	logger    *zap.Logger
	now       func() time.Time
}

// NewBus creates a bus whose envelopes carry role as their publisher.
func NewBus(transport ports.Transport, role string, logger *zap.Logger) *Bus {
	return &Bus{
		transport: transport,
		role:      role,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Role returns the publishing identity.
func (b *Bus) Role() string {
	return b.role
}

type publishOptions struct {
	trigger       *Envelope
	priority      *int
	correlationID string
}

// PublishOption adjusts one publish.
type PublishOption func(*publishOptions)

// CausedBy propagates the trigger's correlation ID and records it as the cause.
func CausedBy(trigger Envelope) PublishOption {
	return func(o *publishOptions) { o.trigger = &trigger }
}

// WithPriority overrides the envelope priority.
func WithPriority(p int) PublishOption {
	return func(o *publishOptions) { o.priority = &p }
}

// WithCorrelation sets the correlation ID of a root envelope.
func WithCorrelation(id string) PublishOption {
	return func(o *publishOptions) { o.correlationID = id }
}

// Publish wraps payload in a new envelope and sends it to topic. The
// transport key is the payload's StoryID so one story stays on one partition.
func (b *Bus) Publish(ctx context.Context, topic string, payload domain.Payload, opts ...PublishOption) (Envelope, error) {
	if payload == nil {
		return Envelope{}, &domain.ValidationError{Subject: "envelope", Reasons: []string{"payload: is required"}}
	}
	var o publishOptions
	for _, opt := range opts {
		opt(&o)
	}

	env := Envelope{
		ID:        uuid.NewString(),
		Type:      payload.Kind(),
		Role:      b.role,
		Priority:  DefaultPriority,
		CreatedAt: b.now(),
		Payload:   payload,
	}
	switch {
	case o.trigger != nil:
		env.CorrelationID = o.trigger.CorrelationID
		env.CausationID = o.trigger.ID
	case o.correlationID != "":
		env.CorrelationID = o.correlationID
	default:
		env.CorrelationID = uuid.NewString()
	}
	if o.priority != nil {
		env.Priority = *o.priority
	}

	data, err := Encode(env)
	if err != nil {
		return Envelope{}, err
	}
	if err := b.transport.Publish(ctx, topic, ports.Message{Key: string(payload.Story()), Body: data}); err != nil {
		return Envelope{}, domain.Transient("bus", "publish", err)
	}

	b.logger.Debug("envelope published",
		zap.String("envelope_id", env.ID),
		zap.String("type", string(env.Type)),
		zap.String("topic", topic),
		zap.String("correlation_id", env.CorrelationID),
		zap.String("story_id", string(env.StoryID())))
	return env, nil
}

// Subscribe decodes every message of topic and passes it to handler.
// Envelopes of unknown type are logged, acknowledged and skipped.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	err := b.transport.Subscribe(ctx, topic, func(ctx context.Context, msg ports.Message) {
		d := Delivery{Body: msg.Body, Topic: topic, Key: msg.Key, msg: msg}
		env, err := Decode(msg.Body)
		if errors.Is(err, domain.ErrUnknownType) {
			b.logger.Warn("skipping envelope of unknown type",
				zap.String("topic", topic),
				zap.String("message_id", msg.ID),
				zap.Error(err))
			_ = d.Ack(context.WithoutCancel(ctx))
			return
		}
		if err != nil {
			d.Err = err
		} else {
			d.Envelope = env
		}
		handler(ctx, d)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	return nil
}

// Bound returns a Publisher that derives every envelope from trigger.
func (b *Bus) Bound(trigger Envelope) Publisher {
	return boundPublisher{bus: b, trigger: trigger}
}

type boundPublisher struct {
	bus     *Bus
	trigger Envelope
}

func (p boundPublisher) Publish(ctx context.Context, topic string, payload domain.Payload, opts ...PublishOption) (Envelope, error) {
	return p.bus.Publish(ctx, topic, payload, append([]PublishOption{CausedBy(p.trigger)}, opts...)...)
}
