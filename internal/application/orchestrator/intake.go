package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/aescanero/newsroom/pkg/domain"
	"github.com/aescanero/newsroom/pkg/protocol"
)

// Intake starts an orchestration for every pitch published on the pitches
// topic, keeping the pitch envelope's correlation ID.
type Intake struct {
	manager *Manager
	bus     *protocol.Bus
	logger  *zap.Logger
}

// NewIntake creates the pitch intake bridge
func NewIntake(manager *Manager, bus *protocol.Bus, logger *zap.Logger) *Intake {
	return &Intake{manager: manager, bus: bus, logger: logger}
}

// Run subscribes to the pitches topic. Delivery continues in the background
// until ctx ends.
func (in *Intake) Run(ctx context.Context) error {
	return in.bus.Subscribe(ctx, protocol.TopicPitches, in.handle)
}

func (in *Intake) handle(ctx context.Context, d protocol.Delivery) {
	ackCtx := context.WithoutCancel(ctx)
	if d.Err != nil {
		in.reject(ackCtx, d, d.Err)
		return
	}

	pitch, ok := d.Envelope.Payload.(domain.StoryPitch)
	if !ok {
		in.reject(ackCtx, d, domain.Wrap(domain.ErrKindMismatch, "intake", "start",
			fmt.Errorf("%s envelope on %s", d.Envelope.Type, d.Topic)))
		return
	}

	_, err := in.manager.Start(ctx, pitch, WithCorrelationID(d.Envelope.CorrelationID))
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInstanceExists):
		in.logger.Info("pitch already started",
			zap.String("story_id", string(pitch.StoryID)),
			zap.String("envelope_id", d.Envelope.ID))
	case errors.Is(err, domain.ErrValidation):
		in.reject(ackCtx, d, err)
		return
	default:
		// Left unacked for redelivery
		in.logger.Error("failed to start pitched story",
			zap.String("story_id", string(pitch.StoryID)),
			zap.Error(err))
		return
	}

	if err := d.Ack(ackCtx); err != nil {
		in.logger.Error("failed to ack pitch", zap.Error(err))
	}
}

func (in *Intake) reject(ctx context.Context, d protocol.Delivery, reason error) {
	if _, err := in.bus.DeadLetter(ctx, d, reason); err != nil {
		in.logger.Error("failed to dead-letter pitch", zap.Error(err))
		return
	}
	in.logger.Warn("pitch dead-lettered", zap.Error(reason))
	if err := d.Ack(ctx); err != nil {
		in.logger.Error("failed to ack pitch", zap.Error(err))
	}
}
