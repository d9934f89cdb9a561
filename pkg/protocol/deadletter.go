package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aescanero/newsroom/pkg/domain"
	"github.com/aescanero/newsroom/pkg/ports"
)

// DeadLetter records a delivery whose handling failed for good. Envelope
// holds the original message when it was valid JSON, Raw otherwise.
type DeadLetter struct {
	EnvelopeID    string          `json:"envelopeId,omitempty"`
	Type          domain.Kind     `json:"type,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	StoryID       domain.StoryID  `json:"storyId,omitempty"`
	Topic         string          `json:"topic"`
	Role          string          `json:"role"`
	Reason        string          `json:"reason"`
	FailedAt      time.Time       `json:"failedAt"`
	Envelope      json.RawMessage `json:"envelope,omitempty"`
	Raw           string          `json:"raw,omitempty"`
}

// DeadLetter publishes a record of d to the dead-letter topic.
func (b *Bus) DeadLetter(ctx context.Context, d Delivery, reason error) (DeadLetter, error) {
	rec := DeadLetter{
		Topic:    d.Topic,
		Role:     b.role,
		Reason:   reason.Error(),
		FailedAt: b.now(),
	}
	if d.Err == nil {
		rec.EnvelopeID = d.Envelope.ID
		rec.Type = d.Envelope.Type
		rec.CorrelationID = d.Envelope.CorrelationID
		rec.StoryID = d.Envelope.StoryID()
	}
	if json.Valid(d.Body) {
		rec.Envelope = json.RawMessage(d.Body)
	} else {
		rec.Raw = string(d.Body)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return rec, fmt.Errorf("failed to encode dead letter: %w", err)
	}
	key := string(rec.StoryID)
	if key == "" {
		key = rec.EnvelopeID
	}
	if err := b.transport.Publish(ctx, TopicDeadLetter, ports.Message{Key: key, Body: data}); err != nil {
		return rec, domain.Transient("bus", "deadletter", err)
	}
	return rec, nil
}

// DecodeDeadLetter parses a message from the dead-letter topic.
func DecodeDeadLetter(data []byte) (DeadLetter, error) {
	var rec DeadLetter
	if err := json.Unmarshal(data, &rec); err != nil {
		return DeadLetter{}, domain.NewValidationError("dead letter", err)
	}
	return rec, nil
}
