// Package protocol defines the envelope wire format, the payload kind
// registry, and the Bus that publishes and subscribes envelopes over a
// ports.Transport.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/aescanero/newsroom/pkg/domain"
)

const (
	DefaultPriority = 5
	MinPriority     = 0
	MaxPriority     = 10
)

// Envelope wraps one payload with routing metadata. Type always equals
// Payload.Kind().
type Envelope struct {
	ID            string         `json:"id"`
	Type          domain.Kind    `json:"type"`
	Role          string         `json:"role"`
	CorrelationID string         `json:"correlationId"`
	CausationID   string         `json:"causationId,omitempty"`
	Priority      int            `json:"priority"`
	CreatedAt     time.Time      `json:"createdAt"`
	Payload       domain.Payload `json:"payload"`
}

type wireEnvelope struct {
	ID            string          `json:"id"`
	Type          domain.Kind     `json:"type"`
	Role          string          `json:"role"`
	CorrelationID string          `json:"correlationId"`
	CausationID   string          `json:"causationId,omitempty"`
	Priority      int             `json:"priority"`
	CreatedAt     time.Time       `json:"createdAt"`
	Payload       json.RawMessage `json:"payload"`
}

// StoryID returns the story the payload belongs to.
func (e Envelope) StoryID() domain.StoryID {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Story()
}

// Validate checks the envelope's structural fields and the payload's own rules.
func (e Envelope) Validate() error {
	err := validation.ValidateStruct(&e,
		validation.Field(&e.ID, validation.Required, is.UUID),
		validation.Field(&e.Type, validation.Required),
		validation.Field(&e.Role, validation.Required),
		validation.Field(&e.CorrelationID, validation.Required),
		validation.Field(&e.Priority, validation.Min(MinPriority), validation.Max(MaxPriority)),
		validation.Field(&e.CreatedAt, validation.Required),
		validation.Field(&e.Payload, validation.NotNil),
	)
	if err != nil {
		return domain.NewValidationError("envelope", err)
	}
	if e.Payload.Kind() != e.Type {
		return fmt.Errorf("%w: type %s carries %s", domain.ErrKindMismatch, e.Type, e.Payload.Kind())
	}
	return nil
}

// Encode validates and serializes an envelope.
func Encode(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	data, err := json.Marshal(wireEnvelope{
		ID:            e.ID,
		Type:          e.Type,
		Role:          e.Role,
		CorrelationID: e.CorrelationID,
		CausationID:   e.CausationID,
		Priority:      e.Priority,
		CreatedAt:     e.CreatedAt,
		Payload:       payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

// Decode parses an envelope and decodes its payload once into the concrete
// type named by the type discriminator. It fails with domain.ErrUnknownType
// for unregistered types and domain.ErrKindMismatch when the payload does not
// have the shape of that type.
func Decode(data []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, domain.NewValidationError("envelope", fmt.Errorf("malformed json: %w", err))
	}

	decode, ok := registry[w.Type]
	if !ok {
		return Envelope{}, fmt.Errorf("%w: %q", domain.ErrUnknownType, w.Type)
	}
	if len(w.Payload) == 0 || string(w.Payload) == "null" {
		return Envelope{}, &domain.ValidationError{Subject: "envelope", Reasons: []string{"payload: is required"}}
	}

	payload, err := decode(w.Payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %s payload: %w", domain.ErrKindMismatch, w.Type, err)
	}

	env := Envelope{
		ID:            w.ID,
		Type:          w.Type,
		Role:          w.Role,
		CorrelationID: w.CorrelationID,
		CausationID:   w.CausationID,
		Priority:      w.Priority,
		CreatedAt:     w.CreatedAt,
		Payload:       payload,
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

type payloadDecoder func(raw json.RawMessage) (domain.Payload, error)

var registry = map[domain.Kind]payloadDecoder{
	domain.KindStoryPitch:       decodeAs[domain.StoryPitch],
	domain.KindAssignment:       decodeAs[domain.Assignment],
	domain.KindDraft:            decodeAs[domain.Draft],
	domain.KindFactCheckResult:  decodeAs[domain.FactCheckResult],
	domain.KindCopyEditResult:   decodeAs[domain.CopyEditResult],
	domain.KindPackagingResult:  decodeAs[domain.PackagingResult],
	domain.KindPublishRequest:   decodeAs[domain.PublishRequest],
	domain.KindDistributionPlan: decodeAs[domain.DistributionPlan],
}

// Known reports whether kind is registered.
func Known(kind domain.Kind) bool {
	_, ok := registry[kind]
	return ok
}

func decodeAs[T domain.Payload](raw json.RawMessage) (domain.Payload, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("trailing data after payload")
	}
	if v.Story() == "" {
		return nil, fmt.Errorf("storyId is required")
	}
	return v, nil
}
