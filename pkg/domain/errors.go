package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var (
	// ErrValidation marks a payload or envelope that fails structural rules.
	// Never retried.
	ErrValidation = errors.New("validation failed")
	// ErrTransient marks a dependency that is temporarily unavailable.
	ErrTransient = errors.New("transient dependency error")
	// ErrPermanent marks a malformed or unsupported dependency response.
	ErrPermanent = errors.New("permanent dependency error")
	// ErrOrchestrationTimeout marks an external signal that did not arrive in time.
	ErrOrchestrationTimeout = errors.New("orchestration timeout")

	ErrInstanceExists   = errors.New("orchestration instance already exists")
	ErrInstanceNotFound = errors.New("orchestration instance not found")
	ErrVersionConflict  = errors.New("orchestration instance version conflict")
	ErrLeaseHeld        = errors.New("orchestration instance leased by another owner")
	ErrInvalidState     = errors.New("invalid instance state")

	ErrUnknownType  = errors.New("unknown envelope type")
	ErrKindMismatch = errors.New("payload kind does not match envelope type")
)

// Wrap tags err with a classification marker so callers can match either the
// marker or the underlying cause with errors.Is.
func Wrap(marker error, component, op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s %s: %w", marker, component, op, err)
}

// Transient wraps err as a retryable dependency failure.
func Transient(component, op string, err error) error {
	return Wrap(ErrTransient, component, op, err)
}

// Permanent wraps err as a non-retryable dependency failure.
func Permanent(component, op string, err error) error {
	return Wrap(ErrPermanent, component, op, err)
}

// ValidationError lists the reasons a subject was rejected.
type ValidationError struct {
	Subject string
	Reasons []string
}

func (e *ValidationError) Error() string {
	if len(e.Reasons) == 0 {
		return fmt.Sprintf("invalid %s", e.Subject)
	}
	return fmt.Sprintf("invalid %s: %s", e.Subject, strings.Join(e.Reasons, "; "))
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError converts ozzo validation output into a ValidationError.
// It returns nil when err is nil.
func NewValidationError(subject string, err error) error {
	if err == nil {
		return nil
	}

	var internal validation.InternalError
	if errors.As(err, &internal) {
		return fmt.Errorf("failed to validate %s: %w", subject, err)
	}

	var errs validation.Errors
	if !errors.As(err, &errs) {
		return &ValidationError{Subject: subject, Reasons: []string{err.Error()}}
	}

	reasons := make([]string, 0, len(errs))
	for field, fieldErr := range errs {
		if fieldErr == nil {
			continue
		}
		reasons = append(reasons, fmt.Sprintf("%s: %s", field, fieldErr.Error()))
	}
	sort.Strings(reasons)
	return &ValidationError{Subject: subject, Reasons: reasons}
}
