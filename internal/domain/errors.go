package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a pipeline failure by how callers must react to it.
type ErrorKind string

const (
	// KindInputRejected is a complaint judged too short or unrelated to health.
	KindInputRejected ErrorKind = "input_rejected"
	// KindDegradedCapability is an unreachable or failing reasoning service.
	KindDegradedCapability ErrorKind = "degraded_capability"
	// KindPartialModelFailure is one classifier missing or erroring.
	KindPartialModelFailure ErrorKind = "partial_model_failure"
	// KindUnrecoverable aborts the run; no report is produced.
	KindUnrecoverable ErrorKind = "unrecoverable"
	// KindCancelled is a caller that stopped waiting. Other runs sharing the
	// computation are unaffected.
	KindCancelled ErrorKind = "cancelled"
)

// PipelineError is the structured failure surfaced by pipeline stages.
type PipelineError struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Stage     Stage     `json:"stage,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Err       error     `json:"-"`
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s at %s: %s", e.Kind, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// NewPipelineError creates a PipelineError with timestamp
func NewPipelineError(kind ErrorKind, stage Stage, err error) *PipelineError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &PipelineError{
		Kind:      kind,
		Message:   msg,
		Stage:     stage,
		Timestamp: time.Now().UTC(),
		Err:       err,
	}
}

// AsPipelineError extracts a PipelineError from err's chain.
func AsPipelineError(err error) (*PipelineError, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// Is makes every ValidationError match ErrInvalidAnswer.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidAnswer
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}
