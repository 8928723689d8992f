package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Marker returns the sentinel marker err carries, or nil when it has none.
func Marker(err error) error {
	for _, m := range []error{ErrValidation, ErrConfiguration, ErrNotFound, ErrTimeout, ErrTransient, ErrExternalTool} {
		if errors.Is(err, m) {
			return m
		}
	}
	return nil
}

// Outcome classifies a failure for reporting.
type Outcome string

const (
	OutcomeInvalid Outcome = "invalid"
	OutcomeTimeout Outcome = "timeout"
	OutcomeFailed  Outcome = "failed"
)

// FailureOutcome maps an error to the outcome recorded for the step that
// produced it. Caller mistakes (bad input, missing config or files) are
// "invalid"; everything else is a failed step.
func FailureOutcome(err error) Outcome {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConfiguration), errors.Is(err, ErrNotFound):
		return OutcomeInvalid
	case errors.Is(err, ErrTimeout):
		return OutcomeTimeout
	default:
		return OutcomeFailed
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
