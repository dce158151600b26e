package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode classifies calibration failures.
type ErrorCode string

const (
	// Input errors abort the step they belong to.
	ErrorMalformedInput ErrorCode = "MALFORMED_INPUT"

	// The following degrade the outcome but never abort a step.
	ErrorRenderFailed        ErrorCode = "RENDER_FAILED"
	ErrorMeasurementDegraded ErrorCode = "MEASUREMENT_DEGRADED"
	ErrorStorageFailed       ErrorCode = "STORAGE_FAILED"
)

// CalibrationError represents a structured calibration error
type CalibrationError struct {
	Code      ErrorCode
	Message   string
	StepID    string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *CalibrationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CalibrationError) Unwrap() error {
	return e.Cause
}

// Factory functions for common errors

func NewMalformedInputError(input string, reason string) *CalibrationError {
	return &CalibrationError{
		Code:      ErrorMalformedInput,
		Message:   fmt.Sprintf("malformed input %q: %s", input, reason),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"input":  input,
			"reason": reason,
		},
	}
}

func NewRenderFailedError(stepID string, iteration int, cause error) *CalibrationError {
	return &CalibrationError{
		Code:      ErrorRenderFailed,
		Message:   fmt.Sprintf("render failed at iteration %d", iteration),
		StepID:    stepID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"iteration": iteration,
		},
		Cause: cause,
	}
}

func NewMeasurementDegradedError(rows int) *CalibrationError {
	return &CalibrationError{
		Code:      ErrorMeasurementDegraded,
		Message:   fmt.Sprintf("only %d qualifying text rows, need 3", rows),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"rows": rows,
		},
	}
}

func NewStorageFailedError(stepID string, path string, cause error) *CalibrationError {
	return &CalibrationError{
		Code:      ErrorStorageFailed,
		Message:   fmt.Sprintf("failed to write %s", path),
		StepID:    stepID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"path": path,
		},
		Cause: cause,
	}
}

// HasCode reports whether err wraps a CalibrationError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var ce *CalibrationError
	if stderrors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// ToMap converts error to map for result records
func (e *CalibrationError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}
	if e.StepID != "" {
		result["step_id"] = e.StepID
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
