// Package errors provides the standardized error taxonomy of the dispatcher.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeStoreError         ErrorCode = "STORE_ERROR"
	ErrCodeDeliveryError      ErrorCode = "DELIVERY_ERROR"
	ErrCodeJobProcessingError ErrorCode = "JOB_PROCESSING_ERROR"
	ErrCodeInvocationError    ErrorCode = "INVOCATION_ERROR"
	ErrCodeNoDevices          ErrorCode = "NO_DEVICES"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
)

// MaxErrorLength bounds the diagnostic stored in notification_jobs.last_error.
const MaxErrorLength = 2000

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// NewStoreError wraps a failed read or write against the job or device store.
func NewStoreError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStoreError,
		Message:   fmt.Sprintf("store operation %q failed", op),
		Details:   errText(err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewDeliveryError describes an unreachable gateway or an unparseable response.
func NewDeliveryError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDeliveryError,
		Message:   "push gateway delivery failed",
		Details:   errText(err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewJobProcessingError wraps anything that went wrong while handling one job.
func NewJobProcessingError(jobID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeJobProcessingError,
		Message:   "job processing failed",
		Details:   errText(err),
		Retryable: true,
		Metadata:  map[string]interface{}{"jobId": jobID},
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewInvocationError is returned when a dispatch run fails before any job is touched.
func NewInvocationError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvocationError,
		Message:   "dispatch invocation failed",
		Details:   errText(err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewNoDevicesError marks a recipient without any deliverable device.
func NewNoDevicesError(userID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNoDevices,
		Message:   "no deliverable devices",
		Details:   fmt.Sprintf("userId: %s", userID),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// Normalize ensures we always have a StandardError.
func Normalize(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "unexpected error",
		Details:   err.Error(),
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// HasCode reports whether err is a StandardError carrying code.
func HasCode(err error, code ErrorCode) bool {
	var stdErr *StandardError
	return stderrors.As(err, &stdErr) && stdErr.Code == code
}

// Truncate cuts s to at most max runes.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

// Summarize renders err as a last_error diagnostic of bounded length.
func Summarize(err error) string {
	if err == nil {
		return ""
	}
	return Truncate(err.Error(), MaxErrorLength)
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
