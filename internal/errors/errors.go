package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the card scan pipeline
 *
 * Design Pattern: Factory Pattern for error creation
 * Per-candidate and per-tick failures are isolated by callers; only camera
 * acquisition and an index build without cache are fatal to a session.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Capture errors
	ErrorCameraUnavailable ErrorCode = "CAMERA_UNAVAILABLE"
	ErrorDeviceBusy        ErrorCode = "DEVICE_BUSY"

	// Recognition errors
	ErrorOCRTimeout ErrorCode = "OCR_TIMEOUT"
	ErrorOCRFailed  ErrorCode = "OCR_FAILED"

	// Catalog errors
	ErrorCatalogLookupFailed ErrorCode = "CATALOG_LOOKUP_FAILED"
	ErrorIndexBuildFailed    ErrorCode = "INDEX_BUILD_FAILED"

	// Configuration errors
	ErrorInvalidConfig ErrorCode = "INVALID_CONFIG"
)

// ScanError represents a structured scan pipeline error
type ScanError struct {
	Code      ErrorCode
	Message   string
	SessionID string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ScanError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ScanError) Unwrap() error {
	return e.Cause
}

// WithSession returns a copy of the error bound to a scan session
func (e *ScanError) WithSession(sessionID string) *ScanError {
	cp := *e
	cp.SessionID = sessionID
	return &cp
}

// Factory functions for common errors

func NewCameraUnavailableError(source string, cause error) *ScanError {
	return &ScanError{
		Code:      ErrorCameraUnavailable,
		Message:   fmt.Sprintf("No active capture stream on %s", source),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"source": source,
		},
		Cause: cause,
	}
}

func NewDeviceBusyError(owner string) *ScanError {
	return &ScanError{
		Code:      ErrorDeviceBusy,
		Message:   "Capture device is held by another session",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"owner": owner,
		},
	}
}

func NewOCRTimeoutError(region string, duration time.Duration, cause error) *ScanError {
	return &ScanError{
		Code:      ErrorOCRTimeout,
		Message:   fmt.Sprintf("Recognition of %s region timed out after %v", region, duration),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"region":           region,
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewOCRFailedError(region string, cause error) *ScanError {
	return &ScanError{
		Code:      ErrorOCRFailed,
		Message:   fmt.Sprintf("Recognition failed for %s region", region),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"region": region,
		},
		Cause: cause,
	}
}

func NewCatalogLookupError(query string, cause error) *ScanError {
	return &ScanError{
		Code:      ErrorCatalogLookupFailed,
		Message:   fmt.Sprintf("Catalog lookup failed for %q", query),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"query": query,
		},
		Cause: cause,
	}
}

func NewIndexBuildError(cause error) *ScanError {
	return &ScanError{
		Code:      ErrorIndexBuildFailed,
		Message:   "Name index could not be built and no cached snapshot exists",
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewInvalidConfigError(field string, value interface{}, reason string) *ScanError {
	return &ScanError{
		Code:      ErrorInvalidConfig,
		Message:   fmt.Sprintf("%s %s", field, reason),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"field": field,
			"value": value,
		},
	}
}

// HasCode reports whether any error in err's chain is a ScanError with the given code
func HasCode(err error, code ErrorCode) bool {
	var scanErr *ScanError
	if stderrors.As(err, &scanErr) {
		return scanErr.Code == code
	}
	return false
}

// CodeOf returns the code of the first ScanError in err's chain, or "" when there is none
func CodeOf(err error) ErrorCode {
	var scanErr *ScanError
	if stderrors.As(err, &scanErr) {
		return scanErr.Code
	}
	return ""
}

// ToMap converts error to map for persistence and API responses
func (e *ScanError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	if e.SessionID != "" {
		result["session_id"] = e.SessionID
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
