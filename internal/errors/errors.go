// Package errors provides structured error handling for portsweep
// operations. It defines error codes, error types, and utilities for
// creating and classifying errors so callers can tell fatal conditions
// (resolution failure, catastrophic transport errors) apart from
// recoverable ones (probe database unavailable, script failures).
package errors

import (
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodePermission    ErrorCode = "PERMISSION"

	// Network and scanning errors.
	CodeResolutionFailed   ErrorCode = "RESOLUTION_FAILED"
	CodeNetworkUnreachable ErrorCode = "NETWORK_UNREACHABLE"
	CodeHostUnreachable    ErrorCode = "HOST_UNREACHABLE"
	CodeScanFailed         ErrorCode = "SCAN_FAILED"
	CodeTargetInvalid      ErrorCode = "TARGET_INVALID"

	// Service detection errors.
	CodeProbeLoad    ErrorCode = "PROBE_LOAD"
	CodeProbeFailed  ErrorCode = "PROBE_FAILED"
	CodeMatchFailed  ErrorCode = "MATCH_FAILED"
	CodeScriptFailed ErrorCode = "SCRIPT_FAILED"

	// File system errors.
	CodeFileNotFound   ErrorCode = "FILE_NOT_FOUND"
	CodeFilePermission ErrorCode = "FILE_PERMISSION"
)

// ScanError represents an error that occurred during scanning operations.
type ScanError struct {
	Code      ErrorCode
	Message   string
	Target    string
	Operation string
	Cause     error
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("[%s] %s (target: %s)", e.Code, e.Message, e.Target)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *ScanError) WithContext(key string, value interface{}) *ScanError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewScanError creates a new scan error with the specified code and message.
func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewScanErrorWithTarget creates a scan error for a specific target.
func NewScanErrorWithTarget(code ErrorCode, message, target string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Context: make(map[string]interface{}),
	}
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// WrapScanErrorWithTarget wraps an error with target information.
func WrapScanErrorWithTarget(code ErrorCode, message, target string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// DetectionError represents service detection errors. They never abort
// a scan; the port keeps its state and the service field stays empty.
type DetectionError struct {
	Code    ErrorCode
	Message string
	Probe   string
	Port    uint16
	Cause   error
}

// Error implements the error interface.
func (e *DetectionError) Error() string {
	if e.Probe != "" {
		return fmt.Sprintf("[%s] %s (probe: %s, port: %d)", e.Code, e.Message, e.Probe, e.Port)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DetectionError) Unwrap() error {
	return e.Cause
}

// NewDetectionError creates a new service detection error.
func NewDetectionError(code ErrorCode, message string) *DetectionError {
	return &DetectionError{
		Code:    code,
		Message: message,
	}
}

// WrapDetectionError wraps an existing error as a detection error.
func WrapDetectionError(code ErrorCode, message string, err error) *DetectionError {
	return &DetectionError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new configuration error.
func NewConfigError(code ErrorCode, message string) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
	}
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Utility functions for common error operations

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	switch e := err.(type) {
	case *ScanError:
		return e.Code == code
	case *DetectionError:
		return e.Code == code
	case *ConfigError:
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error if it has one.
func GetCode(err error) ErrorCode {
	switch e := err.(type) {
	case *ScanError:
		return e.Code
	case *DetectionError:
		return e.Code
	case *ConfigError:
		return e.Code
	}
	return CodeUnknown
}

// IsRecoverable determines if an error may be degraded gracefully
// instead of terminating the run.
func IsRecoverable(err error) bool {
	code := GetCode(err)
	switch code {
	case CodeProbeLoad, CodeProbeFailed, CodeMatchFailed, CodeScriptFailed:
		return true
	default:
		return false
	}
}

// IsFatal determines if an error indicates a fatal condition that should stop execution.
func IsFatal(err error) bool {
	code := GetCode(err)
	switch code {
	case CodeResolutionFailed, CodeConfiguration, CodePermission:
		return true
	default:
		return false
	}
}

// Common error creation functions

// ErrInvalidTarget creates an error for invalid scan targets.
func ErrInvalidTarget(target string) *ScanError {
	return NewScanErrorWithTarget(CodeTargetInvalid, "Invalid target specification", target)
}

// ErrResolutionFailed creates an error for a hostname with no addresses.
func ErrResolutionFailed(target string) *ScanError {
	return NewScanErrorWithTarget(CodeResolutionFailed, "No addresses found for target", target)
}
