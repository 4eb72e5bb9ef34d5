package errors

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryValidation       ErrorCategory = "validation"
	CategoryInsufficientData ErrorCategory = "insufficient_data"
	CategoryUpstream         ErrorCategory = "upstream"
	CategoryComputation      ErrorCategory = "computation"
	CategoryConfiguration    ErrorCategory = "configuration"
	CategoryFile             ErrorCategory = "file"
	CategoryParse            ErrorCategory = "parse"
	CategoryInternal         ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// Validation errors
	CodeInvalidRange   ErrorCode = "invalid_range"
	CodeInvalidGroupBy ErrorCode = "invalid_group_by"
	CodeInvalidAmount  ErrorCode = "invalid_amount"
	CodeInvalidDate    ErrorCode = "invalid_date"
	CodeMissingField   ErrorCode = "missing_field"
	CodeOutOfRange     ErrorCode = "out_of_range"

	// Insufficient data errors
	CodeInsufficientData ErrorCode = "insufficient_data"

	// Upstream errors
	CodeServiceUnreachable ErrorCode = "service_unreachable"
	CodeServiceTimeout     ErrorCode = "service_timeout"
	CodeServiceRejected    ErrorCode = "service_rejected"

	// Computation errors
	CodeDivisionByZero ErrorCode = "division_by_zero"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// File and parse errors
	CodeFileNotFound   ErrorCode = "file_not_found"
	CodeFilePermission ErrorCode = "file_permission"
	CodeFileCorrupted  ErrorCode = "file_corrupted"
	CodeInvalidFormat  ErrorCode = "invalid_format"
	CodeMissingColumn  ErrorCode = "missing_column"
	CodeEncodingError  ErrorCode = "encoding_error"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
	CodeRepositoryError ErrorCode = "repository_error"
)

// EngineError is the base error type for all application errors
type EngineError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate exit code for the error
func (e *EngineError) GetExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategoryParse, CategoryValidation:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryInsufficientData, CategoryComputation, CategoryInternal:
		return 5
	case CategoryUpstream:
		return 6
	default:
		return 1
	}
}

// HTTPStatus maps the error onto the status code returned to API callers
func (e *EngineError) HTTPStatus() int {
	switch e.Category {
	case CategoryValidation, CategoryParse:
		return http.StatusBadRequest
	case CategoryInsufficientData:
		return http.StatusUnprocessableEntity
	case CategoryUpstream:
		switch e.Code {
		case CodeServiceTimeout:
			return http.StatusGatewayTimeout
		case CodeServiceUnreachable:
			return http.StatusServiceUnavailable
		default:
			return http.StatusBadGateway
		}
	default:
		return http.StatusInternalServerError
	}
}

// WithContext adds context information to the error
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *EngineError) WithSuggestion(suggestion string) *EngineError {
	e.Suggestion = suggestion
	return e
}

// New creates a new EngineError
func New(category ErrorCategory, code ErrorCode, message string) *EngineError {
	return &EngineError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with EngineError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *EngineError {
	if err == nil {
		return nil
	}

	return &EngineError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// stackTracer interface for extracting stack traces
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// Specific error constructors

// ValidationError creates a validation-related error
func ValidationError(code ErrorCode, field string, value interface{}, err error) *EngineError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidRange:
		message = fmt.Sprintf("invalid date range in '%s': %v", field, value)
		suggestion = "make sure 'from' is on or before 'to' and both use YYYY-MM-DD"
	case CodeInvalidGroupBy:
		message = fmt.Sprintf("invalid grouping '%s': %v", field, value)
		suggestion = "use one of: day, week, month"
	case CodeInvalidAmount:
		message = fmt.Sprintf("invalid amount in field '%s': %v", field, value)
		suggestion = "ensure amounts are valid non-negative decimal numbers (e.g., '12.34')"
	case CodeInvalidDate:
		message = fmt.Sprintf("invalid date in field '%s': %v", field, value)
		suggestion = "use date format YYYY-MM-DD"
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	case CodeOutOfRange:
		message = fmt.Sprintf("value out of range in field '%s': %v", field, value)
		suggestion = "ensure the value is within the acceptable range"
	default:
		message = fmt.Sprintf("validation error in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	var result *EngineError
	if err != nil {
		result = Wrap(err, CategoryValidation, code, message)
	} else {
		result = New(CategoryValidation, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// InsufficientDataError reports that an operation needs more input than it was given.
// The required and available counts are kept in the context so callers can explain the gap.
func InsufficientDataError(operation string, required, available int) *EngineError {
	return New(
		CategoryInsufficientData,
		CodeInsufficientData,
		fmt.Sprintf("insufficient data for %s: %d required, %d available", operation, required, available),
	).
		WithSuggestion("collect more history before running this operation").
		WithContext("operation", operation).
		WithContext("required", required).
		WithContext("available", available)
}

// UpstreamError creates an error for a failed call to an external service
func UpstreamError(code ErrorCode, endpoint string, err error) *EngineError {
	var message string
	var suggestion string

	switch code {
	case CodeServiceUnreachable:
		message = fmt.Sprintf("service unreachable: %s", endpoint)
		suggestion = "check that the forecasting service is running and reachable"
	case CodeServiceTimeout:
		message = fmt.Sprintf("timeout calling %s", endpoint)
		suggestion = "retry later or increase the service timeout"
	case CodeServiceRejected:
		message = fmt.Sprintf("service rejected request to %s", endpoint)
		suggestion = "inspect the request payload and the service logs"
	default:
		message = fmt.Sprintf("upstream error: %s", endpoint)
		suggestion = "check the upstream service and try again"
	}

	var result *EngineError
	if err != nil {
		result = Wrap(err, CategoryUpstream, code, message)
	} else {
		result = New(CategoryUpstream, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("endpoint", endpoint)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *EngineError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this configuration setting or use a config file"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	var result *EngineError
	if err != nil {
		result = Wrap(err, CategoryConfiguration, code, message)
	} else {
		result = New(CategoryConfiguration, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// FileError creates a file-related error
func FileError(code ErrorCode, path string, err error) *EngineError {
	var message string
	var suggestion string

	switch code {
	case CodeFileNotFound:
		message = fmt.Sprintf("file not found: %s", path)
		suggestion = "check if the file path is correct and the file exists"
	case CodeFilePermission:
		message = fmt.Sprintf("permission denied accessing file: %s", path)
		suggestion = "check file permissions and ensure you have read access"
	case CodeFileCorrupted:
		message = fmt.Sprintf("file appears to be corrupted: %s", path)
		suggestion = "verify the file integrity and try using a backup copy"
	default:
		message = fmt.Sprintf("file error: %s", path)
		suggestion = "check the file and try again"
	}

	var result *EngineError
	if err != nil {
		result = Wrap(err, CategoryFile, code, message)
	} else {
		result = New(CategoryFile, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("file_path", path)
}

// ParseError creates a parsing-related error
func ParseError(code ErrorCode, file string, line int, column string, value string, err error) *EngineError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidFormat:
		message = fmt.Sprintf("invalid format in file %s at line %d, column '%s': '%s'", file, line, column, value)
		suggestion = "check the data format and ensure it matches the expected structure"
	case CodeMissingColumn:
		message = fmt.Sprintf("missing required column '%s' in file %s", column, file)
		suggestion = "verify the file has all required columns with correct headers"
	case CodeEncodingError:
		message = fmt.Sprintf("encoding error in file %s at line %d", file, line)
		suggestion = "ensure the file is saved in UTF-8 encoding"
	default:
		message = fmt.Sprintf("parse error in file %s at line %d", file, line)
		suggestion = "check the file format and data integrity"
	}

	var result *EngineError
	if err != nil {
		result = Wrap(err, CategoryParse, code, message)
	} else {
		result = New(CategoryParse, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("file", file).
		WithContext("line", line).
		WithContext("column", column).
		WithContext("value", value)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *EngineError {
	var message string
	var suggestion string

	switch code {
	case CodeUnexpectedError:
		message = fmt.Sprintf("unexpected error during %s", operation)
		suggestion = "this is likely a bug - please report it with the error details"
	case CodeRepositoryError:
		message = fmt.Sprintf("failed to read data during %s", operation)
		suggestion = "check the data source connection and try again"
	default:
		message = fmt.Sprintf("internal error during %s", operation)
		suggestion = "try again or contact support if the problem persists"
	}

	var result *EngineError
	if err != nil {
		result = Wrap(err, CategoryInternal, code, message)
	} else {
		result = New(CategoryInternal, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// Utility functions

// AsEngineError extracts an EngineError from an error chain
func AsEngineError(err error) (*EngineError, bool) {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr, true
	}
	return nil, false
}

// IsCategory reports whether err carries an EngineError of the given category
func IsCategory(err error, category ErrorCategory) bool {
	engineErr, ok := AsEngineError(err)
	return ok && engineErr.Category == category
}

// IsUpstreamUnavailable reports whether err means the external service could not be reached in time
func IsUpstreamUnavailable(err error) bool {
	engineErr, ok := AsEngineError(err)
	if !ok || engineErr.Category != CategoryUpstream {
		return false
	}
	return engineErr.Code == CodeServiceUnreachable || engineErr.Code == CodeServiceTimeout
}

// WrapIfNeeded wraps an error if it's not already an EngineError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *EngineError {
	if err == nil {
		return nil
	}

	if engineErr, ok := AsEngineError(err); ok {
		return engineErr
	}

	return Wrap(err, category, code, message)
}
