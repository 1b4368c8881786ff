package common

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Error taxonomy of the extraction pipeline.
var (
	// ErrInvalidInput rejects a request before any job is created.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedFormat means no extraction strategy exists for the content type.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrNativeExtractionInsufficient triggers the OCR fallback. Never stored as a job error.
	ErrNativeExtractionInsufficient = errors.New("native extraction insufficient")

	// ErrOCRFailure covers token exchange failures and OCR requests that exhausted retries.
	ErrOCRFailure = errors.New("ocr failure")

	// ErrPersistence is a job store or file store read/write failure.
	ErrPersistence = errors.New("persistence error")

	// ErrTimeout is returned by the poller when it stops waiting. The job outcome is unknown.
	ErrTimeout = errors.New("timed out waiting for job")

	// ErrUpstream is a failed call to a collaborator other than OCR (the scoring model).
	ErrUpstream = errors.New("upstream service error")

	ErrNotFound      = errors.New("resource not found")
	ErrTerminalState = errors.New("job already in terminal state")
	// ErrInvalidTransition is a status change that skips a lifecycle step, such as pending -> processed.
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrInternal      = errors.New("internal error")
	ErrValidation    = errors.New("validation failed")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// InvalidInputf builds an ErrInvalidInput with a formatted message.
func InvalidInputf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// PersistenceError tags err as a persistence failure while keeping it inspectable.
func PersistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// OCRFailure tags err as an OCR failure while keeping upstream detail (e.g. *googleapi.Error).
func OCRFailure(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrOCRFailure, err)
}

// HTTPStatus maps an error from the taxonomy to an HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTerminalState), errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ErrOCRFailure), errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, ErrPersistence):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
