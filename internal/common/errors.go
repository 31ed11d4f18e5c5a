package common

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
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

// Common application errors
var (
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInternal          = errors.New("internal error")
	ErrDatabase          = errors.New("database error")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("concurrent modification")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Classified pipeline error codes. Whether a code is retried is decided by
// the job manager's retry policy, not here.
const (
	CodeUnsupportedFormat           = "UNSUPPORTED_FORMAT"
	CodeDocumentTooLarge            = "DOCUMENT_TOO_LARGE"
	CodeCapabilityTimeout           = "CAPABILITY_TIMEOUT"
	CodeCapabilityRateLimited       = "CAPABILITY_RATE_LIMITED"
	CodeCapabilityUnavailable       = "CAPABILITY_UNAVAILABLE"
	CodeCapabilityMalformedResponse = "CAPABILITY_MALFORMED_RESPONSE"
	CodeCapabilityRejectedInput     = "CAPABILITY_REJECTED_INPUT"
	CodeValidationShapeMismatch     = "VALIDATION_SHAPE_MISMATCH"
	CodeStoreWriteFailure           = "STORE_WRITE_FAILURE"
	CodeSourceUnavailable           = "SOURCE_UNAVAILABLE"
	CodeCanceled                    = "CANCELED"
	CodeInvalidInput                = "INVALID_INPUT"
	CodeInternal                    = "INTERNAL"
	CodeConfig                      = "CONFIG_ERROR"
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf returns the classification of err. Unclassified context errors map
// to timeout/canceled; anything else is INTERNAL.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeCapabilityTimeout
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrValidation):
		return CodeInvalidInput
	}
	return CodeInternal
}

// Classify makes sure err carries a code, wrapping it as INTERNAL (or the
// context-derived code) if it does not.
func Classify(err error) *AppError {
	if err == nil {
		return nil
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	return NewAppError(CodeOf(err), err.Error(), err)
}

// HasCode reports whether err is classified with code.
func HasCode(err error, code string) bool {
	return CodeOf(err) == code
}

// gRPC error helpers
func InvalidArgumentError(message string) error {
	return status.Error(codes.InvalidArgument, message)
}

func InternalError(message string) error {
	return status.Error(codes.Internal, message)
}

func InvalidArgumentErrorf(format string, args ...interface{}) error {
	return InvalidArgumentError(fmt.Sprintf(format, args...))
}

func InternalErrorf(format string, args ...interface{}) error {
	return InternalError(fmt.Sprintf(format, args...))
}

// ToStatus maps a classified error onto a gRPC status error.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ErrConflict):
		return status.Error(codes.Aborted, err.Error())
	}
	switch CodeOf(err) {
	case CodeInvalidInput, CodeUnsupportedFormat, CodeDocumentTooLarge, CodeCapabilityRejectedInput:
		return status.Error(codes.InvalidArgument, err.Error())
	case CodeCapabilityTimeout:
		return status.Error(codes.DeadlineExceeded, err.Error())
	case CodeCapabilityRateLimited:
		return status.Error(codes.ResourceExhausted, err.Error())
	case CodeCapabilityUnavailable, CodeStoreWriteFailure:
		return status.Error(codes.Unavailable, err.Error())
	case CodeCanceled:
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
