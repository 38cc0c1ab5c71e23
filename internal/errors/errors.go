// Package errors provides the structured error type shared by every tablewatch
// component. Codes are plain strings so they read well in logs and reports, and
// each one maps onto a canonical gRPC status code.
package errors

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrorCode classifies a failure.
type ErrorCode string

const (
	CodeUnavailableDependency ErrorCode = "UNAVAILABLE_DEPENDENCY"
	CodeConnectionFailed      ErrorCode = "CONNECTION_FAILED"
	CodeTabNotFound           ErrorCode = "TAB_NOT_FOUND"
	CodeTimeout               ErrorCode = "TIMEOUT"
	CodeProtocol              ErrorCode = "PROTOCOL"
	CodeInvalidPayload        ErrorCode = "INVALID_PAYLOAD"
	CodeNotFound              ErrorCode = "NOT_FOUND"
	CodeInvalidArgument       ErrorCode = "INVALID_ARGUMENT"
	CodeStorageFailed         ErrorCode = "STORAGE_FAILED"
	CodeInternal              ErrorCode = "INTERNAL"
	CodeCancelled             ErrorCode = "CANCELLED"
)

var grpcCodeMap = map[ErrorCode]codes.Code{
	CodeUnavailableDependency: codes.FailedPrecondition,
	CodeConnectionFailed:      codes.Unavailable,
	CodeTabNotFound:           codes.Unavailable,
	CodeTimeout:               codes.DeadlineExceeded,
	CodeProtocol:              codes.Unavailable,
	CodeInvalidPayload:        codes.DataLoss,
	CodeNotFound:              codes.NotFound,
	CodeInvalidArgument:       codes.InvalidArgument,
	CodeStorageFailed:         codes.Internal,
	CodeInternal:              codes.Internal,
	CodeCancelled:             codes.Canceled,
}

// AppError carries a code, a message, optional metadata and the wrapped cause.
type AppError struct {
	Code     ErrorCode
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Code]; ok {
		return c
	}
	return codes.Unknown
}

// GRPCStatus lets status.FromError understand any AppError. The code and
// metadata travel as a structpb detail.
func (e *AppError) GRPCStatus() *status.Status {
	st := status.New(e.GRPCCode(), e.Error())
	fields := map[string]any{"code": string(e.Code), "message": e.Message}
	for k, v := range e.Metadata {
		fields["meta."+k] = v
	}
	detail, err := structpb.NewStruct(fields)
	if err != nil {
		return st
	}
	if withDetail, err := st.WithDetails(detail); err == nil {
		return withDetail
	}
	return st
}

// New creates a new AppError with the given code and message.
func New(code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code ErrorCode, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds a metadata entry and returns the receiver.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// CodeOf returns the code of the outermost AppError in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// FromStatus rebuilds an AppError from a status produced by GRPCStatus.
func FromStatus(st *status.Status) *AppError {
	for _, d := range st.Details() {
		s, ok := d.(*structpb.Struct)
		if !ok {
			continue
		}
		m := s.AsMap()
		code, _ := m["code"].(string)
		msg, _ := m["message"].(string)
		e := &AppError{Code: ErrorCode(code), Message: msg}
		for k, v := range m {
			if len(k) > 5 && k[:5] == "meta." {
				if sv, ok := v.(string); ok {
					e.WithMetadata(k[5:], sv)
				}
			}
		}
		return e
	}
	return &AppError{Code: fromGRPCCode(st.Code()), Message: st.Message()}
}

func fromGRPCCode(c codes.Code) ErrorCode {
	switch c {
	case codes.InvalidArgument:
		return CodeInvalidArgument
	case codes.NotFound:
		return CodeNotFound
	case codes.Unavailable:
		return CodeConnectionFailed
	case codes.DeadlineExceeded:
		return CodeTimeout
	case codes.Canceled:
		return CodeCancelled
	case codes.FailedPrecondition:
		return CodeUnavailableDependency
	case codes.DataLoss:
		return CodeInvalidPayload
	default:
		return CodeInternal
	}
}

// IsCode reports whether any AppError in err's chain has the given code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Cause
	}
	return false
}

// IsRetryable reports whether err is transient. Caller misuse and missing
// dependencies never retry.
func IsRetryable(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case CodeUnavailableDependency, CodeInvalidArgument, CodeNotFound, CodeCancelled:
		return false
	}
	switch appErr.GRPCCode() {
	case codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
