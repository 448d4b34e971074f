// Package apierr is the structured error taxonomy of spec §7: a small,
// closed set of business-error codes that every handler returns in-band
// rather than panicking on, plus the machinery to map each one onto a gRPC
// status and an HTTP status/JSON body for the two transports in §6.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code is one of the taxonomy values named in spec §7. Unlike a bare
// grpc/codes.Code, a Code here only ever takes one of the few values the
// core actually raises; Internal is reserved for unexpected host/transport
// failures that Wrap wraps defensively.
type Code int

const (
	OK Code = iota
	FailedPrecondition
	InvalidArgument
	NotFound
	Internal
)

func (c Code) grpcCode() codes.Code {
	switch c {
	case OK:
		return codes.OK
	case FailedPrecondition:
		return codes.FailedPrecondition
	case InvalidArgument:
		return codes.InvalidArgument
	case NotFound:
		return codes.NotFound
	default:
		return codes.Internal
	}
}

func (c Code) httpStatus() int {
	switch c {
	case FailedPrecondition:
		return http.StatusPreconditionFailed
	case InvalidArgument:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// httpStatusForGRPC maps a grpc/codes.Code onto an HTTP status, for errors
// that reach WriteHTTP already normalized by Wrap (and so are no longer a
// *Error we can switch on directly).
func httpStatusForGRPC(code codes.Code) int {
	switch code {
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error is a structured business error carrying one taxonomy Code plus a
// human-readable message and optional detail fields, surfaced identically
// over gRPC and JSON-over-HTTP per spec §6/§7.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Convenience constructors matching spec §7's taxonomy.

func FailedPreconditionf(format string, args ...any) *Error {
	return New(FailedPrecondition, fmt.Sprintf(format, args...))
}

func InvalidArgumentf(format string, args ...any) *Error {
	return New(InvalidArgument, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...any) *Error {
	return New(NotFound, fmt.Sprintf(format, args...))
}

// GRPCStatus lets status.FromError/status.Convert recognize *Error
// directly, since it implements the interface grpc/status looks for.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.Code.grpcCode(), e.Error())
}

// Wrap converts any error into a gRPC status error: business errors keep
// their taxonomy code, anything else (host transaction conflicts, I/O
// failures) becomes codes.Internal rather than leaking raw error text as a
// success-shaped response.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	if apiErr, ok := err.(*Error); ok {
		return apiErr.GRPCStatus().Err()
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codes.Internal, err.Error())
}

// HTTPBody is the JSON status body for the HTTP transport, mirroring the
// structure google.golang.org/grpc/status uses so the same taxonomy reads
// identically over either encoding, per spec §6.
type HTTPBody struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// WriteHTTP writes err as a JSON status body with the taxonomy's HTTP
// status code. A *Error is read directly (keeping its Details); anything
// that has already passed through Wrap (the common case: every Server
// method returns a grpc status error, not a raw *Error) is read back via
// status.FromError so the code survives the round trip. Anything else
// is reported as 500 Internal with a generic message, so internal detail
// never leaks to a client.
func WriteHTTP(w http.ResponseWriter, err error) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(apiErr.Code.httpStatus())
		_ = json.NewEncoder(w).Encode(HTTPBody{
			Code:    int(apiErr.Code.grpcCode()),
			Message: apiErr.Message,
			Details: apiErr.Details,
		})
		return
	}

	st, ok := status.FromError(err)
	if !ok {
		st = status.New(codes.Internal, "internal error")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusForGRPC(st.Code()))
	_ = json.NewEncoder(w).Encode(HTTPBody{Code: int(st.Code()), Message: st.Message()})
}

// BadRequest and UnsupportedMediaType are the two pure-transport failures
// named in spec §7 (bad JSON body, wrong content type) that never reach
// the business-error taxonomy above.

func BadRequest(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(HTTPBody{Code: int(codes.InvalidArgument), Message: message})
}

func UnsupportedMediaType(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnsupportedMediaType)
	_ = json.NewEncoder(w).Encode(HTTPBody{Code: int(codes.InvalidArgument), Message: message})
}
