package auth

import (
	"errors"
	"fmt"
)

// ErrorDomain identifies authentication errors produced by this SDK. The
// value is stable across platform SDKs so host apps can group errors from
// mixed fleets.
const ErrorDomain = "com.uber.rides-go-sdk.authenticationError"

// ErrorCode is the closed set of authentication failure classes. The string
// values are wire-stable and shared across platform SDKs; do not rename.
type ErrorCode string

const (
	CodeUserCancelled       ErrorCode = "cancelled"
	CodeAccessDenied        ErrorCode = "access_denied"
	CodeInvalidResponse     ErrorCode = "invalid_response"
	CodeInvalidClientID     ErrorCode = "invalid_client_id"
	CodeInvalidRedirectURI  ErrorCode = "invalid_redirect_uri"
	CodeServerError         ErrorCode = "server_error"
	CodeUnavailable         ErrorCode = "temporarily_unavailable"
	CodeNetworkError        ErrorCode = "network_error"
	CodeInvalidRequest      ErrorCode = "invalid_request"
	CodeMismatchingRedirect ErrorCode = "mismatching_redirect_uri"
	CodeNotSupported        ErrorCode = "not_supported"
	CodeTokenExpired        ErrorCode = "expired_jwt"
	CodeUnknown             ErrorCode = "unknown"
)

// Error is the typed failure surfaced by every authentication operation.
// Callers branch on Code; Message and the wrapped cause carry diagnostics.
type Error struct {
	Code    ErrorCode
	Message string
	cause   error
}

// NewError builds an Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf builds an Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a code and message to an underlying cause. The cause
// stays reachable through errors.Is/As.
func WrapError(err error, code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.cause == nil:
		return string(e.Code)
	case e.cause == nil:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	case e.Message == "":
		return fmt.Sprintf("%s: %v", e.Code, e.cause)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
}

func (e *Error) Unwrap() error { return e.cause }

// CodeOf extracts the ErrorCode from err. A nil error yields the empty code;
// an error without an *Error in its chain yields CodeUnknown.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Code
	}
	return CodeUnknown
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var authErr *Error
	return errors.As(err, &authErr) && authErr.Code == code
}

// redirectErrorCodes maps provider-reported error strings from redirect
// callbacks to the closed code set. Codes round-trip to themselves; the
// legacy "unauthorized" string has no code of its own and is mapped by
// MapRedirectError. Anything absent here falls through to CodeUnknown.
var redirectErrorCodes = map[string]ErrorCode{
	string(CodeUserCancelled):       CodeUserCancelled,
	string(CodeAccessDenied):        CodeAccessDenied,
	string(CodeInvalidResponse):     CodeInvalidResponse,
	string(CodeInvalidClientID):     CodeInvalidClientID,
	string(CodeInvalidRedirectURI):  CodeInvalidRedirectURI,
	string(CodeServerError):         CodeServerError,
	string(CodeUnavailable):         CodeUnavailable,
	string(CodeNetworkError):        CodeNetworkError,
	string(CodeInvalidRequest):      CodeInvalidRequest,
	string(CodeMismatchingRedirect): CodeMismatchingRedirect,
	string(CodeNotSupported):        CodeNotSupported,
	string(CodeTokenExpired):        CodeTokenExpired,
}

// rawUnauthorized is reported by the authorization service when the rider's
// web session has lapsed mid-flow.
const rawUnauthorized = "unauthorized"

// MapRedirectError resolves a provider error string to an ErrorCode.
// unauthorizedAsExpired selects the mapping for the "unauthorized" string:
// session-expired semantics (CodeTokenExpired) when true, CodeUnknown when
// false. Unrecognized strings always resolve to CodeUnknown so the error
// surface stays closed.
func MapRedirectError(raw string, unauthorizedAsExpired bool) ErrorCode {
	if raw == rawUnauthorized {
		if unauthorizedAsExpired {
			return CodeTokenExpired
		}
		return CodeUnknown
	}
	if code, ok := redirectErrorCodes[raw]; ok {
		return code
	}
	return CodeUnknown
}
