// Package domainerrors carries the coded error taxonomy shared by the session
// manager, the verification pipeline and the HTTP layer.
//
// Services return *Error values (usually through Wrap) so the transport layer
// can translate them without string matching:
//
//	if dErrors.HasCode(err, dErrors.CodeCredentialNotFound) { ... }
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error kind. Values are stable and appear in API responses.
type Code string

const (
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeInternal     Code = "internal_error"

	// Session lifecycle. Terminal for one connect attempt.
	CodeProviderNotFound Code = "provider_not_found"
	CodeNoAccounts       Code = "no_accounts"
	CodeRequestRejected  Code = "request_rejected"
	CodeWrongNetwork     Code = "wrong_network"
	CodeChainUnknown     Code = "chain_unknown"
	CodeChainAddRejected Code = "chain_add_rejected"

	// Verification pipeline. Halts the pipeline for one identifier.
	CodeCredentialNotFound Code = "credential_not_found"
	CodeTransportFailure   Code = "transport_failure"

	// Degradations. Absorbed locally, never surfaced as failures.
	CodeMetadataUnavailable Code = "metadata_unavailable"
	CodeAliasTimeout        Code = "alias_timeout"

	CodeExportFailed Code = "export_failed"

	CodeRateLimited  Code = "rate_limit_exceeded"
	CodeUnauthorized Code = "unauthorized"
)

// Error is a domain error with a machine-readable code.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
// Wrapping nil returns nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether the outermost domain error in err's chain carries code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf returns the code of the outermost domain error in err's chain,
// or CodeInternal when err carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf returns the human-readable message of the outermost domain error,
// falling back to err.Error().
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// ToHTTPStatus maps a code to the status the API responds with.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeCredentialNotFound:
		return http.StatusNotFound
	case CodeTransportFailure:
		return http.StatusBadGateway
	case CodeProviderNotFound, CodeNoAccounts:
		return http.StatusFailedDependency
	case CodeRequestRejected:
		return http.StatusForbidden
	case CodeWrongNetwork, CodeChainUnknown, CodeChainAddRejected:
		return http.StatusConflict
	case CodeMetadataUnavailable, CodeAliasTimeout:
		return http.StatusServiceUnavailable
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
