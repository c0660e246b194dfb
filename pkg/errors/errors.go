package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConflict           Code = "CONFLICT"
	CodeInvalidAmount      Code = "INVALID_AMOUNT"
	CodeInsufficientFunds  Code = "INSUFFICIENT_FUNDS"
	CodeHoldNotFound       Code = "HOLD_NOT_FOUND"
	CodeHoldAlreadySettled Code = "HOLD_ALREADY_SETTLED"
	CodeDuplicateEvent     Code = "DUPLICATE_EVENT"
	CodeSignatureInvalid   Code = "SIGNATURE_INVALID"
	CodePolicyDenied       Code = "POLICY_DENIED"
	CodeApprovalRequired   Code = "APPROVAL_REQUIRED"
	CodeRateLimit          Code = "RATE_LIMIT_EXCEEDED"
	CodeResourceLocked     Code = "RESOURCE_LOCKED"
	CodePersistence        Code = "PERSISTENCE_FAILURE"
	CodeInternal           Code = "INTERNAL_ERROR"
	CodeDependency         Code = "DEPENDENCY_ERROR"
)

// Metadata is the wire contract for a code: status, whether a client may
// retry, the message shown when the internal one must stay private, and
// whether Details are echoed.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

const (
	retry   = true
	noRetry = false
	details = true
	private = false
)

var metadataByCode = map[Code]Metadata{
	CodeValidation:         {http.StatusBadRequest, noRetry, "validation failed", details},
	CodeInvalidAmount:      {http.StatusBadRequest, noRetry, "invalid amount", details},
	CodeUnauthorized:       {http.StatusUnauthorized, noRetry, "authentication required", private},
	CodeSignatureInvalid:   {http.StatusUnauthorized, noRetry, "invalid signature", private},
	CodeInsufficientFunds:  {http.StatusPaymentRequired, noRetry, "insufficient funds", details},
	CodeForbidden:          {http.StatusForbidden, noRetry, "access denied", private},
	CodePolicyDenied:       {http.StatusForbidden, noRetry, "tenant is suspended", details},
	CodeApprovalRequired:   {http.StatusForbidden, noRetry, "manual approval required", details},
	CodeNotFound:           {http.StatusNotFound, noRetry, "resource not found", private},
	CodeHoldNotFound:       {http.StatusNotFound, noRetry, "hold not found", private},
	CodeConflict:           {http.StatusConflict, noRetry, "conflict detected", private},
	CodeHoldAlreadySettled: {http.StatusConflict, noRetry, "hold already settled", details},
	// A duplicate delivery is acknowledged so the provider stops retrying.
	CodeDuplicateEvent: {http.StatusOK, noRetry, "event already received", private},
	CodeRateLimit:      {http.StatusTooManyRequests, noRetry, "rate limit exceeded", private},
	CodeInternal:       {http.StatusInternalServerError, retry, "internal server error", private},
	CodeResourceLocked: {http.StatusServiceUnavailable, retry, "resource busy, retry later", private},
	CodePersistence:    {http.StatusServiceUnavailable, retry, "storage unavailable", private},
	CodeDependency:     {http.StatusServiceUnavailable, retry, "dependency unavailable", details},
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Known reports whether code belongs to the taxonomy.
func Known(code Code) bool {
	_, ok := metadataByCode[code]
	return ok
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches another *Error by code, so errors.Is(err, New(CodeX, "")) works
// regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsCode reports whether the outermost typed error in the chain carries code.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}

// IsRetryable reports whether the caller may safely retry the failed operation.
// Untyped errors are treated as internal faults.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	typed := As(err)
	if typed == nil {
		return MetadataFor(CodeInternal).Retryable
	}
	return MetadataFor(typed.Code()).Retryable
}
