package badge

import (
	"errors"
	"fmt"
)

// Error codes shared by the issuance, storage and baking components.
// These are domain error codes, not HTTP status codes.
const (
	// ErrCodeConfiguration indicates missing or invalid key material or settings.
	ErrCodeConfiguration = "CONFIGURATION_ERROR"

	// ErrCodeSchemaViolation indicates a credential that does not conform to Open Badges 3.0.
	ErrCodeSchemaViolation = "SCHEMA_VIOLATION"

	// ErrCodeAlreadyBaked indicates the image already carries a credential.
	ErrCodeAlreadyBaked = "ALREADY_BAKED"

	// ErrCodeMalformedInput indicates a baking target without the required structure.
	ErrCodeMalformedInput = "MALFORMED_INPUT"

	// ErrCodeNotFound indicates an unknown credential id.
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeForbidden indicates a missing scope or group.
	ErrCodeForbidden = "FORBIDDEN"

	// ErrCodeSignatureInvalid indicates the VC-JWT signature did not verify.
	ErrCodeSignatureInvalid = "SIGNATURE_INVALID"

	// ErrCodeKeyUntrusted indicates the embedded key is not pinned for the issuer.
	ErrCodeKeyUntrusted = "KEY_UNTRUSTED"

	// ErrCodeExpired indicates current time >= exp.
	ErrCodeExpired = "CREDENTIAL_EXPIRED"

	// ErrCodeNotYetValid indicates current time < nbf.
	ErrCodeNotYetValid = "CREDENTIAL_NOT_YET_VALID"
)

// Error is a typed failure carrying one of the ErrCode* values.
type Error struct {
	// Code is one of the ErrCode* constants.
	Code string

	// Message is a human-readable description.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches a target error code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// NewError creates a new Error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WrapError creates a new Error that wraps an underlying error.
func WrapError(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Sentinel errors for use with errors.Is.
var (
	// ErrConfiguration is returned when key material or settings are unusable.
	ErrConfiguration = NewError(ErrCodeConfiguration, "invalid configuration")

	// ErrSchemaViolation is returned when a credential is not Open Badges 3.0 conformant.
	ErrSchemaViolation = NewError(ErrCodeSchemaViolation, "credential violates schema")

	// ErrAlreadyBaked is returned when baking onto a baked image without overwrite.
	ErrAlreadyBaked = NewError(ErrCodeAlreadyBaked, "credential already exists in image")

	// ErrMalformedInput is returned when the image lacks a required structural anchor.
	ErrMalformedInput = NewError(ErrCodeMalformedInput, "malformed input")

	// ErrNotFound is returned for unknown credential ids.
	ErrNotFound = NewError(ErrCodeNotFound, "credential not found")

	// ErrForbidden is returned when access rights are missing.
	ErrForbidden = NewError(ErrCodeForbidden, "insufficient permissions")

	// ErrSignatureInvalid is returned when signature verification fails.
	ErrSignatureInvalid = NewError(ErrCodeSignatureInvalid, "signature verification failed")

	// ErrKeyUntrusted is returned when the embedded JWK is not pinned for the issuer.
	ErrKeyUntrusted = NewError(ErrCodeKeyUntrusted, "signing key is not trusted for issuer")

	// ErrExpired is returned when the credential has expired.
	ErrExpired = NewError(ErrCodeExpired, "credential has expired")

	// ErrNotYetValid is returned when the credential is not yet valid.
	ErrNotYetValid = NewError(ErrCodeNotYetValid, "credential is not yet valid")
)

// AsError checks if err is an Error and returns it if so.
func AsError(err error) (*Error, bool) {
	var badgeErr *Error
	if errors.As(err, &badgeErr) {
		return badgeErr, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an Error, or returns empty string.
func GetErrorCode(err error) string {
	if badgeErr, ok := AsError(err); ok {
		return badgeErr.Code
	}
	return ""
}
