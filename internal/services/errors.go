package services

import "errors"

type ErrorCode string

const (
	ErrorInvalidInput              ErrorCode = "invalid_input"
	ErrorValidation                ErrorCode = "validation"
	ErrorNullifierReused           ErrorCode = "nullifier_reused"
	ErrorDisclosureNotPermitted    ErrorCode = "disclosure_not_permitted"
	ErrorDisclosureExpiredOrRevoked ErrorCode = "disclosure_expired_or_revoked"
	ErrorProofInvalid              ErrorCode = "proof_invalid"
	ErrorIdentityMismatch          ErrorCode = "identity_mismatch"
	ErrorEmergencyAccessDenied     ErrorCode = "emergency_access_denied"
	ErrorNotFound                  ErrorCode = "not_found"
	ErrorInternal                  ErrorCode = "internal"
)

type ServiceError struct {
	Code    ErrorCode
	Message string
}

func (e *ServiceError) Error() string { return e.Message }

func NewInvalidInputError(msg string) error {
	return &ServiceError{Code: ErrorInvalidInput, Message: msg}
}

func NewValidationError(msg string) error {
	return &ServiceError{Code: ErrorValidation, Message: msg}
}

func NewNullifierReusedError(msg string) error {
	return &ServiceError{Code: ErrorNullifierReused, Message: msg}
}

func NewDisclosureNotPermittedError(msg string) error {
	return &ServiceError{Code: ErrorDisclosureNotPermitted, Message: msg}
}

func NewDisclosureExpiredOrRevokedError(msg string) error {
	return &ServiceError{Code: ErrorDisclosureExpiredOrRevoked, Message: msg}
}

func NewProofInvalidError(msg string) error {
	return &ServiceError{Code: ErrorProofInvalid, Message: msg}
}

func NewIdentityMismatchError(msg string) error {
	return &ServiceError{Code: ErrorIdentityMismatch, Message: msg}
}

func NewEmergencyAccessDeniedError(msg string) error {
	return &ServiceError{Code: ErrorEmergencyAccessDenied, Message: msg}
}

func NewNotFoundError(msg string) error {
	return &ServiceError{Code: ErrorNotFound, Message: msg}
}

// NewInternalError deliberately carries a fixed message: storage and
// crypto failures are logged with context server-side and surfaced
// opaquely, never echoing secret material.
func NewInternalError() error {
	return &ServiceError{Code: ErrorInternal, Message: "internal error"}
}

func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// CodeOf returns the taxonomy code, or ErrorInternal for plumbing errors.
func CodeOf(err error) ErrorCode {
	if se, ok := AsServiceError(err); ok {
		return se.Code
	}
	return ErrorInternal
}
