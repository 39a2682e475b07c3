package apperrors

import "errors"

var (
	ErrNotFound                 = errors.New("not found")
	ErrConflict                 = errors.New("conflict")
	ErrForbidden                = errors.New("forbidden")
	ErrActionNotPending         = errors.New("action already processed")
	ErrIntegrationNotConfigured = errors.New("integration not configured")
	ErrCredentialsMissing       = errors.New("credentials not found")
	ErrInvalidPayload           = errors.New("invalid action payload")
	ErrAPIKeyNotConfigured      = errors.New("API key not configured")
	ErrStaleFile                = errors.New("file changed since it was read")
	ErrCredentialsKeyMismatch   = errors.New("credentials were encrypted with a different key")
)
