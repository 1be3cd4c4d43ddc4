package errors

import "net/http"

// Error code constants. Backend logs always in English.

// Request validation codes.
const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeMalformedBody    = "MALFORMED_REQUEST_BODY"
	CodeFieldRequired    = "FIELD_REQUIRED"
)

// Identity provider codes.
const (
	CodeKeycloakAuthFailed = "KEYCLOAK_AUTH_FAILED"
	CodeKeycloakRequest    = "KEYCLOAK_REQUEST_FAILED"
	CodeUserNotFound       = "USER_NOT_FOUND"
	CodeUserCreateFailed   = "USER_CREATE_FAILED"
)

// Workflow codes.
const (
	CodeRegistrationFailed = "REGISTRATION_FAILED"
	CodeInternal           = "INTERNAL_ERROR"
)

// MissingFields creates a 400 error listing the absent required fields.
func MissingFields(message string, fields ...string) *AppError {
	fieldErrors := make([]FieldError, 0, len(fields))
	for _, f := range fields {
		fieldErrors = append(fieldErrors, FieldError{Field: f, Code: CodeFieldRequired})
	}
	return New(CodeValidationFailed, message, http.StatusBadRequest).WithFieldErrors(fieldErrors)
}
