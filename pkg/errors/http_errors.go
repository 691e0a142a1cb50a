package errors

import (
	stderrors "errors"
	"net/http"
)

// FromError converts a standard error to an AppError.
// If the error is already an AppError, it is returned as-is.
// Otherwise, it is wrapped as a generic internal server error; the original
// message is kept as the cause and never shown to clients.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	return NewInternalServerError("internal_error", "Something went wrong, please try again").WithCause(err)
}

// GetStatusCode extracts the HTTP status code from an AppError, returns 500 if not an AppError
func GetStatusCode(err error) int {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// GetErrorCode extracts the error code from an AppError, returns "unknown_error" if not an AppError
func GetErrorCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "unknown_error"
}
