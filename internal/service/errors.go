package service

import (
	"errors"
	"fmt"

	apperrors "classifieds-messaging/backend/pkg/errors"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrBlocked          = errors.New("blocked")
	ErrQuotaExceeded    = errors.New("daily message limit reached")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrUnauthenticated  = errors.New("unauthenticated")
)

// QuotaExceededError is returned when a non-premium sender has used the day's allowance.
type QuotaExceededError struct {
	Limit     int
	Remaining int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s (limit %d)", ErrQuotaExceeded, e.Limit)
}

func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

func invalidInput(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, reason)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// Code returns the stable error code clients see for err.
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrBlocked):
		return "blocked"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	default:
		return "internal_error"
	}
}

// ToAppError maps domain errors to the shape rendered by both transports.
// Internal causes are attached for logging only.
func ToAppError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	switch Code(err) {
	case "invalid_input":
		return apperrors.NewBadRequestError("invalid_input", err.Error())
	case "blocked":
		return apperrors.NewForbiddenError("blocked", "You can't exchange messages with this user")
	case "quota_exceeded":
		limit := 0
		var qe *QuotaExceededError
		if errors.As(err, &qe) {
			limit = qe.Limit
		}
		return apperrors.NewTooManyRequestsError("quota_exceeded",
			"Daily message limit reached, upgrade to premium for unlimited messages").
			WithDetails(map[string]any{"limit": limit, "remaining": 0})
	case "store_unavailable":
		return apperrors.NewServiceUnavailableError("store_unavailable",
			"Messaging is temporarily unavailable, please try again").WithCause(err)
	case "unauthenticated":
		return apperrors.NewUnauthorizedError("unauthenticated", "Authentication required")
	default:
		return apperrors.FromError(err)
	}
}
