package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/fieldops/geotrack/internal/core/domain"
)

// APIError is a structured error response.
type APIError struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`    // Error code: bad_request, not_found, internal_error, etc.
	Message   string `json:"message"` // Human-readable message
	RequestID string `json:"request_id,omitempty"`
}

// newError builds a JSON error response with a request ID.
func newError(c *fiber.Ctx, status int, code string, message string) error {
	reqID, _ := c.Locals("requestid").(string)
	return c.Status(status).JSON(APIError{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: reqID,
	})
}

// errBadRequest returns a 400 error.
func errBadRequest(c *fiber.Ctx, msg string) error {
	return newError(c, 400, "bad_request", msg)
}

// errNotFound returns a 404 error.
func errNotFound(c *fiber.Ctx, msg string) error {
	return newError(c, 404, "not_found", msg)
}

// errConflict returns a 409 error.
func errConflict(c *fiber.Ctx, msg string) error {
	return newError(c, 409, "conflict", msg)
}

// errUnprocessable returns a 422 error.
func errUnprocessable(c *fiber.Ctx, msg string) error {
	return newError(c, 422, "unprocessable", msg)
}

// errInternal returns a 500 error.
func errInternal(c *fiber.Ctx, msg string) error {
	return newError(c, 500, "internal_error", msg)
}

// domainError maps domain sentinel errors onto HTTP statuses. Anything
// unrecognized becomes a 500.
func domainError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrZoneNotFound):
		return errNotFound(c, "zone not found")
	case errors.Is(err, domain.ErrTripNotFound):
		return errNotFound(c, "trip not found")
	case errors.Is(err, domain.ErrInvalidPing):
		return errBadRequest(c, err.Error())
	case errors.Is(err, domain.ErrInvalidZoneGeometry):
		return errUnprocessable(c, err.Error())
	case errors.Is(err, domain.ErrNoOpenTrip):
		return errConflict(c, "no open trip for user")
	case errors.Is(err, domain.ErrAmbiguousTripSignal):
		return errConflict(c, "trip already open for user")
	default:
		return errInternal(c, err.Error())
	}
}
