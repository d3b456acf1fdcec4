package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"printgate/internal/service"
)

// Public error messages. Internal causes are never returned to clients.
const (
	msgTokenRequired    = "Session token required"
	msgInvalidSession   = "Invalid or expired session"
	msgLimitExceeded    = "Print limit exceeded"
	msgDocumentNotFound = "Document not found"
	msgRetrieveFailed   = "Failed to retrieve document"
	msgProcessFailed    = "Failed to process print request"
	msgInternal         = "Internal server error"
)

// errorPayload defines the standardized error response body.
type errorPayload struct {
	Error           string `json:"error"`
	RemainingPrints *int   `json:"remaining_prints,omitempty"`
}

// writeError writes a JSON error response without leaking internal errors.
func writeError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(errorPayload{Error: message})
}

// writePrintError maps a pipeline failure to its fixed status and body.
func writePrintError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrTokenRequired):
		return writeError(c, fiber.StatusBadRequest, msgTokenRequired)
	case errors.Is(err, service.ErrSessionInvalid), errors.Is(err, service.ErrSessionExpired):
		return writeError(c, fiber.StatusForbidden, msgInvalidSession)
	case errors.Is(err, service.ErrQuotaExhausted):
		zero := 0
		return c.Status(fiber.StatusForbidden).JSON(errorPayload{Error: msgLimitExceeded, RemainingPrints: &zero})
	case errors.Is(err, service.ErrDocumentNotFound):
		return writeError(c, fiber.StatusNotFound, msgDocumentNotFound)
	case errors.Is(err, service.ErrDocumentUnavailable):
		return writeError(c, fiber.StatusInternalServerError, msgRetrieveFailed)
	case errors.Is(err, service.ErrLedgerCommit):
		return writeError(c, fiber.StatusInternalServerError, msgProcessFailed)
	default:
		return writeError(c, fiber.StatusInternalServerError, msgInternal)
	}
}

// ErrorHandler returns a Fiber global error handler that standardizes error responses.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}

		switch status {
		case fiber.StatusBadRequest:
			return writeError(c, status, "Bad request")
		case fiber.StatusUnauthorized:
			return writeError(c, status, "Unauthorized")
		case fiber.StatusNotFound:
			return writeError(c, status, "Not found")
		case fiber.StatusMethodNotAllowed:
			return writeError(c, status, "Method not allowed")
		case fiber.StatusRequestEntityTooLarge:
			return writeError(c, status, "Request entity too large")
		default:
			return writeError(c, fiber.StatusInternalServerError, msgInternal)
		}
	}
}
