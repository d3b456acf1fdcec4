package handler

import (
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"printgate/internal/http/middleware"
	"printgate/internal/service"
)

var validate = validator.New()

// PrintRequest is the body of POST /print.
type PrintRequest struct {
	SessionToken string `json:"session_token" form:"session_token" validate:"required"`
}

// PrintDocument godoc
// @Summary Print a document
// @Description Consumes one print from the session's quota and returns the watermarked PDF.
// @Tags print
// @Accept json
// @Produce application/pdf
// @Param body body PrintRequest true "Print session"
// @Success 200 {file} binary
// @Header 200 {integer} X-Remaining-Prints "Prints left on the session"
// @Failure 400 {object} errorPayload
// @Failure 403 {object} errorPayload
// @Failure 404 {object} errorPayload
// @Failure 500 {object} errorPayload
// @Router /print [post]
func PrintDocument(svc service.PrintService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body PrintRequest
		if err := c.BodyParser(&body); err != nil {
			return writeError(c, fiber.StatusBadRequest, msgTokenRequired)
		}
		if err := validate.Struct(body); err != nil {
			return writeError(c, fiber.StatusBadRequest, msgTokenRequired)
		}

		res, err := svc.Print(c.UserContext(), service.PrintRequest{
			Token:     body.SessionToken,
			ClientIP:  clientIP(c),
			UserAgent: c.Get(fiber.HeaderUserAgent),
			RequestID: requestIDFromCtx(c),
		})
		if err != nil {
			return writePrintError(c, err)
		}
		return deliver(c, res)
	}
}

// deliver writes the stamped PDF with headers that discourage caching and saving.
func deliver(c *fiber.Ctx, res *service.PrintResult) error {
	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, "inline")
	c.Set(fiber.HeaderCacheControl, "no-store, no-cache, must-revalidate, private")
	c.Set(fiber.HeaderPragma, "no-cache")
	c.Set(fiber.HeaderExpires, "0")
	c.Set(fiber.HeaderXContentTypeOptions, "nosniff")
	c.Set(fiber.HeaderXDownloadOptions, "noopen")
	c.Set("X-Remaining-Prints", strconv.Itoa(res.RemainingPrints))
	return c.Status(fiber.StatusOK).Send(res.PDF)
}

// PrintPreflight answers OPTIONS requests that did not carry CORS preflight headers.
func PrintPreflight() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderAllow, "POST, OPTIONS")
		return c.SendStatus(fiber.StatusNoContent)
	}
}

func clientIP(c *fiber.Ctx) string {
	if ips := c.IPs(); len(ips) > 0 {
		return ips[0]
	}
	return c.IP()
}

// requestIDFromCtx extracts request_id previously stored by middleware.RequestID.
func requestIDFromCtx(c *fiber.Ctx) string {
	if v := c.Locals(middleware.RequestIDLocalKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
