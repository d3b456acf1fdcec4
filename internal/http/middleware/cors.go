package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// CORS answers browser preflight requests for the print route. Preflights end
// here with 204 and never reach the handlers.
func CORS(origins []string) fiber.Handler {
	allow := strings.Join(origins, ",")
	if allow == "" {
		allow = "*"
	}
	return cors.New(cors.Config{
		AllowOrigins:  allow,
		AllowMethods:  strings.Join([]string{fiber.MethodPost, fiber.MethodOptions}, ","),
		AllowHeaders:  strings.Join([]string{fiber.HeaderAuthorization, fiber.HeaderContentType, RequestIDHeader}, ","),
		ExposeHeaders: strings.Join([]string{"X-Remaining-Prints", RequestIDHeader}, ","),
		MaxAge:        600,
	})
}
