package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// SubjectLocalKey holds the authenticated caller's subject claim.
const SubjectLocalKey = "subject"

// Authenticate requires an HS256 bearer token signed with secret. With an
// empty secret the gate is disabled and every request passes through.
// Rejections are returned as fiber.ErrUnauthorized for the global error handler.
func Authenticate(secret string) fiber.Handler {
	if secret == "" {
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}
	key := []byte(secret)

	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return fiber.ErrUnauthorized
		}

		claims, err := parseToken(parts[1], key)
		if err != nil {
			return fiber.ErrUnauthorized
		}
		c.Locals(SubjectLocalKey, claims.Subject)
		return c.Next()
	}
}

func parseToken(raw string, key []byte) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return key, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
