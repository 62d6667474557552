package middleware

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"jobsync_worker/pkg/apperr"
	"jobsync_worker/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const localUserID = "user_id"

// JWTAuth validates HS256 session tokens and stores the caller's user ID.
// The ID is read from "sub", falling back to "user_id".
func JWTAuth(secret string) fiber.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		tokenString := bearerToken(c)
		if tokenString == "" {
			return apperr.Unauthorized("missing authorization")
		}
		if secret == "" {
			return apperr.Unavailable("authentication is not configured")
		}

		claims := jwt.MapClaims{}
		_, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		})
		if err != nil {
			logger.WithError(err).Debug("[JWTAuth] token rejected")
			return &apperr.AppError{
				Code:    apperr.CodeInvalidToken,
				Message: "invalid token",
				Status:  fiber.StatusUnauthorized,
				Err:     err,
			}
		}

		userID, _ := claims["sub"].(string)
		if userID == "" {
			userID, _ = claims["user_id"].(string)
		}
		if userID == "" {
			return apperr.Unauthorized("missing user id in token")
		}

		c.Locals(localUserID, userID)
		if email, ok := claims["email"].(string); ok {
			c.Locals("user_email", email)
		}
		return c.Next()
	}
}

// CronAuth guards the scheduled-trigger route with a shared secret, sent as
// a bearer token or the "token" query parameter.
func CronAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return apperr.Unavailable("cron secret is not configured")
		}

		provided := bearerToken(c)
		if provided == "" {
			provided = c.Query("token")
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			logger.WithField("ip", c.IP()).Warn("[CronAuth] rejected cron request")
			return apperr.Unauthorized("invalid cron secret")
		}
		return c.Next()
	}
}

// UserID returns the authenticated caller set by JWTAuth.
func UserID(c *fiber.Ctx) (string, error) {
	id, ok := c.Locals(localUserID).(string)
	if !ok || id == "" {
		return "", apperr.Unauthorized("")
	}
	return id, nil
}

// SignToken issues an HS256 token for userID. Used by tooling and tests.
func SignToken(secret, userID string, claims jwt.MapClaims) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("jwt secret not configured")
	}
	mc := jwt.MapClaims{"sub": userID}
	for k, v := range claims {
		mc[k] = v
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, mc).SignedString([]byte(secret))
}

func bearerToken(c *fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
