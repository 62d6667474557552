package bootstrap

import (
	"errors"
	"time"

	"jobsync_worker/config"
	"jobsync_worker/core/domain"
	"jobsync_worker/infra/middleware"
	"jobsync_worker/pkg/apperr"
	"jobsync_worker/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// RegisterDevRoutes registers development-only routes without authentication.
// WARNING: Only enable in development environment!
func RegisterDevRoutes(app *fiber.App, cfg *config.Config, deps *Dependencies) {
	dev := app.Group("/dev")

	// Issue a token so the protected routes can be exercised locally.
	dev.Get("/token", func(c *fiber.Ctx) error {
		userID := c.Query("user_id", cfg.DevUserID)
		token, err := middleware.SignToken(cfg.JWTSecret, userID, jwt.MapClaims{
			"dev": true,
			"exp": time.Now().Add(24 * time.Hour).Unix(),
		})
		if err != nil {
			return apperr.InternalWithError(err)
		}
		return c.JSON(fiber.Map{"token": token, "user_id": userID})
	})

	// Run the pipeline for the dev user.
	dev.Post("/sync", func(c *fiber.Ctx) error {
		req := domain.RunRequest{
			UserID:   cfg.DevUserID,
			Provider: domain.Provider(c.Query("provider")),
			Limit:    c.QueryInt("limit", 0),
			Trigger:  "dev",
		}
		if req.Provider != "" && !req.Provider.IsValid() {
			return apperr.InvalidInput("provider", "must be gmail or outlook")
		}

		logger.Info("[Dev] sync: user=%s, provider=%s, limit=%d", req.UserID, req.Provider, req.Limit)

		result, err := deps.Runner.Run(c.UserContext(), req)
		if errors.Is(err, domain.ErrRunInProgress) {
			return apperr.Conflict(err.Error())
		}
		if err != nil {
			return apperr.InternalWithError(err)
		}
		return c.JSON(result)
	})

	// Job events published while running without Redis.
	dev.Get("/events", func(c *fiber.Ctx) error {
		if deps.EventsMemory == nil {
			return c.JSON(fiber.Map{"events": []domain.JobEvent{}, "source": "redis"})
		}
		return c.JSON(fiber.Map{"events": deps.EventsMemory.JobEvents(), "source": "memory"})
	})
}
