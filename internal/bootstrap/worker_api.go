package bootstrap

import (
	"context"
	"strings"
	"time"

	"jobsync_worker/adapter/in/http"
	"jobsync_worker/config"
	"jobsync_worker/core/port/out"
	"jobsync_worker/infra/middleware"
	"jobsync_worker/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

const bodyLimit = 1 * 1024 * 1024

// NewAPI builds the HTTP server on top of deps. Background helpers such as
// the rate limiter cleanup stop when ctx is done.
func NewAPI(ctx context.Context, cfg *config.Config, deps *Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		StrictRouting:         false,
		CaseSensitive:         false,

		ReadBufferSize:  16384,
		WriteBufferSize: 16384,

		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit: bodyLimit,

		ServerHeader:       "",
		DisableDefaultDate: true,
		ReadTimeout:        30 * time.Second,
		// Synchronous runs may take as long as the per-account timeout.
		WriteTimeout: cfg.SyncAccountTimeout + 30*time.Second,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.RequestLogger())
	app.Use(middleware.MaxBodySize(bodyLimit))

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	// AllowCredentials:true requires explicit origins (not "*")
	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := true
	if allowOrigins == "" || allowOrigins == "*" {
		if cfg.IsProduction() {
			allowOrigins = ""
			allowCredentials = false
		} else {
			allowOrigins = "http://localhost:3000,http://localhost:5173"
		}
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders:    "X-Request-ID,X-RateLimit-Limit,X-RateLimit-Remaining,X-RateLimit-Reset",
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	}))

	// Health check (no auth required)
	var mongo http.HealthChecker
	if deps.MongoPinger != nil {
		mongo = deps.MongoPinger
	}
	http.NewHealthHandler(deps.DB, deps.Redis, mongo).WithRunMetrics(deps.RunMetrics).Register(app)

	// Development-only endpoints (no auth)
	if cfg.IsDevelopment() {
		RegisterDevRoutes(app, cfg, deps)
		logger.Info("Development routes enabled for user: %s", cfg.DevUserID)
	}

	// Async triggers only make sense when a worker consumes the stream.
	var triggers out.EventPublisher
	if deps.Producer != nil {
		triggers = deps.Producer
	}

	syncHandler := http.NewSyncHandler(deps.Runner, deps.SyncRunRepo, triggers)
	oauthHandler := http.NewOAuthHandler(deps.OAuthService, cfg.OAuthSuccessRedirect)

	api := app.Group("/api/v1")

	// Cron and provider redirects carry no user token.
	syncHandler.RegisterCron(api, middleware.CronAuth(cfg.CronSecret))
	oauthHandler.RegisterCallback(api)

	limiter := middleware.NewRateLimiter(ctx, cfg.RateLimitPerMinute, time.Minute)
	protected := api.Group("", middleware.JWTAuth(cfg.JWTSecret), limiter.Handler())

	syncHandler.Register(protected)
	oauthHandler.Register(protected)
	http.NewPendingHandler(deps.PendingService).Register(protected)
	http.NewSettingsHandler(deps.PolicyService).Register(protected)
	http.NewJobHandler(deps.JobService).Register(protected)

	logger.Info("API routes registered")
	return app
}
