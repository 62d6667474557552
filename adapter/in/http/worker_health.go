package http

import (
	"context"
	"time"

	"jobsync_worker/infra/database"
	"jobsync_worker/pkg/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// HealthChecker is any dependency /ready should ping.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db    *pgxpool.Pool
	redis *redis.Client
	mongo HealthChecker
	runs  *metrics.Registry
}

// NewHealthHandler accepts nil for dependencies that are not configured.
func NewHealthHandler(db *pgxpool.Pool, redis *redis.Client, mongo HealthChecker) *HealthHandler {
	return &HealthHandler{db: db, redis: redis, mongo: mongo}
}

// WithRunMetrics adds sync run durations to /ready.
func (h *HealthHandler) WithRunMetrics(runs *metrics.Registry) *HealthHandler {
	h.runs = runs
	return h
}

func (h *HealthHandler) Register(app fiber.Router) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	stats := make(map[string]any)
	allHealthy := true

	check := func(name string, configured bool, ping func() error) {
		if !configured {
			checks[name] = "not configured"
			return
		}
		if err := ping(); err != nil {
			checks[name] = "unhealthy: " + err.Error()
			allHealthy = false
			return
		}
		checks[name] = "healthy"
	}

	check("mongodb", h.mongo != nil, func() error { return h.mongo.Ping(ctx) })
	check("postgres", h.db != nil, func() error { return h.db.Ping(ctx) })
	check("redis", h.redis != nil, func() error { return h.redis.Ping(ctx).Err() })

	if h.db != nil {
		stats["postgres"] = database.GetPoolStats(h.db)
	}
	if h.redis != nil {
		stats["redis"] = database.GetRedisStats(h.redis)
	}

	status := "ready"
	statusCode := fiber.StatusOK
	if !allHealthy {
		status = "not ready"
		statusCode = fiber.StatusServiceUnavailable
	}

	body := fiber.Map{
		"status":    status,
		"checks":    checks,
		"pools":     stats,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.runs != nil {
		body["sync_runs"] = h.runs.Snapshot()
	}
	return c.Status(statusCode).JSON(body)
}
