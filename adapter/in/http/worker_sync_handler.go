package http

import (
	"context"

	"jobsync_worker/core/domain"
	"jobsync_worker/core/port/out"
	"jobsync_worker/core/service/ingest"
	"jobsync_worker/pkg/apperr"
	"jobsync_worker/pkg/logger"

	"github.com/gofiber/fiber/v2"
)

// SyncRunner runs and previews the ingestion pipeline.
type SyncRunner interface {
	Run(ctx context.Context, req domain.RunRequest) (*domain.RunResult, error)
	Preview(ctx context.Context, userID string, provider domain.Provider, limit int) (*ingest.Preview, error)
}

// SyncHandler serves the pipeline triggers, the run log and the mail preview.
type SyncHandler struct {
	runner    SyncRunner
	runs      out.SyncRunRepository
	publisher out.EventPublisher
}

// NewSyncHandler creates the handler. runs and publisher may be nil; the
// run log then stays empty and async triggers are rejected.
func NewSyncHandler(runner SyncRunner, runs out.SyncRunRepository, publisher out.EventPublisher) *SyncHandler {
	return &SyncHandler{runner: runner, runs: runs, publisher: publisher}
}

// RegisterCron mounts the scheduled trigger. The caller guards it with
// the cron secret.
func (h *SyncHandler) RegisterCron(router fiber.Router, guard fiber.Handler) {
	router.Get("/mail/cron", guard, h.Cron)
	router.Post("/mail/cron", guard, h.Cron)
}

func (h *SyncHandler) Register(router fiber.Router) {
	router.Get("/mail", h.Preview)
	router.Post("/sync/trigger", h.Trigger)
	router.Get("/sync/runs", h.ListRuns)
}

// Cron runs the pipeline over every account.
func (h *SyncHandler) Cron(c *fiber.Ctx) error {
	provider, err := queryProvider(c)
	if err != nil {
		return err
	}

	req := domain.RunRequest{
		Provider: provider,
		Limit:    c.QueryInt("limit", 0),
		Trigger:  "cron",
	}
	result, err := h.runner.Run(c.UserContext(), req)
	if err != nil {
		return toAppError(c, err, "sync run")
	}
	return c.JSON(result)
}

type triggerRequest struct {
	Provider string `json:"provider"`
	Limit    int    `json:"limit"`
	Async    bool   `json:"async"`
}

// Trigger runs the pipeline over the caller's accounts. With async the run
// is queued for the worker and 202 is returned.
func (h *SyncHandler) Trigger(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}

	var body triggerRequest
	if err := bindJSON(c, &body); err != nil {
		return err
	}
	if body.Provider == "" {
		body.Provider = c.Query("provider")
	}
	if body.Limit == 0 {
		body.Limit = c.QueryInt("limit", 0)
	}
	if !body.Async {
		body.Async = c.QueryBool("async", false)
	}

	var provider domain.Provider
	if body.Provider != "" {
		p, ok := domain.ParseProvider(body.Provider)
		if !ok {
			return apperr.InvalidInput("provider", "must be gmail or outlook")
		}
		provider = p
	}

	req := domain.RunRequest{Provider: provider, UserID: uid, Limit: body.Limit, Trigger: "manual"}

	if body.Async {
		if h.publisher == nil {
			return apperr.Unavailable("async sync is not available")
		}
		if err := h.publisher.PublishSyncTrigger(c.UserContext(), &req); err != nil {
			return toAppError(c, err, "sync trigger")
		}
		logger.WithContext(c.UserContext()).WithField("provider", provider).Info("queued sync for user %s", uid)
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"queued": true})
	}

	result, err := h.runner.Run(c.UserContext(), req)
	if err != nil {
		return toAppError(c, err, "sync run")
	}
	return c.JSON(result)
}

// ListRuns returns the caller's recent runs, newest first.
func (h *SyncHandler) ListRuns(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	if h.runs == nil {
		return c.JSON(fiber.Map{"runs": []*domain.SyncRun{}})
	}

	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	runs, err := h.runs.ListRecent(c.UserContext(), uid, limit)
	if err != nil {
		return toAppError(c, err, "sync runs")
	}
	if runs == nil {
		runs = []*domain.SyncRun{}
	}
	return c.JSON(fiber.Map{"runs": runs})
}

// Preview fetches the latest mail of the caller's accounts without
// processing it.
func (h *SyncHandler) Preview(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	provider, err := queryProvider(c)
	if err != nil {
		return err
	}

	preview, err := h.runner.Preview(c.UserContext(), uid, provider, c.QueryInt("limit", 0))
	if err != nil {
		return toAppError(c, err, "mail")
	}
	return c.JSON(preview)
}
