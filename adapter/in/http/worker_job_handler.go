package http

import (
	"context"

	"jobsync_worker/core/domain"
	"jobsync_worker/core/service/job"

	"github.com/gofiber/fiber/v2"
)

// JobService is the read side of the board plus the timeline editor.
type JobService interface {
	ListJobs(ctx context.Context, userID string) ([]*domain.Job, error)
	GetJob(ctx context.Context, userID, jobID string) (*domain.Job, error)
	ListHistory(ctx context.Context, userID, jobID string) ([]*domain.StatusHistory, error)
	AddHistory(ctx context.Context, userID, jobID string, in job.HistoryInput) (*domain.StatusHistory, *domain.Job, error)
	EditHistory(ctx context.Context, userID, jobID, entryID string, in job.HistoryInput) (*domain.StatusHistory, *domain.Job, error)
	DeleteHistory(ctx context.Context, userID, jobID, entryID string) (*domain.Job, error)
	Stats(ctx context.Context, userID string, days int) (*job.Stats, error)
}

type JobHandler struct {
	jobs JobService
}

func NewJobHandler(jobs JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

func (h *JobHandler) Register(router fiber.Router) {
	router.Get("/stats", h.Stats)

	jobs := router.Group("/jobs")
	jobs.Get("/", h.List)
	jobs.Get("/:id", h.Get)
	jobs.Get("/:id/status-history", h.ListHistory)
	jobs.Post("/:id/status-history", h.AddHistory)
	jobs.Put("/:id/status-history/:statusId", h.EditHistory)
	jobs.Delete("/:id/status-history/:statusId", h.DeleteHistory)
}

func (h *JobHandler) List(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}

	jobs, err := h.jobs.ListJobs(c.UserContext(), uid)
	if err != nil {
		return toAppError(c, err, "jobs")
	}
	if jobs == nil {
		jobs = []*domain.Job{}
	}
	return c.JSON(fiber.Map{"jobs": jobs})
}

func (h *JobHandler) Get(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}

	j, err := h.jobs.GetJob(c.UserContext(), uid, c.Params("id"))
	if err != nil {
		return toAppError(c, err, "job")
	}
	return c.JSON(j)
}

// =============================================================================
// Status history
// =============================================================================

func (h *JobHandler) ListHistory(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}

	entries, err := h.jobs.ListHistory(c.UserContext(), uid, c.Params("id"))
	if err != nil {
		return toAppError(c, err, "job")
	}
	if entries == nil {
		entries = []*domain.StatusHistory{}
	}
	return c.JSON(fiber.Map{"history": entries})
}

func (h *JobHandler) AddHistory(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}

	var in job.HistoryInput
	if err := bindJSON(c, &in); err != nil {
		return err
	}

	entry, j, err := h.jobs.AddHistory(c.UserContext(), uid, c.Params("id"), in)
	if err != nil {
		return toAppError(c, err, "job")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"entry": entry, "job": j})
}

func (h *JobHandler) EditHistory(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}

	var in job.HistoryInput
	if err := bindJSON(c, &in); err != nil {
		return err
	}

	entry, j, err := h.jobs.EditHistory(c.UserContext(), uid, c.Params("id"), c.Params("statusId"), in)
	if err != nil {
		return toAppError(c, err, "status history entry")
	}
	return c.JSON(fiber.Map{"entry": entry, "job": j})
}

func (h *JobHandler) DeleteHistory(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}

	j, err := h.jobs.DeleteHistory(c.UserContext(), uid, c.Params("id"), c.Params("statusId"))
	if err != nil {
		return toAppError(c, err, "status history entry")
	}
	return c.JSON(fiber.Map{"job": j})
}

// =============================================================================
// Stats
// =============================================================================

func (h *JobHandler) Stats(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}

	stats, err := h.jobs.Stats(c.UserContext(), uid, c.QueryInt("days", 0))
	if err != nil {
		return toAppError(c, err, "stats")
	}
	return c.JSON(stats)
}
