package http

import (
	"context"

	"jobsync_worker/core/domain"
	"jobsync_worker/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// PendingService resolves staged events.
type PendingService interface {
	List(ctx context.Context, userID string, statuses []domain.PendingStatus, limit int) ([]*domain.PendingItem, error)
	Accept(ctx context.Context, userID, itemID string, edits *domain.PendingEdits) (*domain.PendingItem, *domain.Job, error)
	Ignore(ctx context.Context, userID, itemID string) (*domain.PendingItem, error)
	Clear(ctx context.Context, userID string, scope domain.ClearScope) (int64, error)
}

type PendingHandler struct {
	pending PendingService
}

func NewPendingHandler(pending PendingService) *PendingHandler {
	return &PendingHandler{pending: pending}
}

func (h *PendingHandler) Register(router fiber.Router) {
	router.Get("/pending", h.List)
	router.Post("/pending/clear", h.Clear)
	router.Patch("/pending/:id", h.Resolve)
}

func (h *PendingHandler) List(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}

	items, err := h.pending.List(c.UserContext(), uid, queryStatuses(c), c.QueryInt("limit", 0))
	if err != nil {
		return toAppError(c, err, "pending items")
	}
	if items == nil {
		items = []*domain.PendingItem{}
	}
	return c.JSON(fiber.Map{"items": items})
}

type resolveRequest struct {
	Action  string               `json:"action"`
	Updates *domain.PendingEdits `json:"updates,omitempty"`
}

// Resolve accepts or ignores one item.
func (h *PendingHandler) Resolve(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}

	var body resolveRequest
	if err := bindJSON(c, &body); err != nil {
		return err
	}

	switch body.Action {
	case "accept":
		item, job, err := h.pending.Accept(c.UserContext(), uid, c.Params("id"), body.Updates)
		if err != nil {
			return toAppError(c, err, "pending item")
		}
		return c.JSON(fiber.Map{"item": item, "job": job})

	case "ignore":
		item, err := h.pending.Ignore(c.UserContext(), uid, c.Params("id"))
		if err != nil {
			return toAppError(c, err, "pending item")
		}
		return c.JSON(fiber.Map{"item": item})
	}

	return apperr.InvalidInput("action", "must be accept or ignore")
}

type clearRequest struct {
	Status domain.ClearScope `json:"status"`
}

func (h *PendingHandler) Clear(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}

	var body clearRequest
	if err := bindJSON(c, &body); err != nil {
		return err
	}

	deleted, err := h.pending.Clear(c.UserContext(), uid, body.Status)
	if err != nil {
		return toAppError(c, err, "pending items")
	}
	return c.JSON(fiber.Map{"deleted": deleted})
}
