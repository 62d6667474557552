package http

import (
	"context"

	"jobsync_worker/core/domain"

	"github.com/gofiber/fiber/v2"
)

// PolicyService reads and updates the automation policy.
type PolicyService interface {
	Get(ctx context.Context, userID string) (domain.SyncPolicy, error)
	Update(ctx context.Context, userID string, update domain.SyncPolicyUpdate) (domain.SyncPolicy, error)
}

// SettingsHandler serves the per-user sync settings.
type SettingsHandler struct {
	policies PolicyService
}

func NewSettingsHandler(policies PolicyService) *SettingsHandler {
	return &SettingsHandler{policies: policies}
}

func (h *SettingsHandler) Register(router fiber.Router) {
	router.Get("/sync-settings", h.Get)
	router.Put("/sync-settings", h.Update)
}

func (h *SettingsHandler) Get(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}

	policy, err := h.policies.Get(c.UserContext(), uid)
	if err != nil {
		return toAppError(c, err, "sync settings")
	}
	return c.JSON(policy)
}

func (h *SettingsHandler) Update(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}

	var update domain.SyncPolicyUpdate
	if err := bindJSON(c, &update); err != nil {
		return err
	}

	policy, err := h.policies.Update(c.UserContext(), uid, update)
	if err != nil {
		return toAppError(c, err, "sync settings")
	}
	return c.JSON(policy)
}
