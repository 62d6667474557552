// Package http exposes the pipeline and the review surfaces over Fiber.
package http

import (
	"errors"
	"strings"

	"jobsync_worker/core/domain"
	"jobsync_worker/core/port/out"
	"jobsync_worker/infra/middleware"
	"jobsync_worker/pkg/apperr"
	"jobsync_worker/pkg/logger"

	"github.com/gofiber/fiber/v2"
)

// =============================================================================
// Error mapping
// =============================================================================

// toAppError maps service errors onto the API error model. The error
// handler middleware renders the result.
func toAppError(c *fiber.Ctx, err error, resource string) error {
	if err == nil {
		return nil
	}
	if apperr.IsAppError(err) {
		return err
	}

	var ve *domain.ValidationError
	var ae *domain.AuthExpiredError
	var pe *out.ProviderError

	switch {
	case errors.As(err, &ve):
		return apperr.InvalidInput(ve.Field, ve.Reason)
	case errors.As(err, &ae):
		return apperr.AuthExpired(ae.Email, err)
	case errors.Is(err, domain.ErrNotFound):
		return apperr.NotFound(resource)
	case errors.Is(err, domain.ErrForbidden):
		return apperr.Forbidden("")
	case errors.Is(err, domain.ErrNotPending):
		return apperr.Conflict("pending item is already resolved")
	case errors.Is(err, domain.ErrRunInProgress):
		return apperr.Conflict("a sync run is already in progress")
	case errors.Is(err, domain.ErrDuplicate):
		return apperr.Conflict(resource + " already exists")
	case errors.Is(err, domain.ErrProviderNotConfigured):
		return apperr.Unavailable(err.Error())
	case errors.Is(err, domain.ErrInvalidOAuthState):
		return apperr.BadRequest("invalid or expired oauth state")
	case errors.As(err, &pe):
		return apperr.ProviderFailed(string(pe.Provider), pe.Account, err)
	}

	logger.WithContext(c.UserContext()).WithError(err).Error("%s %s failed", c.Method(), c.Path())
	return apperr.InternalWithError(err)
}

// =============================================================================
// Request helpers
// =============================================================================

func userID(c *fiber.Ctx) (string, error) {
	return middleware.UserID(c)
}

// queryProvider reads the optional provider query parameter. It accepts the
// OAuth names as well.
func queryProvider(c *fiber.Ctx) (domain.Provider, error) {
	raw := c.Query("provider")
	if raw == "" {
		return "", nil
	}
	p, ok := domain.ParseProvider(raw)
	if !ok {
		return "", apperr.InvalidInput("provider", "must be gmail or outlook")
	}
	return p, nil
}

func paramProvider(c *fiber.Ctx) (domain.Provider, error) {
	p, ok := domain.ParseProvider(c.Params("provider"))
	if !ok {
		return "", apperr.InvalidInput("provider", "must be google or microsoft")
	}
	return p, nil
}

// queryStatuses reads a comma separated status list.
func queryStatuses(c *fiber.Ctx) []domain.PendingStatus {
	raw := c.Query("status")
	if raw == "" {
		return nil
	}
	var statuses []domain.PendingStatus
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			statuses = append(statuses, domain.PendingStatus(strings.ToLower(s)))
		}
	}
	return statuses
}

func bindJSON(c *fiber.Ctx, v any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(v); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	return nil
}
