package http

import (
	"context"
	"net/url"

	"jobsync_worker/core/domain"
	"jobsync_worker/pkg/apperr"
	"jobsync_worker/pkg/logger"

	"github.com/gofiber/fiber/v2"
)

// AccountService connects, lists and disconnects mailboxes.
type AccountService interface {
	ConnectURL(ctx context.Context, provider domain.Provider, userID string) (string, error)
	HandleCallback(ctx context.Context, provider domain.Provider, code, state string) (*domain.MailAccount, error)
	ListAccounts(ctx context.Context, userID string) ([]*domain.MailAccount, error)
	Disconnect(ctx context.Context, userID, accountID string) error
}

type OAuthHandler struct {
	accounts AccountService

	// successRedirect, when set, receives the browser after a callback with
	// provider and email query parameters.
	successRedirect string
}

func NewOAuthHandler(accounts AccountService, successRedirect string) *OAuthHandler {
	return &OAuthHandler{accounts: accounts, successRedirect: successRedirect}
}

// RegisterCallback mounts the provider redirect target. It carries no JWT;
// the state parameter identifies the user.
func (h *OAuthHandler) RegisterCallback(router fiber.Router) {
	router.Get("/oauth/:provider/callback", h.Callback)
}

func (h *OAuthHandler) Register(router fiber.Router) {
	router.Get("/oauth/:provider/connect", h.Connect)
	router.Get("/mail/accounts", h.ListAccounts)
	router.Delete("/mail/accounts/:id", h.Disconnect)
}

func (h *OAuthHandler) Connect(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	provider, err := paramProvider(c)
	if err != nil {
		return err
	}

	authURL, err := h.accounts.ConnectURL(c.UserContext(), provider, uid)
	if err != nil {
		return toAppError(c, err, "oauth")
	}
	return c.JSON(fiber.Map{"auth_url": authURL})
}

func (h *OAuthHandler) Callback(c *fiber.Ctx) error {
	provider, err := paramProvider(c)
	if err != nil {
		return err
	}

	if reason := c.Query("error"); reason != "" {
		logger.WithField("provider", provider).Warn("[OAuth Callback] consent denied: %s", reason)
		return apperr.OAuthFailed(string(provider), nil).WithDetail("reason", reason)
	}

	account, err := h.accounts.HandleCallback(c.UserContext(), provider, c.Query("code"), c.Query("state"))
	if err != nil {
		return toAppError(c, err, "oauth")
	}

	if h.successRedirect != "" {
		q := url.Values{}
		q.Set("provider", string(account.Provider))
		q.Set("email", account.EmailAddress)
		return c.Redirect(h.successRedirect+"?"+q.Encode(), fiber.StatusFound)
	}
	return c.JSON(account)
}

func (h *OAuthHandler) ListAccounts(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}

	accounts, err := h.accounts.ListAccounts(c.UserContext(), uid)
	if err != nil {
		return toAppError(c, err, "mail accounts")
	}
	if accounts == nil {
		accounts = []*domain.MailAccount{}
	}
	return c.JSON(fiber.Map{"accounts": accounts})
}

func (h *OAuthHandler) Disconnect(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}

	if err := h.accounts.Disconnect(c.UserContext(), uid, c.Params("id")); err != nil {
		return toAppError(c, err, "mail account")
	}
	return c.SendStatus(fiber.StatusNoContent)
}
