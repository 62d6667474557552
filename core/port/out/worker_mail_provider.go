// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"
	"fmt"

	"jobsync_worker/core/domain"

	"golang.org/x/oauth2"
)

// =============================================================================
// Mail Provider Port (Gmail, Outlook)
// =============================================================================

// FetchResult is one bounded batch read from a mailbox.
type FetchResult struct {
	Messages []domain.MailMessage
	Cursor   domain.MailCursor

	// Incremental is false when the fetcher fell back to a recent-messages
	// listing instead of a delta query.
	Incremental bool
}

// MailFetcher turns an account and its cursor into normalized messages.
type MailFetcher interface {
	Provider() domain.Provider
	FetchBatch(ctx context.Context, account *domain.MailAccount, accessToken string, limit int) (*FetchResult, error)
}

// MailAuthenticator handles the OAuth side of a provider.
type MailAuthenticator interface {
	Provider() domain.Provider
	AuthURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)
	RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	// MailboxAddress resolves the address of the mailbox the token grants.
	MailboxAddress(ctx context.Context, token *oauth2.Token) (string, error)
}

// =============================================================================
// Provider Errors
// =============================================================================

type ProviderErrorCode string

const (
	ProviderErrAuth         ProviderErrorCode = "auth_error"
	ProviderErrTokenExpired ProviderErrorCode = "token_expired"
	ProviderErrRateLimit    ProviderErrorCode = "rate_limit"
	ProviderErrNotFound     ProviderErrorCode = "not_found"
	ProviderErrNetwork      ProviderErrorCode = "network_error"
	ProviderErrServer       ProviderErrorCode = "server_error"
	ProviderErrInvalidInput ProviderErrorCode = "invalid_input"
	ProviderErrSyncRequired ProviderErrorCode = "full_sync_required"
	ProviderErrUnavailable  ProviderErrorCode = "circuit_open"
)

// ProviderError is any failed call to a mail provider, tagged with the
// mailbox it was made for.
type ProviderError struct {
	Provider   domain.Provider
	Account    string
	Code       ProviderErrorCode
	StatusCode int
	Message    string
	Err        error
	Retryable  bool
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Account != "" {
		return fmt.Sprintf("%s (%s): %s", e.Provider, e.Account, msg)
	}
	return fmt.Sprintf("%s: %s", e.Provider, msg)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func NewProviderError(provider domain.Provider, code ProviderErrorCode, message string, err error, retryable bool) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Err:       err,
		Retryable: retryable,
	}
}

// WithAccount returns a copy tagged with the mailbox address.
func (e *ProviderError) WithAccount(email string) *ProviderError {
	c := *e
	c.Account = email
	return &c
}
