// Package provider implements the Gmail and Outlook mail adapters.
package provider

import (
	"context"
	"errors"
	"net/http"
	"time"

	"jobsync_worker/core/domain"
	"jobsync_worker/core/port/out"
	"jobsync_worker/pkg/logger"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
)

// =============================================================================
// Circuit Breaker
// =============================================================================

func newCircuitBreaker(name string, log zerolog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// 5 consecutive failures, or 60% of at least 10 requests
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
}

// nonCircuitError wraps errors that should not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

// executeWithCircuitBreaker runs fn behind cb. Errors for which trips
// returns false are still returned but do not count as failures.
func executeWithCircuitBreaker(cb *gobreaker.CircuitBreaker, provider domain.Provider, log zerolog.Logger, operation string, fn func() error, trips func(error) bool) error {
	_, err := cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			if !trips(err) {
				return nil, &nonCircuitError{err: err}
			}
			return nil, err
		}
		return nil, nil
	})

	var nce *nonCircuitError
	if errors.As(err, &nce) {
		return nce.err
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return out.NewProviderError(provider, out.ProviderErrUnavailable, "provider temporarily unavailable", err, true)
	}

	if err != nil {
		log.Debug().Str("operation", operation).Str("state", cb.State().String()).Err(err).
			Msg("provider call failed")
	}
	return err
}

// =============================================================================
// OAuth Helpers
// =============================================================================

// withHTTPClient makes oauth2 use client for token endpoint calls and as the
// base transport of the clients it builds.
func withHTTPClient(ctx context.Context, client *http.Client) context.Context {
	if client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

// refreshWith trades a refresh token for a new access token. The raw oauth2
// error is returned so callers can detect revoked grants.
func refreshWith(ctx context.Context, cfg *oauth2.Config, client *http.Client, refreshToken string) (*oauth2.Token, error) {
	src := cfg.TokenSource(withHTTPClient(ctx, client), &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, err
	}
	if token.RefreshToken == refreshToken {
		// oauth2 copies the old refresh token when the endpoint does not rotate it
		token.RefreshToken = ""
	}
	return token, nil
}

// bearerClient is an HTTP client that sends accessToken on every request.
func bearerClient(ctx context.Context, base *http.Client, accessToken string) *http.Client {
	return oauth2.NewClient(withHTTPClient(ctx, base), oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
}

func providerLogger(p domain.Provider) zerolog.Logger {
	return logger.Zerolog("provider").With().Str("provider", string(p)).Logger()
}

// =============================================================================
// Error Helpers
// =============================================================================

func providerError(p domain.Provider, code out.ProviderErrorCode, status int, message string, err error, retryable bool) *out.ProviderError {
	pe := out.NewProviderError(p, code, message, err, retryable)
	pe.StatusCode = status
	return pe
}

// withAccount tags provider errors with the mailbox they belong to.
func withAccount(err error, email string) error {
	var pe *out.ProviderError
	if errors.As(err, &pe) {
		return pe.WithAccount(email)
	}
	return err
}

func isAuthFailure(err error) bool {
	var pe *out.ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Code == out.ProviderErrTokenExpired || pe.Code == out.ProviderErrAuth
}

func latestReceived(prev *time.Time, messages []domain.MailMessage) *time.Time {
	latest := prev
	for i := range messages {
		t := messages[i].ReceivedAt
		if t.IsZero() {
			continue
		}
		if latest == nil || t.After(*latest) {
			latest = &t
		}
	}
	return latest
}
