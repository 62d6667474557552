// Package auth keeps mailbox OAuth tokens usable and connects new mailboxes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"jobsync_worker/core/domain"
	"jobsync_worker/core/port/out"
	"jobsync_worker/pkg/logger"

	"golang.org/x/oauth2"
)

// DefaultExpirySkew refreshes tokens that expire within the next minute so
// a token does not lapse between the check and the provider call.
const DefaultExpirySkew = time.Minute

// TokenManager hands out valid access tokens, refreshing and persisting them
// when they expired.
type TokenManager struct {
	accounts       out.MailAccountRepository
	authenticators map[domain.Provider]out.MailAuthenticator
	skew           time.Duration
	now            func() time.Time
}

func NewTokenManager(accounts out.MailAccountRepository, authenticators ...out.MailAuthenticator) *TokenManager {
	m := &TokenManager{
		accounts:       accounts,
		authenticators: make(map[domain.Provider]out.MailAuthenticator, len(authenticators)),
		skew:           DefaultExpirySkew,
		now:            time.Now,
	}
	for _, a := range authenticators {
		if a != nil {
			m.authenticators[a.Provider()] = a
		}
	}
	return m
}

// EnsureAccessToken returns a usable access token for the account. On refresh
// the account record is updated both in place and in the repository.
func (m *TokenManager) EnsureAccessToken(ctx context.Context, account *domain.MailAccount) (string, error) {
	if !account.AccessTokenExpired(m.now(), m.skew) {
		return account.AccessToken, nil
	}

	if account.RefreshToken == "" {
		return "", &domain.AuthExpiredError{
			Provider: account.Provider,
			Email:    account.EmailAddress,
			Reason:   "access token expired and no refresh token stored",
		}
	}

	auth, ok := m.authenticators[account.Provider]
	if !ok {
		return "", fmt.Errorf("%s: %w", account.Provider, domain.ErrProviderNotConfigured)
	}

	token, err := auth.RefreshToken(ctx, account.RefreshToken)
	if err != nil {
		if isRevoked(err) {
			return "", &domain.AuthExpiredError{
				Provider: account.Provider,
				Email:    account.EmailAddress,
				Reason:   "refresh token rejected",
			}
		}
		return "", out.NewProviderError(account.Provider, out.ProviderErrAuth, "token refresh failed", err, true).
			WithAccount(account.EmailAddress)
	}

	var expiresAt *time.Time
	if !token.Expiry.IsZero() {
		exp := token.Expiry.UTC()
		expiresAt = &exp
	}
	scope, _ := token.Extra("scope").(string)

	if err := m.accounts.UpdateToken(ctx, account.ID, token.AccessToken, token.RefreshToken, expiresAt, scope); err != nil {
		return "", fmt.Errorf("failed to persist refreshed token: %w", err)
	}

	account.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		account.RefreshToken = token.RefreshToken
	}
	account.ExpiresAt = expiresAt
	if scope != "" {
		account.Scope = scope
	}

	logger.WithContext(ctx).
		WithAccount(string(account.Provider), account.EmailAddress).
		Debug("[TokenManager.EnsureAccessToken] access token refreshed")

	return token.AccessToken, nil
}

// isRevoked reports whether the token endpoint refused the refresh token
// itself, as opposed to a transient failure.
func isRevoked(err error) bool {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" {
			return true
		}
		if re.Response != nil && re.Response.StatusCode == 400 && strings.Contains(string(re.Body), "invalid_grant") {
			return true
		}
	}

	msg := err.Error()
	return strings.Contains(msg, "invalid_grant") ||
		strings.Contains(msg, "Token has been expired or revoked") ||
		strings.Contains(msg, "Token has been revoked")
}
