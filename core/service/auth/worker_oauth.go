package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jobsync_worker/core/domain"
	"jobsync_worker/core/port/out"
	"jobsync_worker/pkg/logger"

	"github.com/google/uuid"
)

const DefaultStateTTL = 10 * time.Minute

// OAuthService connects and disconnects mailboxes.
type OAuthService struct {
	accounts       out.MailAccountRepository
	states         out.OAuthStateStore
	authenticators map[domain.Provider]out.MailAuthenticator
	publisher      out.EventPublisher
	stateTTL       time.Duration
}

func NewOAuthService(accounts out.MailAccountRepository, states out.OAuthStateStore, authenticators ...out.MailAuthenticator) *OAuthService {
	s := &OAuthService{
		accounts:       accounts,
		states:         states,
		authenticators: make(map[domain.Provider]out.MailAuthenticator, len(authenticators)),
		stateTTL:       DefaultStateTTL,
	}
	for _, a := range authenticators {
		if a != nil {
			s.authenticators[a.Provider()] = a
		}
	}
	return s
}

// SetEventPublisher enables the initial sync trigger after a connect.
func (s *OAuthService) SetEventPublisher(p out.EventPublisher) {
	s.publisher = p
}

func (s *OAuthService) authenticator(provider domain.Provider) (out.MailAuthenticator, error) {
	a, ok := s.authenticators[provider]
	if !ok {
		return nil, fmt.Errorf("%s: %w", provider, domain.ErrProviderNotConfigured)
	}
	return a, nil
}

// ConnectURL issues a one-time state bound to the user and returns the
// provider consent URL.
func (s *OAuthService) ConnectURL(ctx context.Context, provider domain.Provider, userID string) (string, error) {
	a, err := s.authenticator(provider)
	if err != nil {
		return "", err
	}

	state := uuid.NewString()
	if err := s.states.StoreState(ctx, state, userID, s.stateTTL); err != nil {
		return "", fmt.Errorf("failed to store oauth state: %w", err)
	}
	return a.AuthURL(state), nil
}

// HandleCallback exchanges the code and stores the mailbox. Reconnecting the
// same mailbox updates the existing account; a refresh token the provider
// did not resend is kept.
func (s *OAuthService) HandleCallback(ctx context.Context, provider domain.Provider, code, state string) (*domain.MailAccount, error) {
	a, err := s.authenticator(provider)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, domain.NewValidationError("code", "required")
	}

	userID, err := s.states.ConsumeState(ctx, state)
	if err != nil || userID == "" {
		return nil, domain.ErrInvalidOAuthState
	}

	token, err := a.ExchangeCode(ctx, code)
	if err != nil {
		return nil, out.NewProviderError(provider, out.ProviderErrAuth, "code exchange failed", err, false)
	}

	email, err := a.MailboxAddress(ctx, token)
	if err != nil {
		return nil, err
	}
	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, out.NewProviderError(provider, out.ProviderErrInvalidInput, "mailbox address missing", nil, false)
	}

	account := &domain.MailAccount{
		UserID:       userID,
		Provider:     provider,
		EmailAddress: email,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		exp := token.Expiry.UTC()
		account.ExpiresAt = &exp
	}
	if scope, ok := token.Extra("scope").(string); ok {
		account.Scope = scope
	}

	if existing, err := s.findAccount(ctx, provider, userID, email); err != nil {
		return nil, err
	} else if existing != nil {
		if account.RefreshToken == "" {
			account.RefreshToken = existing.RefreshToken
		}
		if account.Scope == "" {
			account.Scope = existing.Scope
		}
		account.Cursor = existing.Cursor
	}

	saved, err := s.accounts.Upsert(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to save mail account: %w", err)
	}

	logger.Info("[OAuthService.HandleCallback] connected %s account %s for user %s", provider, email, userID)

	if s.publisher != nil {
		req := &domain.RunRequest{Provider: provider, UserID: userID, Trigger: "connect"}
		if err := s.publisher.PublishSyncTrigger(ctx, req); err != nil {
			logger.Warn("[OAuthService.HandleCallback] failed to publish initial sync: %v", err)
		}
	}

	return saved, nil
}

func (s *OAuthService) findAccount(ctx context.Context, provider domain.Provider, userID, email string) (*domain.MailAccount, error) {
	accounts, err := s.accounts.List(ctx, out.MailAccountFilter{Provider: provider, UserID: userID})
	if err != nil {
		return nil, err
	}
	for _, acc := range accounts {
		if domain.NormalizeEmail(acc.EmailAddress) == email {
			return acc, nil
		}
	}
	return nil, nil
}

func (s *OAuthService) ListAccounts(ctx context.Context, userID string) ([]*domain.MailAccount, error) {
	return s.accounts.List(ctx, out.MailAccountFilter{UserID: userID})
}

// Disconnect deletes the account. Ledger entries stay, so reconnecting
// does not reprocess old mail.
func (s *OAuthService) Disconnect(ctx context.Context, userID, accountID string) error {
	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if acc.UserID != userID {
		return domain.ErrForbidden
	}
	if err := s.accounts.Delete(ctx, accountID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}

	logger.Info("[OAuthService.Disconnect] removed %s account %s", acc.Provider, acc.EmailAddress)
	return nil
}
