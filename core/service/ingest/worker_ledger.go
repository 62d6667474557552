// Package ingest runs mailbox fetches through deduplication, classification
// and routing.
package ingest

import (
	"context"
	"fmt"
	"time"

	"jobsync_worker/core/domain"
	"jobsync_worker/core/port/out"
)

// Ledger decides which fetched messages were never considered before.
type Ledger struct {
	repo out.LedgerRepository
	now  func() time.Time
}

func NewLedger(repo out.LedgerRepository) *Ledger {
	return &Ledger{repo: repo, now: time.Now}
}

// FilterNew returns the messages of msgs not yet recorded for the account,
// in their original order. A message id repeated within msgs is kept once.
func (l *Ledger) FilterNew(ctx context.Context, accountID string, msgs []domain.MailMessage) ([]domain.MailMessage, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}

	existing, err := l.repo.ExistingIDs(ctx, accountID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}

	fresh := make([]domain.MailMessage, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if _, ok := existing[m.ID]; ok {
			continue
		}
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		fresh = append(fresh, m)
	}
	return fresh, nil
}

// RecordProcessed marks msgs as considered. Entries another run recorded
// first are not an error.
func (l *Ledger) RecordProcessed(ctx context.Context, account *domain.MailAccount, msgs []domain.MailMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	now := l.now().UTC()
	entries := make([]*domain.ProcessedEmail, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, &domain.ProcessedEmail{
			Provider:   account.Provider,
			AccountID:  account.ID,
			UserID:     account.UserID,
			MessageID:  m.ID,
			ThreadID:   m.ThreadID,
			ReceivedAt: m.ReceivedAt,
			CreatedAt:  now,
		})
	}

	if _, err := l.repo.InsertMany(ctx, entries); err != nil {
		return fmt.Errorf("failed to record processed messages: %w", err)
	}
	return nil
}
