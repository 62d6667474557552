package out

import (
	"context"
	"time"

	"jobsync_worker/core/domain"
)

// MailAccountFilter narrows ListAccounts. Empty fields match everything.
type MailAccountFilter struct {
	Provider domain.Provider
	UserID   string
}

// MailAccountRepository persists connected mailboxes.
type MailAccountRepository interface {
	List(ctx context.Context, filter MailAccountFilter) ([]*domain.MailAccount, error)
	GetByID(ctx context.Context, id string) (*domain.MailAccount, error)

	// Upsert creates or replaces the account keyed by (provider, user, email).
	Upsert(ctx context.Context, account *domain.MailAccount) (*domain.MailAccount, error)

	UpdateToken(ctx context.Context, id string, accessToken, refreshToken string, expiresAt *time.Time, scope string) error
	UpdateCursor(ctx context.Context, id string, cursor domain.MailCursor) error
	Delete(ctx context.Context, id string) error
}

// LedgerRepository stores the (account, message) pairs already considered.
type LedgerRepository interface {
	// ExistingIDs returns the subset of messageIDs already recorded for the account.
	ExistingIDs(ctx context.Context, accountID string, messageIDs []string) (map[string]struct{}, error)

	// InsertMany records entries. Duplicate keys are not errors.
	// It returns how many rows were newly inserted.
	InsertMany(ctx context.Context, entries []*domain.ProcessedEmail) (int, error)
}

// PendingFilter narrows pending item listings.
type PendingFilter struct {
	UserID   string
	Statuses []domain.PendingStatus
	Limit    int
}

// PendingItemRepository stores staged events.
type PendingItemRepository interface {
	// Create inserts the item. It returns domain.ErrDuplicate when an item for
	// (user, message, provider) already exists.
	Create(ctx context.Context, item *domain.PendingItem) error
	GetByID(ctx context.Context, id string) (*domain.PendingItem, error)
	List(ctx context.Context, filter PendingFilter) ([]*domain.PendingItem, error)

	// Transition moves an item from pending to a terminal status and stores
	// the merged item. It returns domain.ErrNotPending if the item left
	// pending concurrently.
	Transition(ctx context.Context, item *domain.PendingItem, to domain.PendingStatus) error

	// Update stores the item as is. It returns domain.ErrNotFound for an
	// unknown id.
	Update(ctx context.Context, item *domain.PendingItem) error

	DeleteByStatus(ctx context.Context, userID string, statuses []domain.PendingStatus) (int64, error)
}

// JobRepository stores tracked applications.
type JobRepository interface {
	FindOne(ctx context.Context, match domain.JobMatch) (*domain.Job, error)
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Job, error)
	Create(ctx context.Context, job *domain.Job) error
	Update(ctx context.Context, job *domain.Job) error
}

// StatusHistoryRepository stores job timelines.
type StatusHistoryRepository interface {
	Create(ctx context.Context, entry *domain.StatusHistory) error
	GetByID(ctx context.Context, id string) (*domain.StatusHistory, error)
	ListByJob(ctx context.Context, jobID string) ([]*domain.StatusHistory, error)
	ListByUserSince(ctx context.Context, userID string, since time.Time) ([]*domain.StatusHistory, error)
	Update(ctx context.Context, entry *domain.StatusHistory) error
	Delete(ctx context.Context, id string) error
}

// SyncPolicyRepository reads and writes the per-user automation policy.
type SyncPolicyRepository interface {
	// GetPolicy returns the stored policy, or nil when the user never set one.
	GetPolicy(ctx context.Context, userID string) (*domain.SyncPolicy, error)
	SavePolicy(ctx context.Context, userID string, policy domain.SyncPolicy) error
}

// SyncRunRepository keeps the audit log of pipeline runs.
type SyncRunRepository interface {
	Save(ctx context.Context, run *domain.SyncRun) error
	ListRecent(ctx context.Context, userID string, limit int) ([]*domain.SyncRun, error)
}
