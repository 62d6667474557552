package domain

import (
	"strings"
	"time"
)

// =============================================================================
// Provider
// =============================================================================

type Provider string

const (
	ProviderGmail   Provider = "gmail"
	ProviderOutlook Provider = "outlook"
)

func (p Provider) IsValid() bool {
	return p == ProviderGmail || p == ProviderOutlook
}

// ParseProvider accepts the provider names used by the OAuth routes as well
// ("google", "microsoft").
func ParseProvider(s string) (Provider, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gmail", "google":
		return ProviderGmail, true
	case "outlook", "microsoft":
		return ProviderOutlook, true
	default:
		return "", false
	}
}

// =============================================================================
// MailAccount
// =============================================================================

// MailCursor marks fetch progress for one account.
// Gmail advances HistoryID. Outlook only records LastReceivedAt.
type MailCursor struct {
	HistoryID      uint64     `json:"history_id,omitempty" bson:"history_id,omitempty"`
	LastReceivedAt *time.Time `json:"last_received_at,omitempty" bson:"last_received_at,omitempty"`
	LastFetchedAt  *time.Time `json:"last_fetched_at,omitempty" bson:"last_fetched_at,omitempty"`
}

// MailAccount is one user's authorization to read one mailbox.
type MailAccount struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Provider     Provider   `json:"provider"`
	EmailAddress string     `json:"email_address"`
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Scope        string     `json:"-"`
	Cursor       MailCursor `json:"cursor"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NormalizeEmail is the canonical form used for the (provider, user, email)
// uniqueness key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// AccessTokenExpired reports whether the access token should be refreshed
// before use. A missing expiry is treated as still valid.
func (a *MailAccount) AccessTokenExpired(now time.Time, skew time.Duration) bool {
	if a.AccessToken == "" {
		return true
	}
	if a.ExpiresAt == nil {
		return false
	}
	return !now.Add(skew).Before(*a.ExpiresAt)
}

// =============================================================================
// MailMessage
// =============================================================================

// MailMessage is the provider-neutral message shape handed to the pipeline.
type MailMessage struct {
	Provider   Provider  `json:"provider"`
	ID         string    `json:"id"`
	ThreadID   string    `json:"thread_id,omitempty"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Subject    string    `json:"subject"`
	Snippet    string    `json:"snippet"`
	ReceivedAt time.Time `json:"received_at"`
	HistoryID  uint64    `json:"history_id,omitempty"`
}

// ProcessedEmail is the ledger fact "message M of account A has been considered".
type ProcessedEmail struct {
	Provider   Provider  `json:"provider"`
	AccountID  string    `json:"account_id"`
	UserID     string    `json:"user_id"`
	MessageID  string    `json:"message_id"`
	ThreadID   string    `json:"thread_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
	CreatedAt  time.Time `json:"created_at"`
}
