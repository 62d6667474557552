package domain

import (
	"strings"
	"time"
)

type PendingStatus string

const (
	PendingOpen     PendingStatus = "pending"
	PendingAccepted PendingStatus = "accepted"
	PendingIgnored  PendingStatus = "ignored"
)

func (s PendingStatus) IsTerminal() bool {
	return s == PendingAccepted || s == PendingIgnored
}

func (s PendingStatus) IsValid() bool {
	return s == PendingOpen || s.IsTerminal()
}

// PendingItem is a staged candidate event awaiting accept or ignore.
type PendingItem struct {
	ID        string   `json:"id"`
	UserID    string   `json:"user_id"`
	AccountID string   `json:"account_id"`
	Provider  Provider `json:"provider"`
	MessageID string   `json:"message_id"`
	ThreadID  string   `json:"thread_id,omitempty"`

	Subject    string    `json:"subject"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Snippet    string    `json:"snippet"`
	ReceivedAt time.Time `json:"received_at"`

	Company           string            `json:"company,omitempty"`
	Position          string            `json:"position,omitempty"`
	EventType         EventType         `json:"event_type"`
	IsRelevant        bool              `json:"is_relevant"`
	InterviewTime     *time.Time        `json:"interview_time,omitempty"`
	Deadline          *time.Time        `json:"deadline,omitempty"`
	NeedsScheduling   bool              `json:"needs_scheduling"`
	Confidence        float64           `json:"confidence"`
	RecommendedAction RecommendedAction `json:"recommended_action"`
	Summary           string            `json:"summary,omitempty"`
	Rationale         string            `json:"rationale,omitempty"`
	Notes             string            `json:"notes,omitempty"`

	Status        PendingStatus `json:"status"`
	AcceptedJobID string        `json:"accepted_job_id,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// NewPendingItem builds a staged item from a message and its judgment.
func NewPendingItem(account *MailAccount, msg MailMessage, ev *ParsedEvent) *PendingItem {
	return &PendingItem{
		UserID:            account.UserID,
		AccountID:         account.ID,
		Provider:          account.Provider,
		MessageID:         msg.ID,
		ThreadID:          msg.ThreadID,
		Subject:           msg.Subject,
		From:              msg.From,
		To:                msg.To,
		Snippet:           msg.Snippet,
		ReceivedAt:        msg.ReceivedAt,
		Company:           ev.Company,
		Position:          ev.Position,
		EventType:         ev.EventType,
		IsRelevant:        true,
		InterviewTime:     ev.InterviewTime,
		Deadline:          ev.Deadline,
		NeedsScheduling:   ev.NeedsScheduling,
		Confidence:        ev.Confidence,
		RecommendedAction: ev.RecommendedAction,
		Summary:           ev.Summary,
		Rationale:         ev.Rationale,
		Status:            PendingOpen,
	}
}

// PendingEdits is the partial update a reviewer may submit when accepting.
// Nil fields are left untouched.
type PendingEdits struct {
	Company         *string    `json:"company,omitempty"`
	Position        *string    `json:"position,omitempty"`
	EventType       *EventType `json:"event_type,omitempty"`
	InterviewTime   *time.Time `json:"interview_time,omitempty"`
	Deadline        *time.Time `json:"deadline,omitempty"`
	NeedsScheduling *bool      `json:"needs_scheduling,omitempty"`
	Confidence      *float64   `json:"confidence,omitempty"`
	Summary         *string    `json:"summary,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
}

// Validate applies the same constraints as item creation.
func (e *PendingEdits) Validate() error {
	if e == nil {
		return nil
	}
	if e.EventType != nil && !e.EventType.IsValid() {
		return NewValidationError("event_type", "must be one of submission, oa, interview, rejection, offer, other")
	}
	if e.Confidence != nil && (*e.Confidence < 0 || *e.Confidence > 1) {
		return NewValidationError("confidence", "must be between 0 and 1")
	}
	if e.Company != nil && len(*e.Company) > 200 {
		return NewValidationError("company", "too long")
	}
	if e.Position != nil && len(*e.Position) > 200 {
		return NewValidationError("position", "too long")
	}
	return nil
}

// Apply merges the edits onto the item.
func (e *PendingEdits) Apply(item *PendingItem) {
	if e == nil {
		return
	}
	if e.Company != nil {
		item.Company = strings.TrimSpace(*e.Company)
	}
	if e.Position != nil {
		item.Position = strings.TrimSpace(*e.Position)
	}
	if e.EventType != nil {
		item.EventType = *e.EventType
	}
	if e.InterviewTime != nil {
		item.InterviewTime = e.InterviewTime
	}
	if e.Deadline != nil {
		item.Deadline = e.Deadline
	}
	if e.NeedsScheduling != nil {
		item.NeedsScheduling = *e.NeedsScheduling
	}
	if e.Confidence != nil {
		item.Confidence = *e.Confidence
	}
	if e.Summary != nil {
		item.Summary = *e.Summary
	}
	if e.Notes != nil {
		item.Notes = *e.Notes
	}
}

// ClearScope selects which terminal items a bulk clear removes.
type ClearScope string

const (
	ClearAccepted ClearScope = "accepted"
	ClearIgnored  ClearScope = "ignored"
	ClearAll      ClearScope = "all"
)

// Statuses returns the terminal statuses covered by the scope. It never
// includes pending.
func (c ClearScope) Statuses() ([]PendingStatus, bool) {
	switch c {
	case ClearAccepted:
		return []PendingStatus{PendingAccepted}, true
	case ClearIgnored:
		return []PendingStatus{PendingIgnored}, true
	case ClearAll, "":
		return []PendingStatus{PendingAccepted, PendingIgnored}, true
	}
	return nil, false
}
