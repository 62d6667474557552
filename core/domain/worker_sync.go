package domain

import "time"

// =============================================================================
// Sync run
// =============================================================================

// RunRequest parameterizes one pipeline pass. Empty Provider means all
// providers; empty UserID means all users.
type RunRequest struct {
	Provider Provider `json:"provider,omitempty"`
	UserID   string   `json:"user_id,omitempty"`
	Limit    int      `json:"limit,omitempty"`
	Trigger  string   `json:"trigger,omitempty"`
}

// AccountError is one account's failure within a run. MessageID is set
// when a single message failed and the rest of the account went on.
type AccountError struct {
	AccountID    string   `json:"accountId"`
	Provider     Provider `json:"provider"`
	EmailAddress string   `json:"emailAddress"`
	MessageID    string   `json:"messageId,omitempty"`
	Code         string   `json:"code"`
	Message      string   `json:"message"`
}

// RunResult is the aggregate outcome of one pipeline pass.
type RunResult struct {
	RunID             string         `json:"runId"`
	ProcessedCount    int            `json:"processedCount"`
	SkippedDuplicates int            `json:"skippedDuplicates"`
	NewPendingItems   int            `json:"newPendingItems"`
	AutoAppliedJobs   int            `json:"autoAppliedJobs"`
	PerAccountErrors  []AccountError `json:"perAccountErrors"`
	Accounts          int            `json:"accounts"`
	StartedAt         time.Time      `json:"startedAt"`
	FinishedAt        time.Time      `json:"finishedAt"`
}

// SyncRun is the persisted audit record of a run.
type SyncRun struct {
	RunResult
	Trigger  string   `json:"trigger"`
	Provider Provider `json:"provider,omitempty"`
	UserID   string   `json:"userId,omitempty"`
}

// AccountOutcome counts what one account contributed to a run.
type AccountOutcome struct {
	Processed         int
	SkippedDuplicates int
	NewPending        int
	AutoApplied       int
	MessageErrors     []AccountError
}

func (r *RunResult) Add(o AccountOutcome) {
	r.ProcessedCount += o.Processed
	r.SkippedDuplicates += o.SkippedDuplicates
	r.NewPendingItems += o.NewPending
	r.AutoAppliedJobs += o.AutoApplied
	r.PerAccountErrors = append(r.PerAccountErrors, o.MessageErrors...)
}

// JobEventKind names the notifications published after a pipeline effect.
type JobEventKind string

const (
	JobEventPendingCreated JobEventKind = "pending_created"
	JobEventJobApplied     JobEventKind = "job_applied"
	JobEventPendingAccept  JobEventKind = "pending_accepted"
)

type JobEvent struct {
	Kind          JobEventKind `json:"kind"`
	UserID        string       `json:"user_id"`
	JobID         string       `json:"job_id,omitempty"`
	PendingItemID string       `json:"pending_item_id,omitempty"`
	EventType     EventType    `json:"event_type"`
	Confidence    float64      `json:"confidence"`
	OccurredAt    time.Time    `json:"occurred_at"`
}
