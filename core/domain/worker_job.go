package domain

import (
	"strings"
	"time"
)

type JobStatus string

const (
	JobApplied      JobStatus = "applied"
	JobInterviewing JobStatus = "interviewing"
	JobOffer        JobStatus = "offer"
	JobRejected     JobStatus = "rejected"
)

// JobStatuses is the board column order.
var JobStatuses = []JobStatus{JobApplied, JobInterviewing, JobOffer, JobRejected}

func (s JobStatus) IsValid() bool {
	switch s {
	case JobApplied, JobInterviewing, JobOffer, JobRejected:
		return true
	}
	return false
}

var eventStatus = map[EventType]JobStatus{
	EventSubmission: JobApplied,
	EventOA:         JobInterviewing,
	EventInterview:  JobInterviewing,
	EventRejection:  JobRejected,
	EventOffer:      JobOffer,
	EventOther:      JobApplied,
}

// StatusForEvent maps an event type to the job status it implies.
// Unknown types map to applied.
func StatusForEvent(t EventType) JobStatus {
	if s, ok := eventStatus[t]; ok {
		return s
	}
	return JobApplied
}

const (
	UnknownCompany  = "Unknown Company"
	UnknownPosition = "Unknown Position"
	SourceEmail     = "Email"
)

// Job is one tracked application.
type Job struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Company     string    `json:"company"`
	Position    string    `json:"position"`
	Location    string    `json:"location,omitempty"`
	Source      string    `json:"application_source,omitempty"`
	Status      JobStatus `json:"status"`
	DateApplied time.Time `json:"date_applied"`
	Notes       string    `json:"notes,omitempty"`
	JobURL      string    `json:"job_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// JobMatch selects a job by identity. Empty fields are not constrained.
type JobMatch struct {
	UserID   string
	Company  string
	Position string
}

// HasIdentity reports whether the match carries at least one known field.
// A match without identity never finds an existing job.
func (m JobMatch) HasIdentity() bool {
	return strings.TrimSpace(m.Company) != "" || strings.TrimSpace(m.Position) != ""
}

// StatusHistory is one timeline entry of a job. Entries are ordered by Date.
type StatusHistory struct {
	ID             string    `json:"id"`
	JobID          string    `json:"job_id"`
	UserID         string    `json:"user_id"`
	Status         JobStatus `json:"status"`
	Date           time.Time `json:"date"`
	Notes          string    `json:"notes,omitempty"`
	InterviewStage string    `json:"interview_stage,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// LatestStatus resolves the current status of a job from its timeline.
// The chronologically latest entry wins; entries with the same date are
// ordered by insertion time. With no history the fallback is returned.
func LatestStatus(history []*StatusHistory, fallback JobStatus) JobStatus {
	var latest *StatusHistory
	for _, h := range history {
		if h == nil {
			continue
		}
		if latest == nil ||
			h.Date.After(latest.Date) ||
			(h.Date.Equal(latest.Date) && h.CreatedAt.After(latest.CreatedAt)) {
			latest = h
		}
	}
	if latest == nil {
		return fallback
	}
	return latest.Status
}
