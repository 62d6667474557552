// Package job applies classified events to tracked applications and serves
// the job timeline.
package job

import (
	"context"
	"errors"
	"strings"
	"time"

	"jobsync_worker/core/domain"
	"jobsync_worker/core/port/out"
	"jobsync_worker/pkg/logger"
)

// EventInput is one classified event about to change a job.
type EventInput struct {
	UserID    string
	Company   string
	Position  string
	EventType domain.EventType
	Subject   string
	Snippet   string

	// OccurredAt is the message receipt time.
	OccurredAt time.Time

	// ScheduledAt is the extracted interview or assessment time, if any.
	ScheduledAt *time.Time
}

// EventInputFromPending builds the input for an accepted pending item.
func EventInputFromPending(item *domain.PendingItem) EventInput {
	return EventInput{
		UserID:      item.UserID,
		Company:     item.Company,
		Position:    item.Position,
		EventType:   item.EventType,
		Subject:     item.Subject,
		Snippet:     item.Snippet,
		OccurredAt:  item.ReceivedAt,
		ScheduledAt: item.InterviewTime,
	}
}

// Updater is the single writer of job status changes.
type Updater struct {
	jobs    out.JobRepository
	history out.StatusHistoryRepository
	now     func() time.Time
}

func NewUpdater(jobs out.JobRepository, history out.StatusHistoryRepository) *Updater {
	return &Updater{
		jobs:    jobs,
		history: history,
		now:     time.Now,
	}
}

// ApplyEvent finds or creates the job the event is about, appends a timeline
// entry and moves the job to the event's status. A mail event is always the
// newest news about an application, so an interview entry dated in the
// future does not hold the status back.
func (u *Updater) ApplyEvent(ctx context.Context, in EventInput) (*domain.Job, error) {
	if in.UserID == "" {
		return nil, domain.NewValidationError("user_id", "required")
	}

	target := domain.StatusForEvent(in.EventType)
	now := u.now().UTC()

	occurredAt := in.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}

	match := domain.JobMatch{
		UserID:   in.UserID,
		Company:  strings.TrimSpace(in.Company),
		Position: strings.TrimSpace(in.Position),
	}

	var job *domain.Job
	if match.HasIdentity() {
		found, err := u.jobs.FindOne(ctx, match)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		job = found
	}

	created := false
	if job == nil {
		job = &domain.Job{
			UserID:      in.UserID,
			Company:     placeholder(match.Company, domain.UnknownCompany),
			Position:    placeholder(match.Position, domain.UnknownPosition),
			Source:      domain.SourceEmail,
			Status:      target,
			DateApplied: occurredAt,
			Notes:       in.Subject,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := u.jobs.Create(ctx, job); err != nil {
			return nil, err
		}
		created = true
	} else if job.Notes == "" {
		job.Notes = in.Subject
	}

	entryDate := occurredAt
	if in.EventType.UsesScheduledTime() && in.ScheduledAt != nil {
		entryDate = *in.ScheduledAt
	}

	entry := &domain.StatusHistory{
		JobID:     job.ID,
		UserID:    in.UserID,
		Status:    target,
		Date:      entryDate,
		Notes:     in.Snippet,
		CreatedAt: now,
	}
	if err := u.history.Create(ctx, entry); err != nil {
		return nil, err
	}

	if !created {
		job.Status = target
		job.UpdatedAt = now
		if err := u.jobs.Update(ctx, job); err != nil {
			return nil, err
		}
	}

	logger.WithContext(ctx).WithFields(map[string]any{
		"job_id":     job.ID,
		"event_type": string(in.EventType),
		"status":     string(job.Status),
		"created":    created,
	}).Info("job event applied")

	return job, nil
}

// Recompute sets the job's status to its latest-by-date timeline entry and
// stores the job. Manual timeline edits go through here.
func (u *Updater) Recompute(ctx context.Context, job *domain.Job) error {
	entries, err := u.history.ListByJob(ctx, job.ID)
	if err != nil {
		return err
	}

	job.Status = domain.LatestStatus(entries, job.Status)
	job.UpdatedAt = u.now().UTC()
	return u.jobs.Update(ctx, job)
}

func placeholder(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
