package job

import (
	"context"
	"sort"
	"strings"
	"time"

	"jobsync_worker/core/domain"
	"jobsync_worker/core/port/out"
)

// =============================================================================
// Timeline Service (jobs + status history)
// =============================================================================

type Service struct {
	jobs    out.JobRepository
	history out.StatusHistoryRepository
	updater *Updater
}

func NewService(jobs out.JobRepository, history out.StatusHistoryRepository, updater *Updater) *Service {
	return &Service{jobs: jobs, history: history, updater: updater}
}

// HistoryInput adds or replaces a timeline entry. On edit, nil fields keep
// their current value.
type HistoryInput struct {
	Status         *domain.JobStatus `json:"status,omitempty"`
	Date           *time.Time        `json:"date,omitempty"`
	Notes          *string           `json:"notes,omitempty"`
	InterviewStage *string           `json:"interview_stage,omitempty"`
}

func (in HistoryInput) validate() error {
	if in.Status != nil && !in.Status.IsValid() {
		return domain.NewValidationError("status", "must be one of applied, interviewing, offer, rejected")
	}
	if in.InterviewStage != nil && len(*in.InterviewStage) > 100 {
		return domain.NewValidationError("interview_stage", "too long")
	}
	return nil
}

func (s *Service) ListJobs(ctx context.Context, userID string) ([]*domain.Job, error) {
	return s.jobs.ListByUser(ctx, userID)
}

func (s *Service) GetJob(ctx context.Context, userID, jobID string) (*domain.Job, error) {
	return s.ownedJob(ctx, userID, jobID)
}

// ListHistory returns the job's timeline ordered by date, oldest first.
func (s *Service) ListHistory(ctx context.Context, userID, jobID string) ([]*domain.StatusHistory, error) {
	if _, err := s.ownedJob(ctx, userID, jobID); err != nil {
		return nil, err
	}

	entries, err := s.history.ListByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Date.Equal(entries[j].Date) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].Date.Before(entries[j].Date)
	})
	return entries, nil
}

func (s *Service) AddHistory(ctx context.Context, userID, jobID string, in HistoryInput) (*domain.StatusHistory, *domain.Job, error) {
	if in.Status == nil {
		return nil, nil, domain.NewValidationError("status", "required")
	}
	if err := in.validate(); err != nil {
		return nil, nil, err
	}

	job, err := s.ownedJob(ctx, userID, jobID)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	entry := &domain.StatusHistory{
		JobID:     jobID,
		UserID:    userID,
		Status:    *in.Status,
		Date:      now,
		CreatedAt: now,
	}
	if in.Date != nil {
		entry.Date = *in.Date
	}
	if in.Notes != nil {
		entry.Notes = *in.Notes
	}
	if in.InterviewStage != nil {
		entry.InterviewStage = strings.TrimSpace(*in.InterviewStage)
	}

	if err := s.history.Create(ctx, entry); err != nil {
		return nil, nil, err
	}
	if err := s.updater.Recompute(ctx, job); err != nil {
		return nil, nil, err
	}
	return entry, job, nil
}

// EditHistory changes an entry. The job's status follows whichever entry is
// latest by date afterwards, which may not be the edited one.
func (s *Service) EditHistory(ctx context.Context, userID, jobID, entryID string, in HistoryInput) (*domain.StatusHistory, *domain.Job, error) {
	if err := in.validate(); err != nil {
		return nil, nil, err
	}

	job, entry, err := s.ownedEntry(ctx, userID, jobID, entryID)
	if err != nil {
		return nil, nil, err
	}

	if in.Status != nil {
		entry.Status = *in.Status
	}
	if in.Date != nil {
		entry.Date = *in.Date
	}
	if in.Notes != nil {
		entry.Notes = *in.Notes
	}
	if in.InterviewStage != nil {
		entry.InterviewStage = strings.TrimSpace(*in.InterviewStage)
	}

	if err := s.history.Update(ctx, entry); err != nil {
		return nil, nil, err
	}
	if err := s.updater.Recompute(ctx, job); err != nil {
		return nil, nil, err
	}
	return entry, job, nil
}

// DeleteHistory removes an entry. With no entries left the job keeps its
// current status.
func (s *Service) DeleteHistory(ctx context.Context, userID, jobID, entryID string) (*domain.Job, error) {
	job, entry, err := s.ownedEntry(ctx, userID, jobID, entryID)
	if err != nil {
		return nil, err
	}

	if err := s.history.Delete(ctx, entry.ID); err != nil {
		return nil, err
	}
	if err := s.updater.Recompute(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Service) ownedJob(ctx context.Context, userID, jobID string) (*domain.Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, domain.ErrForbidden
	}
	return job, nil
}

func (s *Service) ownedEntry(ctx context.Context, userID, jobID, entryID string) (*domain.Job, *domain.StatusHistory, error) {
	job, err := s.ownedJob(ctx, userID, jobID)
	if err != nil {
		return nil, nil, err
	}

	entry, err := s.history.GetByID(ctx, entryID)
	if err != nil {
		return nil, nil, err
	}
	if entry.JobID != jobID {
		return nil, nil, domain.ErrNotFound
	}
	if entry.UserID != userID {
		return nil, nil, domain.ErrForbidden
	}
	return job, entry, nil
}
