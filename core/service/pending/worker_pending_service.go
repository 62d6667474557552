// Package pending manages staged events awaiting review.
package pending

import (
	"context"
	"time"

	"jobsync_worker/core/domain"
	"jobsync_worker/core/port/out"
	"jobsync_worker/core/service/job"
	"jobsync_worker/pkg/logger"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

type Service struct {
	items     out.PendingItemRepository
	updater   *job.Updater
	publisher out.EventPublisher
}

// NewService creates the review service. publisher may be nil.
func NewService(items out.PendingItemRepository, updater *job.Updater, publisher out.EventPublisher) *Service {
	return &Service{
		items:     items,
		updater:   updater,
		publisher: publisher,
	}
}

// List returns the user's items, newest first. With no statuses given only
// open items are listed.
func (s *Service) List(ctx context.Context, userID string, statuses []domain.PendingStatus, limit int) ([]*domain.PendingItem, error) {
	if len(statuses) == 0 {
		statuses = []domain.PendingStatus{domain.PendingOpen}
	}
	for _, st := range statuses {
		if !st.IsValid() {
			return nil, domain.NewValidationError("status", "must be one of pending, accepted, ignored")
		}
	}
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}

	return s.items.List(ctx, out.PendingFilter{UserID: userID, Statuses: statuses, Limit: limit})
}

// Accept merges the edits, claims the item and applies the event to the job
// board. The item is reopened if the job update fails.
func (s *Service) Accept(ctx context.Context, userID, itemID string, edits *domain.PendingEdits) (*domain.PendingItem, *domain.Job, error) {
	if err := edits.Validate(); err != nil {
		return nil, nil, err
	}

	item, err := s.open(ctx, userID, itemID)
	if err != nil {
		return nil, nil, err
	}

	edits.Apply(item)

	if err := s.items.Transition(ctx, item, domain.PendingAccepted); err != nil {
		return nil, nil, err
	}

	j, err := s.updater.ApplyEvent(ctx, job.EventInputFromPending(item))
	if err != nil {
		item.Status = domain.PendingOpen
		if rerr := s.items.Update(ctx, item); rerr != nil {
			logger.WithContext(ctx).WithError(rerr).WithFields(map[string]any{
				"pending_id": item.ID,
			}).Error("failed to reopen pending item after job update error")
		}
		return nil, nil, err
	}

	item.AcceptedJobID = j.ID
	if err := s.items.Update(ctx, item); err != nil {
		return nil, nil, err
	}

	s.publish(ctx, &domain.JobEvent{
		Kind:          domain.JobEventPendingAccept,
		UserID:        userID,
		JobID:         j.ID,
		PendingItemID: item.ID,
		EventType:     item.EventType,
		Confidence:    item.Confidence,
		OccurredAt:    time.Now().UTC(),
	})

	return item, j, nil
}

func (s *Service) Ignore(ctx context.Context, userID, itemID string) (*domain.PendingItem, error) {
	item, err := s.open(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}
	if err := s.items.Transition(ctx, item, domain.PendingIgnored); err != nil {
		return nil, err
	}
	return item, nil
}

// Clear deletes the user's items in the terminal statuses the scope names.
// Open items are never touched.
func (s *Service) Clear(ctx context.Context, userID string, scope domain.ClearScope) (int64, error) {
	statuses, ok := scope.Statuses()
	if !ok {
		return 0, domain.NewValidationError("status", "must be accepted, ignored or all")
	}
	return s.items.DeleteByStatus(ctx, userID, statuses)
}

func (s *Service) open(ctx context.Context, userID, itemID string) (*domain.PendingItem, error) {
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.UserID != userID {
		return nil, domain.ErrForbidden
	}
	if item.Status != domain.PendingOpen {
		return nil, domain.ErrNotPending
	}
	return item, nil
}

func (s *Service) publish(ctx context.Context, ev *domain.JobEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishJobEvent(ctx, ev); err != nil {
		logger.WithContext(ctx).WithError(err).Warn("failed to publish job event")
	}
}
