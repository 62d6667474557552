package ingest

import (
	"context"
	"errors"
	"fmt"

	"jobsync_worker/core/domain"
	"jobsync_worker/core/port/out"
	"jobsync_worker/core/service/job"
)

// Decision is where a classified event goes.
type Decision string

const (
	DecisionApply Decision = "apply"
	DecisionStage Decision = "stage"
)

// Route applies an event directly only in auto mode and only when the
// confidence reaches the user's threshold.
func Route(ev *domain.ParsedEvent, policy domain.SyncPolicy) Decision {
	if policy.AllowsAutoApply(ev.Confidence) {
		return DecisionApply
	}
	return DecisionStage
}

// RouteOutcome reports what Dispatch did.
type RouteOutcome struct {
	Decision Decision
	Job      *domain.Job
	Pending  *domain.PendingItem

	// Duplicate is set when a pending item for the message already existed.
	Duplicate bool
}

// Router carries out routing decisions.
type Router struct {
	updater *job.Updater
	pending out.PendingItemRepository
}

func NewRouter(updater *job.Updater, pending out.PendingItemRepository) *Router {
	return &Router{updater: updater, pending: pending}
}

func (r *Router) Dispatch(ctx context.Context, account *domain.MailAccount, msg domain.MailMessage, ev *domain.ParsedEvent, policy domain.SyncPolicy) (*RouteOutcome, error) {
	decision := Route(ev, policy)

	if decision == DecisionApply {
		j, err := r.updater.ApplyEvent(ctx, job.EventInput{
			UserID:      account.UserID,
			Company:     ev.Company,
			Position:    ev.Position,
			EventType:   ev.EventType,
			Subject:     msg.Subject,
			Snippet:     msg.Snippet,
			OccurredAt:  msg.ReceivedAt,
			ScheduledAt: ev.InterviewTime,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to apply event for message %s: %w", msg.ID, err)
		}
		return &RouteOutcome{Decision: decision, Job: j}, nil
	}

	item := domain.NewPendingItem(account, msg, ev)
	if err := r.pending.Create(ctx, item); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return &RouteOutcome{Decision: decision, Duplicate: true}, nil
		}
		return nil, fmt.Errorf("failed to stage message %s: %w", msg.ID, err)
	}
	return &RouteOutcome{Decision: decision, Pending: item}, nil
}
