package out

import (
	"context"
	"time"

	"jobsync_worker/core/domain"
)

// EventPublisher notifies other services about pipeline effects.
type EventPublisher interface {
	PublishJobEvent(ctx context.Context, event *domain.JobEvent) error
	PublishSyncTrigger(ctx context.Context, req *domain.RunRequest) error
}

// RunLocker serializes sync runs across processes.
type RunLocker interface {
	// TryLock returns a release func when the lock was taken, or
	// domain.ErrRunInProgress when someone else holds it.
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// OAuthStateStore keeps one-time OAuth state values.
type OAuthStateStore interface {
	StoreState(ctx context.Context, state, userID string, ttl time.Duration) error
	ConsumeState(ctx context.Context, state string) (string, error)
}

// JSONCache is a best-effort read-through cache.
type JSONCache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// ChatCompleter is a chat-completion style LLM.
type ChatCompleter interface {
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
