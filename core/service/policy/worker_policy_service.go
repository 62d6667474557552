// Package policy serves the per-user sync automation policy.
package policy

import (
	"context"
	"math"
	"time"

	"jobsync_worker/core/domain"
	"jobsync_worker/core/port/out"
	"jobsync_worker/pkg/logger"
)

const cacheTTL = 10 * time.Minute

type Service struct {
	repo  out.SyncPolicyRepository
	cache out.JSONCache
}

// NewService creates the policy service. cache may be nil.
func NewService(repo out.SyncPolicyRepository, cache out.JSONCache) *Service {
	return &Service{repo: repo, cache: cache}
}

func cacheKey(userID string) string {
	return "policy:" + userID
}

// Get returns the user's policy, falling back to semi/0.7 for users that
// never saved one. Stored values outside the allowed range are replaced by
// their defaults.
func (s *Service) Get(ctx context.Context, userID string) (domain.SyncPolicy, error) {
	if s.cache != nil {
		var cached domain.SyncPolicy
		if ok, err := s.cache.GetJSON(ctx, cacheKey(userID), &cached); err == nil && ok {
			return cached, nil
		}
	}

	stored, err := s.repo.GetPolicy(ctx, userID)
	if err != nil {
		return domain.SyncPolicy{}, err
	}

	p := sanitize(stored)

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, cacheKey(userID), p, cacheTTL); err != nil {
			logger.WithField("user_id", userID).WithError(err).Debug("policy cache write failed")
		}
	}
	return p, nil
}

// Update validates the merged policy before saving. A rejected update leaves
// the stored policy unchanged.
func (s *Service) Update(ctx context.Context, userID string, update domain.SyncPolicyUpdate) (domain.SyncPolicy, error) {
	current, err := s.Get(ctx, userID)
	if err != nil {
		return domain.SyncPolicy{}, err
	}

	next := update.Merge(current)
	if err := next.Validate(); err != nil {
		return current, err
	}

	if err := s.repo.SavePolicy(ctx, userID, next); err != nil {
		return current, err
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, cacheKey(userID)); err != nil {
			logger.WithField("user_id", userID).WithError(err).Warn("policy cache invalidation failed")
		}
	}
	return next, nil
}

func sanitize(stored *domain.SyncPolicy) domain.SyncPolicy {
	p := domain.DefaultSyncPolicy()
	if stored == nil {
		return p
	}
	if stored.Mode.IsValid() {
		p.Mode = stored.Mode
	}
	if t := stored.AutoThreshold; !math.IsNaN(t) && t >= 0 && t <= 1 {
		p.AutoThreshold = t
	}
	return p
}
