package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jobsync_worker/core/domain"
	"jobsync_worker/core/port/out"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// =============================================================================
// OAuth State Store
// =============================================================================

// OAuthStateKey Redis key prefix for OAuth state
const OAuthStateKey = "oauth:state:"

// RedisOAuthStateStore keeps OAuth state values for the CSRF check on callback.
type RedisOAuthStateStore struct {
	client *redis.Client
}

func NewRedisOAuthStateStore(client *redis.Client) *RedisOAuthStateStore {
	return &RedisOAuthStateStore{client: client}
}

func (s *RedisOAuthStateStore) StoreState(ctx context.Context, state, userID string, ttl time.Duration) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}
	if userID == "" {
		return errors.New("userID cannot be empty")
	}

	if err := s.client.Set(ctx, OAuthStateKey+state, userID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store OAuth state: %w", err)
	}
	return nil
}

// ConsumeState returns the user the state was issued to. GETDEL makes the
// state single-use.
func (s *RedisOAuthStateStore) ConsumeState(ctx context.Context, state string) (string, error) {
	if state == "" {
		return "", domain.ErrNotFound
	}

	userID, err := s.client.GetDel(ctx, OAuthStateKey+state).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to consume OAuth state: %w", err)
	}
	return userID, nil
}

// =============================================================================
// Run Locker
// =============================================================================

const runLockPrefix = "lock:"

// releaseScript deletes the lock only while it still holds our token, so a
// run that outlived its TTL cannot release a lock taken by the next run.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRunLocker is a SET NX lock shared by every process using the same Redis.
type RedisRunLocker struct {
	client *redis.Client
}

func NewRedisRunLocker(client *redis.Client) *RedisRunLocker {
	return &RedisRunLocker{client: client}
}

func (l *RedisRunLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	redisKey := runLockPrefix + key

	ok, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		return nil, domain.ErrRunInProgress
	}

	release := func() {
		// the run context may already be cancelled
		releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err()
	}
	return release, nil
}

var (
	_ out.OAuthStateStore = (*RedisOAuthStateStore)(nil)
	_ out.RunLocker       = (*RedisRunLocker)(nil)
)
