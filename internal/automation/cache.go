package automation

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// CachedHookSource memoizes ActiveHooks per user for a TTL. Call Invalidate
// after changing a user's hooks.
type CachedHookSource struct {
	next  HookSource
	ttl   time.Duration
	cache *gocache.Cache
}

// NewCachedHookSource wraps next with a ttl cache. Expired entries are
// evicted lazily, so no janitor goroutine is started. A non-positive ttl
// disables caching.
func NewCachedHookSource(next HookSource, ttl time.Duration) *CachedHookSource {
	return &CachedHookSource{
		next:  next,
		ttl:   ttl,
		cache: gocache.New(ttl, 0),
	}
}

// ActiveHooks returns the cached hooks for userID, loading them on a miss.
func (s *CachedHookSource) ActiveHooks(ctx context.Context, userID string) ([]Hook, error) {
	if s.ttl <= 0 {
		return s.next.ActiveHooks(ctx, userID)
	}
	if v, ok := s.cache.Get(userID); ok {
		return cloneHooks(v.([]Hook)), nil
	}
	hooks, err := s.next.ActiveHooks(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(userID, cloneHooks(hooks))
	return hooks, nil
}

// Invalidate drops the cached hooks for userID.
func (s *CachedHookSource) Invalidate(userID string) {
	s.cache.Delete(userID)
}

func cloneHooks(hooks []Hook) []Hook {
	out := make([]Hook, len(hooks))
	copy(out, hooks)
	return out
}
