package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"school-session-agent/internal/domain"
	"school-session-agent/internal/logging"
)

// ActivityLoader fetches activity definitions from a backing store (e.g., postgres).
type ActivityLoader interface {
	LoadActivity(ctx context.Context, activityID string) (domain.Activity, error)
}

// ActivityCache caches activity definitions in Redis and falls back to a loader on cache miss.
// Each activity is stored as JSON under activity:{id} with a jittered TTL.
type ActivityCache struct {
	client *redis.Client
	loader ActivityLoader
	ttl    time.Duration
	sf     singleflight.Group
	log    logging.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewActivityCache(client *redis.Client, loader ActivityLoader, ttl time.Duration, log logging.Logger) *ActivityCache {
	if log == nil {
		log = logging.Nop()
	}
	return &ActivityCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		log:    log,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *ActivityCache) LoadActivity(ctx context.Context, activityID string) (domain.Activity, error) {
	if act, ok := r.cached(ctx, activityID); ok {
		return act, nil
	}

	result, err, _ := r.sf.Do(activityID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if act, ok := r.cached(ctx, activityID); ok {
			return act, nil
		}

		act, err := r.loader.LoadActivity(ctx, activityID)
		if err != nil {
			return domain.Activity{}, err
		}

		raw, err := json.Marshal(act)
		if err == nil {
			err = r.client.Set(ctx, r.key(activityID), raw, r.ttlWithJitter()).Err()
		}
		if err != nil {
			r.log.Warnf("cache activity %s: %v", activityID, err)
		}
		return act, nil
	})
	if err != nil {
		return domain.Activity{}, err
	}
	return result.(domain.Activity), nil
}

// Invalidate drops the cached copy of an activity.
func (r *ActivityCache) Invalidate(ctx context.Context, activityID string) error {
	return r.client.Del(ctx, r.key(activityID)).Err()
}

func (r *ActivityCache) cached(ctx context.Context, activityID string) (domain.Activity, bool) {
	raw, err := r.client.Get(ctx, r.key(activityID)).Bytes()
	if err != nil {
		return domain.Activity{}, false
	}
	var act domain.Activity
	if err := json.Unmarshal(raw, &act); err != nil {
		r.log.Warnf("corrupt cached activity %s: %v", activityID, err)
		return domain.Activity{}, false
	}
	return act, true
}

func (r *ActivityCache) key(activityID string) string {
	return "activity:" + activityID
}

func (r *ActivityCache) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
