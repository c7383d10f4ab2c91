package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"school-session-agent/internal/domain"
)

// ActivityLoader fetches activity definitions from a backing store (postgres, fixtures).
type ActivityLoader interface {
	LoadActivity(ctx context.Context, activityID string) (domain.Activity, error)
}

const defaultMaxActivities = 256

// ActivityCache keeps recently served activity definitions in process for the backend.
// Entries are bounded by count and evicted least recently used first; an entry older
// than the TTL is reloaded on its next read. Concurrent misses for one activity share a
// single load.
type ActivityCache struct {
	loader     ActivityLoader
	ttl        time.Duration
	now        func() time.Time
	maxEntries int
	loads      singleflight.Group

	mu      sync.Mutex
	entries map[string]*list.Element
	recency *list.List // front is most recently used
}

type activityEntry struct {
	id       string
	activity domain.Activity
	loadedAt time.Time
}

// CacheOption tunes an ActivityCache.
type CacheOption func(*ActivityCache)

// WithClock replaces time.Now when deciding whether an entry is stale.
func WithClock(now func() time.Time) CacheOption {
	return func(c *ActivityCache) { c.now = now }
}

// WithMaxEntries caps how many activities are held at once. Non-positive values keep the default.
func WithMaxEntries(n int) CacheOption {
	return func(c *ActivityCache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// NewActivityCache wraps loader. A non-positive ttl disables caching.
func NewActivityCache(loader ActivityLoader, ttl time.Duration, opts ...CacheOption) *ActivityCache {
	c := &ActivityCache{
		loader:     loader,
		ttl:        ttl,
		now:        time.Now,
		maxEntries: defaultMaxActivities,
		entries:    make(map[string]*list.Element),
		recency:    list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoadActivity returns a private copy of the definition so graders and answer-key
// stripping never mutate the cached one.
func (c *ActivityCache) LoadActivity(ctx context.Context, activityID string) (domain.Activity, error) {
	if act, ok := c.fresh(activityID); ok {
		return cloneActivity(act), nil
	}

	v, err, _ := c.loads.Do(activityID, func() (interface{}, error) {
		act, err := c.loader.LoadActivity(ctx, activityID)
		if err != nil {
			return domain.Activity{}, err
		}
		c.store(activityID, act)
		return act, nil
	})
	if err != nil {
		return domain.Activity{}, err
	}
	return cloneActivity(v.(domain.Activity)), nil
}

// Invalidate drops a cached activity so the next load hits the backing store.
func (c *ActivityCache) Invalidate(activityID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[activityID]; ok {
		c.removeLocked(el)
	}
}

// Purge drops every stale entry and reports how many were removed.
func (c *ActivityCache) Purge() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for el := c.recency.Back(); el != nil; {
		prev := el.Prev()
		if c.staleLocked(el.Value.(*activityEntry), now) {
			c.removeLocked(el)
			removed++
		}
		el = prev
	}
	return removed
}

// Len reports the number of cached activities, stale ones included.
func (c *ActivityCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ActivityCache) fresh(activityID string) (domain.Activity, bool) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[activityID]
	if !ok {
		return domain.Activity{}, false
	}
	entry := el.Value.(*activityEntry)
	if c.staleLocked(entry, now) {
		c.removeLocked(el)
		return domain.Activity{}, false
	}
	c.recency.MoveToFront(el)
	return entry.activity, true
}

func (c *ActivityCache) store(activityID string, act domain.Activity) {
	if c.ttl <= 0 {
		return
	}
	entry := &activityEntry{id: activityID, activity: cloneActivity(act), loadedAt: c.now()}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[activityID]; ok {
		el.Value = entry
		c.recency.MoveToFront(el)
		return
	}
	c.entries[activityID] = c.recency.PushFront(entry)
	for len(c.entries) > c.maxEntries {
		c.removeLocked(c.recency.Back())
	}
}

func (c *ActivityCache) staleLocked(entry *activityEntry, now time.Time) bool {
	return !now.Before(entry.loadedAt.Add(c.ttl))
}

func (c *ActivityCache) removeLocked(el *list.Element) {
	c.recency.Remove(el)
	delete(c.entries, el.Value.(*activityEntry).id)
}

func cloneActivity(act domain.Activity) domain.Activity {
	if act.Questions == nil {
		return act
	}
	questions := make([]domain.Question, len(act.Questions))
	for i, q := range act.Questions {
		q.Choices = append([]domain.Choice(nil), q.Choices...)
		questions[i] = q
	}
	act.Questions = questions
	return act
}

// StaticActivityLoader serves a fixed set of activities (seed files, demos, tests).
type StaticActivityLoader struct {
	activities map[string]domain.Activity
}

func NewStaticActivityLoader(activities map[string]domain.Activity) *StaticActivityLoader {
	return &StaticActivityLoader{activities: activities}
}

func (l *StaticActivityLoader) LoadActivity(_ context.Context, activityID string) (domain.Activity, error) {
	act, ok := l.activities[activityID]
	if !ok {
		return domain.Activity{}, domain.ErrActivityNotFound
	}
	return cloneActivity(act), nil
}
