package storage

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/good-yellow-bee/siemlite/internal/models"
)

// CachedRules wraps a RuleRepository with an expiring LRU in front of
// FindEnabled. Writes through the wrapper purge the cache. Writes made
// elsewhere (siemctl on the same database) are seen once entries expire.
type CachedRules struct {
	RuleRepository
	cache *expirable.LRU[string, []*models.Rule]
	group singleflight.Group

	// gen counts purges. A load that overlapped a purge is not cached.
	mu  sync.Mutex
	gen uint64
}

// NewCachedRules creates a rule cache holding up to size event types for ttl.
func NewCachedRules(next RuleRepository, size int, ttl time.Duration) *CachedRules {
	if size <= 0 {
		size = 256
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedRules{
		RuleRepository: next,
		cache:          expirable.NewLRU[string, []*models.Rule](size, nil, ttl),
	}
}

// FindEnabled returns enabled rules for eventType, loading at most once per
// event type across concurrent callers.
func (c *CachedRules) FindEnabled(ctx context.Context, eventType string) ([]*models.Rule, error) {
	if rules, ok := c.cache.Get(eventType); ok {
		return rules, nil
	}

	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	// Callers arriving after a purge must not join a load started before it.
	key := strconv.FormatUint(gen, 10) + "/" + eventType
	v, err, _ := c.group.Do(key, func() (any, error) {
		rules, err := c.RuleRepository.FindEnabled(ctx, eventType)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gen == gen {
			c.cache.Add(eventType, rules)
		}
		c.mu.Unlock()
		return rules, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*models.Rule), nil
}

// Purge drops every cached entry.
func (c *CachedRules) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.cache.Purge()
}

func (c *CachedRules) Create(ctx context.Context, r *models.Rule) error {
	defer c.Purge()
	return c.RuleRepository.Create(ctx, r)
}

func (c *CachedRules) Update(ctx context.Context, r *models.Rule) error {
	defer c.Purge()
	return c.RuleRepository.Update(ctx, r)
}

func (c *CachedRules) Delete(ctx context.Context, id string) error {
	defer c.Purge()
	return c.RuleRepository.Delete(ctx, id)
}

func (c *CachedRules) SetEnabled(ctx context.Context, id string, enabled bool) error {
	defer c.Purge()
	return c.RuleRepository.SetEnabled(ctx, id, enabled)
}
