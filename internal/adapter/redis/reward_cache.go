package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ericadamski/stream-rewards/internal/adapter/metrics"
	"github.com/ericadamski/stream-rewards/internal/domain"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
)

const rewardCacheTTL = 10 * time.Minute

// RewardCache reads ladders through an in-process cache, then Redis, then
// the database. The progress page polls often, ladders change rarely.
type RewardCache struct {
	rdb     goredis.Cmdable
	source  domain.RewardSource
	mem     *memoryCache
	metrics *metrics.CacheMetrics
}

var (
	_ domain.RewardSource           = (*RewardCache)(nil)
	_ domain.RewardCacheInvalidator = (*RewardCache)(nil)
)

func NewRewardCache(rdb goredis.Cmdable, source domain.RewardSource, memTTL time.Duration, clock clockwork.Clock, m *metrics.CacheMetrics) *RewardCache {
	return &RewardCache{
		rdb:     rdb,
		source:  source,
		mem:     newMemoryCache(memTTL, clock),
		metrics: m,
	}
}

// StartEvictionTimer evicts expired in-memory entries every interval until
// the returned stop function is called.
func (c *RewardCache) StartEvictionTimer(interval time.Duration) func() {
	ticker := c.mem.clock.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				if evicted := c.mem.evictExpired(); evicted > 0 {
					slog.Debug("Evicted expired reward cache entries", "count", evicted)
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func (c *RewardCache) ListByTwitchLogin(ctx context.Context, login string) ([]domain.Reward, error) {
	if rewards, ok := c.mem.get(login); ok {
		c.hit("memory")
		return rewards, nil
	}
	c.miss("memory")

	if rewards, ok := c.getCached(ctx, login); ok {
		c.hit("redis")
		c.mem.set(login, rewards)
		return rewards, nil
	}
	c.miss("redis")

	rewards, err := c.source.ListByTwitchLogin(ctx, login)
	if err != nil {
		return nil, fmt.Errorf("reward lookup by login failed: %w", err)
	}
	c.mem.set(login, rewards)
	c.writeCache(ctx, login, rewards)
	return rewards, nil
}

// InvalidateLogin drops the ladder from both cache layers. Other replicas
// keep their in-process copy until it expires.
func (c *RewardCache) InvalidateLogin(ctx context.Context, login string) error {
	c.mem.invalidate(login)
	if c.metrics != nil {
		c.metrics.Invalidations.Inc()
	}
	if err := c.rdb.Del(ctx, rewardCacheKey(login)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate reward cache: %w", err)
	}
	return nil
}

func (c *RewardCache) writeCache(ctx context.Context, login string, rewards []domain.Reward) {
	encoded, err := json.Marshal(rewards)
	if err != nil {
		slog.WarnContext(ctx, "Failed to marshal rewards for Redis cache", "login", login, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, rewardCacheKey(login), encoded, rewardCacheTTL).Err(); err != nil {
		slog.WarnContext(ctx, "Failed to populate Redis reward cache", "login", login, "error", err)
	}
}

func (c *RewardCache) getCached(ctx context.Context, login string) ([]domain.Reward, bool) {
	data, err := c.rdb.Get(ctx, rewardCacheKey(login)).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			slog.WarnContext(ctx, "Redis reward cache GET failed", "login", login, "error", err)
		}
		return nil, false
	}

	var rewards []domain.Reward
	if err := json.Unmarshal(data, &rewards); err != nil {
		slog.WarnContext(ctx, "Failed to unmarshal cached rewards", "login", login, "error", err)
		return nil, false
	}
	return rewards, true
}

func (c *RewardCache) hit(layer string) {
	if c.metrics != nil {
		c.metrics.Hit(layer)
	}
}

func (c *RewardCache) miss(layer string) {
	if c.metrics != nil {
		c.metrics.Miss(layer)
	}
}

func rewardCacheKey(login string) string {
	return "reward_cache:" + login
}

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryCacheEntry
	ttl     time.Duration
	clock   clockwork.Clock
}

type memoryCacheEntry struct {
	rewards   []domain.Reward
	expiresAt time.Time
}

func newMemoryCache(ttl time.Duration, clock clockwork.Clock) *memoryCache {
	return &memoryCache{entries: make(map[string]memoryCacheEntry), ttl: ttl, clock: clock}
}

func (c *memoryCache) get(login string) ([]domain.Reward, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[login]
	if !ok || !c.clock.Now().Before(entry.expiresAt) {
		return nil, false
	}
	return entry.rewards, true
}

func (c *memoryCache) set(login string, rewards []domain.Reward) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[login] = memoryCacheEntry{rewards: rewards, expiresAt: c.clock.Now().Add(c.ttl)}
}

func (c *memoryCache) invalidate(login string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, login)
}

func (c *memoryCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *memoryCache) evictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	evicted := 0
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
			evicted++
		}
	}
	return evicted
}
