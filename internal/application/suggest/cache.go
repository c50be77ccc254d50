package suggest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/doeshing/shai-remote/internal/domain"
	"github.com/doeshing/shai-remote/internal/ports"
)

// DeriveKey normalizes the query (lower-case, whitespace folded) and hashes it
// together with the context fingerprint. Fields outside the fingerprint, such
// as user or available tools, never change the key.
func DeriveKey(query string, snapshot domain.ContextSnapshot) string {
	fp := snapshot.Fingerprint()
	h := sha256.New()
	for _, part := range []string{normalizeQuery(query), fp.OS, fp.Shell, fp.WorkingDir} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeQuery(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

// CacheOptions tunes expiry and capacity.
type CacheOptions struct {
	TTL        time.Duration
	MaxEntries int
	// Now overrides the clock; tests use it to step time.
	Now func() time.Time
}

// Cache bounds stored suggestions by age and count. Lookups share a read
// lock; puts, acceptance and pruning take the write lock.
type Cache struct {
	repo       ports.CacheRepository
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu     sync.RWMutex
	hits   atomic.Int64
	misses atomic.Int64
	puts   atomic.Int64
}

// NewCache wraps a persistence collaborator.
func NewCache(repo ports.CacheRepository, opts CacheOptions) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = domain.DefaultCacheTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = domain.DefaultMaxCacheEntries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{repo: repo, ttl: opts.TTL, maxEntries: opts.MaxEntries, now: opts.Now}
}

// Get returns the most recently created entry for key that has not expired.
func (c *Cache) Get(ctx context.Context, key string) (domain.CacheEntry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	entry, ok, err := c.repo.Latest(ctx, key, now)
	if err != nil {
		return domain.CacheEntry{}, false, err
	}
	// the repository filters by expiry already; the check guards adapters
	// with coarser clocks
	if !ok || entry.Expired(now) {
		c.misses.Add(1)
		return domain.CacheEntry{}, false, nil
	}
	c.hits.Add(1)
	return entry, true, nil
}

// Put upserts entry on its (key, model, provider) identity, refreshing its
// creation time and expiry, then prunes to capacity.
func (c *Cache) Put(ctx context.Context, entry domain.CacheEntry) (domain.CacheEntry, error) {
	if entry.Key == "" {
		return domain.CacheEntry{}, errors.New("cache entry key is empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := c.now()
	entry.CreatedAt = now
	entry.ExpiresAt = now.Add(c.ttl)

	saved, err := c.repo.Upsert(ctx, entry)
	if err != nil {
		return domain.CacheEntry{}, err
	}
	c.puts.Add(1)
	if _, err := c.repo.DeleteOldest(ctx, c.maxEntries); err != nil {
		return saved, err
	}
	return saved, nil
}

// MarkAccepted flags an entry as accepted; repeated calls are no-ops.
func (c *Cache) MarkAccepted(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.repo.MarkAccepted(ctx, id)
}

// PruneExpired removes every entry expired at now.
func (c *Cache) PruneExpired(ctx context.Context, now time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.repo.DeleteExpired(ctx, now)
}

// PruneByCapacity removes the oldest entries until at most maxRows remain.
func (c *Cache) PruneByCapacity(ctx context.Context, maxRows int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.repo.DeleteOldest(ctx, maxRows)
}

// Entries lists the stored entries, newest first.
func (c *Cache) Entries(ctx context.Context) ([]domain.CacheEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.repo.Entries(ctx)
}

// Clear drops every entry and resets the counters.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.repo.Clear(ctx); err != nil {
		return err
	}
	c.hits.Store(0)
	c.misses.Store(0)
	c.puts.Store(0)
	return nil
}

// Stats reports stored and accepted entry counts plus lookup counters for
// this process.
func (c *Cache) Stats(ctx context.Context) (domain.CacheStats, error) {
	entries, err := c.Entries(ctx)
	if err != nil {
		return domain.CacheStats{}, err
	}
	stats := domain.CacheStats{
		Entries: len(entries),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Puts:    c.puts.Load(),
	}
	for _, e := range entries {
		if e.Accepted {
			stats.Accepted++
		}
	}
	return stats, nil
}

// TTL returns the configured expiry window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}
