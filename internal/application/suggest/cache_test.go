package suggest

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/doeshing/shai-remote/internal/domain"
)

type memRepo struct {
	mu   sync.Mutex
	seq  int
	rows []memRow
}

type memRow struct {
	seq   int
	entry domain.CacheEntry
}

func (m *memRepo) Latest(_ context.Context, key string, now time.Time) (domain.CacheEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *memRow
	for i := range m.rows {
		r := &m.rows[i]
		if r.entry.Key != key || r.entry.Expired(now) {
			continue
		}
		if best == nil || r.entry.CreatedAt.After(best.entry.CreatedAt) ||
			(r.entry.CreatedAt.Equal(best.entry.CreatedAt) && r.seq > best.seq) {
			best = r
		}
	}
	if best == nil {
		return domain.CacheEntry{}, false, nil
	}
	return best.entry, true, nil
}

func (m *memRepo) Upsert(_ context.Context, entry domain.CacheEntry) (domain.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	for i, r := range m.rows {
		e := r.entry
		if e.Key == entry.Key && e.ModelID == entry.ModelID && e.ProviderID == entry.ProviderID {
			entry.ID = e.ID
			m.rows[i] = memRow{seq: m.seq, entry: entry}
			return entry, nil
		}
	}
	m.rows = append(m.rows, memRow{seq: m.seq, entry: entry})
	return entry, nil
}

func (m *memRepo) MarkAccepted(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].entry.ID == id {
			m.rows[i].entry.Accepted = true
		}
	}
	return nil
}

func (m *memRepo) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rows[:0]
	removed := 0
	for _, r := range m.rows {
		if r.entry.Expired(now) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	m.rows = kept
	return removed, nil
}

func (m *memRepo) DeleteOldest(_ context.Context, keep int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	excess := len(m.rows) - keep
	if excess <= 0 {
		return 0, nil
	}
	m.sortOldestFirst()
	m.rows = append([]memRow(nil), m.rows[excess:]...)
	return excess, nil
}

func (m *memRepo) Entries(_ context.Context) ([]domain.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sortOldestFirst()
	out := make([]domain.CacheEntry, 0, len(m.rows))
	for i := len(m.rows) - 1; i >= 0; i-- {
		out = append(out, m.rows[i].entry)
	}
	return out, nil
}

func (m *memRepo) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = nil
	return nil
}

func (m *memRepo) sortOldestFirst() {
	sort.SliceStable(m.rows, func(i, j int) bool {
		a, b := m.rows[i], m.rows[j]
		if !a.entry.CreatedAt.Equal(b.entry.CreatedAt) {
			return a.entry.CreatedAt.Before(b.entry.CreatedAt)
		}
		return a.seq < b.seq
	})
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func TestDeriveKey(t *testing.T) {
	base := domain.ContextSnapshot{OS: "Linux", Shell: "bash", WorkingDir: "/srv/app", User: "deploy"}

	t.Run("normalizes case and whitespace", func(t *testing.T) {
		if DeriveKey("List   Files\tNow", base) != DeriveKey(" list files now ", base) {
			t.Fatal("expected equivalent queries to share a key")
		}
	})

	t.Run("ignores fields outside the fingerprint", func(t *testing.T) {
		other := base
		other.User = "root"
		other.Host = "db1"
		other.AvailableTools = []string{"docker"}
		if DeriveKey("list files", base) != DeriveKey("list files", other) {
			t.Fatal("user, host and tools must not change the key")
		}
	})

	for name, mutate := range map[string]func(*domain.ContextSnapshot){
		"os":          func(s *domain.ContextSnapshot) { s.OS = "Darwin" },
		"shell":       func(s *domain.ContextSnapshot) { s.Shell = "zsh" },
		"working dir": func(s *domain.ContextSnapshot) { s.WorkingDir = "/tmp" },
	} {
		t.Run("sensitive to "+name, func(t *testing.T) {
			changed := base
			mutate(&changed)
			if DeriveKey("list files", base) == DeriveKey("list files", changed) {
				t.Fatalf("expected %s to change the key", name)
			}
		})
	}

	t.Run("distinct queries differ", func(t *testing.T) {
		if DeriveKey("list files", base) == DeriveKey("list dirs", base) {
			t.Fatal("expected distinct keys")
		}
	})
}

func cacheEntry(key, model string) domain.CacheEntry {
	return domain.CacheEntry{
		Key:        key,
		Query:      "q-" + key,
		Suggestion: domain.Suggestion{Command: "echo " + key},
		ModelID:    model,
		ProviderID: "test",
	}
}

func TestCacheGetNeverReturnsExpired(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	cache := NewCache(&memRepo{}, CacheOptions{TTL: time.Minute, MaxEntries: 10, Now: clock.Now})

	if _, err := cache.Put(ctx, cacheEntry("k", "m")); err != nil {
		t.Fatal(err)
	}
	clock.Advance(59 * time.Second)
	if _, ok, _ := cache.Get(ctx, "k"); !ok {
		t.Fatal("expected hit before expiry")
	}
	clock.Advance(time.Second)
	if _, ok, _ := cache.Get(ctx, "k"); ok {
		t.Fatal("entry must not be returned at its expiry instant")
	}

	stats, err := cache.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(domain.CacheStats{Entries: 1, Hits: 1, Misses: 1, Puts: 1}, stats); diff != "" {
		t.Fatalf("stats (-want +got):\n%s", diff)
	}

	removed, err := cache.PruneExpired(ctx, clock.Now())
	if err != nil || removed != 1 {
		t.Fatalf("PruneExpired = %d, %v", removed, err)
	}
}

func TestCachePutPrunesExactlyTheOldest(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	cache := NewCache(&memRepo{}, CacheOptions{TTL: time.Hour, MaxEntries: 3, Now: clock.Now})

	for _, key := range []string{"a", "b", "c", "d", "e"} {
		if _, err := cache.Put(ctx, cacheEntry(key, "m")); err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Second)
	}
	assertKeys(t, cache, []string{"e", "d", "c"})

	removed, err := cache.PruneByCapacity(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Fatalf("PruneByCapacity removed %d, want 2", removed)
	}
	assertKeys(t, cache, []string{"e"})
}

func TestCachePruneTiesUseInsertionOrder(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	cache := NewCache(&memRepo{}, CacheOptions{TTL: time.Hour, MaxEntries: 10, Now: clock.Now})

	for _, key := range []string{"a", "b", "c"} {
		if _, err := cache.Put(ctx, cacheEntry(key, "m")); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := cache.PruneByCapacity(ctx, 2); err != nil {
		t.Fatal(err)
	}
	assertKeys(t, cache, []string{"c", "b"})
}

func TestCachePutRefreshesIdentity(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	cache := NewCache(&memRepo{}, CacheOptions{TTL: time.Minute, MaxEntries: 10, Now: clock.Now})

	first, err := cache.Put(ctx, cacheEntry("k", "m"))
	if err != nil {
		t.Fatal(err)
	}
	clock.Advance(50 * time.Second)
	refreshed := cacheEntry("k", "m")
	refreshed.Suggestion.Command = "echo refreshed"
	second, err := cache.Put(ctx, refreshed)
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same id after upsert, got %s and %s", first.ID, second.ID)
	}
	if !second.ExpiresAt.Equal(clock.Now().Add(time.Minute)) {
		t.Fatalf("expiry not refreshed: %v", second.ExpiresAt)
	}

	clock.Advance(30 * time.Second)
	got, ok, _ := cache.Get(ctx, "k")
	if !ok || got.Suggestion.Command != "echo refreshed" {
		t.Fatalf("expected refreshed entry, got %+v ok=%v", got, ok)
	}

	if err := cache.MarkAccepted(ctx, got.ID); err != nil {
		t.Fatal(err)
	}
	if err := cache.MarkAccepted(ctx, got.ID); err != nil {
		t.Fatal(err)
	}
	stats, _ := cache.Stats(ctx)
	if stats.Accepted != 1 || stats.Entries != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestCacheRejectsEmptyKey(t *testing.T) {
	cache := NewCache(&memRepo{}, CacheOptions{})
	if _, err := cache.Put(context.Background(), domain.CacheEntry{}); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func assertKeys(t *testing.T, cache *Cache, want []string) {
	t.Helper()
	entries, err := cache.Entries(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, e := range entries {
		got = append(got, e.Key)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("cache keys (-want +got):\n%s", diff)
	}
}
