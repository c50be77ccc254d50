package cache

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/doeshing/shai-remote/internal/domain"
)

func newTestCache(t *testing.T) *SQLiteCache {
	t.Helper()
	store, err := NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("NewSQLiteCache: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func entryAt(key, model string, created time.Time, ttl time.Duration) domain.CacheEntry {
	return domain.CacheEntry{
		Key:         key,
		Query:       "list files",
		Fingerprint: domain.Fingerprint{OS: "Linux", Shell: "bash", WorkingDir: "/srv"},
		Suggestion: domain.Suggestion{
			Command:      "ls -la",
			Confidence:   0.9,
			Risk:         domain.RiskAssessment{Level: domain.RiskSafe, Factors: []string{"read-only"}},
			Explanation:  "lists files",
			Alternatives: []string{"ls"},
		},
		ModelID:    model,
		ProviderID: "openai",
		CreatedAt:  created,
		ExpiresAt:  created.Add(ttl),
	}
}

func TestSQLiteCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestCache(t)
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	saved, err := store.Upsert(ctx, entryAt("k1", "gpt", base, time.Hour))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if saved.ID == "" {
		t.Fatal("expected generated id")
	}

	got, ok, err := store.Latest(ctx, "k1", base.Add(time.Minute))
	if err != nil || !ok {
		t.Fatalf("Latest: ok=%v err=%v", ok, err)
	}
	if diff := cmp.Diff(saved, got); diff != "" {
		t.Fatalf("Latest mismatch (-want +got):\n%s", diff)
	}
	if !got.CreatedAt.Equal(base) {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, base)
	}
}

func TestSQLiteCacheLatestSkipsExpired(t *testing.T) {
	ctx := context.Background()
	store := newTestCache(t)
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	if _, err := store.Upsert(ctx, entryAt("k1", "gpt", base, time.Minute)); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := store.Latest(ctx, "k1", base.Add(time.Minute)); ok {
		t.Fatal("entry expiring exactly now must not be returned")
	}
	if _, ok, _ := store.Latest(ctx, "k1", base.Add(30*time.Second)); !ok {
		t.Fatal("fresh entry should be returned")
	}
}

func TestSQLiteCacheUpsertReplacesIdentity(t *testing.T) {
	ctx := context.Background()
	store := newTestCache(t)
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	first, err := store.Upsert(ctx, entryAt("k1", "gpt", base, time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	updated := entryAt("k1", "gpt", base.Add(time.Minute), time.Hour)
	updated.Suggestion.Command = "ls -lah"
	second, err := store.Upsert(ctx, updated)
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Fatalf("upsert changed id: %s -> %s", first.ID, second.ID)
	}
	if second.Suggestion.Command != "ls -lah" || !second.CreatedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("upsert did not refresh row: %+v", second)
	}

	if _, err := store.Upsert(ctx, entryAt("k1", "claude", base, time.Hour)); err != nil {
		t.Fatal(err)
	}
	entries, err := store.Entries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected one row per model, got %d", len(entries))
	}
}

func TestSQLiteCacheDeleteOldestUsesInsertionOrderForTies(t *testing.T) {
	ctx := context.Background()
	store := newTestCache(t)
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	for _, key := range []string{"a", "b", "c", "d"} {
		if _, err := store.Upsert(ctx, entryAt(key, "gpt", base, time.Hour)); err != nil {
			t.Fatal(err)
		}
	}
	removed, err := store.DeleteOldest(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	entries, err := store.Entries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var keys []string
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	if diff := cmp.Diff([]string{"d", "c"}, keys); diff != "" {
		t.Fatalf("remaining keys (-want +got):\n%s", diff)
	}

	if removed, _ := store.DeleteOldest(ctx, 5); removed != 0 {
		t.Fatalf("expected no removal under capacity, got %d", removed)
	}
}

func TestSQLiteCacheDeleteExpiredAndAccept(t *testing.T) {
	ctx := context.Background()
	store := newTestCache(t)
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	stale, _ := store.Upsert(ctx, entryAt("old", "gpt", base, time.Minute))
	fresh, _ := store.Upsert(ctx, entryAt("new", "gpt", base, time.Hour))

	removed, err := store.DeleteExpired(ctx, base.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	if err := store.MarkAccepted(ctx, fresh.ID); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkAccepted(ctx, fresh.ID); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkAccepted(ctx, stale.ID); err != nil {
		t.Fatalf("unknown id should be ignored: %v", err)
	}
	got, ok, _ := store.Latest(ctx, "new", base)
	if !ok || !got.Accepted {
		t.Fatalf("expected accepted entry, got %+v", got)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	entries, _ := store.Entries(ctx)
	if len(entries) != 0 {
		t.Fatalf("expected empty cache, got %d rows", len(entries))
	}
}

func TestSQLiteCacheReadsDoNotWaitOnOpenReader(t *testing.T) {
	ctx := context.Background()
	store := newTestCache(t)
	now := time.Now()
	if _, err := store.Upsert(ctx, entryAt("k1", "gpt", now, time.Hour)); err != nil {
		t.Fatal(err)
	}

	var mode string
	if err := store.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}

	tx, err := store.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	var n int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM suggestion_cache").Scan(&n); err != nil || n != 1 {
		t.Fatalf("count in open reader = %d (%v)", n, err)
	}

	readCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	got, ok, err := store.Latest(readCtx, "k1", now)
	if err != nil || !ok || got.Key != "k1" {
		t.Fatalf("second reader blocked or failed: %+v ok=%v err=%v", got, ok, err)
	}
}
