package history

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/doeshing/shai-remote/internal/domain"
	"github.com/doeshing/shai-remote/internal/pkg/logger"
)

func sampleItems() []domain.HistoryItem {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []domain.HistoryItem{
		{ID: "a", SessionID: "s1", Host: "web", Command: "uptime", Output: "up 3 days", Source: domain.SourceDirect, Timestamp: base},
		{ID: "b", SessionID: "s1", Host: "web", Command: "df -h", Output: "/dev/sda1 40%", Source: domain.SourceSuggestion, Timestamp: base.Add(time.Second)},
		{ID: "c", SessionID: "s2", Host: "db", Command: "false", Error: "exit 1", ExitCode: 1, Source: domain.SourceDirect, Timestamp: base.Add(2 * time.Second)},
	}
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	sqlite, err := NewSQLiteStore(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Store{
		"sqlite": sqlite,
		"jsonl":  NewFileStore(filepath.Join(dir, "history.jsonl")),
	}
}

func TestStoresAppendAndQuery(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, item := range sampleItems() {
				if err := store.Append(ctx, item); err != nil {
					t.Fatalf("Append: %v", err)
				}
			}

			all, err := store.Records(ctx, 0, "")
			if err != nil {
				t.Fatal(err)
			}
			want := sampleItems()
			want[0], want[2] = want[2], want[0]
			if diff := cmp.Diff(want, all); diff != "" {
				t.Fatalf("records mismatch (-want +got):\n%s", diff)
			}

			limited, _ := store.Records(ctx, 1, "")
			if len(limited) != 1 || limited[0].ID != "c" {
				t.Fatalf("limit not applied: %+v", limited)
			}

			matched, _ := store.Records(ctx, 0, "web")
			if len(matched) != 2 {
				t.Fatalf("search by host returned %d items", len(matched))
			}

			if err := store.Clear(ctx); err != nil {
				t.Fatal(err)
			}
			if left, _ := store.Records(ctx, 0, ""); len(left) != 0 {
				t.Fatalf("expected empty history, got %d", len(left))
			}
		})
	}
}

func TestSQLiteStoreRejectsDuplicateID(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	item := sampleItems()[0]
	if err := store.Append(context.Background(), item); err != nil {
		t.Fatal(err)
	}
	if err := store.Append(context.Background(), item); err == nil {
		t.Fatal("history items are immutable; duplicate id must fail")
	}
}

func TestExportJSONIsOldestFirst(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	for _, item := range sampleItems() {
		if err := store.Append(ctx, item); err != nil {
			t.Fatal(err)
		}
	}

	dest := filepath.Join(t.TempDir(), "export.jsonl")
	if err := store.ExportJSON(ctx, dest); err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}
	file, err := os.Open(dest)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	var ids []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var item domain.HistoryItem
		if err := json.Unmarshal(scanner.Bytes(), &item); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, item.ID)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, ids); diff != "" {
		t.Fatalf("export order mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenFallsBackToFile(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	store := Open(filepath.Join(blocker, "history.db"), logger.Nop())
	if _, ok := store.(*FileStore); !ok {
		t.Fatalf("expected jsonl fallback, got %T", store)
	}
	if store.Path() != filepath.Join(blocker, "history.jsonl") {
		t.Fatalf("unexpected fallback path %s", store.Path())
	}
}
