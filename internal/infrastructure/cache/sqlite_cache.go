package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/doeshing/shai-remote/internal/domain"
	"github.com/doeshing/shai-remote/internal/pkg/filesystem"
	"github.com/doeshing/shai-remote/internal/ports"
)

const (
	dsnPragmas   = "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	maxOpenConns = 4
)

const schema = `CREATE TABLE IF NOT EXISTS suggestion_cache (
	id TEXT PRIMARY KEY,
	seq INTEGER NOT NULL,
	key TEXT NOT NULL,
	query TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	suggestion TEXT NOT NULL,
	model_id TEXT NOT NULL,
	provider_id TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	accepted INTEGER NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS suggestion_cache_identity ON suggestion_cache (key, model_id, provider_id);
CREATE INDEX IF NOT EXISTS suggestion_cache_age ON suggestion_cache (created_at, seq);`

const selectColumns = `SELECT id, key, query, fingerprint, suggestion, model_id, provider_id, created_at, expires_at, accepted FROM suggestion_cache`

// SQLiteCache persists suggestion cache rows in a SQLite database.
type SQLiteCache struct {
	db   *sql.DB
	path string
}

// DefaultPath returns ~/.shai-remote/cache/suggestions.db.
func DefaultPath() string {
	return filepath.Join(filesystem.UserHomeDir(), ".shai-remote", "cache", "suggestions.db")
}

// NewSQLiteCache opens (or creates) the cache database at path.
func NewSQLiteCache(path string) (*SQLiteCache, error) {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), domain.DirectoryPermissions); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+dsnPragmas)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	// WAL lets readers proceed next to the single writer; the application
	// layer serializes mutations.
	db.SetMaxOpenConns(maxOpenConns)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}
	return &SQLiteCache{db: db, path: path}, nil
}

// Latest returns the most recently created entry for key that has not expired at now.
func (s *SQLiteCache) Latest(ctx context.Context, key string, now time.Time) (domain.CacheEntry, bool, error) {
	row := s.db.QueryRowContext(ctx,
		selectColumns+` WHERE key = ? AND expires_at > ? ORDER BY created_at DESC, seq DESC LIMIT 1`,
		key, now.UnixNano())
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CacheEntry{}, false, nil
	}
	if err != nil {
		return domain.CacheEntry{}, false, err
	}
	return entry, true, nil
}

// Upsert inserts entry or replaces the row sharing its (key, model, provider)
// identity. The existing row keeps its id but moves to the back of the
// insertion order.
func (s *SQLiteCache) Upsert(ctx context.Context, entry domain.CacheEntry) (domain.CacheEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	fingerprint, err := json.Marshal(entry.Fingerprint)
	if err != nil {
		return domain.CacheEntry{}, fmt.Errorf("encode fingerprint: %w", err)
	}
	suggestion, err := json.Marshal(entry.Suggestion)
	if err != nil {
		return domain.CacheEntry{}, fmt.Errorf("encode suggestion: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO suggestion_cache
		(id, seq, key, query, fingerprint, suggestion, model_id, provider_id, created_at, expires_at, accepted)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM suggestion_cache), ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (key, model_id, provider_id) DO UPDATE SET
			seq = excluded.seq,
			query = excluded.query,
			fingerprint = excluded.fingerprint,
			suggestion = excluded.suggestion,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			accepted = excluded.accepted`,
		entry.ID,
		entry.Key,
		entry.Query,
		string(fingerprint),
		string(suggestion),
		entry.ModelID,
		entry.ProviderID,
		entry.CreatedAt.UnixNano(),
		entry.ExpiresAt.UnixNano(),
		boolToInt(entry.Accepted),
	)
	if err != nil {
		return domain.CacheEntry{}, fmt.Errorf("upsert cache entry: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		selectColumns+` WHERE key = ? AND model_id = ? AND provider_id = ?`,
		entry.Key, entry.ModelID, entry.ProviderID)
	return scanEntry(row)
}

// MarkAccepted flags an entry as accepted. Unknown ids are ignored.
func (s *SQLiteCache) MarkAccepted(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE suggestion_cache SET accepted = 1 WHERE id = ?`, id)
	return err
}

// DeleteExpired removes every row whose expiry is at or before now.
func (s *SQLiteCache) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM suggestion_cache WHERE expires_at <= ?`, now.UnixNano())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// DeleteOldest removes the oldest rows until at most keep remain. Rows with
// equal creation times go in insertion order.
func (s *SQLiteCache) DeleteOldest(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM suggestion_cache`).Scan(&total); err != nil {
		return 0, err
	}
	excess := total - keep
	if excess <= 0 {
		return 0, nil
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM suggestion_cache WHERE id IN (
		SELECT id FROM suggestion_cache ORDER BY created_at ASC, seq ASC LIMIT ?)`, excess)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(n), nil
}

// Entries lists all rows, newest first.
func (s *SQLiteCache) Entries(ctx context.Context) ([]domain.CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY created_at DESC, seq DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []domain.CacheEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Clear deletes all cache rows.
func (s *SQLiteCache) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM suggestion_cache`)
	return err
}

// Path returns the database location.
func (s *SQLiteCache) Path() string {
	return s.path
}

// Close releases the database handle.
func (s *SQLiteCache) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (domain.CacheEntry, error) {
	var (
		entry                domain.CacheEntry
		fingerprint, payload string
		created, expires     int64
		accepted             int
	)
	if err := row.Scan(&entry.ID, &entry.Key, &entry.Query, &fingerprint, &payload,
		&entry.ModelID, &entry.ProviderID, &created, &expires, &accepted); err != nil {
		return domain.CacheEntry{}, err
	}
	if err := json.Unmarshal([]byte(fingerprint), &entry.Fingerprint); err != nil {
		return domain.CacheEntry{}, fmt.Errorf("decode fingerprint: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &entry.Suggestion); err != nil {
		return domain.CacheEntry{}, fmt.Errorf("decode suggestion: %w", err)
	}
	entry.CreatedAt = time.Unix(0, created).UTC()
	entry.ExpiresAt = time.Unix(0, expires).UTC()
	entry.Accepted = accepted == 1
	return entry, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ ports.CacheRepository = (*SQLiteCache)(nil)
