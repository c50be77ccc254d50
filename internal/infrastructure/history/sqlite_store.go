package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/doeshing/shai-remote/internal/domain"
	"github.com/doeshing/shai-remote/internal/pkg/filesystem"
	"github.com/doeshing/shai-remote/internal/ports"
)

// DefaultPath returns ~/.shai-remote/history/history.db.
func DefaultPath() string {
	return filepath.Join(filesystem.UserHomeDir(), ".shai-remote", "history", "history.db")
}

// SQLiteStore persists history items in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Store is a history repository the CLI can export and close.
type Store interface {
	ports.HistoryRepository
	ExportJSON(ctx context.Context, dest string) error
	Path() string
	Close() error
}

// Open returns the SQLite store at path, or a JSONL store next to it when
// the database cannot be opened.
func Open(path string, logger ports.Logger) Store {
	store, err := NewSQLiteStore(path)
	if err == nil {
		return store
	}
	fallback := NewFileStore(strings.TrimSuffix(store.Path(), filepath.Ext(store.Path())) + ".jsonl")
	if logger != nil {
		logger.Warn("history database unavailable, using jsonl file", map[string]interface{}{
			"path":  fallback.Path(),
			"error": err.Error(),
		})
	}
	return fallback
}

// NewSQLiteStore creates (or opens) the history database. On error the
// returned store still reports its Path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = DefaultPath()
	}
	store := &SQLiteStore{path: path}
	if err := os.MkdirAll(filepath.Dir(path), domain.DirectoryPermissions); err != nil {
		return store, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return store, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)
	store.db = db
	if err := store.init(); err != nil {
		db.Close()
		store.db = nil
		return store, fmt.Errorf("init history schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS commands (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		session_id TEXT,
		host TEXT,
		command TEXT NOT NULL,
		output TEXT,
		error TEXT,
		exit_code INTEGER,
		source TEXT,
		timestamp INTEGER NOT NULL
	);`)
	return err
}

// Append inserts one item. Items are immutable, so a duplicate id is an error.
func (s *SQLiteStore) Append(ctx context.Context, item domain.HistoryItem) error {
	if item.Timestamp.IsZero() {
		item.Timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT INTO commands
		(id, session_id, host, command, output, error, exit_code, source, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID,
		item.SessionID,
		item.Host,
		item.Command,
		item.Output,
		item.Error,
		item.ExitCode,
		string(item.Source),
		item.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert history item: %w", err)
	}
	return nil
}

// Records returns items newest first. limit <= 0 means all; search matches
// command or host.
func (s *SQLiteStore) Records(ctx context.Context, limit int, search string) ([]domain.HistoryItem, error) {
	builder := strings.Builder{}
	builder.WriteString("SELECT id, session_id, host, command, output, error, exit_code, source, timestamp FROM commands")
	var args []interface{}
	if search != "" {
		builder.WriteString(" WHERE command LIKE ? OR host LIKE ?")
		args = append(args, "%"+search+"%", "%"+search+"%")
	}
	builder.WriteString(" ORDER BY timestamp DESC, seq DESC")
	if limit > 0 {
		builder.WriteString(" LIMIT ?")
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, builder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var items []domain.HistoryItem
	for rows.Next() {
		var (
			item            domain.HistoryItem
			sessionID, host sql.NullString
			output, errText sql.NullString
			source          string
			timestamp       int64
		)
		if err := rows.Scan(&item.ID, &sessionID, &host, &item.Command, &output, &errText, &item.ExitCode, &source, &timestamp); err != nil {
			return nil, err
		}
		item.SessionID = sessionID.String
		item.Host = host.String
		item.Output = output.String
		item.Error = errText.String
		item.Source = domain.HistorySource(source)
		item.Timestamp = time.Unix(0, timestamp).UTC()
		items = append(items, item)
	}
	return items, rows.Err()
}

// Clear deletes all history entries.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM commands")
	return err
}

// ExportJSON writes every item, oldest first, to a jsonl file.
func (s *SQLiteStore) ExportJSON(ctx context.Context, dest string) error {
	return exportJSON(ctx, s, dest)
}

// Path returns the sqlite database path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func exportJSON(ctx context.Context, repo ports.HistoryRepository, dest string) error {
	items, err := repo.Records(ctx, 0, "")
	if err != nil {
		return err
	}
	file, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	for i := len(items) - 1; i >= 0; i-- {
		if err := enc.Encode(items[i]); err != nil {
			return err
		}
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
