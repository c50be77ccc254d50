package history

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/doeshing/shai-remote/internal/domain"
)

// FileStore appends history items to a jsonl file. It backs history when
// the SQLite database is unavailable.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore stores items at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Append writes one item as a json line.
func (f *FileStore) Append(_ context.Context, item domain.HistoryItem) error {
	if item.Timestamp.IsZero() {
		item.Timestamp = time.Now()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(f.path), domain.DirectoryPermissions); err != nil {
		return err
	}
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, domain.SecureFilePermissions)
	if err != nil {
		return err
	}
	defer file.Close()
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	_, err = file.Write(append(data, '\n'))
	return err
}

// Records loads items newest first (best-effort: unreadable lines are skipped).
func (f *FileStore) Records(_ context.Context, limit int, search string) ([]domain.HistoryItem, error) {
	f.mu.Lock()
	data, err := os.ReadFile(f.path)
	f.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var items []domain.HistoryItem
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var item domain.HistoryItem
		if err := json.Unmarshal(line, &item); err != nil {
			continue
		}
		if search != "" && !strings.Contains(item.Command, search) && !strings.Contains(item.Host, search) {
			continue
		}
		items = append(items, item)
	}
	// file order is append order; newest first for callers
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// Clear removes the history file.
func (f *FileStore) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ExportJSON copies every item, oldest first, to dest.
func (f *FileStore) ExportJSON(ctx context.Context, dest string) error {
	return exportJSON(ctx, f, dest)
}

// Path returns the backing file path.
func (f *FileStore) Path() string {
	return f.path
}

// Close is a no-op; the file is opened per write.
func (f *FileStore) Close() error {
	return nil
}

var _ Store = (*FileStore)(nil)
