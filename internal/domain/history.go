package domain

import "time"

// HistorySource records how a command reached the remote host.
type HistorySource string

const (
	SourceDirect     HistorySource = "direct"
	SourceSuggestion HistorySource = "suggestion"
)

// HistoryItem is an immutable record of one execution attempt. Output holds
// stdout and Error holds stderr or the failure that kept the command from
// running; both are sanitized. ExitCode is FailedExitCode when the command
// never completed on the host.
type HistoryItem struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id,omitempty"`
	Host      string        `json:"host,omitempty"`
	Command   string        `json:"command"`
	Output    string        `json:"output"`
	Error     string        `json:"error,omitempty"`
	ExitCode  int           `json:"exit_code"`
	Source    HistorySource `json:"source"`
	Timestamp time.Time     `json:"timestamp"`
}

// FailedExitCode marks attempts that did not produce a remote exit status.
const FailedExitCode = -1

// Succeeded reports whether the attempt reached the host and exited zero.
func (h HistoryItem) Succeeded() bool {
	return h.ExitCode == 0
}

// CacheEntry stores a generated suggestion for a derived key.
type CacheEntry struct {
	ID          string      `json:"id"`
	Key         string      `json:"key"`
	Query       string      `json:"query"`
	Fingerprint Fingerprint `json:"fingerprint"`
	Suggestion  Suggestion  `json:"suggestion"`
	ModelID     string      `json:"model_id"`
	ProviderID  string      `json:"provider_id"`
	CreatedAt   time.Time   `json:"created_at"`
	ExpiresAt   time.Time   `json:"expires_at"`
	Accepted    bool        `json:"accepted"`
}

// Expired reports whether the entry is no longer eligible at now.
func (e CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// CacheStats aggregates lookup and acceptance counters.
type CacheStats struct {
	Entries  int
	Accepted int
	Hits     int64
	Misses   int64
	Puts     int64
}
