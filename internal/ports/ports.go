// Package ports defines the interfaces (ports) for the hexagonal architecture.
//
// The application core (classification, suggestion, session lifecycle and the
// terminal orchestrator) depends only on these contracts. Concrete adapters
// live under internal/infrastructure: SSH transport, SQLite persistence,
// HTTP generation backends, YAML configuration.
package ports

import (
	"context"
	"time"

	"github.com/doeshing/shai-remote/internal/domain"
)

// ConfigProvider loads the latest configuration from persistent storage.
// Implementations typically read from ~/.shai-remote/config.yaml.
type ConfigProvider interface {
	Load(context.Context) (domain.Config, error)
}

// Transport opens encrypted remote-shell channels. Any implementation that
// honours the connect/execute/disconnect contract is accepted, including
// test doubles.
type Transport interface {
	Connect(ctx context.Context, host domain.HostConfig) (Channel, error)
}

// Channel is one established connection to a remote host.
type Channel interface {
	// Execute runs an already-wrapped command line. A non-zero exit status is
	// reported through CommandResult.ExitCode, not as an error.
	Execute(ctx context.Context, command string, pty bool) (domain.CommandResult, error)
	Disconnect() error
}

// CommandRunner executes a request on an existing session.
type CommandRunner interface {
	Execute(ctx context.Context, sessionID string, req domain.CommandRequest) (domain.CommandResult, error)
}

// SessionManager owns session lifecycles and runs commands on them.
type SessionManager interface {
	CommandRunner
	Connect(ctx context.Context, host domain.HostConfig) (string, error)
	Disconnect(ctx context.Context, sessionID string) error
	State(sessionID string) domain.SessionState
}

// IntentClassifier decides whether an input line is a command or a question.
type IntentClassifier interface {
	Classify(input string, snapshot domain.ContextSnapshot) domain.Classification
	// Strip removes any force prefix from input.
	Strip(input string) string
}

// OutputSanitizer removes terminal control sequences from remote output.
type OutputSanitizer interface {
	Sanitize(text string) string
}

// Suggester answers natural-language queries with a pending suggestion and
// records acceptance.
type Suggester interface {
	Suggest(ctx context.Context, query string, snapshot domain.ContextSnapshot) (domain.PendingSuggestion, error)
	Accept(ctx context.Context, pending domain.PendingSuggestion) error
}

// Provider wraps one generation backend.
type Provider interface {
	Name() string
	Model() domain.ModelDefinition
	Generate(context.Context, ProviderRequest) (ProviderResponse, error)
}

// ProviderFactory builds provider instances from model definitions.
type ProviderFactory interface {
	ForModel(domain.ModelDefinition) (Provider, error)
}

// ProviderRequest is the {query, structured context} request shape.
type ProviderRequest struct {
	Query   string
	Context domain.ContextSnapshot
	Model   domain.ModelDefinition
}

// ProviderResponse carries the suggestion payload plus usage accounting.
type ProviderResponse struct {
	Suggestion domain.Suggestion
	Usage      domain.TokenUsage
	Raw        string
}

// SuggestionGenerator turns a natural-language query into a vetted suggestion.
type SuggestionGenerator interface {
	Generate(ctx context.Context, query string, snapshot domain.ContextSnapshot) (domain.Suggestion, error)
	ModelID() string
	ProviderID() string
}

// SecurityService evaluates commands against guardrail rules.
type SecurityService interface {
	Evaluate(command string) (domain.RiskAssessment, error)
}

// CacheRepository is the persistence collaborator's CRUD surface for cache rows.
type CacheRepository interface {
	Latest(ctx context.Context, key string, now time.Time) (domain.CacheEntry, bool, error)
	Upsert(ctx context.Context, entry domain.CacheEntry) (domain.CacheEntry, error)
	MarkAccepted(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	DeleteOldest(ctx context.Context, keep int) (int, error)
	Entries(ctx context.Context) ([]domain.CacheEntry, error)
	Clear(ctx context.Context) error
}

// HistoryRepository persists history items.
type HistoryRepository interface {
	Append(ctx context.Context, item domain.HistoryItem) error
	Records(ctx context.Context, limit int, search string) ([]domain.HistoryItem, error)
	Clear(ctx context.Context) error
}

// ContextCollector probes the remote environment of a session.
type ContextCollector interface {
	Collect(ctx context.Context, runner CommandRunner, sessionID string) domain.ContextSnapshot
}

// Metrics receives latency and token accounting from the generator.
type Metrics interface {
	ObserveLatency(name string, d time.Duration, labels map[string]string)
	AddTokens(name string, usage domain.TokenUsage, labels map[string]string)
}

// Logger provides structured logging abstraction for the application layer.
// Implementations can route to different backends (stdout, files, external services).
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
}
