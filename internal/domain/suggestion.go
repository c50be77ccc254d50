package domain

// InputType is the outcome of intent classification.
type InputType string

const (
	InputCommand         InputType = "command"
	InputNaturalLanguage InputType = "naturalLanguage"
)

// Classification is recomputed for every input line.
type Classification struct {
	Type       InputType `json:"type"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
}

// IsCommand reports whether the input should go straight to the remote host.
func (c Classification) IsCommand() bool {
	return c.Type == InputCommand
}

// Suggestion is the payload exchanged with the generation backend and stored
// in the cache. Every field must survive a JSON round-trip.
type Suggestion struct {
	Command      string         `json:"command"`
	Confidence   float64        `json:"confidence"`
	Risk         RiskAssessment `json:"risk"`
	Explanation  string         `json:"explanation"`
	Alternatives []string       `json:"alternatives,omitempty"`
}

// PendingSuggestion is the single "current" suggestion held by the
// orchestrator until it is executed, rejected, or replaced.
type PendingSuggestion struct {
	Query      string     `json:"query"`
	Suggestion Suggestion `json:"suggestion"`
	CacheID    string     `json:"cache_id,omitempty"`
	CacheKey   string     `json:"cache_key"`
	FromCache  bool       `json:"from_cache"`
}

// TokenUsage is reported by backends that expose it.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
}

// Total sums prompt and completion tokens.
func (u TokenUsage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}
