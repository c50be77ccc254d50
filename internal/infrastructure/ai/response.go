package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/doeshing/shai-remote/internal/domain"
)

const fallbackConfidence = 0.5

// wireSuggestion accepts the JSON payload requested by the default prompt.
// Risk may be a bare level string or a full object.
type wireSuggestion struct {
	Command      string          `json:"command"`
	Confidence   *float64        `json:"confidence"`
	Explanation  string          `json:"explanation"`
	Alternatives []string        `json:"alternatives"`
	Risk         json.RawMessage `json:"risk"`
}

// parseSuggestion reads the JSON suggestion from content, falling back to a
// fenced code block or a "command:" line for backends that ignore the format.
func parseSuggestion(content string) (domain.Suggestion, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Suggestion{}, errors.New("empty completion")
	}

	if raw := jsonObject(content); raw != "" {
		var wire wireSuggestion
		if err := json.Unmarshal([]byte(raw), &wire); err == nil && strings.TrimSpace(wire.Command) != "" {
			return wire.toDomain()
		}
	}

	command := extractCommand(content)
	if command == "" {
		return domain.Suggestion{}, errors.New("no command in completion")
	}
	return domain.Suggestion{
		Command:    command,
		Confidence: fallbackConfidence,
		Risk:       domain.RiskAssessment{Level: domain.RiskSafe},
	}, nil
}

func (w wireSuggestion) toDomain() (domain.Suggestion, error) {
	s := domain.Suggestion{
		Command:      strings.TrimSpace(w.Command),
		Confidence:   fallbackConfidence,
		Explanation:  strings.TrimSpace(w.Explanation),
		Alternatives: w.Alternatives,
		Risk:         domain.RiskAssessment{Level: domain.RiskSafe},
	}
	if w.Confidence != nil {
		s.Confidence = clamp(*w.Confidence)
	}
	if len(w.Risk) == 0 || string(w.Risk) == "null" {
		return s, nil
	}

	var level string
	if err := json.Unmarshal(w.Risk, &level); err == nil {
		s.Risk.Level = domain.ParseRiskLevel(strings.ToLower(level))
		return s, nil
	}
	var risk domain.RiskAssessment
	if err := json.Unmarshal(w.Risk, &risk); err != nil {
		return domain.Suggestion{}, fmt.Errorf("decode risk: %w", err)
	}
	risk.Level = domain.ParseRiskLevel(strings.ToLower(string(risk.Level)))
	risk.Score = clamp(risk.Score)
	s.Risk = risk
	return s, nil
}

// jsonObject returns the outermost {...} span, unwrapping a fenced block.
func jsonObject(content string) string {
	if block := extractCodeBlock(content); strings.HasPrefix(block, "{") {
		content = block
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return ""
	}
	return content[start : end+1]
}

// parseUsage understands OpenAI (prompt/completion_tokens), Anthropic
// (input/output_tokens) and Ollama (prompt_eval_count/eval_count) shapes.
func parseUsage(body map[string]interface{}) domain.TokenUsage {
	var usage domain.TokenUsage
	if u, ok := body["usage"].(map[string]interface{}); ok {
		usage.PromptTokens = intField(u, "prompt_tokens", "input_tokens")
		usage.CompletionTokens = intField(u, "completion_tokens", "output_tokens")
		return usage
	}
	usage.PromptTokens = intField(body, "prompt_eval_count")
	usage.CompletionTokens = intField(body, "eval_count")
	return usage
}

func intField(m map[string]interface{}, names ...string) int {
	for _, name := range names {
		if v, ok := m[name].(float64); ok {
			return int(v)
		}
	}
	return 0
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// extractJSONPath extracts a string value using "field", "field.nested",
// "field[0]" or "field[0].nested.field" notation.
func extractJSONPath(data map[string]interface{}, path string) (string, error) {
	var current interface{} = data
	for _, part := range parseJSONPath(path) {
		switch part.kind {
		case "field":
			obj, ok := current.(map[string]interface{})
			if !ok {
				return "", fmt.Errorf("expected object at '%s'", part.value)
			}
			var found bool
			current, found = obj[part.value]
			if !found {
				return "", fmt.Errorf("field '%s' not found", part.value)
			}
		case "index":
			arr, ok := current.([]interface{})
			if !ok {
				return "", fmt.Errorf("expected array at index %s", part.value)
			}
			idx, err := strconv.Atoi(part.value)
			if err != nil {
				return "", fmt.Errorf("invalid index %q", part.value)
			}
			if idx < 0 || idx >= len(arr) {
				return "", fmt.Errorf("index %d out of bounds (len=%d)", idx, len(arr))
			}
			current = arr[idx]
		}
	}

	if str, ok := current.(string); ok {
		return str, nil
	}
	return "", fmt.Errorf("final value is not a string: %T", current)
}

type pathPart struct {
	kind  string // "field" or "index"
	value string
}

// parseJSONPath converts "choices[0].message.content" into path parts.
func parseJSONPath(path string) []pathPart {
	var parts []pathPart
	current := ""
	for i := 0; i < len(path); i++ {
		ch := path[i]
		switch ch {
		case '.':
			if current != "" {
				parts = append(parts, pathPart{kind: "field", value: current})
				current = ""
			}
		case '[':
			if current != "" {
				parts = append(parts, pathPart{kind: "field", value: current})
				current = ""
			}
			j := i + 1
			for j < len(path) && path[j] != ']' {
				j++
			}
			if j < len(path) {
				parts = append(parts, pathPart{kind: "index", value: path[i+1 : j]})
				i = j
			}
		default:
			current += string(ch)
		}
	}
	if current != "" {
		parts = append(parts, pathPart{kind: "field", value: current})
	}
	return parts
}

// extractCommand tries a fenced code block, then a "command:" line, then the
// first non-empty line.
func extractCommand(content string) string {
	if code := extractCodeBlock(content); code != "" {
		return code
	}
	if cmd := extractCommandLine(content); cmd != "" {
		return cmd
	}
	for _, line := range strings.Split(content, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// extractCodeBlock returns the body of the first ``` block without its
// language marker.
func extractCodeBlock(content string) string {
	start := strings.Index(content, "```")
	if start == -1 {
		return ""
	}
	suffix := content[start+3:]
	end := strings.Index(suffix, "```")
	if end == -1 {
		return ""
	}
	block := suffix[:end]
	if nl := strings.IndexByte(block, '\n'); nl >= 0 {
		marker := strings.TrimSpace(block[:nl])
		if marker != "" && !strings.ContainsAny(marker, " {") {
			block = block[nl+1:]
		}
	}
	return strings.TrimSpace(block)
}

func extractCommandLine(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(line), "command:") {
			return strings.TrimSpace(line[len("command:"):])
		}
	}
	return ""
}
