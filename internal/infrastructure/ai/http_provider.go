package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/doeshing/shai-remote/internal/domain"
	"github.com/doeshing/shai-remote/internal/ports"
)

const maxResponseBytes = 1 << 20

// httpProvider is a configuration-driven HTTP-based generation backend.
type httpProvider struct {
	model      domain.ModelDefinition
	httpClient *http.Client
}

func newHTTPProvider(model domain.ModelDefinition, client *http.Client) ports.Provider {
	return &httpProvider{model: model, httpClient: client}
}

func (p *httpProvider) Name() string {
	return p.model.ProviderID()
}

func (p *httpProvider) Model() domain.ModelDefinition {
	return p.model
}

// Generate sends one request. Every failure except caller cancellation is a
// *domain.GenerationError.
func (p *httpProvider) Generate(ctx context.Context, req ports.ProviderRequest) (ports.ProviderResponse, error) {
	messages, err := renderPromptMessages(p.model, req.Query, req.Context)
	if err != nil {
		return ports.ProviderResponse{}, p.fail(domain.GenerationMalformed, fmt.Errorf("render prompt: %w", err))
	}

	requestBody, err := p.buildRequestBody(messages)
	if err != nil {
		return ports.ProviderResponse{}, p.fail(domain.GenerationMalformed, fmt.Errorf("build request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.model.Endpoint, bytes.NewReader(requestBody))
	if err != nil {
		return ports.ProviderResponse{}, p.fail(domain.GenerationNetworkFailure, fmt.Errorf("create HTTP request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if err := p.setAuthHeaders(httpReq); err != nil {
		return ports.ProviderResponse{}, p.fail(domain.GenerationAuthFailure, err)
	}
	p.setExtraHeaders(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return ports.ProviderResponse{}, err
		}
		return ports.ProviderResponse{}, p.fail(transportErrorKind(err), fmt.Errorf("HTTP request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return ports.ProviderResponse{}, p.fail(transportErrorKind(err), fmt.Errorf("read response body: %w", err))
	}

	if resp.StatusCode >= 400 {
		return ports.ProviderResponse{}, p.fail(statusErrorKind(resp.StatusCode),
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, snippet(body)))
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return ports.ProviderResponse{}, p.fail(domain.GenerationMalformed, fmt.Errorf("unmarshal JSON: %w", err))
	}

	path := p.model.APIFormat.GetResponseJSONPath()
	content, err := extractJSONPath(decoded, path)
	if err != nil {
		return ports.ProviderResponse{}, p.fail(domain.GenerationMalformed, fmt.Errorf("extract from path '%s': %w", path, err))
	}

	suggestion, err := parseSuggestion(content)
	if err != nil {
		return ports.ProviderResponse{}, p.fail(domain.GenerationMalformed, err)
	}

	return ports.ProviderResponse{
		Suggestion: suggestion,
		Usage:      parseUsage(decoded),
		Raw:        strings.TrimSpace(content),
	}, nil
}

func (p *httpProvider) fail(kind domain.GenerationErrorKind, err error) error {
	return &domain.GenerationError{Kind: kind, Provider: p.Name(), Err: err}
}

// buildRequestBody constructs the JSON request body from the model's APIFormat.
func (p *httpProvider) buildRequestBody(messages []domain.PromptMessage) ([]byte, error) {
	format := p.model.APIFormat
	request := map[string]interface{}{
		"model":      p.model.ModelID,
		"max_tokens": valueOrDefaultInt(p.model.MaxTokens, domain.DefaultMaxTokens),
		"stream":     false,
	}

	if format.IsSystemMessageSeparate() {
		systemPrompt, chatMessages := splitSystemMessages(messages, format)
		if systemPrompt != "" {
			request["system"] = systemPrompt
		}
		request["messages"] = chatMessages
	} else {
		request["messages"] = formatMessagesInline(messages, format)
	}

	return json.Marshal(request)
}

// splitSystemMessages separates system messages for providers that expect
// them in their own field (Anthropic).
func splitSystemMessages(messages []domain.PromptMessage, format domain.APIFormat) (string, []map[string]interface{}) {
	var systemLines []string
	var chatMessages []map[string]interface{}
	for _, msg := range messages {
		if strings.EqualFold(msg.Role, "system") {
			systemLines = append(systemLines, msg.Content)
			continue
		}
		chatMessages = append(chatMessages, formatMessage(msg, format))
	}
	return strings.TrimSpace(strings.Join(systemLines, "\n")), chatMessages
}

func formatMessagesInline(messages []domain.PromptMessage, format domain.APIFormat) []map[string]interface{} {
	result := make([]map[string]interface{}, 0, len(messages))
	for _, msg := range messages {
		result = append(result, formatMessage(msg, format))
	}
	return result
}

func formatMessage(msg domain.PromptMessage, format domain.APIFormat) map[string]interface{} {
	message := map[string]interface{}{
		"role": strings.ToLower(msg.Role),
	}
	if format.IsContentWrapped() {
		message["content"] = []map[string]string{
			{"type": "text", "text": msg.Content},
		}
	} else {
		message["content"] = msg.Content
	}
	return message
}

// setAuthHeaders configures authentication from the model's APIFormat. Local
// endpoints such as Ollama may leave AuthEnvVar empty.
func (p *httpProvider) setAuthHeaders(req *http.Request) error {
	if p.model.AuthEnvVar == "" {
		return nil
	}
	apiKey := resolveEnv(p.model.AuthEnvVar, "")
	if apiKey == "" {
		return fmt.Errorf("missing API key: set %s environment variable", p.model.AuthEnvVar)
	}
	format := p.model.APIFormat
	req.Header.Set(format.GetAuthHeaderName(), format.GetAuthHeaderPrefix()+apiKey)

	if org := resolveEnv(p.model.OrgEnvVar, ""); org != "" {
		req.Header.Set("OpenAI-Organization", org)
	}
	return nil
}

func (p *httpProvider) setExtraHeaders(req *http.Request) {
	for key, value := range p.model.APIFormat.ExtraHeaders {
		req.Header.Set(key, value)
	}
}

func statusErrorKind(status int) domain.GenerationErrorKind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.GenerationAuthFailure
	case http.StatusTooManyRequests:
		return domain.GenerationRateLimited
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return domain.GenerationTimeout
	default:
		return domain.GenerationNetworkFailure
	}
}

func transportErrorKind(err error) domain.GenerationErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.GenerationTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.GenerationTimeout
	}
	return domain.GenerationNetworkFailure
}

func snippet(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		return text[:200] + "..."
	}
	return text
}
