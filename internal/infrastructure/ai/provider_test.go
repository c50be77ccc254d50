package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/doeshing/shai-remote/internal/domain"
	"github.com/doeshing/shai-remote/internal/ports"
)

func openAIModel(endpoint string) domain.ModelDefinition {
	return domain.ModelDefinition{
		Name:       "gpt",
		Provider:   "openai",
		Endpoint:   endpoint,
		AuthEnvVar: "SHAI_REMOTE_TEST_KEY",
		ModelID:    "gpt-4o-mini",
	}
}

func chatResponse(content string) map[string]interface{} {
	return map[string]interface{}{
		"choices": []interface{}{
			map[string]interface{}{"message": map[string]interface{}{"content": content}},
		},
		"usage": map[string]interface{}{"prompt_tokens": 42, "completion_tokens": 7},
	}
}

func generate(t *testing.T, model domain.ModelDefinition) (ports.ProviderResponse, error) {
	t.Helper()
	provider, err := NewFactory().ForModel(model)
	if err != nil {
		t.Fatalf("ForModel: %v", err)
	}
	return provider.Generate(context.Background(), ports.ProviderRequest{
		Query:   "find large files",
		Context: domain.ContextSnapshot{OS: "Linux", Shell: "bash", WorkingDir: "/srv"},
		Model:   model,
	})
}

func TestHTTPProviderParsesJSONSuggestion(t *testing.T) {
	t.Setenv("SHAI_REMOTE_TEST_KEY", "secret")
	var gotAuth string
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		payload := `{"command":"du -ah /srv | sort -rh | head","confidence":0.8,"explanation":"largest entries",` +
			`"alternatives":["ncdu /srv"],"risk":{"level":"low","score":0.2,"factors":["reads filesystem"],"requiresConfirmation":false}}`
		_ = json.NewEncoder(w).Encode(chatResponse(payload))
	}))
	defer server.Close()

	resp, err := generate(t, openAIModel(server.URL))
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if gotBody["model"] != "gpt-4o-mini" {
		t.Fatalf("request model = %v", gotBody["model"])
	}
	want := domain.Suggestion{
		Command:      "du -ah /srv | sort -rh | head",
		Confidence:   0.8,
		Explanation:  "largest entries",
		Alternatives: []string{"ncdu /srv"},
		Risk:         domain.RiskAssessment{Level: domain.RiskLow, Score: 0.2, Factors: []string{"reads filesystem"}},
	}
	if diff := cmp.Diff(want, resp.Suggestion); diff != "" {
		t.Fatalf("suggestion (-want +got):\n%s", diff)
	}
	if resp.Usage != (domain.TokenUsage{PromptTokens: 42, CompletionTokens: 7}) {
		t.Fatalf("usage = %+v", resp.Usage)
	}
}

func TestHTTPProviderFallsBackToCodeBlock(t *testing.T) {
	t.Setenv("SHAI_REMOTE_TEST_KEY", "secret")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatResponse("Try this:\n```bash\ndf -h\n```\nIt shows disk usage."))
	}))
	defer server.Close()

	resp, err := generate(t, openAIModel(server.URL))
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if resp.Suggestion.Command != "df -h" || resp.Suggestion.Risk.Level != domain.RiskSafe {
		t.Fatalf("unexpected suggestion %+v", resp.Suggestion)
	}
}

func TestHTTPProviderAnthropicFormat(t *testing.T) {
	t.Setenv("SHAI_REMOTE_TEST_KEY", "secret")
	var gotBody map[string]interface{}
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []interface{}{map[string]interface{}{"type": "text", "text": `{"command":"uptime","risk":"safe"}`}},
			"usage":   map[string]interface{}{"input_tokens": 11, "output_tokens": 3},
		})
	}))
	defer server.Close()

	model := openAIModel(server.URL)
	model.Provider = "anthropic"
	model.APIFormat = domain.APIFormat{
		AuthHeaderName:    "x-api-key",
		SystemMessageMode: domain.SystemMessageModeSeparate,
		ContentWrapper:    domain.ContentWrapperAnthropic,
		ResponseJSONPath:  domain.AnthropicResponsePath,
	}
	resp, err := generate(t, model)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if gotKey != "secret" {
		t.Fatalf("x-api-key = %q", gotKey)
	}
	if _, ok := gotBody["system"].(string); !ok {
		t.Fatalf("expected separate system prompt, got %v", gotBody["system"])
	}
	if resp.Suggestion.Command != "uptime" || resp.Usage.Total() != 14 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestHTTPProviderErrorKinds(t *testing.T) {
	t.Setenv("SHAI_REMOTE_TEST_KEY", "secret")
	tests := []struct {
		name   string
		status int
		body   string
		want   domain.GenerationErrorKind
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{}`, want: domain.GenerationAuthFailure},
		{name: "forbidden", status: http.StatusForbidden, body: `{}`, want: domain.GenerationAuthFailure},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{}`, want: domain.GenerationRateLimited},
		{name: "server error", status: http.StatusBadGateway, body: `{}`, want: domain.GenerationNetworkFailure},
		{name: "gateway timeout", status: http.StatusGatewayTimeout, body: `{}`, want: domain.GenerationTimeout},
		{name: "not json", status: http.StatusOK, body: `<html>`, want: domain.GenerationMalformed},
		{name: "missing path", status: http.StatusOK, body: `{"choices":[]}`, want: domain.GenerationMalformed},
		{name: "empty completion", status: http.StatusOK, body: `{"choices":[{"message":{"content":"  "}}]}`, want: domain.GenerationMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := generate(t, openAIModel(server.URL))
			var genErr *domain.GenerationError
			if !errors.As(err, &genErr) {
				t.Fatalf("expected GenerationError, got %v", err)
			}
			if genErr.Kind != tt.want {
				t.Fatalf("kind = %s, want %s", genErr.Kind, tt.want)
			}
		})
	}
}

func TestHTTPProviderMissingKeyIsAuthFailure(t *testing.T) {
	t.Setenv("SHAI_REMOTE_TEST_KEY", "")
	_, err := generate(t, openAIModel("http://127.0.0.1:1"))
	if !domain.IsGenerationKind(err, domain.GenerationAuthFailure) {
		t.Fatalf("expected auth failure, got %v", err)
	}
}

func TestHTTPProviderUnreachableIsNetworkFailure(t *testing.T) {
	t.Setenv("SHAI_REMOTE_TEST_KEY", "secret")
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := generate(t, openAIModel(url))
	if !domain.IsGenerationKind(err, domain.GenerationNetworkFailure) {
		t.Fatalf("expected network failure, got %v", err)
	}
}

func TestHTTPProviderDeadlineIsTimeout(t *testing.T) {
	t.Setenv("SHAI_REMOTE_TEST_KEY", "secret")
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	model := openAIModel(server.URL)
	provider, _ := NewFactory().ForModel(model)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := provider.Generate(ctx, ports.ProviderRequest{Query: "q", Model: model})
	if !domain.IsGenerationKind(err, domain.GenerationTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestFactoryUsesHeuristicWithoutEndpoint(t *testing.T) {
	model := domain.ModelDefinition{Name: "offline"}
	provider, err := NewFactory().ForModel(model)
	if err != nil {
		t.Fatal(err)
	}
	if provider.Name() != domain.ProviderHeuristic {
		t.Fatalf("provider = %s", provider.Name())
	}
	resp, err := provider.Generate(context.Background(), ports.ProviderRequest{Query: "how do I free disk space"})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if resp.Suggestion.Command != "df -h" {
		t.Fatalf("command = %q", resp.Suggestion.Command)
	}
	if _, err := provider.Generate(context.Background(), ports.ProviderRequest{Query: "compose a haiku"}); !domain.IsGenerationKind(err, domain.GenerationMalformed) {
		t.Fatalf("expected malformed for unmatched query, got %v", err)
	}
}

func TestExtractCommand(t *testing.T) {
	cases := map[string]string{
		"```sh\nls -la\n```":         "ls -la",
		"```\ngit status\n```":       "git status",
		"Command: docker ps":         "docker ps",
		"\n\nuptime\nexplanation...": "uptime",
	}
	for in, want := range cases {
		if got := extractCommand(in); got != want {
			t.Errorf("extractCommand(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseJSONPath(t *testing.T) {
	want := []pathPart{{"field", "choices"}, {"index", "0"}, {"field", "message"}, {"field", "content"}}
	if diff := cmp.Diff(want, parseJSONPath("choices[0].message.content"), cmp.AllowUnexported(pathPart{})); diff != "" {
		t.Fatalf("parseJSONPath (-want +got):\n%s", diff)
	}
}
