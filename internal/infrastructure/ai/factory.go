// Package ai provides the generation backend adapters.
//
// A single configuration-driven HTTP provider talks to OpenAI-compatible,
// Anthropic and Ollama endpoints; the model's APIFormat decides request and
// response shapes. Models without an endpoint use the offline heuristic
// provider.
package ai

import (
	"net/http"

	"github.com/doeshing/shai-remote/internal/domain"
	"github.com/doeshing/shai-remote/internal/ports"
)

// Factory creates provider instances and shares one HTTP client between them.
type Factory struct {
	httpClient *http.Client
}

// NewFactory creates a factory with the default HTTP client timeout.
func NewFactory() *Factory {
	return NewFactoryWithClient(&http.Client{Timeout: domain.DefaultHTTPClientTimeout})
}

// NewFactoryWithClient lets callers supply their own client.
func NewFactoryWithClient(client *http.Client) *Factory {
	if client == nil {
		client = &http.Client{Timeout: domain.DefaultHTTPClientTimeout}
	}
	return &Factory{httpClient: client}
}

// ForModel returns the HTTP provider for models with an endpoint and the
// heuristic provider otherwise.
func (f *Factory) ForModel(model domain.ModelDefinition) (ports.Provider, error) {
	if model.Endpoint == "" {
		return newHeuristicProvider(model), nil
	}
	return newHTTPProvider(model, f.httpClient), nil
}

var _ ports.ProviderFactory = (*Factory)(nil)
