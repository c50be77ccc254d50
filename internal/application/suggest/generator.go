// Package suggest turns natural-language queries into vetted command
// suggestions, backed by a bounded cache.
package suggest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doeshing/shai-remote/internal/domain"
	"github.com/doeshing/shai-remote/internal/ports"
)

// Metric names emitted by the generator.
const (
	MetricGenerateLatency = "suggestion.generate"
	MetricTokens          = "suggestion.tokens"
)

// Generator calls one generation backend and re-assesses its answer with the
// guardrail. It never retries.
type Generator struct {
	Factory  ports.ProviderFactory
	Model    domain.ModelDefinition
	Security ports.SecurityService
	Metrics  ports.Metrics
	Logger   ports.Logger
}

// ModelID identifies the model in cache rows.
func (g *Generator) ModelID() string {
	if g.Model.ModelID != "" {
		return g.Model.ModelID
	}
	return g.Model.Name
}

// ProviderID identifies the backend in cache rows.
func (g *Generator) ProviderID() string {
	return g.Model.ProviderID()
}

// Generate returns a suggestion whose risk is the merge of the backend's
// assessment and the guardrail's. Backend failures are *domain.GenerationError;
// a cancelled ctx yields ctx.Err().
func (g *Generator) Generate(ctx context.Context, query string, snapshot domain.ContextSnapshot) (domain.Suggestion, error) {
	if g.Factory == nil {
		return domain.Suggestion{}, errors.New("suggest.Generator dependencies not satisfied")
	}
	provider, err := g.Factory.ForModel(g.Model)
	if err != nil {
		return domain.Suggestion{}, fmt.Errorf("provider for %s: %w", g.Model.Name, err)
	}

	labels := map[string]string{"model": g.ModelID(), "provider": g.ProviderID()}
	start := time.Now()
	resp, err := provider.Generate(ctx, ports.ProviderRequest{Query: query, Context: snapshot, Model: g.Model})
	elapsed := time.Since(start)

	if err != nil {
		labels["outcome"] = "error"
		g.observe(elapsed, labels)
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
			return domain.Suggestion{}, ctxErr
		}
		return domain.Suggestion{}, asGenerationError(ctx, err, g.ProviderID())
	}
	labels["outcome"] = "ok"
	g.observe(elapsed, labels)
	if g.Metrics != nil && resp.Usage.Total() > 0 {
		g.Metrics.AddTokens(MetricTokens, resp.Usage, map[string]string{"model": g.ModelID(), "provider": g.ProviderID()})
	}

	suggestion := resp.Suggestion
	if suggestion.Command == "" {
		return domain.Suggestion{}, &domain.GenerationError{
			Kind:     domain.GenerationMalformed,
			Provider: g.ProviderID(),
			Err:      errors.New("backend returned no command"),
		}
	}
	if suggestion.Risk.Level == "" {
		suggestion.Risk.Level = domain.RiskSafe
	}

	if g.Security != nil {
		guard, err := g.Security.Evaluate(suggestion.Command)
		if err != nil {
			return domain.Suggestion{}, fmt.Errorf("security evaluate: %w", err)
		}
		suggestion.Risk = suggestion.Risk.Merge(guard)
	}
	if suggestion.Risk.Level.Severity() >= domain.RiskMedium.Severity() {
		suggestion.Risk.RequiresConfirmation = true
	}

	if g.Logger != nil {
		g.Logger.Debug("suggestion generated", map[string]interface{}{
			"model":    g.ModelID(),
			"risk":     string(suggestion.Risk.Level),
			"duration": elapsed.String(),
		})
	}
	return suggestion, nil
}

func (g *Generator) observe(d time.Duration, labels map[string]string) {
	if g.Metrics != nil {
		g.Metrics.ObserveLatency(MetricGenerateLatency, d, labels)
	}
}

func asGenerationError(ctx context.Context, err error, provider string) error {
	var genErr *domain.GenerationError
	if errors.As(err, &genErr) {
		return err
	}
	kind := domain.GenerationNetworkFailure
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = domain.GenerationTimeout
	}
	return &domain.GenerationError{Kind: kind, Provider: provider, Err: err}
}

var _ ports.SuggestionGenerator = (*Generator)(nil)
