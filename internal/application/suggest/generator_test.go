package suggest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/doeshing/shai-remote/internal/domain"
	"github.com/doeshing/shai-remote/internal/pkg/logger"
	"github.com/doeshing/shai-remote/internal/ports"
)

type stubProvider struct {
	resp  ports.ProviderResponse
	err   error
	calls atomic.Int32
	gate  chan struct{}
}

func (s *stubProvider) Name() string                  { return "stub" }
func (s *stubProvider) Model() domain.ModelDefinition { return domain.ModelDefinition{Name: "stub"} }
func (s *stubProvider) Generate(ctx context.Context, _ ports.ProviderRequest) (ports.ProviderResponse, error) {
	s.calls.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ports.ProviderResponse{}, ctx.Err()
		}
	}
	return s.resp, s.err
}

type stubFactory struct {
	provider ports.Provider
}

func (f stubFactory) ForModel(domain.ModelDefinition) (ports.Provider, error) {
	return f.provider, nil
}

type stubSecurity struct {
	assessment domain.RiskAssessment
}

func (s stubSecurity) Evaluate(string) (domain.RiskAssessment, error) {
	return s.assessment, nil
}

type recordingMetrics struct {
	mu        sync.Mutex
	latencies []map[string]string
	tokens    []domain.TokenUsage
}

func (m *recordingMetrics) ObserveLatency(_ string, _ time.Duration, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies = append(m.latencies, labels)
}

func (m *recordingMetrics) AddTokens(_ string, usage domain.TokenUsage, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = append(m.tokens, usage)
}

func newGenerator(p *stubProvider, guard domain.RiskAssessment, metrics ports.Metrics) *Generator {
	return &Generator{
		Factory:  stubFactory{provider: p},
		Model:    domain.ModelDefinition{Name: "gpt", ModelID: "gpt-4o-mini", Provider: "openai", Endpoint: "http://example"},
		Security: stubSecurity{assessment: guard},
		Metrics:  metrics,
		Logger:   logger.Nop(),
	}
}

func TestGeneratorMergesGuardrailRisk(t *testing.T) {
	provider := &stubProvider{resp: ports.ProviderResponse{
		Suggestion: domain.Suggestion{
			Command: "rm -rf ./build",
			Risk:    domain.RiskAssessment{Level: domain.RiskLow, Factors: []string{"deletes files"}},
		},
		Usage: domain.TokenUsage{PromptTokens: 10, CompletionTokens: 5},
	}}
	metrics := &recordingMetrics{}
	gen := newGenerator(provider, domain.RiskAssessment{
		Level:   domain.RiskMedium,
		Score:   0.5,
		Factors: []string{"recursive-delete"},
	}, metrics)

	got, err := gen.Generate(context.Background(), "clean the build dir", domain.ContextSnapshot{})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if got.Risk.Level != domain.RiskMedium || !got.Risk.RequiresConfirmation {
		t.Fatalf("expected medium risk requiring confirmation, got %+v", got.Risk)
	}
	if len(got.Risk.Factors) != 2 {
		t.Fatalf("expected unioned factors, got %v", got.Risk.Factors)
	}
	if len(metrics.latencies) != 1 || metrics.latencies[0]["outcome"] != "ok" {
		t.Fatalf("unexpected latency samples %v", metrics.latencies)
	}
	if len(metrics.tokens) != 1 || metrics.tokens[0].Total() != 15 {
		t.Fatalf("unexpected token samples %v", metrics.tokens)
	}
}

func TestGeneratorKeepsBackendConfirmationFlag(t *testing.T) {
	provider := &stubProvider{resp: ports.ProviderResponse{Suggestion: domain.Suggestion{
		Command: "systemctl restart nginx",
		Risk:    domain.RiskAssessment{Level: domain.RiskLow, RequiresConfirmation: true},
	}}}
	gen := newGenerator(provider, domain.RiskAssessment{Level: domain.RiskSafe}, nil)

	got, err := gen.Generate(context.Background(), "restart nginx", domain.ContextSnapshot{})
	if err != nil {
		t.Fatal(err)
	}
	if got.Risk.Level != domain.RiskLow || !got.Risk.RequiresConfirmation {
		t.Fatalf("backend flag must survive merge, got %+v", got.Risk)
	}
}

func TestGeneratorWrapsPlainErrors(t *testing.T) {
	provider := &stubProvider{err: errors.New("connection reset")}
	metrics := &recordingMetrics{}
	gen := newGenerator(provider, domain.RiskAssessment{}, metrics)

	_, err := gen.Generate(context.Background(), "q", domain.ContextSnapshot{})
	if !domain.IsGenerationKind(err, domain.GenerationNetworkFailure) {
		t.Fatalf("expected network GenerationError, got %v", err)
	}
	if len(metrics.latencies) != 1 || metrics.latencies[0]["outcome"] != "error" {
		t.Fatalf("expected error latency sample, got %v", metrics.latencies)
	}
}

func TestGeneratorPassesTypedErrorsThrough(t *testing.T) {
	provider := &stubProvider{err: &domain.GenerationError{Kind: domain.GenerationRateLimited, Provider: "openai", Err: errors.New("429")}}
	gen := newGenerator(provider, domain.RiskAssessment{}, nil)

	_, err := gen.Generate(context.Background(), "q", domain.ContextSnapshot{})
	if !domain.IsGenerationKind(err, domain.GenerationRateLimited) {
		t.Fatalf("expected rate_limited, got %v", err)
	}
}

func TestGeneratorCancellation(t *testing.T) {
	provider := &stubProvider{gate: make(chan struct{})}
	gen := newGenerator(provider, domain.RiskAssessment{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := gen.Generate(ctx, "q", domain.ContextSnapshot{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestGeneratorRejectsEmptyCommand(t *testing.T) {
	gen := newGenerator(&stubProvider{}, domain.RiskAssessment{}, nil)
	_, err := gen.Generate(context.Background(), "q", domain.ContextSnapshot{})
	if !domain.IsGenerationKind(err, domain.GenerationMalformed) {
		t.Fatalf("expected malformed, got %v", err)
	}
}

func TestServiceCachesAndCollapses(t *testing.T) {
	ctx := context.Background()
	provider := &stubProvider{
		resp: ports.ProviderResponse{Suggestion: domain.Suggestion{Command: "df -h", Risk: domain.RiskAssessment{Level: domain.RiskSafe}}},
		gate: make(chan struct{}),
	}
	clock := newClock()
	svc := &Service{
		Cache:     NewCache(&memRepo{}, CacheOptions{TTL: time.Minute, Now: clock.Now}),
		Generator: newGenerator(provider, domain.RiskAssessment{Level: domain.RiskSafe}, nil),
		Logger:    logger.Nop(),
	}
	snapshot := domain.ContextSnapshot{OS: "Linux", Shell: "bash", WorkingDir: "/"}

	var wg sync.WaitGroup
	results := make([]domain.PendingSuggestion, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := svc.Suggest(ctx, "disk space", snapshot)
			if err != nil {
				t.Errorf("Suggest: %v", err)
			}
			results[i] = p
		}(i)
	}
	for provider.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	close(provider.gate)
	wg.Wait()

	if n := provider.calls.Load(); n != 1 {
		t.Fatalf("expected one backend call, got %d", n)
	}
	for _, r := range results {
		if r.Suggestion.Command != "df -h" || r.CacheID == "" {
			t.Fatalf("unexpected pending suggestion %+v", r)
		}
	}

	cached, err := svc.Suggest(ctx, "  Disk SPACE ", snapshot)
	if err != nil {
		t.Fatal(err)
	}
	if !cached.FromCache || cached.Query != "  Disk SPACE " {
		t.Fatalf("expected cache hit, got %+v", cached)
	}
	if provider.calls.Load() != 1 {
		t.Fatal("cache hit must not call the backend")
	}

	if err := svc.Accept(ctx, cached); err != nil {
		t.Fatal(err)
	}
	stats, _ := svc.Cache.Stats(ctx)
	if stats.Accepted != 1 || stats.Puts != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestServiceAbandonedCallerDoesNotFailJoinedCaller(t *testing.T) {
	provider := &stubProvider{
		resp: ports.ProviderResponse{Suggestion: domain.Suggestion{Command: "df -h", Risk: domain.RiskAssessment{Level: domain.RiskSafe}}},
		gate: make(chan struct{}),
	}
	svc := &Service{
		Cache:     NewCache(&memRepo{}, CacheOptions{TTL: time.Minute, Now: newClock().Now}),
		Generator: newGenerator(provider, domain.RiskAssessment{Level: domain.RiskSafe}, nil),
		Logger:    logger.Nop(),
		Timeout:   time.Minute,
	}
	snapshot := domain.ContextSnapshot{OS: "Linux", Shell: "bash", WorkingDir: "/"}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Suggest(firstCtx, "disk space", snapshot)
		firstErr <- err
	}()
	for provider.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("abandoned caller should see its own cancellation, got %v", err)
	}

	type result struct {
		pending domain.PendingSuggestion
		err     error
	}
	second := make(chan result, 1)
	go func() {
		p, err := svc.Suggest(context.Background(), "disk space", snapshot)
		second <- result{p, err}
	}()
	time.Sleep(10 * time.Millisecond)
	close(provider.gate)

	res := <-second
	if res.err != nil {
		t.Fatalf("live caller failed: %v", res.err)
	}
	if res.pending.Suggestion.Command != "df -h" {
		t.Fatalf("unexpected suggestion %+v", res.pending)
	}
	if n := provider.calls.Load(); n != 1 {
		t.Fatalf("expected the joined caller to share one backend call, got %d", n)
	}
}
