package ai

import (
	"context"
	"errors"
	"strings"

	"github.com/doeshing/shai-remote/internal/domain"
	"github.com/doeshing/shai-remote/internal/ports"
)

var errNoHeuristicMatch = errors.New("no offline suggestion for this request; configure a model endpoint")

type heuristicProvider struct {
	model domain.ModelDefinition
}

func newHeuristicProvider(model domain.ModelDefinition) ports.Provider {
	return &heuristicProvider{model: model}
}

func (p *heuristicProvider) Name() string {
	return domain.ProviderHeuristic
}

func (p *heuristicProvider) Model() domain.ModelDefinition {
	return p.model
}

// Generate answers a handful of common requests offline.
func (p *heuristicProvider) Generate(ctx context.Context, req ports.ProviderRequest) (ports.ProviderResponse, error) {
	if err := ctx.Err(); err != nil {
		return ports.ProviderResponse{}, err
	}
	rule, ok := guessCommand(req.Query)
	if !ok {
		return ports.ProviderResponse{}, &domain.GenerationError{
			Kind:     domain.GenerationMalformed,
			Provider: p.Name(),
			Err:      errNoHeuristicMatch,
		}
	}
	return ports.ProviderResponse{
		Suggestion: domain.Suggestion{
			Command:     rule.command,
			Confidence:  0.4,
			Explanation: rule.explanation + " (offline heuristic)",
			Risk:        domain.RiskAssessment{Level: domain.RiskSafe},
		},
		Raw: rule.command,
	}, nil
}

type heuristicRule struct {
	keywords    []string
	command     string
	explanation string
}

var heuristicRules = []heuristicRule{
	{keywords: []string{"disk", "space"}, command: "df -h", explanation: "Shows free space per filesystem"},
	{keywords: []string{"large", "file"}, command: "du -ah . | sort -rh | head -n 20", explanation: "Lists the largest entries below the working directory"},
	{keywords: []string{"memory"}, command: "free -h", explanation: "Shows memory usage"},
	{keywords: []string{"docker"}, command: "docker ps", explanation: "Lists running containers"},
	{keywords: []string{"pod"}, command: "kubectl get pods", explanation: "Lists pods in the current namespace"},
	{keywords: []string{"process"}, command: "ps aux --sort=-%cpu | head -n 15", explanation: "Lists the busiest processes"},
	{keywords: []string{"port"}, command: "ss -tulpn", explanation: "Lists listening sockets"},
	{keywords: []string{"log"}, command: "journalctl -n 100 --no-pager", explanation: "Shows recent system log lines"},
	{keywords: []string{"list", "file"}, command: "ls -la", explanation: "Lists files in the working directory"},
	{keywords: []string{"uptime"}, command: "uptime", explanation: "Shows load and uptime"},
}

func guessCommand(query string) (heuristicRule, bool) {
	query = strings.ToLower(query)
	for _, rule := range heuristicRules {
		matched := true
		for _, kw := range rule.keywords {
			if !strings.Contains(query, kw) {
				matched = false
				break
			}
		}
		if matched {
			return rule, true
		}
	}
	return heuristicRule{}, false
}
