package config

import (
	"strings"
	"testing"

	"github.com/doeshing/shai-remote/internal/domain"
)

func validConfig() domain.Config {
	return domain.Config{
		Preferences: domain.Preferences{DefaultModel: "heuristic", DefaultHost: "web"},
		Models: []domain.ModelDefinition{
			{Name: "heuristic"},
			{Name: "gpt", Endpoint: "https://api.openai.com/v1/chat/completions", ModelID: "gpt-4o-mini"},
		},
		Execution: domain.ExecutionSettings{Shell: "zsh", CommandTimeoutSeconds: 60},
		Cache:     domain.CacheSettings{TTL: "30m", MaxEntries: 50},
		Security:  domain.SecuritySettings{Enabled: true, RulesFile: "/etc/shai-remote/guardrail.yaml"},
		Hosts:     []domain.HostConfig{{Name: "web", Host: "10.0.0.5", User: "deploy"}},
	}
}

func TestValidateAcceptsValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateReportsProblems(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Config)
		want   string
	}{
		{"no models", func(c *domain.Config) { c.Models = nil; c.Preferences.DefaultModel = "" }, "at least one model"},
		{"relative endpoint", func(c *domain.Config) { c.Models[1].Endpoint = "localhost:8080" }, "absolute URL"},
		{"missing model id", func(c *domain.Config) { c.Models[1].ModelID = "" }, "model_id"},
		{"unknown default model", func(c *domain.Config) { c.Preferences.DefaultModel = "nope" }, "default model nope"},
		{"unknown shell", func(c *domain.Config) { c.Execution.Shell = "fish" }, "execution.shell"},
		{"bad ttl", func(c *domain.Config) { c.Cache.TTL = "soon" }, "cache.ttl invalid"},
		{"negative ttl", func(c *domain.Config) { c.Cache.TTL = "-1m" }, "cache.ttl must be positive"},
		{"host without user", func(c *domain.Config) { c.Hosts[0].User = "" }, "requires both host and user"},
		{"duplicate host", func(c *domain.Config) { c.Hosts = append(c.Hosts, c.Hosts[0]) }, "duplicate host name web"},
		{"rules file", func(c *domain.Config) { c.Security.RulesFile = "" }, "security.rules_file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Execution.Shell = "fish"
	cfg.Cache.TTL = "soon"
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "execution.shell") || !strings.Contains(err.Error(), "cache.ttl") {
		t.Fatalf("expected both problems reported, got %v", err)
	}
}
