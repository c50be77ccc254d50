package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/doeshing/shai-remote/assets"
	"github.com/doeshing/shai-remote/internal/domain"
	"github.com/doeshing/shai-remote/internal/pkg/filesystem"
	"github.com/doeshing/shai-remote/internal/ports"
)

// Guardrail implements the SecurityService port.
type Guardrail struct {
	patterns []compiledPattern
}

type compiledPattern struct {
	re   *regexp.Regexp
	rule DangerPattern
}

// DangerPattern describes a regex-based guardrail rule.
type DangerPattern struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
	Level   string `yaml:"level"`
	Message string `yaml:"message"`
	Action  string `yaml:"action"`
}

// RulesFile is the YAML schema root.
type RulesFile struct {
	Rules struct {
		DangerPatterns []DangerPattern `yaml:"danger_patterns"`
	} `yaml:"rules"`
}

// NewGuardrail loads guardrail rules from path, falling back to the embedded
// defaults when the file is missing or empty.
func NewGuardrail(path string) (*Guardrail, error) {
	rules, err := loadRules(path)
	if err != nil {
		return nil, err
	}
	return compile(rules.Rules.DangerPatterns)
}

// NewDefaultGuardrail uses only the embedded rules.
func NewDefaultGuardrail() (*Guardrail, error) {
	rules, err := parseRules(assets.DefaultGuardrailYAML)
	if err != nil {
		return nil, err
	}
	return compile(rules.Rules.DangerPatterns)
}

func compile(patterns []DangerPattern) (*Guardrail, error) {
	compiled := make([]compiledPattern, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern.Pattern)
		if err != nil {
			return nil, fmt.Errorf("guardrail rule %q: %w", pattern.Name, err)
		}
		compiled = append(compiled, compiledPattern{re: re, rule: pattern})
	}
	return &Guardrail{patterns: compiled}, nil
}

// Evaluate implements ports.SecurityService. Every matching rule contributes
// a factor; the most severe one sets the level.
func (g *Guardrail) Evaluate(command string) (domain.RiskAssessment, error) {
	if g == nil {
		return domain.RiskAssessment{}, errors.New("guardrail nil")
	}
	assessment := domain.RiskAssessment{Level: domain.RiskSafe}
	for _, pattern := range g.patterns {
		if !pattern.re.MatchString(command) {
			continue
		}
		level := domain.ParseRiskLevel(strings.ToLower(pattern.rule.Level))
		action := parseAction(pattern.rule.Action, level)
		if level.Severity() > assessment.Level.Severity() {
			assessment.Level = level
		}
		assessment.Factors = append(assessment.Factors, factorName(pattern.rule))
		if pattern.rule.Message != "" && level.Severity() >= domain.RiskHigh.Severity() {
			assessment.Warnings = append(assessment.Warnings, pattern.rule.Message)
		}
		if action != domain.ActionAllow {
			assessment.RequiresConfirmation = true
		}
		if action == domain.ActionBlock {
			assessment.Blocked = true
		}
	}
	assessment.Score = float64(assessment.Level.Severity()) / float64(domain.RiskCritical.Severity())
	if assessment.Level.Severity() >= domain.RiskMedium.Severity() {
		assessment.RequiresConfirmation = true
	}
	return assessment, nil
}

func factorName(rule DangerPattern) string {
	if rule.Name != "" {
		return rule.Name
	}
	return rule.Message
}

func loadRules(path string) (RulesFile, error) {
	data, err := os.ReadFile(expandPath(path))
	if err != nil {
		return parseRules(assets.DefaultGuardrailYAML)
	}
	rules, err := parseRules(data)
	if err != nil {
		return RulesFile{}, err
	}
	if len(rules.Rules.DangerPatterns) == 0 {
		return parseRules(assets.DefaultGuardrailYAML)
	}
	return rules, nil
}

func parseRules(data []byte) (RulesFile, error) {
	var rules RulesFile
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return RulesFile{}, fmt.Errorf("parse guardrail rules: %w", err)
	}
	return rules, nil
}

func parseAction(value string, fallback domain.RiskLevel) domain.GuardrailAction {
	switch strings.ToLower(value) {
	case "allow":
		return domain.ActionAllow
	case "simple_confirm":
		return domain.ActionSimpleConfirm
	case "confirm":
		return domain.ActionConfirm
	case "explicit_confirm":
		return domain.ActionExplicitConfirm
	case "block":
		return domain.ActionBlock
	default:
		if fallback == domain.RiskSafe || fallback == domain.RiskLow {
			return domain.ActionAllow
		}
		return domain.ActionConfirm
	}
}

func expandPath(path string) string {
	home := filesystem.UserHomeDir()
	if path == "" {
		return filepath.Join(home, ".shai-remote", "guardrail.yaml")
	}
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return filepath.Join(home, path)
}

var _ ports.SecurityService = (*Guardrail)(nil)
