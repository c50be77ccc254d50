package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/doeshing/shai-remote/internal/domain"
)

func TestGuardrailBlocksCriticalCommands(t *testing.T) {
	guardrail, err := NewDefaultGuardrail()
	if err != nil {
		t.Fatalf("NewDefaultGuardrail error: %v", err)
	}

	result, err := guardrail.Evaluate("rm -rf /")
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}

	if !result.Blocked || result.Level != domain.RiskCritical || !result.RequiresConfirmation {
		t.Fatalf("expected critical block, got %+v", result)
	}
	if result.Score != 1 {
		t.Fatalf("expected score 1 for critical, got %v", result.Score)
	}
	if len(result.Warnings) == 0 {
		t.Fatalf("expected a warning for critical match, got %+v", result)
	}
}

func TestGuardrailAllowsSafeCommand(t *testing.T) {
	guardrail, err := NewDefaultGuardrail()
	if err != nil {
		t.Fatalf("NewDefaultGuardrail error: %v", err)
	}

	result, err := guardrail.Evaluate("ls -la")
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}

	if result.Level != domain.RiskSafe || result.RequiresConfirmation || result.Score != 0 {
		t.Fatalf("expected safe, got %+v", result)
	}
}

func TestGuardrailProtectedPath(t *testing.T) {
	guardrail, err := NewDefaultGuardrail()
	if err != nil {
		t.Fatalf("NewDefaultGuardrail error: %v", err)
	}
	result, err := guardrail.Evaluate("rm -rf /etc")
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if result.Level != domain.RiskHigh || result.Blocked {
		t.Fatalf("expected high, unblocked risk for protected path, got %+v", result)
	}
	if len(result.Factors) < 2 {
		t.Fatalf("expected every matching rule as a factor, got %v", result.Factors)
	}
}

func TestGuardrailLowRiskNeedsNoConfirmation(t *testing.T) {
	guardrail, err := NewDefaultGuardrail()
	if err != nil {
		t.Fatalf("NewDefaultGuardrail error: %v", err)
	}
	result, err := guardrail.Evaluate("sudo ls /root")
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if result.Level != domain.RiskLow || result.RequiresConfirmation {
		t.Fatalf("expected low risk without confirmation, got %+v", result)
	}
}

func TestGuardrailLoadsRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guardrail.yaml")
	rules := `rules:
  danger_patterns:
    - name: no-docker-prune
      pattern: 'docker\s+system\s+prune'
      level: medium
      message: Removes docker data
`
	if err := os.WriteFile(path, []byte(rules), 0o600); err != nil {
		t.Fatal(err)
	}
	guardrail, err := NewGuardrail(path)
	if err != nil {
		t.Fatalf("NewGuardrail error: %v", err)
	}
	result, _ := guardrail.Evaluate("docker system prune -af")
	if result.Level != domain.RiskMedium || !result.RequiresConfirmation {
		t.Fatalf("expected medium with confirmation, got %+v", result)
	}
	if result.Factors[0] != "no-docker-prune" {
		t.Fatalf("unexpected factors %v", result.Factors)
	}
	if result, _ := guardrail.Evaluate("rm -rf /"); result.Level != domain.RiskSafe {
		t.Fatalf("custom rules replace defaults, got %+v", result)
	}
}

func TestGuardrailMissingFileUsesDefaults(t *testing.T) {
	guardrail, err := NewGuardrail(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("NewGuardrail error: %v", err)
	}
	result, _ := guardrail.Evaluate("mkfs.ext4 /dev/sdb1")
	if !result.Blocked {
		t.Fatalf("expected default rules, got %+v", result)
	}
}

func TestGuardrailRejectsInvalidPattern(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guardrail.yaml")
	if err := os.WriteFile(path, []byte("rules:\n  danger_patterns:\n    - name: bad\n      pattern: '('\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewGuardrail(path); err == nil {
		t.Fatal("expected compile error")
	}
}
