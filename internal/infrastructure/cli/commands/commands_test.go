package commands

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/doeshing/shai-remote/internal/domain"
)

func TestListHostsMarksDefault(t *testing.T) {
	t.Setenv("WEB_PASS", "")
	cfg := domain.Config{
		Preferences: domain.Preferences{DefaultHost: "db"},
		Hosts: []domain.HostConfig{
			{Name: "web", Host: "10.0.0.1", Port: 22, User: "deploy", PasswordEnvVar: "WEB_PASS"},
			{Name: "db", Host: "10.0.0.2", Port: 2222, User: "ops", KeyFile: "~/.ssh/id_ed25519"},
		},
	}
	var out bytes.Buffer
	if err := listHosts(&out, cfg); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two rows, got %q", out.String())
	}
	if !strings.HasPrefix(lines[2], "db *") || !strings.Contains(lines[2], "key") {
		t.Errorf("default host row = %q", lines[2])
	}
	if !strings.Contains(lines[1], "$WEB_PASS unset") {
		t.Errorf("unset password variable not flagged: %q", lines[1])
	}
}

func TestListHostsEmpty(t *testing.T) {
	var out bytes.Buffer
	if err := listHosts(&out, domain.Config{}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), MsgNoHostsConfigured) {
		t.Fatalf("got %q", out.String())
	}
}

func TestConfigWarnings(t *testing.T) {
	cfg := domain.Config{
		Security: domain.SecuritySettings{Enabled: false},
		Hosts: []domain.HostConfig{
			{Name: "lab", InsecureIgnoreHostKey: true},
			{Name: "prod"},
		},
	}
	want := []string{
		"guardrail is disabled; suggested commands are not risk checked",
		"host lab skips host key verification",
	}
	if diff := cmp.Diff(want, configWarnings(cfg)); diff != "" {
		t.Fatalf("warnings mismatch (-want +got):\n%s", diff)
	}

	cfg.Security.Enabled = true
	cfg.Hosts = nil
	if got := configWarnings(cfg); len(got) != 0 {
		t.Fatalf("expected no warnings, got %v", got)
	}
}
