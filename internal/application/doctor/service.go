package doctor

import (
	"context"
	"fmt"
	"os"

	appconfig "github.com/doeshing/shai-remote/internal/application/config"
	"github.com/doeshing/shai-remote/internal/domain"
	"github.com/doeshing/shai-remote/internal/ports"
)

// Service runs environment diagnostics.
type Service struct {
	ConfigProvider   ports.ConfigProvider
	SecurityService  ports.SecurityService
	History          ports.HistoryRepository
	Sessions         ports.SessionManager
	ContextCollector ports.ContextCollector
}

// Run executes checks and returns a report. When probeHost is non-empty the
// host is connected to and its environment probed.
func (s *Service) Run(ctx context.Context, probeHost string) (domain.HealthReport, error) {
	var checks []domain.HealthCheck

	cfg, err := s.ConfigProvider.Load(ctx)
	if err != nil {
		checks = append(checks, fail("Config file", fmt.Sprintf("load failed: %v", err)))
		return domain.HealthReport{Checks: checks}, err
	}
	if err := appconfig.Validate(cfg); err != nil {
		checks = append(checks, fail("Config file", err.Error()))
	} else {
		checks = append(checks, ok("Config file", fmt.Sprintf("format %s, %d models, %d hosts", cfg.ConfigFormatVersion, len(cfg.Models), len(cfg.Hosts))))
	}

	if s.SecurityService != nil {
		if _, err := s.SecurityService.Evaluate("ls"); err != nil {
			checks = append(checks, fail("Guardrail", err.Error()))
		} else {
			checks = append(checks, ok("Guardrail", "rules loaded"))
		}
	} else {
		checks = append(checks, warn("Guardrail", "disabled"))
	}

	if s.History != nil {
		if _, err := s.History.Records(ctx, 1, ""); err != nil {
			checks = append(checks, fail("History", err.Error()))
		} else {
			checks = append(checks, ok("History", "store readable"))
		}
	}

	checks = append(checks, modelCheck(cfg))
	for _, host := range cfg.Hosts {
		checks = append(checks, hostCheck(host))
	}

	if probeHost != "" {
		checks = append(checks, s.probe(ctx, cfg, probeHost))
	}

	return domain.HealthReport{Checks: checks}, nil
}

func (s *Service) probe(ctx context.Context, cfg domain.Config, name string) domain.HealthCheck {
	label := "Connect " + name
	host, found := cfg.FindHost(name)
	if !found {
		return fail(label, "host not configured")
	}
	if s.Sessions == nil {
		return warn(label, "session manager not initialized")
	}
	id, err := s.Sessions.Connect(ctx, host)
	if err != nil {
		return fail(label, err.Error())
	}
	defer s.Sessions.Disconnect(ctx, id)

	if s.ContextCollector == nil {
		return ok(label, "connected")
	}
	snapshot := s.ContextCollector.Collect(ctx, s.Sessions, id)
	return ok(label, fmt.Sprintf("%s, %s, detected tools: %d", snapshot.OS, snapshot.Shell, len(snapshot.AvailableTools)))
}

func modelCheck(cfg domain.Config) domain.HealthCheck {
	model, err := cfg.GetDefaultModel()
	if err != nil {
		return fail("Model", err.Error())
	}
	if model.Endpoint == "" {
		return ok("Model", fmt.Sprintf("%s (offline heuristics)", model.Name))
	}
	if model.AuthEnvVar != "" && os.Getenv(model.AuthEnvVar) == "" {
		return warn("Model", fmt.Sprintf("%s: %s missing", model.Name, model.AuthEnvVar))
	}
	return ok("Model", fmt.Sprintf("%s via %s", model.Name, model.ProviderID()))
}

func hostCheck(host domain.HostConfig) domain.HealthCheck {
	label := "Host " + host.Name
	if host.AuthMethod() == domain.AuthKey && len(host.KeyMaterial) == 0 {
		if _, err := os.Stat(host.KeyFile); err != nil {
			return fail(label, fmt.Sprintf("key file: %v", err))
		}
	}
	if host.AuthMethod() == domain.AuthPassword && host.PasswordEnvVar != "" && os.Getenv(host.PasswordEnvVar) == "" {
		return warn(label, fmt.Sprintf("%s not set; password will be prompted", host.PasswordEnvVar))
	}
	if host.InsecureIgnoreHostKey {
		return warn(label, "host key verification disabled")
	}
	if host.KnownHostsFile != "" {
		if _, err := os.Stat(host.KnownHostsFile); err != nil {
			return warn(label, fmt.Sprintf("known_hosts: %v", err))
		}
	}
	return ok(label, fmt.Sprintf("%s@%s", host.User, host.Address()))
}

func ok(name, details string) domain.HealthCheck {
	return domain.HealthCheck{Name: name, Status: domain.HealthOK, Details: details}
}

func warn(name, details string) domain.HealthCheck {
	return domain.HealthCheck{Name: name, Status: domain.HealthWarn, Details: details}
}

func fail(name, details string) domain.HealthCheck {
	return domain.HealthCheck{Name: name, Status: domain.HealthError, Details: details}
}
