package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/doeshing/shai-remote/internal/domain"
)

// Validate ensures config structure is consistent. All problems are
// reported together.
func Validate(cfg domain.Config) error {
	var errs []error
	if len(cfg.Models) == 0 {
		errs = append(errs, errors.New("at least one model must be configured"))
	}
	for _, model := range cfg.Models {
		if err := validateModel(model); err != nil {
			errs = append(errs, err)
		}
	}
	if err := cfg.ValidateConsistency(); err != nil {
		errs = append(errs, err)
	}
	if err := validateExecution(cfg.Execution); err != nil {
		errs = append(errs, err)
	}
	if err := validateCache(cfg.Cache); err != nil {
		errs = append(errs, err)
	}
	if err := validateSecurity(cfg.Security); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func validateModel(model domain.ModelDefinition) error {
	if model.Name == "" {
		return errors.New("model entry without a name")
	}
	if model.Endpoint == "" {
		return nil
	}
	u, err := url.Parse(model.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("model %s: endpoint %q is not an absolute URL", model.Name, model.Endpoint)
	}
	if model.ModelID == "" {
		return fmt.Errorf("model %s: model_id must be set", model.Name)
	}
	return nil
}

func validateExecution(exec domain.ExecutionSettings) error {
	switch domain.ShellName(exec.Shell) {
	case "", domain.ShellBash, domain.ShellZsh, domain.ShellSh:
	default:
		return fmt.Errorf("execution.shell must be bash|zsh|sh, got %s", exec.Shell)
	}
	if exec.CommandTimeoutSeconds < 0 {
		return fmt.Errorf("execution.command_timeout must be >= 0")
	}
	return nil
}

func validateCache(cache domain.CacheSettings) error {
	if cache.TTL != "" {
		d, err := time.ParseDuration(cache.TTL)
		if err != nil {
			return fmt.Errorf("cache.ttl invalid: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("cache.ttl must be positive")
		}
	}
	if cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries must be >= 0")
	}
	return nil
}

func validateSecurity(sec domain.SecuritySettings) error {
	if sec.Enabled && sec.RulesFile == "" {
		return fmt.Errorf("security.rules_file must be set when security is enabled")
	}
	return nil
}
