package domain

import (
	"fmt"
	"time"
)

// GetDefaultModel retrieves the default model definition from configuration
// Returns an error if the default model is not found
func (c *Config) GetDefaultModel() (ModelDefinition, error) {
	if c.Preferences.DefaultModel == "" {
		if len(c.Models) > 0 {
			return c.Models[0], nil
		}
		return ModelDefinition{}, fmt.Errorf("no default model configured")
	}

	if model, ok := c.FindModelByName(c.Preferences.DefaultModel); ok {
		return model, nil
	}

	return ModelDefinition{}, fmt.Errorf("default model %s not found in configuration", c.Preferences.DefaultModel)
}

// FindModelByName searches for a model by its name
func (c *Config) FindModelByName(name string) (ModelDefinition, bool) {
	for _, model := range c.Models {
		if model.Name == name {
			return model, true
		}
	}
	return ModelDefinition{}, false
}

// HasModel checks if a model with the given name exists in the configuration
func (c *Config) HasModel(name string) bool {
	_, exists := c.FindModelByName(name)
	return exists
}

// FindHost looks a host entry up by name, falling back to a match on the address.
func (c *Config) FindHost(name string) (HostConfig, bool) {
	for _, host := range c.Hosts {
		if host.Name == name {
			return host.WithDefaults(), true
		}
	}
	for _, host := range c.Hosts {
		if host.Host == name {
			return host.WithDefaults(), true
		}
	}
	return HostConfig{}, false
}

// GetDefaultHost returns the host named by preferences.default_host, or the first host.
func (c *Config) GetDefaultHost() (HostConfig, error) {
	if c.Preferences.DefaultHost != "" {
		if host, ok := c.FindHost(c.Preferences.DefaultHost); ok {
			return host, nil
		}
		return HostConfig{}, fmt.Errorf("default host %s not found in configuration", c.Preferences.DefaultHost)
	}
	if len(c.Hosts) == 0 {
		return HostConfig{}, fmt.Errorf("no hosts configured")
	}
	return c.Hosts[0].WithDefaults(), nil
}

// IsSecurityEnabled checks if security guardrails are enabled
func (c *Config) IsSecurityEnabled() bool {
	return c.Security.Enabled
}

// ShouldAutoExecuteSafe reports whether suggestions that do not require
// confirmation run without an acceptance step.
func (c *Config) ShouldAutoExecuteSafe() bool {
	return c.Preferences.AutoExecuteSafe
}

// GetExecutionShell returns the preferred login shell on the remote host.
func (c *Config) GetExecutionShell() string {
	if c.Execution.Shell == "" {
		return string(ShellBash)
	}
	return c.Execution.Shell
}

// GetCommandTimeout bounds a single remote command. Zero means no limit.
func (c *Config) GetCommandTimeout() time.Duration {
	if c.Execution.CommandTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Execution.CommandTimeoutSeconds) * time.Second
}

// GetRequestTimeout bounds a single generation request.
func (c *Config) GetRequestTimeout() time.Duration {
	const defaultTimeoutSeconds = 30

	if c.Preferences.TimeoutSeconds <= 0 {
		return defaultTimeoutSeconds * time.Second
	}
	return time.Duration(c.Preferences.TimeoutSeconds) * time.Second
}

// GetCacheTTL parses cache.ttl, defaulting to one hour on empty or invalid input.
func (c *Config) GetCacheTTL() time.Duration {
	if c.Cache.TTL == "" {
		return DefaultCacheTTL
	}
	d, err := time.ParseDuration(c.Cache.TTL)
	if err != nil || d <= 0 {
		return DefaultCacheTTL
	}
	return d
}

// GetCacheMaxEntries returns the maximum number of cache entries
func (c *Config) GetCacheMaxEntries() int {
	if c.Cache.MaxEntries <= 0 {
		return DefaultMaxCacheEntries
	}
	return c.Cache.MaxEntries
}

// ValidateConsistency checks the internal consistency of the configuration
func (c *Config) ValidateConsistency() error {
	if c.Preferences.DefaultModel != "" && !c.HasModel(c.Preferences.DefaultModel) {
		return fmt.Errorf("default model %s does not exist in models list", c.Preferences.DefaultModel)
	}

	seen := make(map[string]bool, len(c.Hosts))
	for _, host := range c.Hosts {
		if host.Name == "" {
			return fmt.Errorf("host entry for %q has no name", host.Host)
		}
		if seen[host.Name] {
			return fmt.Errorf("duplicate host name %s", host.Name)
		}
		seen[host.Name] = true
		if host.Host == "" || host.User == "" {
			return fmt.Errorf("host %s requires both host and user", host.Name)
		}
	}

	if c.Preferences.DefaultHost != "" {
		if _, ok := c.FindHost(c.Preferences.DefaultHost); !ok {
			return fmt.Errorf("default host %s does not exist in hosts list", c.Preferences.DefaultHost)
		}
	}

	return nil
}
