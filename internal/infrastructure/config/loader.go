package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/doeshing/shai-remote/assets"
	"github.com/doeshing/shai-remote/internal/domain"
	"github.com/doeshing/shai-remote/internal/pkg/filesystem"
	"github.com/doeshing/shai-remote/internal/ports"
)

// EnvConfigPath overrides the config file location.
const EnvConfigPath = "SHAI_REMOTE_CONFIG"

// FileLoader loads YAML configuration from ~/.shai-remote/config.yaml
// (overridable via SHAI_REMOTE_CONFIG).
type FileLoader struct {
	overridePath string
}

// NewFileLoader builds a new loader. An empty path uses the default lookup.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{overridePath: path}
}

// Load implements ports.ConfigProvider. A missing file is created from the
// embedded default.
func (l *FileLoader) Load(context.Context) (domain.Config, error) {
	path := l.resolvePath()
	if err := ensureConfigDir(path); err != nil {
		return domain.Config{}, fmt.Errorf("ensure config dir: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if err := os.WriteFile(path, assets.DefaultConfigYAML, domain.SecureFilePermissions); err != nil {
				return domain.Config{}, fmt.Errorf("write default config: %w", err)
			}
			return hydrateDefaults(DefaultConfig()), nil
		}
		return domain.Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg domain.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return domain.Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return hydrateDefaults(cfg), nil
}

// Path returns the resolved config file path.
func (l *FileLoader) Path() string {
	return l.resolvePath()
}

// Save writes cfg back to disk.
func (l *FileLoader) Save(cfg domain.Config) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	path := l.resolvePath()
	if err := ensureConfigDir(path); err != nil {
		return err
	}
	return os.WriteFile(path, raw, domain.SecureFilePermissions)
}

// Backup copies the current config file to a timestamped backup.
func (l *FileLoader) Backup() (string, error) {
	path := l.resolvePath()
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	backup := fmt.Sprintf("%s.%s.bak", path, time.Now().Format("20060102T150405"))
	if err := os.WriteFile(backup, data, domain.SecureFilePermissions); err != nil {
		return "", err
	}
	return backup, nil
}

// Reset overwrites the config file with the embedded default.
func (l *FileLoader) Reset() (domain.Config, error) {
	path := l.resolvePath()
	if err := ensureConfigDir(path); err != nil {
		return domain.Config{}, err
	}
	if err := os.WriteFile(path, assets.DefaultConfigYAML, domain.SecureFilePermissions); err != nil {
		return domain.Config{}, fmt.Errorf("reset config: %w", err)
	}
	return hydrateDefaults(DefaultConfig()), nil
}

func (l *FileLoader) resolvePath() string {
	if l.overridePath != "" {
		return ExpandPath(l.overridePath)
	}
	if custom := os.Getenv(EnvConfigPath); custom != "" {
		return ExpandPath(custom)
	}
	return filepath.Join(filesystem.UserHomeDir(), ".shai-remote", "config.yaml")
}

func ensureConfigDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), domain.DirectoryPermissions)
}

// DefaultConfig parses the embedded default configuration.
func DefaultConfig() domain.Config {
	var cfg domain.Config
	if err := yaml.Unmarshal(assets.DefaultConfigYAML, &cfg); err != nil {
		// embedded asset is compiled in; keep an offline-capable minimum
		return domain.Config{
			ConfigFormatVersion: "1",
			Preferences:         domain.Preferences{DefaultModel: domain.ProviderHeuristic, TimeoutSeconds: 30},
			Models:              []domain.ModelDefinition{{Name: domain.ProviderHeuristic, ModelID: domain.ProviderHeuristic}},
			Security:            domain.SecuritySettings{Enabled: true},
			History:             domain.HistorySettings{Enabled: true},
		}
	}
	return cfg
}

// HydratedDefault is DefaultConfig as Load would return it.
func HydratedDefault() domain.Config {
	return hydrateDefaults(DefaultConfig())
}

func hydrateDefaults(cfg domain.Config) domain.Config {
	if cfg.ConfigFormatVersion == "" {
		cfg.ConfigFormatVersion = "1"
	}
	if cfg.Preferences.DefaultModel == "" && len(cfg.Models) > 0 {
		cfg.Preferences.DefaultModel = cfg.Models[0].Name
	}
	if cfg.Preferences.TimeoutSeconds == 0 {
		cfg.Preferences.TimeoutSeconds = 30
	}
	if cfg.Execution.Shell == "" {
		cfg.Execution.Shell = string(domain.ShellBash)
	}
	if cfg.Cache.TTL == "" {
		cfg.Cache.TTL = domain.DefaultCacheTTL.String()
	}
	if cfg.Cache.MaxEntries <= 0 {
		cfg.Cache.MaxEntries = domain.DefaultMaxCacheEntries
	}
	cfg.Cache.Path = ExpandPath(cfg.Cache.Path)
	cfg.History.Path = ExpandPath(cfg.History.Path)
	cfg.Security.RulesFile = ExpandPath(cfg.Security.RulesFile)
	for i := range cfg.Hosts {
		h := cfg.Hosts[i].WithDefaults()
		h.KeyFile = ExpandPath(h.KeyFile)
		h.KnownHostsFile = ExpandPath(h.KnownHostsFile)
		cfg.Hosts[i] = h
	}
	return cfg
}

// ExpandPath resolves a leading ~/ against the home directory. Empty stays empty.
func ExpandPath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(filesystem.UserHomeDir(), path[2:])
	}
	return filepath.Clean(path)
}

var _ ports.ConfigProvider = (*FileLoader)(nil)
