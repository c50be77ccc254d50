package domain

// Config mirrors ~/.shai-remote/config.yaml.
type Config struct {
	ConfigFormatVersion string            `yaml:"config_format_version"`
	Preferences         Preferences       `yaml:"preferences"`
	Models              []ModelDefinition `yaml:"models"`
	Execution           ExecutionSettings `yaml:"execution"`
	Cache               CacheSettings     `yaml:"cache"`
	History             HistorySettings   `yaml:"history"`
	Security            SecuritySettings  `yaml:"security"`
	Hosts               []HostConfig      `yaml:"hosts"`
}

// Preferences captures user level toggles.
type Preferences struct {
	DefaultModel    string `yaml:"default_model"`
	DefaultHost     string `yaml:"default_host"`
	AutoExecuteSafe bool   `yaml:"auto_execute_safe"`
	TimeoutSeconds  int    `yaml:"timeout"`
	Verbose         bool   `yaml:"verbose"`
}

// ExecutionSettings controls how remote commands run.
type ExecutionSettings struct {
	Shell                 string `yaml:"shell"`
	CommandTimeoutSeconds int    `yaml:"command_timeout"`
}

// CacheSettings bounds the suggestion cache.
type CacheSettings struct {
	TTL        string `yaml:"ttl"`
	MaxEntries int    `yaml:"max_entries"`
	Path       string `yaml:"path"`
}

// HistorySettings configures persisted command history.
type HistorySettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// SecuritySettings defines guardrail behavior.
type SecuritySettings struct {
	Enabled   bool   `yaml:"enabled"`
	RulesFile string `yaml:"rules_file"`
}
