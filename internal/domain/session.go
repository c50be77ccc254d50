package domain

import (
	"fmt"
	"time"
)

// SessionState is a node in the session lifecycle.
type SessionState string

const (
	StateDisconnected  SessionState = "disconnected"
	StateConnecting    SessionState = "connecting"
	StateConnected     SessionState = "connected"
	StateDisconnecting SessionState = "disconnecting"
	StateFailed        SessionState = "failed"
)

var allowedSessionTransitions = map[SessionState]map[SessionState]struct{}{
	StateDisconnected: {
		StateConnecting: {},
		StateFailed:     {},
	},
	StateConnecting: {
		StateConnected: {},
		StateFailed:    {},
	},
	StateConnected: {
		StateDisconnecting: {},
		StateFailed:        {},
	},
	StateDisconnecting: {
		StateDisconnected: {},
		StateFailed:       {},
	},
	StateFailed: {
		StateDisconnected: {},
	},
}

// ValidateTransition rejects moves the lifecycle does not allow.
func ValidateTransition(from, to SessionState) error {
	next, ok := allowedSessionTransitions[from]
	if !ok {
		return fmt.Errorf("unknown session state %q", from)
	}
	if _, ok := next[to]; !ok {
		return fmt.Errorf("invalid session transition %s -> %s", from, to)
	}
	return nil
}

// AuthMethod names how a session authenticated.
type AuthMethod string

const (
	AuthPassword AuthMethod = "password"
	AuthKey      AuthMethod = "key"
)

// Session is owned by the session manager. Its ID is valid only while the
// state is connected.
type Session struct {
	ID          string       `json:"id"`
	Host        string       `json:"host"`
	Port        int          `json:"port"`
	User        string       `json:"user"`
	AuthMethod  AuthMethod   `json:"auth_method"`
	State       SessionState `json:"state"`
	Shell       ShellName    `json:"shell,omitempty"`
	ConnectedAt time.Time    `json:"connected_at"`
}

// Address renders host:port for logs and dialing.
func (s Session) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// HostConfig is supplied by the credential/config collaborator. Secrets are
// referenced through environment variables or files, never stored inline.
type HostConfig struct {
	Name                  string `yaml:"name"`
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	User                  string `yaml:"user"`
	PasswordEnvVar        string `yaml:"password_env_var,omitempty"`
	KeyFile               string `yaml:"key_file,omitempty"`
	PassphraseEnvVar      string `yaml:"passphrase_env_var,omitempty"`
	KnownHostsFile        string `yaml:"known_hosts_file,omitempty"`
	InsecureIgnoreHostKey bool   `yaml:"insecure_ignore_host_key,omitempty"`
	ConnectTimeoutSeconds int    `yaml:"connect_timeout,omitempty"`

	// Password is filled in at runtime (prompt or env) and never persisted.
	Password string `yaml:"-"`
	// KeyMaterial may carry a PEM key directly instead of KeyFile.
	KeyMaterial []byte `yaml:"-"`
}

// WithDefaults fills in the port and timeout.
func (h HostConfig) WithDefaults() HostConfig {
	if h.Port == 0 {
		h.Port = DefaultSSHPort
	}
	if h.Name == "" {
		h.Name = h.Host
	}
	return h
}

// ConnectTimeout returns the dial/handshake bound.
func (h HostConfig) ConnectTimeout() time.Duration {
	if h.ConnectTimeoutSeconds <= 0 {
		return DefaultConnectTimeout
	}
	return time.Duration(h.ConnectTimeoutSeconds) * time.Second
}

// AuthMethod reports which credential kind the config carries.
func (h HostConfig) AuthMethod() AuthMethod {
	if len(h.KeyMaterial) > 0 || h.KeyFile != "" {
		return AuthKey
	}
	return AuthPassword
}

// Address renders host:port.
func (h HostConfig) Address() string {
	return fmt.Sprintf("%s:%d", h.Host, h.WithDefaults().Port)
}

// CommandRequest is created per execution call.
type CommandRequest struct {
	Command    string
	WorkingDir string
	Env        map[string]string
	PTY        bool
}

// CommandResult is consumed into a HistoryItem.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}
