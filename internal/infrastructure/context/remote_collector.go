package contextcollector

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/doeshing/shai-remote/internal/domain"
	"github.com/doeshing/shai-remote/internal/infrastructure/sanitize"
	"github.com/doeshing/shai-remote/internal/ports"
)

// Fallback values used when the probe fails or a field comes back empty.
const (
	FallbackOS         = "unknown"
	FallbackShell      = "sh"
	FallbackWorkingDir = "~"
)

var defaultTools = []string{
	"docker", "kubectl", "git", "npm", "yarn", "pnpm", "python", "python3", "go", "node",
	"cargo", "make", "systemctl", "journalctl", "apt", "yum", "dnf", "brew", "htop", "jq",
}

// RemoteCollector learns about the remote environment of a session by
// running a single probe command through the session's runner.
type RemoteCollector struct {
	toolsToCheck []string
	timeout      time.Duration
	logger       ports.Logger
}

// NewRemoteCollector probes for the default tool list.
func NewRemoteCollector(logger ports.Logger) *RemoteCollector {
	return &RemoteCollector{
		toolsToCheck: defaultTools,
		timeout:      domain.DefaultProbeTimeout,
		logger:       logger,
	}
}

// WithTools replaces the executables the probe looks for.
func (c *RemoteCollector) WithTools(tools ...string) *RemoteCollector {
	clone := *c
	clone.toolsToCheck = append([]string(nil), tools...)
	return &clone
}

// Collect never fails: any probe error yields the fallback snapshot.
func (c *RemoteCollector) Collect(ctx context.Context, runner ports.CommandRunner, sessionID string) domain.ContextSnapshot {
	fallback := domain.ContextSnapshot{OS: FallbackOS, Shell: FallbackShell, WorkingDir: FallbackWorkingDir}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	result, err := runner.Execute(ctx, sessionID, domain.CommandRequest{Command: c.probeCommand()})
	if err != nil {
		c.logWarn("context probe failed", map[string]interface{}{"session": sessionID, "error": err.Error()})
		return fallback
	}
	if result.ExitCode != 0 {
		c.logWarn("context probe exited non-zero", map[string]interface{}{"session": sessionID, "exit_code": result.ExitCode})
	}
	return parseProbe(sanitize.Sanitize(result.Stdout), fallback)
}

// probeCommand prints one key=value line per fact. Login shells may print
// banners around it; parseProbe ignores anything that is not a known key.
func (c *RemoteCollector) probeCommand() string {
	var b strings.Builder
	b.WriteString(`printf 'os=%s\n' "$(uname -s)"; `)
	b.WriteString(`printf 'shell=%s\n' "$(basename "${SHELL:-sh}")"; `)
	b.WriteString(`printf 'cwd=%s\n' "$(pwd)"; `)
	b.WriteString(`printf 'user=%s\n' "$(whoami)"; `)
	b.WriteString(`printf 'host=%s\n' "$(hostname)"; `)
	if len(c.toolsToCheck) > 0 {
		fmt.Fprintf(&b, `for t in %s; do command -v "$t" >/dev/null 2>&1 && printf 'tool=%%s\n' "$t"; done; `,
			strings.Join(c.toolsToCheck, " "))
	}
	b.WriteString("true")
	return b.String()
}

func parseProbe(output string, fallback domain.ContextSnapshot) domain.ContextSnapshot {
	snapshot := fallback
	seen := map[string]bool{}
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(strings.TrimRight(line, "\r"), "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		switch key {
		case "os":
			snapshot.OS = value
		case "shell":
			snapshot.Shell = value
		case "cwd":
			snapshot.WorkingDir = value
		case "user":
			snapshot.User = value
		case "host":
			snapshot.Host = value
		case "tool":
			if !seen[value] {
				seen[value] = true
				snapshot.AvailableTools = append(snapshot.AvailableTools, value)
			}
		}
	}
	sort.Strings(snapshot.AvailableTools)
	return snapshot
}

func (c *RemoteCollector) logWarn(msg string, fields map[string]interface{}) {
	if c.logger != nil {
		c.logger.Warn(msg, fields)
	}
}

var _ ports.ContextCollector = (*RemoteCollector)(nil)
