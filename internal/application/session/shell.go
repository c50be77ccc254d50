package session

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/doeshing/shai-remote/internal/domain"
)

var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// WrapCommand renders req as
//
//	<shell> -l -i -c '<cd dir && export K=V && command>'
//
// so profile files, aliases and PATH are loaded like in an interactive login.
// Env keys are applied in sorted order.
func WrapCommand(shell domain.ShellName, req domain.CommandRequest) (string, error) {
	if strings.TrimSpace(req.Command) == "" {
		return "", fmt.Errorf("command is empty")
	}
	var parts []string
	if req.WorkingDir != "" {
		parts = append(parts, "cd "+ShellQuote(req.WorkingDir))
	}
	if len(req.Env) > 0 {
		keys := make([]string, 0, len(req.Env))
		for k := range req.Env {
			if !envNamePattern.MatchString(k) {
				return "", fmt.Errorf("invalid environment variable name %q", k)
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		assignments := make([]string, 0, len(keys))
		for _, k := range keys {
			assignments = append(assignments, k+"="+ShellQuote(req.Env[k]))
		}
		parts = append(parts, "export "+strings.Join(assignments, " "))
	}
	parts = append(parts, req.Command)
	return fmt.Sprintf("%s -l -i -c %s", shell, ShellQuote(strings.Join(parts, " && "))), nil
}

// ShellMissing reports whether result says the login shell binary itself
// was not found, as opposed to a command inside it.
func ShellMissing(shell domain.ShellName, result domain.CommandResult) bool {
	if result.ExitCode != 127 {
		return false
	}
	stderr := strings.ToLower(result.Stderr)
	if !strings.Contains(stderr, "not found") && !strings.Contains(stderr, "no such file") {
		return false
	}
	name := string(shell)
	for _, marker := range []string{
		name + ": not found",
		name + ": command not found",
		name + ": no such file",
	} {
		if containsWord(stderr, marker) {
			return true
		}
	}
	return false
}

// containsWord matches marker only where it is not the tail of a longer
// name, so "fish: not found" does not count for sh.
func containsWord(s, marker string) bool {
	for offset := 0; ; {
		i := strings.Index(s[offset:], marker)
		if i < 0 {
			return false
		}
		i += offset
		if i == 0 || !isNameByte(s[i-1]) {
			return true
		}
		offset = i + 1
	}
}

func isNameByte(c byte) bool {
	return c == '-' || c == '_' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// ShellQuote wraps s in single quotes for POSIX shells.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
