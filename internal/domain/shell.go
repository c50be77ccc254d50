package domain

// ShellName enumerates login shells the session manager knows how to wrap.
type ShellName string

const (
	ShellBash ShellName = "bash"
	ShellZsh  ShellName = "zsh"
	ShellSh   ShellName = "sh"
)

// LoginShellOrder is the fixed fallback order used when the preferred shell
// binary is missing on the remote host.
var LoginShellOrder = []ShellName{ShellBash, ShellZsh, ShellSh}

// ShellCandidates returns the preferred shell followed by exactly two
// fallbacks taken from LoginShellOrder.
func ShellCandidates(preferred string) []ShellName {
	first := ShellName(preferred)
	if first == "" {
		first = ShellBash
	}
	candidates := []ShellName{first}
	for _, shell := range LoginShellOrder {
		if len(candidates) == 3 {
			break
		}
		if shell != first {
			candidates = append(candidates, shell)
		}
	}
	return candidates
}
