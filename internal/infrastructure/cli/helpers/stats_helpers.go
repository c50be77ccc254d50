package helpers

import (
	"sort"
	"strings"

	"github.com/doeshing/shai-remote/internal/domain"
)

// CommandStatistic represents usage statistics for a command or host
type CommandStatistic struct {
	Command string
	Count   int
}

// CalculateTopCommands returns the top N most frequent keys.
// A limit of 0 or less returns all of them.
func CalculateTopCommands(commandFrequency map[string]int, limit int) []CommandStatistic {
	stats := make([]CommandStatistic, 0, len(commandFrequency))
	for cmd, count := range commandFrequency {
		stats = append(stats, CommandStatistic{Command: cmd, Count: count})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count == stats[j].Count {
			return stats[i].Command < stats[j].Command
		}
		return stats[i].Count > stats[j].Count
	})
	if limit > 0 && len(stats) > limit {
		return stats[:limit]
	}
	return stats
}

// CalculateSuccessRate calculates the success rate as a percentage
func CalculateSuccessRate(successfulCount int, executedCount int) float64 {
	if executedCount == 0 {
		return 0.0
	}
	return float64(successfulCount) / float64(executedCount) * 100.0
}

// HistorySummary aggregates a slice of history items.
type HistorySummary struct {
	Total       int
	Completed   int
	Succeeded   int
	Suggested   int
	CommandFreq map[string]int
	HostFreq    map[string]int
}

// SummarizeHistory counts outcomes, sources, commands and hosts.
func SummarizeHistory(items []domain.HistoryItem) HistorySummary {
	summary := HistorySummary{
		Total:       len(items),
		CommandFreq: make(map[string]int),
		HostFreq:    make(map[string]int),
	}
	for _, item := range items {
		if item.ExitCode != domain.FailedExitCode {
			summary.Completed++
		}
		if item.Succeeded() {
			summary.Succeeded++
		}
		if item.Source == domain.SourceSuggestion {
			summary.Suggested++
		}
		summary.CommandFreq[item.Command]++
		if item.Host != "" {
			summary.HostFreq[item.Host]++
		}
	}
	return summary
}

// DeriveUndoHints returns recovery hints for tools seen in history,
// sorted and without duplicates.
func DeriveUndoHints(items []domain.HistoryItem) []string {
	hints := map[string]struct {
		prefix string
		hint   string
	}{
		"git":       {prefix: "git ", hint: "Use `git status`, `git reflog`, or `git restore` to inspect and undo git changes."},
		"kubectl":   {prefix: "kubectl ", hint: "Use `kubectl rollout undo` or `kubectl get events` to recover from cluster issues."},
		"rm":        {prefix: "rm ", hint: "Restore removed files from backups or snapshots on the host."},
		"docker":    {prefix: "docker ", hint: "Use `docker ps -a` and `docker logs` to review container history before repeating."},
		"systemctl": {prefix: "systemctl ", hint: "Use `systemctl status` and `journalctl -u <unit>` before restarting units again."},
	}

	found := make(map[string]string)
	for _, item := range items {
		command := strings.ToLower(strings.TrimSpace(item.Command))
		for key, h := range hints {
			if strings.HasPrefix(command, h.prefix) || strings.HasPrefix(command, "sudo "+h.prefix) {
				found[key] = h.hint
			}
		}
	}

	out := make([]string, 0, len(found))
	for _, hint := range found {
		out = append(out, hint)
	}
	sort.Strings(out)
	return out
}
