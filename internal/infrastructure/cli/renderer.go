package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/doeshing/shai-remote/internal/application/terminal"
	"github.com/doeshing/shai-remote/internal/domain"
	"github.com/doeshing/shai-remote/internal/infrastructure/metrics"
)

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	commandStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255")).
			Background(lipgloss.Color("236")).
			Padding(0, 1)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	riskStyles = map[domain.RiskLevel]lipgloss.Style{
		domain.RiskSafe:     lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		domain.RiskLow:      lipgloss.NewStyle().Foreground(lipgloss.Color("114")).Bold(true),
		domain.RiskMedium:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		domain.RiskHigh:     lipgloss.NewStyle().Foreground(lipgloss.Color("202")).Bold(true),
		domain.RiskCritical: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true).Reverse(true),
	}
)

// Renderer prints terminal state incrementally: each history item once.
type Renderer struct {
	out     io.Writer
	printed int
}

// NewRenderer writes to out.
func NewRenderer(out io.Writer) *Renderer {
	return &Renderer{out: out}
}

// Prompt renders the input prompt for state.
func (r *Renderer) Prompt(state terminal.State) string {
	return promptStyle.Render(state.Prompt()) + " > "
}

// Attached prints the probed environment after a connect.
func (r *Renderer) Attached(state terminal.State) {
	ctx := state.Context
	fmt.Fprintf(r.out, "Connected to %s (%s, %s)\n", state.Host, ctx.OS, ctx.Shell)
	if len(ctx.AvailableTools) > 0 {
		fmt.Fprintln(r.out, dimStyle.Render("tools: "+strings.Join(ctx.AvailableTools, ", ")))
	}
}

// History prints items not printed before.
func (r *Renderer) History(items []domain.HistoryItem) {
	for ; r.printed < len(items); r.printed++ {
		r.Item(items[r.printed])
	}
}

// Item prints one execution result.
func (r *Renderer) Item(item domain.HistoryItem) {
	if item.Output != "" {
		fmt.Fprint(r.out, withNewline(item.Output))
	}
	if item.Error != "" {
		fmt.Fprint(r.out, errorStyle.Render(strings.TrimRight(item.Error, "\n"))+"\n")
	}
	if item.ExitCode != 0 {
		label := fmt.Sprintf("exit %d", item.ExitCode)
		if item.ExitCode == domain.FailedExitCode {
			label = "not run"
		}
		fmt.Fprintln(r.out, dimStyle.Render("["+label+"] "+item.Command))
	}
}

// Suggestion prints a pending suggestion with its risk.
func (r *Renderer) Suggestion(pending domain.PendingSuggestion) {
	s := pending.Suggestion
	source := ""
	if pending.FromCache {
		source = dimStyle.Render(" (cached)")
	}
	fmt.Fprintf(r.out, "\n%s%s\n", commandStyle.Render(s.Command), source)
	if s.Explanation != "" {
		fmt.Fprintln(r.out, dimStyle.Render(s.Explanation))
	}
	fmt.Fprintf(r.out, "Risk: %s", riskBadge(s.Risk.Level))
	if s.Risk.Blocked {
		fmt.Fprint(r.out, " "+errorStyle.Render("BLOCKED"))
	}
	fmt.Fprintln(r.out)
	for _, factor := range s.Risk.Factors {
		fmt.Fprintf(r.out, " - %s\n", factor)
	}
	for _, warning := range s.Risk.Warnings {
		fmt.Fprintf(r.out, " ! %s\n", warning)
	}
	for _, alt := range s.Alternatives {
		fmt.Fprintln(r.out, dimStyle.Render("   alt: "+alt))
	}
}

// Metrics prints one line per generation series.
func (r *Renderer) Metrics(series []metrics.Series) {
	if len(series) == 0 {
		fmt.Fprintln(r.out, dimStyle.Render("no generation calls yet"))
		return
	}
	for _, s := range series {
		fmt.Fprintf(r.out, "%-20s %s  calls=%d", s.Name, labelString(s.Labels), s.Count)
		if s.TotalLatency > 0 {
			fmt.Fprintf(r.out, " mean=%s max=%s", s.MeanLatency().Round(time.Millisecond), s.MaxLatency.Round(time.Millisecond))
		}
		if s.PromptTokens+s.CompletionTokens > 0 {
			fmt.Fprintf(r.out, " tokens=%d/%d", s.PromptTokens, s.CompletionTokens)
		}
		fmt.Fprintln(r.out)
	}
}

// Error prints a one-line failure.
func (r *Renderer) Error(msg string) {
	fmt.Fprintln(r.out, errorStyle.Render("error: ")+msg)
}

func riskBadge(level domain.RiskLevel) string {
	style, ok := riskStyles[level]
	if !ok {
		style = riskStyles[domain.RiskSafe]
	}
	return style.Render(strings.ToUpper(string(level)))
}

func labelString(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + labels[k]
	}
	return dimStyle.Render("{" + strings.Join(parts, ",") + "}")
}

func withNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
