package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/doeshing/shai-remote/internal/app"
	"github.com/doeshing/shai-remote/internal/domain"
	"github.com/doeshing/shai-remote/internal/infrastructure/cli/helpers"
	"github.com/doeshing/shai-remote/internal/infrastructure/history"
)

// NewHistoryCommand creates the history command with all subcommands
func NewHistoryCommand(source ContainerSource) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect remote command history",
	}

	historyCmd.AddCommand(
		newHistoryListCommand(source),
		newHistorySearchCommand(source),
		newHistoryClearCommand(source),
		newHistoryExportCommand(source),
		newHistoryStatsCommand(source),
	)

	return historyCmd
}

func newHistoryListCommand(source ContainerSource) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent history entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := historyStore(cmd.Context(), source)
			if err != nil {
				return err
			}
			return listHistoryEntries(cmd.Context(), cmd.OutOrStdout(), store, limit, "")
		},
	}

	cmd.Flags().IntVar(&limit, "limit", DefaultHistoryLimit, "Max entries to show")
	return cmd
}

func newHistorySearchCommand(source ContainerSource) *cobra.Command {
	var query string
	var searchLimit int

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search history by command or host",
		RunE: func(cmd *cobra.Command, args []string) error {
			if query == "" {
				return fmt.Errorf(ErrQueryRequired)
			}
			store, err := historyStore(cmd.Context(), source)
			if err != nil {
				return err
			}
			return listHistoryEntries(cmd.Context(), cmd.OutOrStdout(), store, searchLimit, query)
		},
	}

	cmd.Flags().StringVar(&query, "query", "", "Search keyword")
	cmd.Flags().IntVar(&searchLimit, "limit", DefaultHistorySearchLimit, "Limit search results")
	return cmd
}

func newHistoryClearCommand(source ContainerSource) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all history entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := historyStore(cmd.Context(), source)
			if err != nil {
				return err
			}
			if !yes && !helpers.PromptForConfirmation(cmd.OutOrStdout(), bufio.NewReader(cmd.InOrStdin()), "Clear all history?") {
				return nil
			}
			if err := store.Clear(cmd.Context()); err != nil {
				return fmt.Errorf("failed to clear history: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newHistoryExportCommand(source ContainerSource) *cobra.Command {
	return &cobra.Command{
		Use:   "export <path>",
		Short: "Export history to a JSON file, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := historyStore(cmd.Context(), source)
			if err != nil {
				return err
			}
			if err := store.ExportJSON(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to export history to %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported history from %s to %s\n", store.Path(), args[0])
			return nil
		},
	}
}

func newHistoryStatsCommand(source ContainerSource) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show success rate, top commands and hosts",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := historyStore(cmd.Context(), source)
			if err != nil {
				return err
			}
			return showHistoryStats(cmd.Context(), cmd.OutOrStdout(), store)
		},
	}
}

func historyStore(ctx context.Context, source ContainerSource) (history.Store, error) {
	container, err := source(ctx)
	if err != nil {
		return nil, err
	}
	return storeOf(container)
}

func storeOf(container *app.Container) (history.Store, error) {
	if container.HistoryStore == nil {
		return nil, fmt.Errorf("%s (history.enabled is false)", ErrHistoryStoreUnavailable)
	}
	return container.HistoryStore, nil
}

func listHistoryEntries(ctx context.Context, out io.Writer, store history.Store, limit int, query string) error {
	records, err := store.Records(ctx, limit, query)
	if err != nil {
		return fmt.Errorf("failed to retrieve history records: %w", err)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, MsgNoHistoryRecorded)
		return nil
	}

	for _, rec := range records {
		fmt.Fprintf(out, "%s | %-12s | %s | %s\n",
			rec.Timestamp.Local().Format(TimestampFormat),
			rec.Host,
			exitBadge(rec),
			rec.Command)
	}
	return nil
}

func exitBadge(item domain.HistoryItem) string {
	switch {
	case item.ExitCode == domain.FailedExitCode:
		return errorStyle.Render("fail")
	case item.Succeeded():
		return okStyle.Render("  ok")
	default:
		return warnStyle.Render(fmt.Sprintf("%4d", item.ExitCode))
	}
}

func showHistoryStats(ctx context.Context, out io.Writer, store history.Store) error {
	records, err := store.Records(ctx, MaxHistoryAnalysisRecords, "")
	if err != nil {
		return fmt.Errorf("failed to retrieve history for analysis: %w", err)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, MsgNoHistoryRecorded)
		return nil
	}

	summary := helpers.SummarizeHistory(records)
	fmt.Fprintf(out, "Entries analyzed: %d\nReached host: %d\nFrom suggestions: %d\nSuccess rate: %.1f%%\n",
		summary.Total,
		summary.Completed,
		summary.Suggested,
		helpers.CalculateSuccessRate(summary.Succeeded, summary.Completed))

	fmt.Fprintln(out, headerStyle.Render("Top commands:"))
	for _, stat := range helpers.CalculateTopCommands(summary.CommandFreq, 5) {
		fmt.Fprintf(out, "  %s (%d)\n", stat.Command, stat.Count)
	}

	if len(summary.HostFreq) > 0 {
		fmt.Fprintln(out, headerStyle.Render("Hosts:"))
		for _, stat := range helpers.CalculateTopCommands(summary.HostFreq, 0) {
			fmt.Fprintf(out, "  %s (%d)\n", stat.Command, stat.Count)
		}
	}

	if hints := helpers.DeriveUndoHints(records); len(hints) > 0 {
		fmt.Fprintln(out, headerStyle.Render("Undo hints:"))
		for _, hint := range hints {
			fmt.Fprintf(out, "  - %s\n", hint)
		}
	}
	return nil
}
