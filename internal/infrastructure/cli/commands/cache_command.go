package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/doeshing/shai-remote/internal/app"
	"github.com/doeshing/shai-remote/internal/domain"
	"github.com/doeshing/shai-remote/internal/infrastructure/cli/helpers"
)

// NewCacheCommand creates the cache command with all subcommands
func NewCacheCommand(source ContainerSource) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or prune the suggestion cache",
	}

	cacheCmd.AddCommand(
		newCacheListCommand(source),
		newCacheStatsCommand(source),
		newCachePruneCommand(source),
		newCacheClearCommand(source),
	)

	return cacheCmd
}

func newCacheListCommand(source ContainerSource) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached suggestions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := cacheContainer(cmd.Context(), source)
			if err != nil {
				return err
			}
			return listCacheEntries(cmd.Context(), cmd.OutOrStdout(), container)
		},
	}
}

func newCacheStatsCommand(source ContainerSource) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache settings and per-model counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := cacheContainer(cmd.Context(), source)
			if err != nil {
				return err
			}
			return showCacheStats(cmd.Context(), cmd.OutOrStdout(), container)
		},
	}
}

func newCachePruneCommand(source ContainerSource) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Drop expired entries and trim to max_entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := cacheContainer(cmd.Context(), source)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			expired, err := container.Cache.PruneExpired(ctx, time.Now())
			if err != nil {
				return fmt.Errorf("failed to prune expired entries: %w", err)
			}
			trimmed, err := container.Cache.PruneByCapacity(ctx, container.Config.GetCacheMaxEntries())
			if err != nil {
				return fmt.Errorf("failed to trim cache: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired and %d surplus entries.\n", expired, trimmed)
			return nil
		},
	}
}

func newCacheClearCommand(source ContainerSource) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached suggestion",
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := cacheContainer(cmd.Context(), source)
			if err != nil {
				return err
			}
			if !yes && !helpers.PromptForConfirmation(cmd.OutOrStdout(), bufio.NewReader(cmd.InOrStdin()), "Clear the suggestion cache?") {
				return nil
			}
			if err := container.Cache.Clear(cmd.Context()); err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func cacheContainer(ctx context.Context, source ContainerSource) (*app.Container, error) {
	container, err := source(ctx)
	if err != nil {
		return nil, err
	}
	if container.Cache == nil {
		return nil, fmt.Errorf(ErrCacheStoreUnavailable)
	}
	return container, nil
}

func listCacheEntries(ctx context.Context, out io.Writer, container *app.Container) error {
	entries, err := container.Cache.Entries(ctx)
	if err != nil {
		return fmt.Errorf("failed to retrieve cache entries: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, MsgNoCachedResponses)
		return nil
	}

	now := time.Now()
	for _, entry := range entries {
		fmt.Fprintf(out, "%s | %-8s | %s | %s%s\n",
			entry.CreatedAt.Format(TimestampFormat),
			entry.Suggestion.Risk.Level,
			entry.Suggestion.Command,
			dimStyle.Render(entry.Query),
			entryFlags(entry, now))
	}
	return nil
}

func entryFlags(entry domain.CacheEntry, now time.Time) string {
	flags := ""
	if entry.Accepted {
		flags += " " + okStyle.Render("accepted")
	}
	if entry.Expired(now) {
		flags += " " + warnStyle.Render("expired")
	}
	return flags
}

func showCacheStats(ctx context.Context, out io.Writer, container *app.Container) error {
	stats, err := container.Cache.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read cache stats: %w", err)
	}
	entries, err := container.Cache.Entries(ctx)
	if err != nil {
		return fmt.Errorf("failed to retrieve cache entries: %w", err)
	}

	fmt.Fprintf(out, "Cache TTL: %s\nMax entries: %d\nCurrent entries: %d\nAccepted: %d\n",
		container.Cache.TTL(),
		container.Config.GetCacheMaxEntries(),
		stats.Entries,
		stats.Accepted)

	modelCounts := make(map[string]int)
	for _, entry := range entries {
		modelCounts[entry.ModelID]++
	}
	if len(modelCounts) == 0 {
		fmt.Fprintln(out, MsgNoCachedResponses)
		return nil
	}

	fmt.Fprintln(out, headerStyle.Render("Entries per model:"))
	for _, stat := range helpers.CalculateTopCommands(modelCounts, 0) {
		fmt.Fprintf(out, "  %s: %d\n", stat.Command, stat.Count)
	}
	return nil
}
