package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/doeshing/shai-remote/internal/domain"
)

// sshFailureStatus mirrors ssh(1), which exits 255 when the command never ran.
const sshFailureStatus = 255

func newRunCommand(rt *runtime) *cobra.Command {
	var assumeYes bool
	cmd := &cobra.Command{
		Use:   "run <host> <command or question...>",
		Short: "Run one command or question on a host and exit",
		Example: `  shai-remote run web1 uptime
  shai-remote run web1 "?" which process uses the most memory
  shai-remote run --yes web1 how much disk space is left`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runOnce(ctx, rt, args[0], strings.Join(args[1:], " "), assumeYes)
		},
	}
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Run a suggested command without asking")
	return cmd
}

func runOnce(ctx context.Context, rt *runtime, target, input string, assumeYes bool) error {
	container, err := rt.get(ctx)
	if err != nil {
		return err
	}
	r, err := newREPL(container, rt.opts, target)
	if err != nil {
		return err
	}
	defer r.orch.Close(context.Background())

	if err := r.connect(ctx); err != nil {
		return err
	}

	class := r.orch.Submit(ctx, input)
	r.settle("running")
	if !class.IsCommand() {
		if err := r.resolveOnce(ctx, assumeYes); err != nil {
			return err
		}
	}
	return exitStatus(r.orch.Snapshot().History)
}

// resolveOnce settles the pending suggestion of a one-shot run.
func (r *repl) resolveOnce(ctx context.Context, assumeYes bool) error {
	state := r.orch.Snapshot()
	if state.Pending == nil {
		if state.LastError != "" {
			return errors.New(state.LastError)
		}
		// Auto-executed; its output was already rendered.
		return nil
	}
	pending := *state.Pending
	r.renderer.Suggestion(pending)
	if pending.Suggestion.Risk.Blocked {
		r.orch.RejectSuggestion()
		return errors.New("suggestion blocked by guardrail: " + pending.Suggestion.Command)
	}
	if !assumeYes {
		ok, err := r.prompter.Confirm(pending)
		if err != nil || !ok {
			r.orch.RejectSuggestion()
			return errors.New("cancelled")
		}
	}
	if err := r.orch.AcceptSuggestion(ctx); err != nil {
		return err
	}
	r.settle("running")
	return nil
}

func exitStatus(history []domain.HistoryItem) error {
	if len(history) == 0 {
		return nil
	}
	last := history[len(history)-1]
	switch {
	case last.ExitCode == 0:
		return nil
	case last.ExitCode == domain.FailedExitCode:
		return &ExitError{Code: sshFailureStatus}
	default:
		return &ExitError{Code: last.ExitCode}
	}
}
