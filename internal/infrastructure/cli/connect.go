package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/doeshing/shai-remote/internal/app"
	"github.com/doeshing/shai-remote/internal/application/terminal"
	"github.com/doeshing/shai-remote/internal/domain"
	"github.com/doeshing/shai-remote/internal/infrastructure/metrics"
)

const replHelp = `Type a shell command to run it on the host, or a question to get a suggestion.
Prefix with ! to force a command or ? to force a question.
  :accept      run the pending suggestion
  :reject      drop the pending suggestion
  :history [n] list the last n commands
  :context     show the probed host environment
  :stats       show generation latency and token usage
  :reconnect   reopen the session
  :quit        leave`

func newConnectCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "connect [host]",
		Short: "Open an interactive session (default host when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnect(cmd.Context(), rt, firstArg(args))
		},
	}
}

// repl is one interactive terminal bound to an orchestrator.
type repl struct {
	orch     *terminal.Orchestrator
	host     domain.HostConfig
	prompter *Prompter
	renderer *Renderer
	spinner  *Spinner
	metrics  *metrics.Recorder
	out      io.Writer
}

func runConnect(ctx context.Context, rt *runtime, target string) error {
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
	return r.loop(ctx)
}

func newREPL(container *app.Container, opts Options, target string) (*repl, error) {
	host, err := container.ResolveHost(target)
	if err != nil {
		return nil, err
	}
	orch, err := container.NewTerminal()
	if err != nil {
		return nil, err
	}
	prompter := NewPrompter(opts.In, opts.Out)
	return &repl{
		orch:     orch,
		host:     fillCredentials(host, prompter),
		prompter: prompter,
		renderer: NewRenderer(opts.Out),
		spinner:  NewSpinner(opts.Out, isTerminal(opts.Out)),
		metrics:  container.Metrics,
		out:      opts.Out,
	}, nil
}

// fillCredentials prompts for a password when the host has no key and no
// usable password variable. Without a terminal the host is returned as is.
func fillCredentials(host domain.HostConfig, prompter *Prompter) domain.HostConfig {
	if host.AuthMethod() == domain.AuthKey || host.Password != "" {
		return host
	}
	if host.PasswordEnvVar != "" && os.Getenv(host.PasswordEnvVar) != "" {
		return host
	}
	password, err := prompter.Password(fmt.Sprintf("%s@%s's password: ", host.User, host.Host))
	if err == nil {
		host.Password = password
	}
	return host
}

func (r *repl) connect(ctx context.Context) error {
	r.spinner.Start("connecting to " + r.host.Address())
	err := r.orch.Connect(ctx, r.host)
	r.spinner.Stop()
	if err != nil {
		return err
	}
	r.renderer.Attached(r.orch.Snapshot())
	return nil
}

func (r *repl) loop(ctx context.Context) error {
	for {
		line, err := r.prompter.ReadLine(r.renderer.Prompt(r.orch.Snapshot()))
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(r.out)
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ":") {
			if quit := r.meta(ctx, line); quit {
				return nil
			}
			continue
		}
		r.submit(ctx, line)
	}
}

func (r *repl) submit(ctx context.Context, line string) {
	cmdCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	class := r.orch.Submit(cmdCtx, line)
	label := "running"
	if !class.IsCommand() {
		label = "thinking"
	}
	r.settle(label)

	if !class.IsCommand() {
		r.resolvePending(cmdCtx)
	}
}

// settle waits for background work and prints any new results.
func (r *repl) settle(label string) {
	r.spinner.Start(label)
	r.orch.Wait()
	r.spinner.Stop()
	r.renderer.History(r.orch.Snapshot().History)
}

func (r *repl) resolvePending(ctx context.Context) {
	state := r.orch.Snapshot()
	if state.Pending == nil {
		if state.LastError != "" {
			r.renderer.Error(state.LastError)
		}
		return
	}
	pending := *state.Pending
	r.renderer.Suggestion(pending)
	if pending.Suggestion.Risk.Blocked {
		r.renderer.Error("blocked by guardrail; not run")
		r.orch.RejectSuggestion()
		return
	}

	ok, err := r.prompter.Confirm(pending)
	if err != nil || !ok {
		r.orch.RejectSuggestion()
		return
	}
	r.accept(ctx)
}

func (r *repl) accept(ctx context.Context) {
	if err := r.orch.AcceptSuggestion(ctx); err != nil {
		r.renderer.Error(err.Error())
		return
	}
	r.settle("running")
}

func (r *repl) meta(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case ":quit", ":exit", ":q":
		return true
	case ":help", ":h":
		fmt.Fprintln(r.out, replHelp)
	case ":accept", ":y":
		cmdCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		r.accept(cmdCtx)
		stop()
	case ":reject", ":n":
		if !r.orch.RejectSuggestion() {
			r.renderer.Error(terminal.ErrNoPendingSuggestion.Error())
		}
	case ":history":
		limit := 20
		if len(fields) > 1 {
			if n, err := strconv.Atoi(fields[1]); err == nil && n > 0 {
				limit = n
			}
		}
		commands := r.orch.Snapshot().Commands()
		if len(commands) > limit {
			commands = commands[len(commands)-limit:]
		}
		for i, c := range commands {
			fmt.Fprintf(r.out, "%4d  %s\n", i+1, c)
		}
	case ":context":
		snap := r.orch.Snapshot().Context
		fmt.Fprintf(r.out, "os: %s\nshell: %s\ncwd: %s\nuser: %s\nhost: %s\ntools: %s\n",
			snap.OS, snap.Shell, snap.WorkingDir, snap.User, snap.Host, strings.Join(snap.AvailableTools, ", "))
	case ":stats":
		if r.metrics != nil {
			r.renderer.Metrics(r.metrics.Snapshot())
		}
	case ":reconnect":
		if err := r.connect(ctx); err != nil {
			r.renderer.Error(err.Error())
		}
	default:
		r.renderer.Error("unknown command " + fields[0] + " (try :help)")
	}
	return false
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
