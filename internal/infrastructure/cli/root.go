package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/doeshing/shai-remote/internal/app"
	"github.com/doeshing/shai-remote/internal/infrastructure/cli/commands"
	"github.com/doeshing/shai-remote/internal/infrastructure/config"
	"github.com/doeshing/shai-remote/internal/ports"
)

// Options holds CLI-level configuration.
type Options struct {
	Verbose    bool
	ConfigPath string
	Model      string

	In  io.Reader
	Out io.Writer
	// Transport replaces SSH; tests use it.
	Transport ports.Transport
}

// ExitError carries the remote exit status of a one-shot run.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("remote command exited with status %d", e.Code)
}

type runtime struct {
	opts      Options
	container *app.Container
}

func (r *runtime) get(ctx context.Context) (*app.Container, error) {
	if r.container != nil {
		return r.container, nil
	}
	c, err := app.BuildContainer(ctx, app.Options{
		Verbose:    r.opts.Verbose,
		ConfigPath: r.opts.ConfigPath,
		Model:      r.opts.Model,
		Transport:  r.opts.Transport,
	})
	if err != nil {
		return nil, err
	}
	r.container = c
	return c, nil
}

func (r *runtime) close() {
	if r.container != nil {
		_ = r.container.Close(context.Background())
		r.container = nil
	}
}

// NewRootCmd wires the cobra root command. The returned cleanup releases
// sessions and stores opened by whichever subcommand ran.
func NewRootCmd(opts Options) (*cobra.Command, func()) {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	rt := &runtime{opts: opts}

	root := &cobra.Command{
		Use:   "shai-remote [host]",
		Short: "Remote shell with natural-language command suggestions",
		Long: "shai-remote opens an SSH session and runs each line you type: commands run as-is,\n" +
			"questions become suggested commands that you confirm before they run.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnect(cmd.Context(), rt, firstArg(args))
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(opts.In)
	root.SetOut(opts.Out)

	flags := root.PersistentFlags()
	flags.BoolVarP(&rt.opts.Verbose, "verbose", "v", opts.Verbose, "Enable debug logging")
	flags.StringVar(&rt.opts.ConfigPath, "config", opts.ConfigPath, "Config file (default ~/.shai-remote/config.yaml)")
	flags.StringVarP(&rt.opts.Model, "model", "m", opts.Model, "Override the default model")

	source := commands.ContainerSource(rt.get)
	root.AddCommand(
		newConnectCommand(rt),
		newRunCommand(rt),
		commands.NewHostsCommand(source),
		commands.NewDoctorCommand(source),
		commands.NewHistoryCommand(source),
		commands.NewCacheCommand(source),
		commands.NewConfigCommand(func() *config.FileLoader { return config.NewFileLoader(rt.opts.ConfigPath) }),
		commands.NewVersionCommand(),
	)
	return root, rt.close
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
