package commands

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/doeshing/shai-remote/internal/domain"
)

// NewHostsCommand lists configured hosts.
func NewHostsCommand(source ContainerSource) *cobra.Command {
	return &cobra.Command{
		Use:   "hosts",
		Short: "List configured hosts",
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := source(cmd.Context())
			if err != nil {
				return err
			}
			return listHosts(cmd.OutOrStdout(), container.Config)
		},
	}
}

func listHosts(out io.Writer, cfg domain.Config) error {
	if len(cfg.Hosts) == 0 {
		fmt.Fprintln(out, MsgNoHostsConfigured)
		return nil
	}

	defaultHost := cfg.Preferences.DefaultHost
	if defaultHost == "" {
		defaultHost = cfg.Hosts[0].Name
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, headerStyle.Render("NAME")+"\t"+headerStyle.Render("ADDRESS")+"\t"+headerStyle.Render("USER")+"\t"+headerStyle.Render("AUTH"))
	for _, host := range cfg.Hosts {
		name := host.Name
		if name == defaultHost {
			name += " *"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, host.Address(), host.User, authSummary(host))
	}
	return w.Flush()
}

func authSummary(host domain.HostConfig) string {
	if host.AuthMethod() == domain.AuthKey {
		return "key " + dimStyle.Render(host.KeyFile)
	}
	if host.PasswordEnvVar != "" {
		if os.Getenv(host.PasswordEnvVar) == "" {
			return "password " + warnStyle.Render("$"+host.PasswordEnvVar+" unset")
		}
		return "password $" + host.PasswordEnvVar
	}
	return "password " + dimStyle.Render("(prompt)")
}
