package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	configapp "github.com/doeshing/shai-remote/internal/application/config"
	"github.com/doeshing/shai-remote/internal/infrastructure/cli/helpers"
	"github.com/doeshing/shai-remote/internal/domain"
	configinfra "github.com/doeshing/shai-remote/internal/infrastructure/config"
)

const envKeyEditor = "EDITOR"

// NewConfigCommand creates the config command with all subcommands. These
// subcommands work on the file directly so a broken config can be repaired.
func NewConfigCommand(loader func() *configinfra.FileLoader) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect shai-remote configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfiguration(cmd.Context(), cmd.OutOrStdout(), loader())
		},
	}

	configCmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show full configuration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return showConfiguration(cmd.Context(), cmd.OutOrStdout(), loader())
			},
		},
		newConfigGetCommand(loader),
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Set a configuration value (value accepts YAML syntax)",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return setConfigurationValue(cmd.Context(), loader(), args[0], strings.Join(args[1:], " "))
			},
		},
		&cobra.Command{
			Use:   "edit",
			Short: "Edit configuration in $EDITOR",
			RunE: func(cmd *cobra.Command, args []string) error {
				return editConfigurationInEditor(loader())
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Validate configuration file",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loader().Load(cmd.Context())
				if err != nil {
					return fmt.Errorf("configuration validation failed: %w", err)
				}
				if err := configapp.Validate(cfg); err != nil {
					return fmt.Errorf("configuration validation failed: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(MsgConfigurationValid))
				helpers.PrintWarnings(cmd.OutOrStdout(), configWarnings(cfg))
				return nil
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Reset configuration to defaults",
			RunE: func(cmd *cobra.Command, args []string) error {
				return resetConfigurationToDefaults(cmd.OutOrStdout(), loader())
			},
		},
		&cobra.Command{
			Use:   "diff",
			Short: "Show diff versus default configuration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return showConfigurationDiff(cmd.Context(), cmd.OutOrStdout(), loader())
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the configuration file path",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), loader().Path())
			},
		},
	)

	return configCmd
}

func newConfigGetCommand(loader func() *configinfra.FileLoader) *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Get a specific configuration value",
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				return fmt.Errorf(ErrKeyRequired)
			}
			return getConfigurationValue(cmd.Context(), cmd.OutOrStdout(), loader(), key)
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "Key path (e.g., preferences.default_host)")
	return cmd
}

func showConfiguration(ctx context.Context, out io.Writer, loader *configinfra.FileLoader) error {
	cfg, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}
	fmt.Fprint(out, string(data))
	return nil
}

func getConfigurationValue(ctx context.Context, out io.Writer, loader *configinfra.FileLoader, keyPath string) error {
	cfg, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfgMap, err := helpers.ConfigToMap(cfg)
	if err != nil {
		return err
	}
	value, found := helpers.TraverseNestedMap(cfgMap, strings.Split(keyPath, "."))
	if !found {
		return fmt.Errorf("key %s not found in configuration", keyPath)
	}
	data, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	fmt.Fprint(out, string(data))
	return nil
}

func setConfigurationValue(ctx context.Context, loader *configinfra.FileLoader, keyPath, value string) error {
	cfg, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfgMap, err := helpers.ConfigToMap(cfg)
	if err != nil {
		return err
	}
	if !helpers.SetNestedMapValue(cfgMap, strings.Split(keyPath, "."), helpers.ParseYAMLValue(value)) {
		return fmt.Errorf("unable to set key %s", keyPath)
	}
	updated, err := helpers.MapToConfig(cfgMap)
	if err != nil {
		return err
	}
	return helpers.SaveConfig(loader, updated)
}

func editConfigurationInEditor(loader *configinfra.FileLoader) error {
	editorCommand := os.Getenv(envKeyEditor)
	if editorCommand == "" {
		editorCommand = defaultEditor
	}
	cmd := exec.Command(editorCommand, loader.Path())
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to run editor %s: %w", editorCommand, err)
	}
	return nil
}

func resetConfigurationToDefaults(out io.Writer, loader *configinfra.FileLoader) error {
	if _, err := loader.Backup(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to create configuration backup: %w", err)
	}
	defaultConfig, err := loader.Reset()
	if err != nil {
		return fmt.Errorf("failed to reset configuration: %w", err)
	}
	fmt.Fprintf(out, "Configuration reset at %s\n", loader.Path())
	data, _ := yaml.Marshal(defaultConfig)
	fmt.Fprint(out, string(data))
	return nil
}

func showConfigurationDiff(ctx context.Context, out io.Writer, loader *configinfra.FileLoader) error {
	currentConfig, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load current configuration: %w", err)
	}
	diff := cmp.Diff(configinfra.HydratedDefault(), currentConfig)
	if diff == "" {
		fmt.Fprintln(out, MsgNoDifferencesFromDefault)
		return nil
	}
	fmt.Fprintln(out, diff)
	return nil
}

// configWarnings lists settings that are valid but weaken safety.
func configWarnings(cfg domain.Config) []string {
	var warnings []string
	if !cfg.Security.Enabled {
		warnings = append(warnings, "guardrail is disabled; suggested commands are not risk checked")
	}
	for _, host := range cfg.Hosts {
		if host.InsecureIgnoreHostKey {
			warnings = append(warnings, fmt.Sprintf("host %s skips host key verification", host.Name))
		}
	}
	return warnings
}
