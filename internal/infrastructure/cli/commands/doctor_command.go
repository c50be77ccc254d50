package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/doeshing/shai-remote/internal/domain"
)

// NewDoctorCommand creates the doctor command
func NewDoctorCommand(source ContainerSource) *cobra.Command {
	var host string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose configuration, credentials and optionally a host",
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := source(cmd.Context())
			if err != nil {
				return err
			}
			if container.DoctorService == nil {
				return fmt.Errorf(ErrDoctorServiceUnavailable)
			}

			report, err := container.DoctorService.Run(cmd.Context(), host)
			DisplayDoctorReport(cmd.OutOrStdout(), report)
			if err != nil {
				return fmt.Errorf("diagnostics completed with errors: %w", err)
			}
			if !report.Healthy() {
				return fmt.Errorf("one or more checks failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Also connect to this host and probe its environment")
	return cmd
}

// DisplayDoctorReport prints one styled line per check.
func DisplayDoctorReport(out io.Writer, report domain.HealthReport) {
	for _, check := range report.Checks {
		fmt.Fprintf(out, "%s %s %s\n",
			statusBadge(check.Status),
			check.Name,
			dimStyle.Render(check.Details))
	}
}

func statusBadge(status domain.HealthStatus) string {
	switch status {
	case domain.HealthOK:
		return okStyle.Render("[OK]  ")
	case domain.HealthWarn:
		return warnStyle.Render("[WARN]")
	default:
		return errorStyle.Render("[FAIL]")
	}
}
