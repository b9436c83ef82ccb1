package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"meeting-summarizer/internal/bootstrap"
	"meeting-summarizer/internal/domain"
)

func newCheckCommand(settingsPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Probe external services and report readiness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap.New(*settingsPath)
			if err != nil {
				return err
			}

			report := app.Checker.Run(cmd.Context(), app.Settings)
			for _, item := range report.Items {
				marker := "ok"
				if item.Status == domain.CheckStatusFail {
					marker = "FAIL"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", marker, item.Name, item.Message)
				if item.Hint != "" && item.Status == domain.CheckStatusFail {
					fmt.Fprintf(cmd.OutOrStdout(), "       hint: %s\n", item.Hint)
				}
			}

			if !report.Ready {
				return fmt.Errorf("service is not ready")
			}
			return nil
		},
	}
}
