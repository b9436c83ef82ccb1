package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"meeting-summarizer/internal/bootstrap"
	"meeting-summarizer/internal/domain"
)

func newProcessCommand(settingsPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "process <audio-file>",
		Short: "Summarize one audio file and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap.New(*settingsPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			job, err := app.ProcessFile(ctx, args[0])
			if err != nil {
				return err
			}

			switch job.State {
			case domain.JobStateCompleted:
				fmt.Fprintln(cmd.OutOrStdout(), job.Summary)
				return nil
			case domain.JobStateCancelled:
				return fmt.Errorf("processing cancelled")
			default:
				return fmt.Errorf("processing failed at %s stage: %s", job.FailedStage, job.Error)
			}
		},
	}
}
