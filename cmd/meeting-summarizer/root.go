package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var settingsFlag string

	rootCmd := &cobra.Command{
		Use:           "meeting-summarizer",
		Short:         "Meeting audio summarization service",
		Long:          "Diarizes, transcribes, and summarizes meeting recordings through external model services.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&settingsFlag, "settings", "s", "", "Settings file path")

	rootCmd.AddCommand(newServeCommand(&settingsFlag))
	rootCmd.AddCommand(newProcessCommand(&settingsFlag))
	rootCmd.AddCommand(newCheckCommand(&settingsFlag))

	return rootCmd
}
