package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pasta-sh/pasta/internal/adapters/realclock"
	"github.com/pasta-sh/pasta/internal/adapters/realfs"
	"github.com/pasta-sh/pasta/internal/recording"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "list stored session recordings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		manager := recording.NewManager(recordingPath(cfg), true, false, realfs.New(), realclock.New())
		casts, err := manager.List()
		if err != nil {
			return fmt.Errorf("list recordings: %w", err)
		}
		if len(casts) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no recordings")
			return nil
		}
		for _, cast := range casts {
			fmt.Fprintln(cmd.OutOrStdout(), cast)
		}
		return nil
	},
}
