package main

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/pasta-sh/pasta/internal/config"
	"github.com/pasta-sh/pasta/internal/pty"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "create a config file interactively",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInit()
	},
}

func runInit() error {
	cfg := config.DefaultConfig()

	shell := pty.DetectShell()
	level := cfg.Logging.Level
	sanitize := cfg.Logging.Sanitize
	record := cfg.Recording.Enabled
	recordDir := recordingPath(cfg)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Shell").
				Description("Command to wrap when pasta is run without arguments").
				Value(&shell),
			huh.NewSelect[string]().
				Title("Log level").
				Options(
					huh.NewOption("debug", "debug"),
					huh.NewOption("info", "info"),
					huh.NewOption("warn", "warn"),
					huh.NewOption("error", "error"),
				).
				Value(&level),
			huh.NewConfirm().
				Title("Sanitize logs").
				Description("Redact captured command input and credentials from log records").
				Value(&sanitize),
			huh.NewConfirm().
				Title("Record sessions").
				Description("Write an asciicast recording and command event log per session").
				Value(&record),
			huh.NewInput().
				Title("Recording directory").
				Value(&recordDir),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("init form: %w", err)
	}

	cfg.Shell.Path = shell
	cfg.Logging.Level = level
	cfg.Logging.Sanitize = sanitize
	cfg.Recording.Enabled = record
	cfg.Recording.Path = recordDir

	path := configPath()
	if path == "" {
		return fmt.Errorf("cannot determine config path; pass --config")
	}
	if err := config.Save(cfg, path); err != nil {
		return err
	}

	fmt.Printf("wrote %s\n", path)
	return nil
}
