package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pasta-sh/pasta/internal/config"
)

// Version information, set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var (
	flagConfig   string
	flagLogLevel string
	flagLogFile  string
	flagRecord   bool
	flagNoRecord bool
	flagShell    string
)

// childExitCode carries the wrapped child's exit status out of the cobra run
// so main can mirror it.
var childExitCode int

var rootCmd = &cobra.Command{
	Use:   "pasta [flags] [command [args...]]",
	Short: "transparent shell wrapper with command-level session analysis",
	Long: `pasta runs a shell (or any interactive command) on a pseudo-terminal and
relays it byte-for-byte, while a streaming analyzer segments the session into
prompts, commands, output regions and nested shells. The wrapped program sees
a normal terminal; pasta exits with the child's exit code.

With no arguments the user's shell ($SHELL) is wrapped.`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		code, err := runSession(cmd.Context(), cfg, args)
		if err != nil {
			return err
		}
		childExitCode = code
		return nil
	},
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default $XDG_CONFIG_HOME/pasta/config.yaml)")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&flagLogFile, "log-file", "", "override log file path")
	rootCmd.Flags().BoolVar(&flagRecord, "record", false, "record the session even if disabled in config")
	rootCmd.Flags().BoolVar(&flagNoRecord, "no-record", false, "do not record the session")
	rootCmd.Flags().StringVar(&flagShell, "shell", "", "shell to wrap (default $SHELL)")
	rootCmd.AddCommand(initCmd, listCmd)
}

func run() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pasta: %v\n", err)
		return 1
	}
	return childExitCode
}

// configPath resolves the effective config file path: the --config flag, or
// the default location.
func configPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	applyOverrides(cfg)
	return cfg, nil
}

// applyOverrides layers command-line flags over the file configuration.
func applyOverrides(cfg *config.Config) {
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	if flagLogFile != "" {
		cfg.Logging.File = flagLogFile
	}
	if flagRecord {
		cfg.Recording.Enabled = true
	}
	if flagNoRecord {
		cfg.Recording.Enabled = false
	}
	if flagShell != "" {
		cfg.Shell.Path = flagShell
	}
}

// recordingPath resolves the recording directory, defaulting under the user's
// state directory.
func recordingPath(cfg *config.Config) string {
	if cfg.Recording.Path != "" {
		return cfg.Recording.Path
	}
	dir := os.Getenv("XDG_STATE_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "pasta-recordings"
		}
		dir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(dir, "pasta", "recordings")
}
