package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pasta-sh/pasta/internal/adapters/realclock"
	"github.com/pasta-sh/pasta/internal/adapters/realfs"
	"github.com/pasta-sh/pasta/internal/config"
	"github.com/pasta-sh/pasta/internal/fingerprint"
	"github.com/pasta-sh/pasta/internal/lifecycle"
	"github.com/pasta-sh/pasta/internal/logging"
	"github.com/pasta-sh/pasta/internal/proxy"
	"github.com/pasta-sh/pasta/internal/pty"
	"github.com/pasta-sh/pasta/internal/recording"
	"github.com/pasta-sh/pasta/internal/term"
)

// runSession wires one wrapped session together and blocks until the child
// exits. The returned code is the child's exit status, for the wrapper to
// mirror.
func runSession(ctx context.Context, cfg *config.Config, args []string) (int, error) {
	if err := logging.Setup(cfg.Logging.Level, cfg.Logging.Sanitize, cfg.Logging.File); err != nil {
		return 0, err
	}

	// The log level can be retuned from the config file while a session runs;
	// everything else is fixed at startup.
	if watcher, err := config.NewWatcher(configPath(), func(c *config.Config) {
		logging.SetLevel(c.Logging.Level)
	}); err == nil {
		defer watcher.Close()
	} else {
		slog.Debug("config watch unavailable", slog.String("error", err.Error()))
	}

	stdin, stdout := os.Stdin, os.Stdout
	if !term.IsTerminal(stdin) {
		return 0, errors.New("stdin is not a terminal")
	}

	rows, cols, err := term.Size(stdin)
	if err != nil {
		rows, cols = 24, 80
	}

	argv := buildArgv(cfg, args)
	sess, err := pty.Start(pty.Options{
		Argv: argv,
		Env:  cfg.Shell.Env,
		Rows: rows,
		Cols: cols,
	})
	if err != nil {
		return 0, err
	}
	defer sess.Close()

	raw, err := term.MakeRaw(stdin)
	if err != nil {
		return 0, fmt.Errorf("enter raw mode: %w", err)
	}
	defer raw.Restore()

	clock := realclock.New()
	fsys := realfs.New()

	manager := recording.NewManager(recordingPath(cfg), cfg.Recording.Enabled, cfg.Recording.Events, fsys, clock)
	recorder, eventLog, err := manager.StartRecording(sess.ID(), int(cols), int(rows))
	if err != nil {
		return 0, fmt.Errorf("start recording: %w", err)
	}
	defer manager.CloseAll()

	classifierOpts := []fingerprint.ClassifierOption{
		fingerprint.WithRules(cfg.Rules(sess.Command())),
	}
	if len(cfg.Shell.SpawnCommands) > 0 {
		classifierOpts = append(classifierOpts, fingerprint.WithSpawnCommands(cfg.Shell.SpawnCommands))
	}
	classifier := fingerprint.NewClassifier(classifierOpts...)

	history := lifecycle.NewRecorder()
	sinks := lifecycle.MultiSink{history}
	if eventLog != nil {
		sinks = append(sinks, eventLog)
	}
	engine := lifecycle.NewEngine(classifier, sinks, clock)

	muxOpts := []proxy.MuxOption{
		proxy.WithEchoProbe(func() (bool, error) {
			return term.EchoEnabled(sess.File())
		}),
	}
	if recorder != nil {
		muxOpts = append(muxOpts, proxy.WithTap(recorder))
	}
	mux := proxy.NewMux(sess, stdin, stdout, engine, muxOpts...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	proxy.WatchWinch(ctx, mux, stdin)
	forwardSignals(ctx, sess)

	slog.Info("session started",
		slog.String("session_id", sess.ID()),
		slog.String("command", sess.Command()),
		slog.String("recording", manager.RecordingPath(sess.ID())),
	)

	if err := mux.Run(ctx); err != nil {
		slog.Error("relay failed", slog.String("error", err.Error()))
	}

	code, err := sess.Wait()
	if err != nil {
		return code, err
	}

	slog.Info("session ended",
		slog.String("session_id", sess.ID()),
		slog.Int("exit_code", code),
		slog.Int("commands", len(history.Records())),
	)
	if last, ok := history.Last(); ok {
		slog.Debug("last command",
			slog.String("input", logging.TruncateForLog(last.Input, 120)),
			slog.Int("depth", last.Depth),
		)
	}

	return code, nil
}

// buildArgv resolves the command to wrap: explicit arguments win, then the
// configured shell, then $SHELL.
func buildArgv(cfg *config.Config, args []string) []string {
	if len(args) > 0 {
		return args
	}
	if cfg.Shell.Path != "" {
		return append([]string{cfg.Shell.Path}, cfg.Shell.Args...)
	}
	return append([]string{pty.DetectShell()}, cfg.Shell.Args...)
}

// forwardSignals relays termination signals to the child instead of letting
// them kill the wrapper; the child decides how to die and the wrapper mirrors
// its exit status. SIGWINCH is handled separately by the winch watcher.
func forwardSignals(ctx context.Context, sess *pty.Session) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-ch:
				if err := sess.Signal(sig); err != nil {
					slog.Debug("signal forward failed",
						slog.String("signal", sig.String()),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}()
}
