package cli

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tasksync/internal/agent"
	"github.com/roach88/tasksync/internal/config"
)

// loadConfig reads the config named by --config, or the defaults with
// environment overrides applied, and folds in --dir.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.Config != "" {
		cfg, err = config.Load(opts.Config)
	} else {
		cfg, err = config.Parse(nil)
	}
	if err != nil {
		return nil, err
	}
	if opts.Dir != "" {
		cfg.Persistence.Dir = opts.Dir
	}
	return cfg, nil
}

// loadRuntime loads and resolves the config. Failures are reported
// through f as config errors.
func loadRuntime(opts *RootOptions, f *OutputFormatter) (config.Runtime, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return config.Runtime{}, f.fail(ExitCommandError, ErrCodeConfig, "invalid config", err)
	}
	rt, err := cfg.Resolve()
	if err != nil {
		return config.Runtime{}, f.fail(ExitCommandError, ErrCodeConfig, "invalid config", err)
	}
	f.VerboseLog("config: agent=%s backend=%s dir=%s mode=%s", rt.AgentID, rt.Backend, rt.Dir, rt.Mode)
	return rt, nil
}

// newLogger builds the text logger used by commands that run an agent.
// Logs go to w; --verbose forces debug level.
func newLogger(opts *RootOptions, rt config.Runtime, w io.Writer) *slog.Logger {
	level := parseLevel(rt.LogLevel)
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// openTopic starts an agent and opens topic on it. The caller closes the
// agent. A strict recovery failure is reported with the health it left.
func openTopic(ctx context.Context, opts *RootOptions, f *OutputFormatter, cmd *cobra.Command, topic string) (*agent.Agent, *agent.Topic, error) {
	rt, err := loadRuntime(opts, f)
	if err != nil {
		return nil, nil, err
	}
	a, err := agent.New(rt, agent.WithLogger(newLogger(opts, rt, cmd.ErrOrStderr())))
	if err != nil {
		return nil, nil, f.fail(ExitCommandError, ErrCodeStore, "failed to open store", err)
	}
	t, err := a.Open(ctx, topic)
	if err != nil {
		_ = a.Close(ctx)
		return nil, nil, f.fail(ExitFailure, ErrCodeRecovery, "failed to open topic "+topic, err)
	}
	return a, t, nil
}
