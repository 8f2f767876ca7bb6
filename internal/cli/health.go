package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tasksync/internal/agent"
	"github.com/roach88/tasksync/internal/checkpoint"
	"github.com/roach88/tasksync/internal/persistence"
	"github.com/roach88/tasksync/internal/recovery"
)

// HealthResult reports the persistence health of a topic after startup.
type HealthResult struct {
	Topic     string               `json:"topic"`
	Health    persistence.Health   `json:"health"`
	Frequency checkpoint.Frequency `json:"checkpoint_frequency"`
	Bounds    checkpoint.Bounds    `json:"checkpoint_frequency_bounds"`
	Recovery  recovery.Report      `json:"recovery"`
}

func (r HealthResult) String() string {
	var sb strings.Builder
	h := r.Health
	fmt.Fprintf(&sb, "topic: %s\n", r.Topic)
	fmt.Fprintf(&sb, "mode: %s\n", h.Mode)
	fmt.Fprintf(&sb, "state: %s", h.State)
	if h.Degraded {
		sb.WriteString(" (degraded)")
	}
	sb.WriteByte('\n')
	fmt.Fprintf(&sb, "budget: %s\n", h.BudgetPressure)
	if h.LastError != nil {
		fmt.Fprintf(&sb, "last error: [%s] %s\n", h.LastError.Code, h.LastError.Message)
		fmt.Fprintf(&sb, "  remediation: %s\n", h.LastError.Remediation)
	}
	writeRecovery(&sb, r.Recovery)
	f, b := r.Frequency, r.Bounds
	fmt.Fprintf(&sb, "checkpoint: threshold=%d dirty=%ds debounce=%ds\n",
		f.MutationThreshold, f.DirtyTimeFloorSecs, f.DebounceFloorSecs)
	if b.AllowRuntimeAdjustment {
		fmt.Fprintf(&sb, "adjustable: threshold=%d..%d dirty=%d..%ds debounce=%d..%ds",
			b.MinMutationThreshold, b.MaxMutationThreshold,
			b.MinDirtyTimeFloorSecs, b.MaxDirtyTimeFloorSecs,
			b.MinDebounceFloorSecs, b.MaxDebounceFloorSecs)
	} else {
		sb.WriteString("adjustable: no")
	}
	return sb.String()
}

// HealthOptions holds flags for the health command.
type HealthOptions struct {
	*RootOptions
	Topic string
}

// NewHealthCommand creates the health command.
func NewHealthCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HealthOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Start a topic and report its persistence health",
		Long: `Open a topic the way the agent does at startup and report its health.

Unlike show, this is a real startup: corrupt snapshots are quarantined,
the manifest is created when initialize_if_missing is set, and a final
checkpoint is attempted on exit.

Exit codes:
  0 - Topic started (health may still be degraded)
  1 - Strict startup failed; the failed health is printed
  2 - Command error`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Topic, "topic", "t", "", "topic to check (required)")
	_ = cmd.MarkFlagRequired("topic")

	return cmd
}

func runHealth(opts *HealthOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	rt, err := loadRuntime(opts.RootOptions, formatter)
	if err != nil {
		return err
	}
	a, err := agent.New(rt, agent.WithLogger(newLogger(opts.RootOptions, rt, cmd.ErrOrStderr())))
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStore, "failed to open store", err)
	}
	defer a.Close(ctx)

	t, err := a.Open(ctx, opts.Topic)
	if err != nil {
		var oe *agent.OpenError
		if !errors.As(err, &oe) {
			return formatter.fail(ExitCommandError, ErrCodeNotFound, "invalid topic", err)
		}
		result := HealthResult{
			Topic:     opts.Topic,
			Health:    oe.Health,
			Frequency: rt.Policy.Frequency(),
			Bounds:    rt.Envelope.Bounds(),
			Recovery:  oe.Report,
		}
		if outErr := formatter.Success(result); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitFailure, "topic failed to start", err)
	}

	bounds, err := a.CheckpointFrequencyBounds(opts.Topic)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeGeneric, "failed to read bounds", err)
	}
	return formatter.Success(HealthResult{
		Topic:     opts.Topic,
		Health:    t.Health(),
		Frequency: t.Policy().Frequency(),
		Bounds:    bounds,
		Recovery:  t.Recovery(),
	})
}
