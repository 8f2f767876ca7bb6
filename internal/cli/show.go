package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tasksync/internal/crdt"
	"github.com/roach88/tasksync/internal/engine"
	"github.com/roach88/tasksync/internal/persistence"
	"github.com/roach88/tasksync/internal/recovery"
)

// ShowResult is what a read-only recovery of one topic found.
type ShowResult struct {
	Topic    string             `json:"topic"`
	Recovery recovery.Report    `json:"recovery"`
	Health   persistence.Health `json:"health"`
	Tasks    []crdt.TaskView    `json:"tasks"`
}

func (r ShowResult) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "topic: %s\n", r.Topic)
	writeRecovery(&sb, r.Recovery)
	writeTasks(&sb, r.Tasks)
	return strings.TrimSuffix(sb.String(), "\n")
}

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	Topic string
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a topic as recovery would load it",
		Long: `Run startup recovery for a topic without changing the store.

Prints which snapshot recovery would load, what it would skip, and the
resulting task list. Corrupt snapshots are reported but not quarantined,
no manifest is written and no peers are contacted.

Exit codes:
  0 - Recovery succeeded (possibly degraded)
  1 - Recovery failed in strict mode
  2 - Command error`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Topic, "topic", "t", "", "topic to show (required)")
	_ = cmd.MarkFlagRequired("topic")

	return cmd
}

func runShow(opts *ShowOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	rt, err := loadRuntime(opts.RootOptions, formatter)
	if err != nil {
		return err
	}
	if err := persistence.ValidateTopic(opts.Topic); err != nil {
		return formatter.fail(ExitCommandError, ErrCodeNotFound, "invalid topic", err)
	}
	logger := newLogger(opts.RootOptions, rt, cmd.ErrOrStderr())

	list, err := engine.NewTaskList(opts.Topic, crdt.AgentID(rt.AgentID), engine.WithLogger(logger))
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeGeneric, "failed to create task list", err)
	}

	var b persistence.Backend
	if rt.Enabled {
		b, err = rt.OpenBackend()
		if err != nil {
			return formatter.fail(ExitCommandError, ErrCodeStore, "failed to open store", err)
		}
		defer b.Close()
	}

	health := persistence.NewHealthTracker(rt.Mode)
	report, err := recovery.Recover(ctx, list, recovery.Options{
		Enabled:             rt.Enabled,
		Mode:                rt.Mode,
		ReadOnly:            true,
		InitializeIfMissing: rt.InitializeIfMissing,
		StoreID:             rt.StoreID(),
		Backend:             b,
		Health:              health,
		Logger:              logger,
	})
	result := ShowResult{
		Topic:    opts.Topic,
		Recovery: report,
		Health:   health.Snapshot(),
		Tasks:    list.ListTasks(),
	}
	if err != nil {
		return formatter.fail(ExitFailure, ErrCodeRecovery, "recovery failed", err)
	}
	return formatter.Success(result)
}

func writeRecovery(sb *strings.Builder, r recovery.Report) {
	fmt.Fprintf(sb, "recovery: %s", r.Outcome)
	if r.Snapshot != "" {
		fmt.Fprintf(sb, " from %s (v%d)", r.Snapshot, r.SchemaVersion)
	}
	sb.WriteByte('\n')
	for _, s := range r.Skipped {
		fmt.Fprintf(sb, "  skipped %s: %s\n", s.Name, s.Kind)
	}
	for _, q := range r.Quarantined {
		fmt.Fprintf(sb, "  quarantined %s\n", q)
	}
	for _, m := range r.Malformed {
		fmt.Fprintf(sb, "  malformed %s\n", m)
	}
}
