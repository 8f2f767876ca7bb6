package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tasksync/internal/persistence"
)

// TrimResult is the output of the trim command.
type TrimResult struct {
	Topic string `json:"topic"`
	persistence.RetentionResult
}

func (r TrimResult) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "topic: %s\n", r.Topic)
	fmt.Fprintf(&sb, "kept: %d, removed: %d, empty topics pruned: %d", len(r.Kept), len(r.Removed), r.PrunedTopics)
	for _, name := range r.Removed {
		fmt.Fprintf(&sb, "\n  removed %s", name)
	}
	for _, name := range r.Malformed {
		fmt.Fprintf(&sb, "\n  ignored %s (malformed name)", name)
	}
	if r.Unverified {
		sb.WriteString("\n  no snapshot decodes; nothing removed")
	}
	return sb.String()
}

// TrimOptions holds flags for the trim command.
type TrimOptions struct {
	*RootOptions
	Topic string
}

// NewTrimCommand creates the trim command.
func NewTrimCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TrimOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trim",
		Short: "Apply snapshot retention to a topic",
		Long: `Remove snapshots beyond the configured retention count.

Retention counts from the newest snapshot that decodes, so a newer
corrupt or legacy file never pushes the last good snapshot out. Entries
with malformed names are left alone. Topic directories that hold nothing
are pruned afterwards.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrim(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Topic, "topic", "t", "", "topic to trim (required)")
	_ = cmd.MarkFlagRequired("topic")

	return cmd
}

func runTrim(opts *TrimOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	a, t, err := openTopic(ctx, opts.RootOptions, formatter, cmd, opts.Topic)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	res, err := t.Trim(ctx)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStore, "retention failed", err)
	}
	return formatter.Success(TrimResult{Topic: opts.Topic, RetentionResult: res})
}
