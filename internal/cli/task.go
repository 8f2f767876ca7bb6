package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tasksync/internal/crdt"
	"github.com/roach88/tasksync/internal/engine"
)

// TaskResult is the output of the task commands: the affected task, if
// any, and the list after the change.
type TaskResult struct {
	Topic string          `json:"topic"`
	Task  *crdt.TaskView  `json:"task,omitempty"`
	Tasks []crdt.TaskView `json:"tasks"`
}

func (r TaskResult) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "topic: %s\n", r.Topic)
	writeTasks(&sb, r.Tasks)
	return strings.TrimSuffix(sb.String(), "\n")
}

// TaskOptions holds flags for the task commands.
type TaskOptions struct {
	*RootOptions
	Topic       string
	Description string
}

// NewTaskCommand creates the task command and its subcommands.
func NewTaskCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TaskOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "task",
		Short: "Edit a topic's task list",
		Long: `Apply local edits to a topic's task list.

Each command recovers the topic, applies one edit and checkpoints it on
exit. Tasks may be referred to by a unique prefix of their id.

Examples:
  tasksync task add --topic team "Write release notes"
  tasksync task claim --topic team 0192f3
  tasksync task complete --topic team 0192f3
  tasksync task list --topic team --format json`,
	}

	cmd.PersistentFlags().StringVarP(&opts.Topic, "topic", "t", "", "topic to edit (required)")
	_ = cmd.MarkPersistentFlagRequired("topic")

	add := taskSubcommand(opts, "add <title>", "Add a task", cobra.ExactArgs(1),
		func(l *engine.TaskList, args []string) (crdt.TaskID, error) {
			return l.AddTask(args[0], opts.Description)
		})
	add.Flags().StringVarP(&opts.Description, "description", "d", "", "task description")

	cmd.AddCommand(add)
	cmd.AddCommand(taskSubcommand(opts, "claim <task>", "Claim a task", cobra.ExactArgs(1),
		func(l *engine.TaskList, args []string) (crdt.TaskID, error) {
			return withTask(l, args[0], l.ClaimTask)
		}))
	cmd.AddCommand(taskSubcommand(opts, "complete <task>", "Mark a task done", cobra.ExactArgs(1),
		func(l *engine.TaskList, args []string) (crdt.TaskID, error) {
			return withTask(l, args[0], l.CompleteTask)
		}))
	cmd.AddCommand(taskSubcommand(opts, "rename <task> <title>", "Rename a task", cobra.ExactArgs(2),
		func(l *engine.TaskList, args []string) (crdt.TaskID, error) {
			return withTask(l, args[0], func(id crdt.TaskID) error {
				return l.RenameTask(id, args[1])
			})
		}))
	cmd.AddCommand(taskSubcommand(opts, "priority <task> <0-255>", "Set a task's priority", cobra.ExactArgs(2),
		func(l *engine.TaskList, args []string) (crdt.TaskID, error) {
			p, err := strconv.ParseUint(args[1], 10, 8)
			if err != nil {
				return crdt.TaskID{}, crdt.NewInvalidArgument("priority %q: want 0-255", args[1])
			}
			return withTask(l, args[0], func(id crdt.TaskID) error {
				return l.SetPriority(id, uint8(p))
			})
		}))
	cmd.AddCommand(taskSubcommand(opts, "list", "List tasks", cobra.NoArgs, nil))

	return cmd
}

// taskSubcommand builds a command that opens the topic and applies edit.
// A nil edit only lists.
func taskSubcommand(opts *TaskOptions, use, short string, args cobra.PositionalArgs,
	edit func(*engine.TaskList, []string) (crdt.TaskID, error)) *cobra.Command {
	return &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          args,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTask(opts, cmd, args, edit)
		},
	}
}

func runTask(opts *TaskOptions, cmd *cobra.Command, args []string,
	edit func(*engine.TaskList, []string) (crdt.TaskID, error)) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	a, t, err := openTopic(ctx, opts.RootOptions, formatter, cmd, opts.Topic)
	if err != nil {
		return err
	}

	result := TaskResult{Topic: opts.Topic}
	if edit != nil {
		id, err := edit(t.List(), args)
		if err != nil {
			_ = a.Close(ctx)
			return formatter.fail(ExitCommandError, ErrCodeTask, "task edit rejected", err)
		}
		view, err := t.List().GetTask(id)
		if err != nil {
			_ = a.Close(ctx)
			return formatter.fail(ExitCommandError, ErrCodeTask, "task edit rejected", err)
		}
		result.Task = &view
	}
	result.Tasks = t.List().ListTasks()

	if err := a.Close(ctx); err != nil {
		return formatter.fail(ExitFailure, ErrCodeStore, "final checkpoint failed", err)
	}
	return formatter.Success(result)
}

// withTask resolves ref and applies fn to the task it names.
func withTask(l *engine.TaskList, ref string, fn func(crdt.TaskID) error) (crdt.TaskID, error) {
	id, err := resolveTask(l, ref)
	if err != nil {
		return crdt.TaskID{}, err
	}
	return id, fn(id)
}

// resolveTask accepts a full task id or a unique prefix of one.
func resolveTask(l *engine.TaskList, ref string) (crdt.TaskID, error) {
	if id, err := crdt.ParseTaskID(ref); err == nil {
		return id, nil
	}
	ref = strings.ToLower(ref)
	var (
		match crdt.TaskID
		found int
	)
	for _, v := range l.ListTasks() {
		if strings.HasPrefix(v.ID.String(), ref) {
			match = v.ID
			found++
		}
	}
	switch {
	case ref == "" || found == 0:
		return crdt.TaskID{}, crdt.NewInvalidArgument("no task matches %q", ref)
	case found > 1:
		return crdt.TaskID{}, crdt.NewInvalidArgument("%q matches %d tasks", ref, found)
	}
	return match, nil
}

var checkboxMarks = map[crdt.CheckboxState]string{
	crdt.StateEmpty:   "[ ]",
	crdt.StateClaimed: "[~]",
	crdt.StateDone:    "[x]",
}

func writeTasks(sb *strings.Builder, tasks []crdt.TaskView) {
	if len(tasks) == 0 {
		sb.WriteString("no tasks\n")
		return
	}
	for _, v := range tasks {
		fmt.Fprintf(sb, "%s %s  %s", checkboxMarks[v.State], v.ID, v.Title)
		if v.Priority != 0 {
			fmt.Fprintf(sb, "  p=%d", v.Priority)
		}
		if v.Assignee != "" {
			fmt.Fprintf(sb, "  @%s", v.Assignee)
		}
		sb.WriteByte('\n')
	}
}
