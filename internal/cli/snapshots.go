package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tasksync/internal/persistence"
)

// Snapshot classifications reported by the snapshots command.
const (
	SnapshotValid   = "valid"
	SnapshotLegacy  = "legacy"
	SnapshotCorrupt = "corrupt"
)

// SnapshotEntry describes one stored snapshot.
type SnapshotEntry struct {
	Name          string `json:"name"`
	Time          string `json:"time"`
	Size          int64  `json:"size"`
	Status        string `json:"status"`
	SchemaVersion int    `json:"schema_version,omitempty"`
	Migration     string `json:"migration,omitempty"`
	Tasks         int    `json:"tasks"`
	Error         string `json:"error,omitempty"`
}

// TopicSnapshots lists the snapshots of one topic, newest first.
type TopicSnapshots struct {
	Topic     string          `json:"topic"`
	Snapshots []SnapshotEntry `json:"snapshots"`
	Malformed []string        `json:"malformed,omitempty"`
}

// SnapshotsResult is the output of the snapshots command.
type SnapshotsResult struct {
	Backend string           `json:"backend"`
	Usage   int64            `json:"usage_bytes"`
	Topics  []TopicSnapshots `json:"topics"`
}

func (r SnapshotsResult) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "backend: %s (%d bytes)\n", r.Backend, r.Usage)
	if len(r.Topics) == 0 {
		sb.WriteString("no topics\n")
	}
	for _, t := range r.Topics {
		fmt.Fprintf(&sb, "%s:\n", t.Topic)
		if len(t.Snapshots) == 0 {
			sb.WriteString("  (none)\n")
		}
		for _, s := range t.Snapshots {
			fmt.Fprintf(&sb, "  %s  %s  %6d  %-7s", s.Name, s.Time, s.Size, s.Status)
			switch s.Status {
			case SnapshotValid:
				fmt.Fprintf(&sb, "  v%d tasks=%d", s.SchemaVersion, s.Tasks)
			default:
				fmt.Fprintf(&sb, "  %s", s.Error)
			}
			sb.WriteByte('\n')
		}
		for _, m := range t.Malformed {
			fmt.Fprintf(&sb, "  %s  (malformed name, ignored)\n", m)
		}
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// SnapshotsOptions holds flags for the snapshots command.
type SnapshotsOptions struct {
	*RootOptions
	Topic string
}

// NewSnapshotsCommand creates the snapshots command.
func NewSnapshotsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SnapshotsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List stored snapshots",
		Long: `List the snapshots in the store and check each one.

Every snapshot is decoded and its integrity digest verified. Snapshots
are reported as valid, legacy (an unsupported encrypted artifact) or
corrupt. Names that do not follow the snapshot naming scheme are listed
as malformed. Nothing in the store is changed.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshots(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Topic, "topic", "t", "", "only list this topic")

	return cmd
}

func runSnapshots(opts *SnapshotsOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	rt, err := loadRuntime(opts.RootOptions, formatter)
	if err != nil {
		return err
	}
	b, err := rt.OpenBackend()
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStore, "failed to open store", err)
	}
	defer b.Close()

	topics := []string{opts.Topic}
	if opts.Topic == "" {
		topics, err = b.Topics(ctx)
		if err != nil {
			return formatter.fail(ExitCommandError, ErrCodeStore, "failed to list topics", err)
		}
	}

	result := SnapshotsResult{Backend: b.Name(), Topics: []TopicSnapshots{}}
	for _, topic := range topics {
		ts, err := inspectTopic(ctx, b, topic)
		if err != nil {
			return formatter.fail(ExitCommandError, ErrCodeStore, "failed to inspect topic "+topic, err)
		}
		result.Topics = append(result.Topics, ts)
	}
	if result.Usage, err = b.Usage(ctx); err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStore, "failed to measure store", err)
	}

	return formatter.Success(result)
}

func inspectTopic(ctx context.Context, b persistence.Backend, topic string) (TopicSnapshots, error) {
	listing, err := b.ListSnapshots(ctx, topic)
	if err != nil {
		return TopicSnapshots{}, err
	}
	ts := TopicSnapshots{
		Topic:     topic,
		Snapshots: make([]SnapshotEntry, 0, len(listing.Snapshots)),
		Malformed: listing.Malformed,
	}
	for _, info := range listing.Snapshots {
		data, err := b.ReadSnapshot(ctx, topic, info.Name)
		if err != nil {
			return TopicSnapshots{}, err
		}
		ts.Snapshots = append(ts.Snapshots, classify(topic, info, data))
	}
	return ts, nil
}

func classify(topic string, info persistence.SnapshotInfo, data []byte) SnapshotEntry {
	e := SnapshotEntry{
		Name: info.Name,
		Time: time.UnixMilli(info.Millis).UTC().Format(time.RFC3339Nano),
		Size: info.Size,
	}
	snap, err := persistence.DecodeSnapshot(data)
	switch {
	case err != nil && persistence.IsLegacyArtifact(err):
		e.Status = SnapshotLegacy
		e.Error = err.Error()
	case err != nil:
		e.Status = SnapshotCorrupt
		e.Error = err.Error()
	case snap.Topic != topic:
		e.Status = SnapshotCorrupt
		e.Error = fmt.Sprintf("snapshot belongs to topic %q", snap.Topic)
	default:
		e.Status = SnapshotValid
		e.SchemaVersion = snap.SchemaVersion
		e.Migration = snap.Migration.String()
		e.Tasks = len(snap.State)
	}
	return e
}
