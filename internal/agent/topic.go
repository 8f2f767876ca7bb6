package agent

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/tasksync/internal/checkpoint"
	"github.com/roach88/tasksync/internal/engine"
	"github.com/roach88/tasksync/internal/persistence"
	"github.com/roach88/tasksync/internal/recovery"
)

// Topic is one open task list and its persistence.
type Topic struct {
	name    string
	list    *engine.TaskList
	manager *persistence.Manager // nil when persistence is disabled
	health  *persistence.HealthTracker
	report  recovery.Report
	logger  *slog.Logger

	envelope checkpoint.HostEnvelope

	// mu serializes adjustments. policy is only used when manager is nil.
	mu     sync.Mutex
	policy checkpoint.Policy
}

// Name returns the topic name.
func (t *Topic) Name() string {
	return t.name
}

// List returns the task list.
func (t *Topic) List() *engine.TaskList {
	return t.list
}

// Recovery returns the report of the startup recovery.
func (t *Topic) Recovery() recovery.Report {
	return t.report
}

// Health returns a copy of the current persistence health.
func (t *Topic) Health() persistence.Health {
	return t.health.Snapshot()
}

// Policy returns the active checkpoint policy.
func (t *Topic) Policy() checkpoint.Policy {
	if t.manager != nil {
		return t.manager.Policy()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.policy
}

// Adjust applies adj within the host envelope and returns the resulting
// frequency. A rejected request leaves the policy unchanged.
func (t *Topic) Adjust(adj checkpoint.Adjustment) (checkpoint.Frequency, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.policy
	if t.manager != nil {
		current = t.manager.Policy()
	}
	next, err := t.envelope.Adjust(current, adj)
	if err != nil {
		t.logger.Warn("checkpoint frequency adjustment rejected",
			"topic", t.name,
			"code", string(checkpoint.AdjustmentCodeOf(err)),
			"error", err,
		)
		return current.Frequency(), err
	}

	t.policy = next
	if t.manager != nil {
		t.manager.SetPolicy(next)
	}
	if next != current {
		f := next.Frequency()
		t.logger.Info("checkpoint frequency adjusted",
			"topic", t.name,
			"mutation_threshold", f.MutationThreshold,
			"dirty_time_floor_secs", f.DirtyTimeFloorSecs,
			"debounce_floor_secs", f.DebounceFloorSecs,
		)
	}
	return next.Frequency(), nil
}

// Checkpoint requests an explicit checkpoint. With persistence disabled it
// reports a policy skip.
func (t *Topic) Checkpoint(ctx context.Context) (persistence.Result, error) {
	if t.manager == nil {
		return persistence.Result{Action: checkpoint.Action{Kind: checkpoint.ActionSkipPolicy}}, nil
	}
	return t.manager.Checkpoint(ctx)
}

// Trim applies retention to the topic's snapshots.
func (t *Topic) Trim(ctx context.Context) (persistence.RetentionResult, error) {
	if t.manager == nil {
		return persistence.RetentionResult{}, nil
	}
	return t.manager.Trim(ctx)
}

func (t *Topic) shutdown(ctx context.Context) (persistence.ShutdownOutcome, error) {
	if t.manager == nil {
		return persistence.ShutdownSkippedClean, nil
	}
	return t.manager.Shutdown(ctx)
}
