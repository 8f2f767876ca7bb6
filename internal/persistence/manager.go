package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/tasksync/internal/checkpoint"
	"github.com/roach88/tasksync/internal/crdt"
)

// DefaultShutdownTimeout bounds how long Shutdown waits for an in-flight
// checkpoint.
const DefaultShutdownTimeout = 10 * time.Second

// Clock supplies wall time. Tests substitute a fake.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// StateSource yields a consistent copy of the state to persist.
// engine.TaskList implements it.
type StateSource interface {
	Snapshot() (crdt.State, uint64)
}

// Result describes one checkpoint request.
type Result struct {
	Action checkpoint.Action

	// Snapshot is the name written; empty when nothing was written.
	Snapshot string
	Bytes    int

	// Version is the task-list version captured by the snapshot.
	Version uint64

	Budget  BudgetDecision
	Removed []string

	// Err is a failure absorbed in degraded mode.
	Err error
}

// Persisted reports whether a snapshot was written.
func (r Result) Persisted() bool {
	return r.Snapshot != ""
}

// ShutdownOutcome is the result of the final checkpoint on shutdown.
type ShutdownOutcome string

const (
	ShutdownPersisted         ShutdownOutcome = "persisted"
	ShutdownSkippedClean      ShutdownOutcome = "skipped_clean"
	ShutdownDegradedContinued ShutdownOutcome = "degraded_continued"
)

// Manager checkpoints one topic.
//
// State machine: Idle -> Dirty on mutation, Dirty -> Checkpointing when the
// policy fires, Checkpointing -> Idle on success. A failure returns to Idle
// (still dirty) in degraded mode and moves to Fatal in strict mode; once
// fatal, every checkpoint request returns the original error.
//
// Thread-safety model:
//   - OnMutation only records counters and wakes the loop; it never blocks.
//   - Concurrent checkpoint requests collapse into the in-flight one.
//   - ioMu makes checkpoint writes and retention mutually exclusive, so
//     budget and retention always see a point-in-time listing.
type Manager struct {
	topic     string
	backend   Backend
	source    StateSource
	mode      Mode
	retention Retention
	scheduler *checkpoint.Scheduler
	health    *HealthTracker
	clock     Clock
	logger    *slog.Logger

	shutdownTimeout time.Duration

	group singleflight.Group
	ioMu  sync.Mutex

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	started  atomic.Bool

	fatalMu sync.Mutex
	fatal   error
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMode sets the failure posture. Default: degraded.
func WithMode(mode Mode) ManagerOption {
	return func(m *Manager) {
		m.mode = mode
	}
}

// WithRetention sets retention and budget. Default: DefaultRetention().
func WithRetention(r Retention) ManagerOption {
	return func(m *Manager) {
		m.retention = r
	}
}

// WithPolicy sets the initial checkpoint policy. Default:
// checkpoint.DefaultPolicy().
func WithPolicy(p checkpoint.Policy) ManagerOption {
	return func(m *Manager) {
		m.scheduler = checkpoint.NewScheduler(p)
	}
}

// WithHealth shares a tracker, typically the one recovery reported into.
func WithHealth(h *HealthTracker) ManagerOption {
	return func(m *Manager) {
		m.health = h
	}
}

// WithClock sets the wall clock.
func WithClock(c Clock) ManagerOption {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithShutdownTimeout bounds the wait for an in-flight checkpoint.
// Default: 10s (DefaultShutdownTimeout).
func WithShutdownTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.shutdownTimeout = d
	}
}

// NewManager creates a manager for topic. It does not start the background
// loop; call Start.
func NewManager(topic string, backend Backend, source StateSource, opts ...ManagerOption) (*Manager, error) {
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}
	m := &Manager{
		topic:           topic,
		backend:         backend,
		source:          source,
		mode:            DefaultMode,
		retention:       DefaultRetention(),
		scheduler:       checkpoint.NewScheduler(checkpoint.DefaultPolicy()),
		clock:           systemClock{},
		logger:          slog.Default(),
		shutdownTimeout: DefaultShutdownTimeout,
		wake:            make(chan struct{}, 1),
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.health == nil {
		m.health = NewHealthTracker(m.mode)
	}
	if err := m.scheduler.Policy().Validate(); err != nil {
		return nil, fmt.Errorf("new manager: %w", err)
	}
	if err := m.retention.Validate(); err != nil {
		return nil, fmt.Errorf("new manager: %w", err)
	}
	return m, nil
}

// Topic returns the managed topic.
func (m *Manager) Topic() string {
	return m.topic
}

// Mode returns the failure posture.
func (m *Manager) Mode() Mode {
	return m.mode
}

// Health returns the current health.
func (m *Manager) Health() Health {
	return m.health.Snapshot()
}

// Policy returns the active checkpoint policy.
func (m *Manager) Policy() checkpoint.Policy {
	return m.scheduler.Policy()
}

// SetPolicy replaces the checkpoint policy and re-evaluates.
func (m *Manager) SetPolicy(p checkpoint.Policy) {
	m.scheduler.SetPolicy(p)
	m.poke()
}

// Status returns the checkpoint counters.
func (m *Manager) Status() checkpoint.Status {
	return m.scheduler.Status()
}

// OnMutation implements engine.MutationObserver.
func (m *Manager) OnMutation(topic string, n int) {
	if topic != m.topic {
		return
	}
	m.scheduler.RecordMutation(m.clock.Now(), n)
	m.poke()
}

func (m *Manager) poke() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) fatalErr() error {
	m.fatalMu.Lock()
	defer m.fatalMu.Unlock()
	return m.fatal
}

func (m *Manager) setFatal(err error) {
	m.fatalMu.Lock()
	defer m.fatalMu.Unlock()
	if m.fatal == nil {
		m.fatal = err
	}
}

// Start runs the background checkpoint loop until ctx is cancelled or
// Shutdown is called. Calling Start more than once has no effect.
func (m *Manager) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	go m.loop(ctx)
}

func (m *Manager) loop(ctx context.Context) {
	defer close(m.done)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		if m.fatalErr() != nil {
			return
		}
		if action := m.scheduler.Evaluate(m.clock.Now(), checkpoint.TriggerTimer); action.Kind == checkpoint.ActionPersist {
			if _, err := m.persist(ctx, action); err != nil {
				return
			}
		}

		var timerC <-chan time.Time
		if wake, ok := m.scheduler.NextWake(m.clock.Now()); ok {
			timer.Reset(max(wake.Sub(m.clock.Now()), 0))
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-m.wake:
		case <-timerC:
		}
		timer.Stop()
	}
}

// Checkpoint handles an explicit checkpoint request. The request still
// honors the debounce floor; a debounced request is remembered and carried
// out by the background loop once the window ends.
//
// In strict mode a failed write is returned as an error. In degraded mode
// it is absorbed and reported in Result.Err.
func (m *Manager) Checkpoint(ctx context.Context) (Result, error) {
	if err := m.fatalErr(); err != nil {
		return Result{}, err
	}
	action := m.scheduler.Evaluate(m.clock.Now(), checkpoint.TriggerExplicit)
	if action.Kind != checkpoint.ActionPersist {
		if action.Kind == checkpoint.ActionSkipDebounced {
			m.poke()
		}
		return Result{Action: action}, nil
	}
	return m.persist(ctx, action)
}

// persist collapses concurrent requests into one write.
func (m *Manager) persist(ctx context.Context, action checkpoint.Action) (Result, error) {
	v, err, _ := m.group.Do("checkpoint", func() (any, error) {
		return m.write(ctx, action)
	})
	res, _ := v.(Result)
	return res, err
}

func (m *Manager) write(ctx context.Context, action checkpoint.Action) (Result, error) {
	m.ioMu.Lock()
	defer m.ioMu.Unlock()

	// A request that queued behind a checkpoint covering its mutations has
	// nothing left to write.
	if m.scheduler.Status().Mutations == 0 {
		return Result{Action: checkpoint.Action{Kind: checkpoint.ActionSkipClean}}, nil
	}

	ticket := m.scheduler.Begin(m.clock.Now())
	m.logger.Info("checkpoint attempt",
		"topic", m.topic,
		"reason", string(action.Reason),
		"mutations", ticket.Mutations,
		"backend", m.backend.Name(),
	)

	timer := prometheus.NewTimer(checkpointDuration.WithLabelValues(m.backend.Name()))
	res, err := m.writeLocked(ctx, action)
	timer.ObserveDuration()

	m.scheduler.Complete(m.clock.Now(), ticket, err == nil)
	if err == nil {
		checkpointAttemptsTotal.WithLabelValues(string(action.Reason), "persisted").Inc()
		m.health.CheckpointSucceeded()
		m.health.ApplyBudget(res.Budget)
		m.logger.Info("checkpoint succeeded",
			"topic", m.topic,
			"reason", string(action.Reason),
			"snapshot", res.Snapshot,
			"bytes", res.Bytes,
			"removed", len(res.Removed),
		)
		return res, nil
	}

	checkpointAttemptsTotal.WithLabelValues(string(action.Reason), "failed").Inc()
	m.health.CheckpointFailed(err)
	if res.Budget != "" {
		m.health.ApplyBudget(res.Budget)
	}
	m.logger.Error("checkpoint failed",
		"topic", m.topic,
		"reason", string(action.Reason),
		"mode", m.mode.String(),
		"error", err,
	)

	if m.mode.OnFailure() == OutcomeFail {
		m.setFatal(err)
		return res, err
	}
	m.logger.Warn("persistence degraded",
		"topic", m.topic,
		"mode", m.mode.String(),
		"error", err,
	)
	res.Err = err
	return res, nil
}

// writeLocked encodes, checks the budget, writes and trims. Caller holds
// m.ioMu.
func (m *Manager) writeLocked(ctx context.Context, action checkpoint.Action) (Result, error) {
	res := Result{Action: action}

	state, version := m.source.Snapshot()
	res.Version = version
	data, err := EncodeSnapshot(m.topic, state)
	if err != nil {
		return res, newError(KindFormatFailure, "encode snapshot", m.topic, "", err)
	}

	listing, err := m.backend.ListSnapshots(ctx, m.topic)
	if err != nil {
		return res, err
	}
	used, err := m.backend.Usage(ctx)
	if err != nil {
		return res, err
	}

	// The new snapshot is valid by construction, so retention after the
	// write trims behind it. Usage is projected past that trim.
	name, millis := NextSnapshotName(m.clock.Now(), listing.Newest())
	after := Listing{
		Snapshots: append([]SnapshotInfo{{Name: name, Millis: millis, Size: int64(len(data))}}, listing.Snapshots...),
		Malformed: listing.Malformed,
	}
	_, reclaim := PlanRetention(after, m.retention.Keep, 0)
	reclaimed := uint64(Listing{Snapshots: reclaim}.Size())
	projected := uint64(used) + uint64(len(data))
	projected -= min(reclaimed, uint64(used))

	res.Budget = EvaluateBudget(m.retention, m.mode, projected)
	storageUsedBytes.Set(float64(projected))
	if res.Budget != BudgetBelowWarning {
		m.logger.Warn("storage budget threshold",
			"topic", m.topic,
			"decision", string(res.Budget),
			"used_bytes", projected,
			"budget_bytes", m.retention.BudgetBytes,
		)
	}
	if m.mode.OnBudget(res.Budget) != OutcomeProceed {
		return res, newError(KindBudgetExceeded, "check storage budget", m.topic, "",
			fmt.Errorf("projected usage %d bytes reaches budget of %d bytes", projected, m.retention.BudgetBytes))
	}

	if err := m.backend.WriteSnapshot(ctx, m.topic, name, data); err != nil {
		return res, err
	}
	res.Snapshot = name
	res.Bytes = len(data)
	snapshotBytes.WithLabelValues(m.topic).Set(float64(len(data)))

	trimmed, err := ApplyRetention(ctx, m.backend, m.topic, after, m.retention.Keep, 0)
	res.Removed = trimmed.Removed
	retentionRemovedTotal.Add(float64(len(trimmed.Removed)))
	if err != nil {
		// The new snapshot is durable; retention catches up next time.
		m.logger.Warn("retention failed", "topic", m.topic, "error", err)
	}
	return res, nil
}

// Trim applies retention outside a checkpoint.
func (m *Manager) Trim(ctx context.Context) (RetentionResult, error) {
	m.ioMu.Lock()
	defer m.ioMu.Unlock()

	listing, err := m.backend.ListSnapshots(ctx, m.topic)
	if err != nil {
		return RetentionResult{}, err
	}
	valid, err := NewestValid(ctx, m.backend, m.topic, listing)
	if err != nil {
		return RetentionResult{}, err
	}
	res, err := ApplyRetention(ctx, m.backend, m.topic, listing, m.retention.Keep, valid)
	retentionRemovedTotal.Add(float64(len(res.Removed)))
	if res.Unverified {
		m.logger.Warn("retention skipped: no snapshot decodes", "topic", m.topic, "snapshots", len(listing.Snapshots))
	}
	return res, err
}

// Shutdown stops the loop, waits for any in-flight checkpoint (bounded by
// the shutdown timeout) and attempts one final checkpoint.
//
// In strict mode any failure, including the timeout, is returned. In
// degraded mode failures yield ShutdownDegradedContinued.
func (m *Manager) Shutdown(ctx context.Context) (ShutdownOutcome, error) {
	m.stopOnce.Do(func() { close(m.stop) })

	if err := m.waitIdle(ctx); err != nil {
		m.health.CheckpointFailed(err)
		m.logger.Error("checkpoint failed", "topic", m.topic, "reason", string(checkpoint.ReasonGracefulShutdown), "error", err)
		if m.mode.OnFailure() == OutcomeFail {
			return "", err
		}
		return ShutdownDegradedContinued, nil
	}

	if err := m.fatalErr(); err != nil {
		return "", err
	}

	action := m.scheduler.Evaluate(m.clock.Now(), checkpoint.TriggerShutdown)
	if action.Kind != checkpoint.ActionPersist {
		return ShutdownSkippedClean, nil
	}
	res, err := m.write(ctx, action)
	switch {
	case err != nil:
		return "", err
	case res.Err != nil:
		return ShutdownDegradedContinued, nil
	default:
		return ShutdownPersisted, nil
	}
}

// waitIdle waits for the loop to exit and for any in-flight write to
// release ioMu.
func (m *Manager) waitIdle(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		if m.started.Load() {
			<-m.done
		}
		m.ioMu.Lock()
		m.ioMu.Unlock()
		close(idle)
	}()

	timer := time.NewTimer(m.shutdownTimeout)
	defer timer.Stop()

	select {
	case <-idle:
		return nil
	case <-timer.C:
		return newError(KindStorageFailure, "shutdown", m.topic, "",
			fmt.Errorf("in-flight checkpoint did not finish within %s", m.shutdownTimeout))
	case <-ctx.Done():
		return newError(KindStorageFailure, "shutdown", m.topic, "", ctx.Err())
	}
}
