package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/tasksync/internal/checkpoint"
	"github.com/roach88/tasksync/internal/config"
	"github.com/roach88/tasksync/internal/crdt"
	"github.com/roach88/tasksync/internal/engine"
	"github.com/roach88/tasksync/internal/persistence"
	"github.com/roach88/tasksync/internal/recovery"
)

// ErrUnknownTopic is returned for a topic that has not been opened.
var ErrUnknownTopic = errors.New("topic not open")

// ErrClosed is returned once the agent has been closed.
var ErrClosed = errors.New("agent closed")

// OpenError is returned when a topic fails recovery. It carries the
// health recorded during the failed attempt.
type OpenError struct {
	Topic  string
	Health persistence.Health
	Report recovery.Report
	Err    error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open topic %s: %v", e.Topic, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// Agent hosts the task lists of one local agent.
type Agent struct {
	rt       config.Runtime
	backend  persistence.Backend
	resyncer recovery.Resyncer
	clock    persistence.Clock
	logger   *slog.Logger
	listOpts []engine.TaskListOption

	// loopCtx bounds the background checkpoint loops.
	loopCtx    context.Context
	stopLoops  context.CancelFunc
	ownBackend bool

	mu     sync.Mutex
	topics map[string]*Topic
	closed bool
}

// Option configures an Agent.
type Option func(*Agent)

// WithBackend uses b instead of opening the configured store. The agent
// does not close a backend it did not open.
func WithBackend(b persistence.Backend) Option {
	return func(a *Agent) {
		a.backend = b
	}
}

// WithResyncer sets the collaborator asked for missed deltas after
// recovery.
func WithResyncer(r recovery.Resyncer) Option {
	return func(a *Agent) {
		a.resyncer = r
	}
}

// WithClock sets the wall clock the checkpoint managers use.
func WithClock(c persistence.Clock) Option {
	return func(a *Agent) {
		a.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithTaskListOptions are applied to every task list the agent opens.
func WithTaskListOptions(opts ...engine.TaskListOption) Option {
	return func(a *Agent) {
		a.listOpts = append(a.listOpts, opts...)
	}
}

// New creates an agent for rt. When persistence is enabled and no backend
// was supplied, the configured store is opened.
func New(rt config.Runtime, opts ...Option) (*Agent, error) {
	if rt.AgentID == "" {
		return nil, fmt.Errorf("new agent: empty agent id")
	}
	a := &Agent{
		rt:       rt,
		resyncer: recovery.NoopResyncer{},
		logger:   slog.Default(),
		topics:   make(map[string]*Topic),
	}
	for _, opt := range opts {
		opt(a)
	}
	if rt.Enabled && a.backend == nil {
		b, err := rt.OpenBackend()
		if err != nil {
			return nil, fmt.Errorf("new agent: %w", err)
		}
		a.backend = b
		a.ownBackend = true
	}
	a.loopCtx, a.stopLoops = context.WithCancel(context.Background())
	return a, nil
}

// ID returns the agent id.
func (a *Agent) ID() crdt.AgentID {
	return crdt.AgentID(a.rt.AgentID)
}

// Start opens every topic listed in the configuration.
func (a *Agent) Start(ctx context.Context) error {
	for _, topic := range a.rt.Topics {
		if _, err := a.Open(ctx, topic); err != nil {
			return err
		}
	}
	return nil
}

// Open returns the topic, creating and recovering it on first use.
//
// In strict mode a recovery failure is returned and the topic stays
// closed. In degraded mode recovery never fails; health records what
// happened.
func (a *Agent) Open(ctx context.Context, name string) (*Topic, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, ErrClosed
	}
	if t, ok := a.topics[name]; ok {
		return t, nil
	}
	if err := persistence.ValidateTopic(name); err != nil {
		return nil, fmt.Errorf("open topic: %w", err)
	}

	listOpts := append([]engine.TaskListOption{engine.WithLogger(a.logger)}, a.listOpts...)
	list, err := engine.NewTaskList(name, a.ID(), listOpts...)
	if err != nil {
		return nil, fmt.Errorf("open topic %s: %w", name, err)
	}

	health := persistence.NewHealthTracker(a.rt.Mode)
	report, err := recovery.Recover(ctx, list, recovery.Options{
		Enabled:             a.rt.Enabled,
		Mode:                a.rt.Mode,
		InitializeIfMissing: a.rt.InitializeIfMissing,
		StoreID:             a.rt.StoreID(),
		Backend:             a.backend,
		Health:              health,
		Resyncer:            a.resyncer,
		Logger:              a.logger,
	})
	if err != nil {
		return nil, &OpenError{Topic: name, Health: health.Snapshot(), Report: report, Err: err}
	}

	t := &Topic{
		name:     name,
		list:     list,
		health:   health,
		report:   report,
		envelope: a.rt.Envelope,
		policy:   a.rt.Policy,
		logger:   a.logger,
	}
	if a.rt.Enabled {
		mopts := []persistence.ManagerOption{
			persistence.WithMode(a.rt.Mode),
			persistence.WithPolicy(a.rt.Policy),
			persistence.WithRetention(a.rt.Retention),
			persistence.WithHealth(health),
			persistence.WithLogger(a.logger),
		}
		if a.rt.ShutdownTimeout > 0 {
			mopts = append(mopts, persistence.WithShutdownTimeout(a.rt.ShutdownTimeout))
		}
		if a.clock != nil {
			mopts = append(mopts, persistence.WithClock(a.clock))
		}
		m, err := persistence.NewManager(name, a.backend, list, mopts...)
		if err != nil {
			return nil, fmt.Errorf("open topic %s: %w", name, err)
		}
		list.AddObserver(m)
		m.Start(a.loopCtx)
		t.manager = m
	}

	a.topics[name] = t
	a.logger.Info("topic opened",
		"topic", name,
		"outcome", string(report.Outcome),
		"tasks", report.Tasks,
	)
	return t, nil
}

// Topic returns an open topic.
func (a *Agent) Topic(name string) (*Topic, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.topics[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, name)
	}
	return t, nil
}

// Topics lists the open topics in name order.
func (a *Agent) Topics() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, 0, len(a.topics))
	for name := range a.topics {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Health reports the persistence health of topic.
func (a *Agent) Health(topic string) (persistence.Health, error) {
	t, err := a.Topic(topic)
	if err != nil {
		return persistence.Health{}, err
	}
	return t.Health(), nil
}

// CheckpointFrequency reports the active checkpoint policy of topic.
func (a *Agent) CheckpointFrequency(topic string) (checkpoint.Frequency, error) {
	t, err := a.Topic(topic)
	if err != nil {
		return checkpoint.Frequency{}, err
	}
	return t.Policy().Frequency(), nil
}

// CheckpointFrequencyBounds reports the host envelope of topic.
func (a *Agent) CheckpointFrequencyBounds(topic string) (checkpoint.Bounds, error) {
	t, err := a.Topic(topic)
	if err != nil {
		return checkpoint.Bounds{}, err
	}
	return t.envelope.Bounds(), nil
}

// AdjustCheckpointFrequency changes the checkpoint policy of topic within
// the host envelope. Rejections are *checkpoint.AdjustmentError.
func (a *Agent) AdjustCheckpointFrequency(topic string, adj checkpoint.Adjustment) (checkpoint.Frequency, error) {
	t, err := a.Topic(topic)
	if err != nil {
		return checkpoint.Frequency{}, err
	}
	return t.Adjust(adj)
}

// Checkpoint requests an explicit checkpoint of topic.
func (a *Agent) Checkpoint(ctx context.Context, topic string) (persistence.Result, error) {
	t, err := a.Topic(topic)
	if err != nil {
		return persistence.Result{}, err
	}
	return t.Checkpoint(ctx)
}

// Close shuts every topic down, attempting a final checkpoint each, then
// closes the store. All shutdown errors are returned joined.
func (a *Agent) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	topics := make([]*Topic, 0, len(a.topics))
	for _, t := range a.topics {
		topics = append(topics, t)
	}
	a.mu.Unlock()

	slices.SortFunc(topics, func(x, y *Topic) int {
		return strings.Compare(x.name, y.name)
	})

	var errs []error
	for _, t := range topics {
		outcome, err := t.shutdown(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", t.name, err))
			continue
		}
		a.logger.Info("topic closed", "topic", t.name, "outcome", string(outcome))
	}
	a.stopLoops()

	if a.ownBackend && a.backend != nil {
		if err := a.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}
