package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/tasksync/internal/crdt"
	"github.com/roach88/tasksync/internal/persistence"
)

// Quarantine reasons.
const (
	ReasonCorrupt       = "corrupt"
	ReasonTopicMismatch = "topic-mismatch"
)

// Target is the task list being recovered. engine.TaskList implements it.
type Target interface {
	Topic() string
	Restore(s crdt.State) error
	Version() uint64
}

// Options configures a recovery run.
type Options struct {
	// Enabled turns persistence on. When false nothing is loaded.
	Enabled bool

	Mode persistence.Mode

	// InitializeIfMissing is the strict first-run intent: create the
	// manifest sentinel instead of failing when it is absent.
	InitializeIfMissing bool

	// StoreID is written into a newly created manifest.
	StoreID string

	// ReadOnly inspects the store without changing it: no manifest is
	// created, corrupt snapshots stay where they are and peers are not
	// asked to resync.
	ReadOnly bool

	Backend  persistence.Backend
	Health   *persistence.HealthTracker
	Resyncer Resyncer
	Logger   *slog.Logger
}

// Skipped records a snapshot that was passed over during recovery.
type Skipped struct {
	Name string                `json:"name"`
	Kind persistence.ErrorKind `json:"kind"`
	Err  error                 `json:"-"`
}

// Report describes how recovery ended.
type Report struct {
	Outcome persistence.RecoveryOutcome `json:"outcome"`

	// Snapshot is the name restored, when one was.
	Snapshot      string                `json:"snapshot,omitempty"`
	Migration     persistence.Migration `json:"-"`
	SchemaVersion int                   `json:"schema_version,omitempty"`
	Tasks         int                   `json:"tasks"`

	ManifestCreated bool      `json:"manifest_created,omitempty"`
	Skipped         []Skipped `json:"skipped,omitempty"`
	Quarantined     []string  `json:"quarantined,omitempty"`
	Malformed       []string  `json:"malformed,omitempty"`

	ResyncRequested bool `json:"resync_requested"`
}

// Recover loads the newest valid snapshot of target's topic into target.
//
// Degraded mode never returns an error: every failure becomes an empty
// start recorded in health. Strict mode returns the first failure as a
// *persistence.Error and records it as a strict initialization failure.
func Recover(ctx context.Context, target Target, opts Options) (Report, error) {
	r := newRun(target, opts)
	r.logger.Info("persistence init started",
		"topic", r.topic,
		"mode", r.opts.Mode.String(),
		"enabled", r.opts.Enabled,
	)

	if !r.opts.Enabled {
		r.health.Disabled()
		r.report.Outcome = persistence.RecoveryPersistenceDisabled
		r.resync(ctx)
		return r.report, nil
	}
	if r.opts.Backend == nil {
		return r.fail(fmt.Errorf("recover %s: persistence enabled without a backend", r.topic))
	}

	if r.opts.Mode.IsStrict() {
		created, err := persistence.ResolveStrictManifest(ctx, r.opts.Backend, r.opts.InitializeIfMissing && !r.opts.ReadOnly,
			persistence.NewManifest(r.opts.StoreID))
		if err != nil {
			return r.fail(err)
		}
		r.report.ManifestCreated = created
		if created {
			r.logger.Info("manifest initialized", "topic", r.topic, "store_id", r.opts.StoreID)
		}
	}

	listing, err := r.opts.Backend.ListSnapshots(ctx, r.topic)
	if err != nil {
		return r.failOrFallback(ctx, err)
	}
	r.report.Malformed = listing.Malformed
	for _, name := range listing.Malformed {
		r.logger.Warn("malformed snapshot name ignored", "topic", r.topic, "name", name)
	}

	if len(listing.Snapshots) == 0 {
		r.health.StartupEmpty()
		r.report.Outcome = persistence.RecoveryEmptyStore
		r.logger.Info("persistence init empty", "topic", r.topic)
		r.resync(ctx)
		return r.report, nil
	}

	for _, info := range listing.Snapshots {
		loaded, err := r.load(ctx, info.Name)
		if err != nil {
			// Cancellation is not a property of the snapshot.
			if ctx.Err() != nil {
				return r.fail(ctx.Err())
			}
			if r.opts.Mode.OnFailure() == persistence.OutcomeFail {
				return r.fail(err)
			}
			r.skip(info.Name, err)
			continue
		}

		r.health.StartupLoaded()
		r.report.Outcome = persistence.RecoveryLoadedSnapshot
		r.report.Snapshot = info.Name
		r.report.Migration = loaded.Migration
		r.report.SchemaVersion = loaded.SchemaVersion
		r.report.Tasks = len(loaded.State)
		r.logger.Info("persistence init loaded",
			"topic", r.topic,
			"snapshot", info.Name,
			"schema_version", loaded.SchemaVersion,
			"migration", loaded.Migration.String(),
			"tasks", len(loaded.State),
			"skipped", len(r.report.Skipped),
		)
		r.resync(ctx)
		return r.report, nil
	}

	return r.failOrFallback(ctx, r.fallbackCause(len(listing.Snapshots)))
}

type run struct {
	target Target
	topic  string
	opts   Options
	health *persistence.HealthTracker
	logger *slog.Logger
	report Report
}

func newRun(target Target, opts Options) *run {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Resyncer == nil {
		opts.Resyncer = NoopResyncer{}
	}
	if opts.Mode == "" {
		opts.Mode = persistence.DefaultMode
	}
	if opts.Health == nil {
		opts.Health = persistence.NewHealthTracker(opts.Mode)
	}
	return &run{
		target: target,
		topic:  target.Topic(),
		opts:   opts,
		health: opts.Health,
		logger: opts.Logger,
	}
}

// load reads, verifies and restores one snapshot. Legacy artifacts are
// left in place; anything else that fails to decode is quarantined.
func (r *run) load(ctx context.Context, name string) (persistence.Snapshot, error) {
	data, err := r.opts.Backend.ReadSnapshot(ctx, r.topic, name)
	if err != nil {
		return persistence.Snapshot{}, err
	}

	snap, err := persistence.DecodeSnapshot(data)
	switch {
	case persistence.IsLegacyArtifact(err):
		r.logger.Warn("legacy encrypted artifact detected",
			"topic", r.topic,
			"snapshot", name,
			"mode", r.opts.Mode.String(),
		)
		return persistence.Snapshot{}, &persistence.Error{
			Kind:  persistence.KindUnsupportedLegacyArtifact,
			Op:    "load snapshot",
			Topic: r.topic,
			Name:  name,
			Err:   err,
		}
	case err != nil:
		r.quarantine(ctx, name, ReasonCorrupt)
		return persistence.Snapshot{}, &persistence.Error{
			Kind:  persistence.KindFormatFailure,
			Op:    "load snapshot",
			Topic: r.topic,
			Name:  name,
			Err:   err,
		}
	case snap.Topic != r.topic:
		r.quarantine(ctx, name, ReasonTopicMismatch)
		return persistence.Snapshot{}, &persistence.Error{
			Kind:  persistence.KindFormatFailure,
			Op:    "load snapshot",
			Topic: r.topic,
			Name:  name,
			Err:   fmt.Errorf("snapshot belongs to topic %q", snap.Topic),
		}
	}

	if err := r.target.Restore(snap.State); err != nil {
		return persistence.Snapshot{}, &persistence.Error{
			Kind:  persistence.KindFormatFailure,
			Op:    "restore snapshot",
			Topic: r.topic,
			Name:  name,
			Err:   err,
		}
	}
	return snap, nil
}

func (r *run) quarantine(ctx context.Context, name, reason string) {
	if r.opts.ReadOnly {
		r.logger.Debug("quarantine skipped in read-only recovery", "topic", r.topic, "snapshot", name, "reason", reason)
		return
	}
	if err := r.opts.Backend.Quarantine(ctx, r.topic, name, reason); err != nil {
		r.logger.Warn("quarantine failed", "topic", r.topic, "snapshot", name, "error", err)
		return
	}
	persistence.RecordQuarantine()
	r.report.Quarantined = append(r.report.Quarantined, name)
	r.logger.Warn("snapshot quarantined", "topic", r.topic, "snapshot", name, "reason", reason)
}

// skip records a degraded-mode continuation past name. Legacy artifacts
// are re-tagged with the degraded skip signal.
func (r *run) skip(name string, err error) {
	kind := persistence.KindOf(err)
	if kind == persistence.KindUnsupportedLegacyArtifact {
		kind = persistence.KindDegradedSkippedLegacyArtifact
		err = &persistence.Error{
			Kind:  kind,
			Op:    "load snapshot",
			Topic: r.topic,
			Name:  name,
			Err:   err,
		}
	}
	r.report.Skipped = append(r.report.Skipped, Skipped{Name: name, Kind: kind, Err: err})
	r.logger.Warn("snapshot skipped", "topic", r.topic, "snapshot", name, "kind", string(kind), "error", err)
}

// fallbackCause summarizes why none of n snapshots loaded. When every
// failure was a legacy artifact the cause keeps that classification.
func (r *run) fallbackCause(n int) error {
	for _, s := range r.report.Skipped {
		if !persistence.IsLegacyArtifact(s.Err) {
			return fmt.Errorf("no valid snapshot among %d: %w", n, s.Err)
		}
	}
	if len(r.report.Skipped) > 0 {
		return fmt.Errorf("no valid snapshot among %d: %w", n, r.report.Skipped[0].Err)
	}
	return fmt.Errorf("no valid snapshot among %d", n)
}

func (r *run) failOrFallback(ctx context.Context, err error) (Report, error) {
	if r.opts.Mode.OnFailure() == persistence.OutcomeFail {
		return r.fail(err)
	}

	r.health.StartupFallback(err)
	r.report.Outcome = r.health.Snapshot().LastRecoveryOutcome
	r.logger.Warn("persistence degraded",
		"topic", r.topic,
		"mode", r.opts.Mode.String(),
		"outcome", string(r.report.Outcome),
		"error", err,
	)
	r.resync(ctx)
	return r.report, nil
}

func (r *run) fail(err error) (Report, error) {
	var pe *persistence.Error
	if !errors.As(err, &pe) {
		err = &persistence.Error{
			Kind:  persistence.KindStrictInitializationFailure,
			Op:    "recover",
			Topic: r.topic,
			Err:   err,
		}
	}
	r.health.StrictInitFailure(err)
	r.report.Outcome = persistence.RecoveryStrictInitFailure
	r.logger.Error("persistence init failed",
		"topic", r.topic,
		"mode", r.opts.Mode.String(),
		"error", err,
	)
	return r.report, fmt.Errorf("recover %s: %w", r.topic, err)
}

// resync hands off to peers. A failed request is logged; anti-entropy
// retries on its own schedule.
func (r *run) resync(ctx context.Context) {
	if r.opts.ReadOnly {
		return
	}
	since := r.target.Version()
	if err := r.opts.Resyncer.RequestResync(ctx, r.topic, since); err != nil {
		r.logger.Warn("resync request failed", "topic", r.topic, "error", err)
		return
	}
	r.report.ResyncRequested = true
	r.logger.Debug("resync requested", "topic", r.topic, "since", since)
}
