package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tasksync/internal/checkpoint"
	"github.com/roach88/tasksync/internal/persistence"
)

// EnvPersistenceMode overrides persistence.mode when set.
const EnvPersistenceMode = "TASKSYNC_PERSISTENCE_MODE"

// Backend kinds.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config is the agent configuration file.
type Config struct {
	AgentID  string   `yaml:"agent_id" json:"agent_id"`
	Topics   []string `yaml:"topics" json:"topics"` // opened at startup
	LogLevel string   `yaml:"log_level" json:"log_level"`

	Persistence Persistence `yaml:"persistence" json:"persistence"`
}

// Persistence configures snapshot storage.
type Persistence struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Mode    string `yaml:"mode" json:"mode"`
	Backend string `yaml:"backend" json:"backend"`
	Dir     string `yaml:"dir" json:"dir"`

	// InitializeIfMissing is the strict first-run intent.
	InitializeIfMissing bool     `yaml:"initialize_if_missing" json:"initialize_if_missing"`
	ShutdownTimeout     Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	Checkpoint Checkpoint `yaml:"checkpoint" json:"checkpoint"`
	Retention  Retention  `yaml:"retention" json:"retention"`
	HostPolicy HostPolicy `yaml:"host_policy" json:"host_policy"`
}

// Checkpoint is the initial checkpoint policy.
type Checkpoint struct {
	MutationThreshold uint32   `yaml:"mutation_threshold" json:"mutation_threshold"`
	DirtyTimeFloor    Duration `yaml:"dirty_time_floor" json:"dirty_time_floor"`
	DebounceFloor     Duration `yaml:"debounce_floor" json:"debounce_floor"`
}

// Retention bounds the snapshots kept on disk.
type Retention struct {
	Keep            int    `yaml:"keep" json:"keep"`
	BudgetBytes     uint64 `yaml:"budget_bytes" json:"budget_bytes"`
	WarningPercent  uint8  `yaml:"warning_percent" json:"warning_percent"`
	CriticalPercent uint8  `yaml:"critical_percent" json:"critical_percent"`
}

// HostPolicy is the runtime adjustment envelope. A zero bound is pinned to
// the configured checkpoint value.
type HostPolicy struct {
	AllowRuntimeAdjustment bool `yaml:"allow_runtime_checkpoint_frequency_adjustment" json:"allow_runtime_checkpoint_frequency_adjustment"`

	MinMutationThreshold uint32   `yaml:"min_mutation_threshold" json:"min_mutation_threshold"`
	MaxMutationThreshold uint32   `yaml:"max_mutation_threshold" json:"max_mutation_threshold"`
	MinDirtyTimeFloor    Duration `yaml:"min_dirty_time_floor" json:"min_dirty_time_floor"`
	MaxDirtyTimeFloor    Duration `yaml:"max_dirty_time_floor" json:"max_dirty_time_floor"`
	MinDebounceFloor     Duration `yaml:"min_debounce_floor" json:"min_debounce_floor"`
	MaxDebounceFloor     Duration `yaml:"max_debounce_floor" json:"max_debounce_floor"`
}

// Default returns the configuration used when a field is left out.
func Default() *Config {
	p := checkpoint.DefaultPolicy()
	r := persistence.DefaultRetention()
	return &Config{
		AgentID:  "local",
		LogLevel: "info",
		Persistence: Persistence{
			Enabled:         true,
			Mode:            string(persistence.DefaultMode),
			Backend:         BackendFile,
			Dir:             "./tasksync-data",
			ShutdownTimeout: Duration(persistence.DefaultShutdownTimeout),
			Checkpoint: Checkpoint{
				MutationThreshold: p.MutationThreshold,
				DirtyTimeFloor:    Duration(p.DirtyTimeFloor),
				DebounceFloor:     Duration(p.DebounceFloor),
			},
			Retention: Retention{
				Keep:            r.Keep,
				BudgetBytes:     r.BudgetBytes,
				WarningPercent:  r.WarningPercent,
				CriticalPercent: r.CriticalPercent,
			},
		},
	}
}

// Load reads, validates and returns the config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults, applies environment overrides and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	cfg.applyEnv(os.LookupEnv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvPersistenceMode); ok && strings.TrimSpace(v) != "" {
		c.Persistence.Mode = strings.ToLower(strings.TrimSpace(v))
	}
}

// Runtime is a resolved configuration.
type Runtime struct {
	AgentID  string
	Topics   []string
	LogLevel string

	Enabled             bool
	Mode                persistence.Mode
	Backend             string
	Dir                 string
	InitializeIfMissing bool
	ShutdownTimeout     time.Duration

	Policy    checkpoint.Policy
	Envelope  checkpoint.HostEnvelope
	Retention persistence.Retention
}

// Resolve converts c into runtime types and checks the cross-field rules
// the schema cannot express: the host envelope must be valid and must
// contain the configured policy.
func (c *Config) Resolve() (Runtime, error) {
	mode, err := persistence.ParseMode(c.Persistence.Mode)
	if err != nil {
		return Runtime{}, fmt.Errorf("resolve config: %w", err)
	}
	for _, topic := range c.Topics {
		if err := persistence.ValidateTopic(topic); err != nil {
			return Runtime{}, fmt.Errorf("resolve config: %w", err)
		}
	}

	cp := c.Persistence.Checkpoint
	policy := checkpoint.Policy{
		MutationThreshold: cp.MutationThreshold,
		DirtyTimeFloor:    cp.DirtyTimeFloor.D(),
		DebounceFloor:     cp.DebounceFloor.D(),
	}
	if err := policy.Validate(); err != nil {
		return Runtime{}, fmt.Errorf("resolve config: checkpoint: %w", err)
	}

	envelope := c.Persistence.HostPolicy.envelope(policy)
	if err := envelope.Validate(); err != nil {
		return Runtime{}, fmt.Errorf("resolve config: host_policy: %w", err)
	}
	if err := envelope.Contains(policy); err != nil {
		return Runtime{}, fmt.Errorf("resolve config: checkpoint outside host_policy: %w", err)
	}

	rc := c.Persistence.Retention
	retention := persistence.Retention{
		Keep:            rc.Keep,
		BudgetBytes:     rc.BudgetBytes,
		WarningPercent:  rc.WarningPercent,
		CriticalPercent: rc.CriticalPercent,
	}
	if err := retention.Validate(); err != nil {
		return Runtime{}, fmt.Errorf("resolve config: retention: %w", err)
	}

	return Runtime{
		AgentID:             c.AgentID,
		Topics:              c.Topics,
		LogLevel:            c.LogLevel,
		Enabled:             c.Persistence.Enabled,
		Mode:                mode,
		Backend:             c.Persistence.Backend,
		Dir:                 c.Persistence.Dir,
		InitializeIfMissing: c.Persistence.InitializeIfMissing,
		ShutdownTimeout:     c.Persistence.ShutdownTimeout.D(),
		Policy:              policy,
		Envelope:            envelope,
		Retention:           retention,
	}, nil
}

func (h HostPolicy) envelope(p checkpoint.Policy) checkpoint.HostEnvelope {
	pin := func(v, fallback time.Duration) time.Duration {
		if v == 0 {
			return fallback
		}
		return v
	}
	pinCount := func(v, fallback uint32) uint32 {
		if v == 0 {
			return fallback
		}
		return v
	}
	return checkpoint.HostEnvelope{
		AllowRuntimeAdjustment: h.AllowRuntimeAdjustment,
		MinMutationThreshold:   pinCount(h.MinMutationThreshold, p.MutationThreshold),
		MaxMutationThreshold:   pinCount(h.MaxMutationThreshold, p.MutationThreshold),
		MinDirtyTimeFloor:      pin(h.MinDirtyTimeFloor.D(), p.DirtyTimeFloor),
		MaxDirtyTimeFloor:      pin(h.MaxDirtyTimeFloor.D(), p.DirtyTimeFloor),
		MinDebounceFloor:       pin(h.MinDebounceFloor.D(), p.DebounceFloor),
		MaxDebounceFloor:       pin(h.MaxDebounceFloor.D(), p.DebounceFloor),
	}
}

// SQLiteFile is the database file name inside the persistence dir.
const SQLiteFile = "snapshots.db"

// OpenBackend opens the configured snapshot store.
func (r Runtime) OpenBackend() (persistence.Backend, error) {
	switch r.Backend {
	case BackendFile, "":
		return persistence.OpenFileBackend(r.Dir)
	case BackendSQLite:
		if err := os.MkdirAll(r.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create persistence dir: %w", err)
		}
		return persistence.OpenSQLiteBackend(filepath.Join(r.Dir, SQLiteFile))
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", r.Backend)
	}
}

// StoreID identifies the store r points at for the strict-mode manifest.
func (r Runtime) StoreID() string {
	return persistence.StoreID(r.AgentID, r.Backend+":"+r.Dir)
}
