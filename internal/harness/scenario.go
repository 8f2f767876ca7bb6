package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tasksync/internal/crdt"
)

// Scenario is a convergence test over several replicas.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden files are keyed by it.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Topic is the task-list topic shared by the replicas. Defaults to
	// DefaultTopic.
	Topic string `yaml:"topic,omitempty"`

	// Replicas are the agent ids, one task list each.
	Replicas []string `yaml:"replicas"`

	Steps []Step `yaml:"steps"`

	// Expect is checked against every replica after the last step.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Step is one operation on one replica.
type Step struct {
	Replica string `yaml:"replica"`
	Op      string `yaml:"op"`

	// Title is the title of a new task (add).
	Title string `yaml:"title,omitempty"`

	// Task is the task alias the operation targets. For add it names the
	// new task; it defaults to Title.
	Task string `yaml:"task,omitempty"`

	// Order lists aliases for reorder.
	Order []string `yaml:"order,omitempty"`

	// To is the sync target. Empty means every other replica.
	To string `yaml:"to,omitempty"`

	// Value carries the description of a new task (add), the new title
	// (rename), the description (describe) or the priority (priority).
	Value string `yaml:"value,omitempty"`

	// Error is the task-list error code the step is expected to fail with.
	Error string `yaml:"error,omitempty"`

	// Expect is checked against Replica right after the step.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect describes the observable state of a replica.
type Expect struct {
	// Converged requires every replica to hold identical state.
	Converged *bool `yaml:"converged,omitempty"`

	// Order is the full list order as aliases.
	Order []string `yaml:"order,omitempty"`

	// States maps alias to checkbox state (empty, claimed, done).
	States map[string]string `yaml:"states,omitempty"`

	// Assignees maps alias to the projected assignee.
	Assignees map[string]string `yaml:"assignees,omitempty"`
}

// Operation names.
const (
	OpAdd      = "add"
	OpClaim    = "claim"
	OpComplete = "complete"
	OpReorder  = "reorder"
	OpRename   = "rename"
	OpDescribe = "describe"
	OpPriority = "priority"
	OpSync     = "sync"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "replica:" vs "replicas:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Replicas) == 0 {
		return fmt.Errorf("replicas list is required and must be non-empty")
	}
	for i, r := range s.Replicas {
		if r == "" {
			return fmt.Errorf("replicas[%d]: empty agent id", i)
		}
		if slices.Index(s.Replicas, r) != i {
			return fmt.Errorf("replicas[%d]: duplicate agent id %q", i, r)
		}
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(s, step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	if err := validateExpect(s.Expect); err != nil {
		return fmt.Errorf("expect: %w", err)
	}
	return nil
}

func validateStep(s *Scenario, step Step) error {
	if !slices.Contains(s.Replicas, step.Replica) {
		return fmt.Errorf("unknown replica %q", step.Replica)
	}

	switch step.Op {
	case OpAdd:
		if step.Title == "" {
			return fmt.Errorf("title is required for add")
		}
	case OpClaim, OpComplete, OpDescribe:
		if step.Task == "" {
			return fmt.Errorf("task is required for %s", step.Op)
		}
	case OpRename:
		if step.Task == "" || step.Value == "" {
			return fmt.Errorf("task and value are required for rename")
		}
	case OpPriority:
		if step.Task == "" {
			return fmt.Errorf("task is required for priority")
		}
		if _, err := strconv.ParseUint(step.Value, 10, 8); err != nil {
			return fmt.Errorf("priority value %q must be 0-255", step.Value)
		}
	case OpReorder:
		if step.Order == nil {
			return fmt.Errorf("order is required for reorder")
		}
	case OpSync:
		if step.To != "" && !slices.Contains(s.Replicas, step.To) {
			return fmt.Errorf("unknown sync target %q", step.To)
		}
		if step.To == step.Replica {
			return fmt.Errorf("replica %q cannot sync to itself", step.To)
		}
	case "":
		return fmt.Errorf("op is required")
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}

	switch crdt.ErrorCode(step.Error) {
	case "", crdt.ErrCodeInvalidArgument, crdt.ErrCodeUnknownTask:
	default:
		return fmt.Errorf("unknown error code %q", step.Error)
	}
	return validateExpect(step.Expect)
}

func validateExpect(e *Expect) error {
	if e == nil {
		return nil
	}
	for alias, state := range e.States {
		switch state {
		case crdt.StateEmpty.String(), crdt.StateClaimed.String(), crdt.StateDone.String():
		default:
			return fmt.Errorf("states[%s]: unknown state %q", alias, state)
		}
	}
	return nil
}
