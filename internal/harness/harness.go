package harness

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/roach88/tasksync/internal/crdt"
	"github.com/roach88/tasksync/internal/engine"
	"github.com/roach88/tasksync/internal/testutil"
)

// DefaultTopic is the topic used when a scenario names none.
const DefaultTopic = "scenario"

// Harness is the scenario execution engine.
// It runs scenarios with deterministic task ids and step numbers.
type Harness struct {
	scenario *Scenario
	replicas map[string]*engine.TaskList

	// aliases maps a scenario alias to the task id created for it; names
	// is the inverse.
	aliases map[string]crdt.TaskID
	names   map[crdt.TaskID]string

	// sent is the producer version last delivered per (from, to) pair.
	sent map[[2]string]uint64

	clock  *testutil.DeterministicClock
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs on fresh in-memory replicas. A returned error means
// the scenario itself is broken (for example an alias used before its add
// step); failed expectations are reported in Result.Errors instead.
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(scenario, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// RunWithLogger is Run with step logging sent to logger.
func RunWithLogger(scenario *Scenario, logger *slog.Logger) (*Result, error) {
	topic := scenario.Topic
	if topic == "" {
		topic = DefaultTopic
	}

	h := &Harness{
		scenario: scenario,
		replicas: make(map[string]*engine.TaskList, len(scenario.Replicas)),
		aliases:  make(map[string]crdt.TaskID),
		names:    make(map[crdt.TaskID]string),
		sent:     make(map[[2]string]uint64),
		clock:    testutil.NewDeterministicClock(),
		logger:   logger,
	}
	for i, agent := range scenario.Replicas {
		list, err := engine.NewTaskList(topic, crdt.AgentID(agent),
			engine.WithIDGenerator(engine.NewSequentialIDs(byte(i+1))),
			engine.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create replica %s: %w", agent, err)
		}
		h.replicas[agent] = list
	}

	result := NewResult(scenario.Name)
	for i, step := range scenario.Steps {
		rec, err := h.execute(step)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		result.Steps = append(result.Steps, rec)

		where := fmt.Sprintf("step %d (%s %s)", rec.Seq, step.Replica, step.Op)
		if rec.Error != step.Error {
			switch {
			case step.Error == "":
				result.AddError(fmt.Sprintf("%s: unexpected error %s", where, rec.Error))
			case rec.Error == "":
				result.AddError(fmt.Sprintf("%s: expected error %s, got none", where, step.Error))
			default:
				result.AddError(fmt.Sprintf("%s: expected error %s, got %s", where, step.Error, rec.Error))
			}
		}
		if step.Expect != nil {
			for _, err := range h.check(step.Expect, step.Replica) {
				result.AddError(fmt.Sprintf("%s: %v", where, err))
			}
		}

		h.logger.Info("scenario step completed",
			"step", rec.Seq,
			"replica", step.Replica,
			"op", step.Op,
			"detail", rec.Detail,
		)
	}

	if scenario.Expect != nil {
		for _, agent := range scenario.Replicas {
			for _, err := range h.check(scenario.Expect, agent) {
				result.AddError(fmt.Sprintf("final (%s): %v", agent, err))
			}
		}
	}

	for _, agent := range scenario.Replicas {
		result.Replicas = append(result.Replicas, h.view(agent))
	}
	result.Converged = h.converged()
	return result, nil
}

// execute runs one step. Task-list errors are recorded in the step; any
// other error aborts the scenario.
func (h *Harness) execute(step Step) (StepRecord, error) {
	rec := StepRecord{Seq: h.clock.Next(), Replica: step.Replica, Op: step.Op}
	list := h.replicas[step.Replica]

	var opErr error
	switch step.Op {
	case OpAdd:
		alias := step.Task
		if alias == "" {
			alias = step.Title
		}
		if _, dup := h.aliases[alias]; dup {
			return rec, fmt.Errorf("alias %q already used", alias)
		}
		rec.Detail = alias
		if alias != step.Title {
			rec.Detail = fmt.Sprintf("%s %q", alias, step.Title)
		}
		var id crdt.TaskID
		id, opErr = list.AddTask(step.Title, step.Value)
		if opErr == nil {
			h.aliases[alias] = id
			h.names[id] = alias
		}

	case OpClaim, OpComplete, OpRename, OpDescribe, OpPriority:
		id, err := h.resolve(step.Task)
		if err != nil {
			return rec, err
		}
		rec.Detail = step.Task
		switch step.Op {
		case OpClaim:
			opErr = list.ClaimTask(id)
		case OpComplete:
			opErr = list.CompleteTask(id)
		case OpRename:
			rec.Detail = fmt.Sprintf("%s %q", step.Task, step.Value)
			opErr = list.RenameTask(id, step.Value)
		case OpDescribe:
			opErr = list.SetDescription(id, step.Value)
		case OpPriority:
			p, err := strconv.ParseUint(step.Value, 10, 8)
			if err != nil {
				return rec, fmt.Errorf("priority %q: %w", step.Value, err)
			}
			rec.Detail = fmt.Sprintf("%s %d", step.Task, p)
			opErr = list.SetPriority(id, uint8(p))
		}

	case OpReorder:
		ids := make([]crdt.TaskID, len(step.Order))
		for i, alias := range step.Order {
			id, err := h.resolve(alias)
			if err != nil {
				return rec, err
			}
			ids[i] = id
		}
		rec.Detail = strings.Join(step.Order, " ")
		opErr = list.Reorder(ids)

	case OpSync:
		targets := []string{step.To}
		rec.Detail = "-> " + step.To
		if step.To == "" {
			targets = nil
			for _, agent := range h.scenario.Replicas {
				if agent != step.Replica {
					targets = append(targets, agent)
				}
			}
			rec.Detail = "-> *"
		}
		for _, to := range targets {
			n, err := h.sync(step.Replica, to)
			if err != nil {
				return rec, err
			}
			rec.Changed += n
		}

	default:
		return rec, fmt.Errorf("unknown op %q", step.Op)
	}

	if opErr != nil {
		var cerr *crdt.Error
		if !errors.As(opErr, &cerr) {
			return rec, opErr
		}
		rec.Error = string(cerr.Code)
	}
	return rec, nil
}

// sync delivers every change from has not yet sent to to.
func (h *Harness) sync(from, to string) (int, error) {
	pair := [2]string{from, to}
	delta := h.replicas[from].ProduceDelta(h.sent[pair])
	n, err := h.replicas[to].ApplyDelta(delta)
	if err != nil {
		return 0, fmt.Errorf("sync %s -> %s: %w", from, to, err)
	}
	h.sent[pair] = delta.Version
	return n, nil
}

func (h *Harness) resolve(alias string) (crdt.TaskID, error) {
	id, ok := h.aliases[alias]
	if !ok {
		return crdt.TaskID{}, fmt.Errorf("task %q used before it was added", alias)
	}
	return id, nil
}

func (h *Harness) view(agent string) ReplicaView {
	v := ReplicaView{Agent: agent, Tasks: []TaskLine{}}
	for _, t := range h.replicas[agent].ListTasks() {
		v.Tasks = append(v.Tasks, TaskLine{
			Alias:    h.alias(t.ID),
			Title:    t.Title,
			State:    t.State.String(),
			Assignee: string(t.Assignee),
			Priority: t.Priority,
		})
	}
	return v
}

func (h *Harness) alias(id crdt.TaskID) string {
	if name, ok := h.names[id]; ok {
		return name
	}
	return id.String()
}

// converged reports whether every replica holds the same state.
func (h *Harness) converged() bool {
	var first crdt.State
	for i, agent := range h.scenario.Replicas {
		s, _ := h.replicas[agent].Snapshot()
		if i == 0 {
			first = s
			continue
		}
		if !first.Equal(s) {
			return false
		}
	}
	return true
}
