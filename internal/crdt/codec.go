package crdt

import (
	"fmt"
	"math"
	"slices"

	"github.com/roach88/tasksync/internal/ir"
)

// EncodeState converts a task list into its canonical payload object.
// Tasks are emitted in id order so the payload bytes depend only on state.
func EncodeState(topic string, s State) (ir.Object, error) {
	ids := make([]TaskID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, TaskID.Compare)

	tasks := make(ir.Array, 0, len(ids))
	for _, id := range ids {
		obj, err := encodeTask(s[id])
		if err != nil {
			return nil, fmt.Errorf("encode task %s: %w", id, err)
		}
		tasks = append(tasks, obj)
	}
	return ir.Object{
		"topic": ir.String(topic),
		"tasks": tasks,
	}, nil
}

func encodeTask(t Task) (ir.Object, error) {
	created, err := encodeStamp(t.Created)
	if err != nil {
		return nil, err
	}
	title, err := encodeRegister(t.Title.Stamp, ir.String(t.Title.Value))
	if err != nil {
		return nil, err
	}
	desc, err := encodeRegister(t.Description.Stamp, ir.String(t.Description.Value))
	if err != nil {
		return nil, err
	}
	prio, err := encodeRegister(t.Priority.Stamp, ir.Int(t.Priority.Value))
	if err != nil {
		return nil, err
	}
	pos, err := encodeRegister(t.Position.Stamp, ir.String(t.Position.Value))
	if err != nil {
		return nil, err
	}

	tags := make(ir.Array, 0, len(t.Tags))
	for _, tag := range t.Tags {
		obj, err := encodeStamp(tag.Stamp)
		if err != nil {
			return nil, err
		}
		obj["kind"] = ir.String(tag.Kind.String())
		tags = append(tags, obj)
	}

	return ir.Object{
		"id":          ir.String(t.ID.String()),
		"created":     created,
		"title":       title,
		"description": desc,
		"priority":    prio,
		"position":    pos,
		"tags":        tags,
	}, nil
}

func encodeStamp(s Stamp) (ir.Object, error) {
	if s.Counter > math.MaxInt64 {
		return nil, fmt.Errorf("counter %d exceeds int64", s.Counter)
	}
	return ir.Object{
		"counter": ir.Int(int64(s.Counter)),
		"agent":   ir.String(string(s.Agent)),
	}, nil
}

func encodeRegister(s Stamp, v ir.Value) (ir.Object, error) {
	obj, err := encodeStamp(s)
	if err != nil {
		return nil, err
	}
	obj["value"] = v
	return obj, nil
}

// DecodeState parses a payload object produced by EncodeState. Payloads
// written before priorities existed have no "priority" field; those tasks
// decode with an unset priority register.
func DecodeState(obj ir.Object) (string, State, error) {
	topic, err := obj.Str("topic")
	if err != nil {
		return "", nil, err
	}
	arr, err := obj.Arr("tasks")
	if err != nil {
		return "", nil, err
	}

	state := make(State, len(arr))
	for i, v := range arr {
		tobj, ok := v.(ir.Object)
		if !ok {
			return "", nil, fmt.Errorf("tasks[%d]: want object, got %T", i, v)
		}
		t, err := decodeTask(tobj)
		if err != nil {
			return "", nil, fmt.Errorf("tasks[%d]: %w", i, err)
		}
		if _, dup := state[t.ID]; dup {
			return "", nil, fmt.Errorf("tasks[%d]: duplicate id %s", i, t.ID)
		}
		state[t.ID] = t
	}
	return topic, state, nil
}

func decodeTask(obj ir.Object) (Task, error) {
	var t Task

	idStr, err := obj.Str("id")
	if err != nil {
		return t, err
	}
	if t.ID, err = ParseTaskID(idStr); err != nil {
		return t, err
	}

	created, err := obj.Obj("created")
	if err != nil {
		return t, err
	}
	if t.Created, err = decodeStamp(created); err != nil {
		return t, fmt.Errorf("created: %w", err)
	}
	if t.Title, err = decodeStringRegister(obj, "title"); err != nil {
		return t, err
	}
	if t.Description, err = decodeStringRegister(obj, "description"); err != nil {
		return t, err
	}
	if t.Position, err = decodeStringRegister(obj, "position"); err != nil {
		return t, err
	}
	if _, ok := obj["priority"]; ok {
		if t.Priority, err = decodePriority(obj); err != nil {
			return t, err
		}
	}

	tags, err := obj.Arr("tags")
	if err != nil {
		return t, err
	}
	decoded := make([]Tag, 0, len(tags))
	for i, v := range tags {
		tobj, ok := v.(ir.Object)
		if !ok {
			return t, fmt.Errorf("tags[%d]: want object, got %T", i, v)
		}
		kindStr, err := tobj.Str("kind")
		if err != nil {
			return t, fmt.Errorf("tags[%d]: %w", i, err)
		}
		kind, err := ParseTagKind(kindStr)
		if err != nil {
			return t, fmt.Errorf("tags[%d]: %w", i, err)
		}
		stamp, err := decodeStamp(tobj)
		if err != nil {
			return t, fmt.Errorf("tags[%d]: %w", i, err)
		}
		decoded = append(decoded, Tag{Kind: kind, Stamp: stamp})
	}
	t.Tags = UnionTags(nil, decoded)

	if err := t.Validate(); err != nil {
		return t, err
	}
	return t, nil
}

func decodeStamp(obj ir.Object) (Stamp, error) {
	n, err := obj.Int("counter")
	if err != nil {
		return Stamp{}, err
	}
	if n < 0 {
		return Stamp{}, fmt.Errorf("negative counter %d", n)
	}
	agent, err := obj.Str("agent")
	if err != nil {
		return Stamp{}, err
	}
	return Stamp{Counter: uint64(n), Agent: AgentID(agent)}, nil
}

func decodeStringRegister(obj ir.Object, key string) (Register[string], error) {
	robj, err := obj.Obj(key)
	if err != nil {
		return Register[string]{}, err
	}
	v, err := robj.Str("value")
	if err != nil {
		return Register[string]{}, fmt.Errorf("%s: %w", key, err)
	}
	s, err := decodeStamp(robj)
	if err != nil {
		return Register[string]{}, fmt.Errorf("%s: %w", key, err)
	}
	return NewRegister(v, s), nil
}

func decodePriority(obj ir.Object) (Register[uint8], error) {
	robj, err := obj.Obj("priority")
	if err != nil {
		return Register[uint8]{}, err
	}
	v, err := robj.Int("value")
	if err != nil {
		return Register[uint8]{}, fmt.Errorf("priority: %w", err)
	}
	if v < 0 || v > math.MaxUint8 {
		return Register[uint8]{}, fmt.Errorf("priority %d out of range", v)
	}
	s, err := decodeStamp(robj)
	if err != nil {
		return Register[uint8]{}, fmt.Errorf("priority: %w", err)
	}
	return NewRegister(uint8(v), s), nil
}
