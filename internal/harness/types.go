package harness

// StepRecord is the trace entry of one executed step.
type StepRecord struct {
	Seq     uint64 `json:"seq"`
	Replica string `json:"replica"`
	Op      string `json:"op"`
	Detail  string `json:"detail"`

	// Changed is the number of tasks a sync changed on its targets.
	Changed int `json:"changed,omitempty"`

	// Error is the task-list error code the step failed with.
	Error string `json:"error,omitempty"`
}

// TaskLine is one task as a replica sees it.
type TaskLine struct {
	Alias    string `json:"alias"`
	Title    string `json:"title"`
	State    string `json:"state"`
	Assignee string `json:"assignee,omitempty"`
	Priority uint8  `json:"priority,omitempty"`
}

// ReplicaView is the final list of one replica.
type ReplicaView struct {
	Agent string     `json:"agent"`
	Tasks []TaskLine `json:"tasks"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	Scenario string `json:"scenario"`

	// Pass indicates overall success: every expectation matched and every
	// step failed only where it was expected to.
	Pass bool `json:"pass"`

	Steps    []StepRecord  `json:"steps"`
	Replicas []ReplicaView `json:"replicas"`

	// Converged reports whether all replicas hold identical state.
	Converged bool `json:"converged"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult(name string) *Result {
	return &Result{
		Scenario: name,
		Pass:     true,
		Steps:    []StepRecord{},
		Errors:   []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
