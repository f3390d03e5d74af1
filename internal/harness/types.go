package harness

// TraceEvent is one deterministic step in a scenario's execution
// trace: a phase boundary, a change-log entry, or a terminal batch
// outcome.
type TraceEvent struct {
	Type      string `json:"type"` // "phase", "operation", "batch"
	Phase     string `json:"phase,omitempty"`
	Strategy  string `json:"strategy,omitempty"`
	Operation string `json:"operation,omitempty"`
	Status    string `json:"status,omitempty"`
	Result    string `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	Seq       int64  `json:"seq,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace lists events in execution order, for golden comparison.
	Trace []TraceEvent `json:"trace"`

	// Errors holds assertion failures. Empty when Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result to accumulate into.
func NewResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}, Errors: []string{}}
}

// AddError records an assertion failure and fails the result.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}
