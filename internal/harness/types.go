package harness

import "github.com/Steven-Chan/chat/internal/record"

// TraceEvent records the outcome of one step.
type TraceEvent struct {
	Step int    `json:"step"`
	Op   string `json:"op"`

	// Insert fields.
	ID           string `json:"id,omitempty"`
	Conversation string `json:"conversation,omitempty"`
	Seq          int64  `json:"seq,omitempty"`
	Previous     string `json:"previous,omitempty"`

	// Count is the number of imported records.
	Count int `json:"count,omitempty"`

	// Changed is the number of links a backfill rewrote.
	Changed int64 `json:"changed,omitempty"`

	// Error is the error code when the step failed.
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step behaved as expected and every
	// expectation held.
	Pass bool `json:"pass"`

	// Backend is the store the scenario ran against.
	Backend string `json:"backend"`

	// Trace contains one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Chain is the final link of every record, ordered by
	// conversation, seq and id.
	Chain []record.Link `json:"chain"`

	// Digest fingerprints Chain.
	Digest string `json:"digest"`
}

// NewResult creates a new passing result.
func NewResult(backendName string) *Result {
	return &Result{
		Pass:    true,
		Backend: backendName,
		Trace:   []TraceEvent{},
		Errors:  []string{},
		Chain:   []record.Link{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// canonical returns the event as a canonical JSON object.
func (e TraceEvent) canonical() map[string]any {
	m := map[string]any{
		"step": e.Step,
		"op":   e.Op,
	}
	if e.ID != "" {
		m["id"] = e.ID
	}
	if e.Conversation != "" {
		m["conversation"] = e.Conversation
	}
	if e.Seq != 0 {
		m["seq"] = e.Seq
	}
	if e.Previous != "" {
		m["previous"] = e.Previous
	}
	if e.Count != 0 {
		m["count"] = e.Count
	}
	if e.Op == OpBackfill && e.Error == "" {
		m["changed"] = e.Changed
	}
	if e.Error != "" {
		m["error"] = e.Error
	}
	return m
}
