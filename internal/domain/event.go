// Package domain defines the wire-level types shared by the chat client,
// the HTTP API, and the reasoning pipeline.
package domain

// Event type discriminators for StreamEvent.
const (
	EventTypeProgress = "progress"
	EventTypeFinal    = "final"
)

// Validity verdicts produced by the theorem prover. Three-valued:
// a statement can be proven true, proven false, or neither.
const (
	ValidityTrue    = "true"
	ValidityFalse   = "false"
	ValidityUnknown = "unknown"
)

// StreamEvent is one frame of the chat event stream, discriminated by Type.
//
// A progress event carries only Message and Timestamp with IsFinal false.
// A final event (exactly one per well-formed stream) carries the resolved
// response plus the verification metadata; any frames after it are ignored
// by consumers.
type StreamEvent struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp,omitempty"`
	IsFinal   bool   `json:"is_final"`

	// Progress fields.
	Message string `json:"message,omitempty"`

	// Final fields.
	AssistantResponse    string             `json:"assistant_response,omitempty"`
	CorruptedResponse    string             `json:"corrupted_response,omitempty"`
	ExtractedLogicalStmt string             `json:"extracted_logical_stmt,omitempty"`
	Durations            map[string]float64 `json:"durations,omitempty"`
	Valid                string             `json:"valid,omitempty"`
	OriginalResult       string             `json:"original_result,omitempty"`
	NegatedResult        string             `json:"negated_result,omitempty"`
	ErrorMessages        []string           `json:"error_messages,omitempty"`
	ProgressMessages     []string           `json:"progress_messages,omitempty"`

	// ExtraDelay asks the consumer to keep its progress indicators on screen
	// for this many additional seconds before resolving.
	ExtraDelay float64 `json:"extra_delay,omitempty"`
}

// IsProgress reports whether the event is a non-terminal progress frame.
// Events from older backends may omit Type, so IsFinal is authoritative.
func (e *StreamEvent) IsProgress() bool {
	if e.Type == EventTypeProgress {
		return true
	}
	return e.Type == "" && !e.IsFinal
}
