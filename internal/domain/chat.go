package domain

// MaxMessageLength is the maximum accepted length, in characters, of a chat
// message after trimming surrounding whitespace.
const MaxMessageLength = 1000

// ChatRequest is the body of POST /api/chat and /api/chat/stream.
type ChatRequest struct {
	Message string `json:"message"`
	// DoCorrupt enables deliberate response corruption, used to demonstrate
	// that the prover catches responses whose meaning was altered.
	DoCorrupt bool `json:"do_corrupt,omitempty"`
}

// ChatResponse is the body of a successful non-streaming chat call.
type ChatResponse struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`

	// Prover metadata. CorruptedResponse is only set when corruption was
	// applied and actually changed the sentence.
	CorruptedResponse    string             `json:"corrupted_response,omitempty"`
	ExtractedLogicalStmt string             `json:"extracted_logical_stmt,omitempty"`
	Validity             string             `json:"validity,omitempty"`
	ProcessingDurations  map[string]float64 `json:"processing_durations,omitempty"`
}

// ErrorResponse is the body of any non-2xx API response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Timestamp string `json:"timestamp,omitempty"`
}

// FactsResponse is the body of GET /api/facts.
type FactsResponse struct {
	Facts     []string `json:"facts"`
	Timestamp string   `json:"timestamp"`
}

// AxiomsResponse is the body of GET /api/axioms.
type AxiomsResponse struct {
	Axioms    []string `json:"axioms"`
	Timestamp string   `json:"timestamp"`
}
