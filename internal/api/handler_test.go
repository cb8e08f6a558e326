//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/aws-samples/sample-clinical-chatbot-with-logically-verified-responses/internal/domain"
	"github.com/aws-samples/sample-clinical-chatbot-with-logically-verified-responses/internal/engine"
	"github.com/aws-samples/sample-clinical-chatbot-with-logically-verified-responses/internal/prover"
)

// newTestRouter wires the handler over the scripted responder with the
// corruption coin pinned off, so responses are deterministic.
func newTestRouter(t *testing.T, opts ...engine.PipelineOption) http.Handler {
	t.Helper()
	record := prover.DemoPatient()
	checker := prover.NewChecker(record, nil)
	responder := engine.NewScriptedResponder(record)
	opts = append([]engine.PipelineOption{
		engine.WithCorruptionCoin(func() bool { return false }),
		engine.WithExtraDelay(0),
	}, opts...)
	pipeline := engine.NewPipeline(responder, checker, nil, opts...)

	r := chi.NewRouter()
	NewHandler(pipeline, record, true, nil).RegisterRoutes(r)
	return r
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()

	Error(w, http.StatusServiceUnavailable, codeNetwork, "backend unavailable", true)

	resp := w.Result()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", resp.StatusCode)
	}

	var got domain.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got.Error != codeNetwork || got.Message != "backend unavailable" || !got.Retryable {
		t.Errorf("Unexpected error body: %+v", got)
	}
	if got.Timestamp == "" {
		t.Error("Expected timestamp to be set")
	}
}

func TestChat(t *testing.T) {
	router := newTestRouter(t)

	w := postJSON(t, router, "/api/chat", `{"message": "What is the patient's name?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var got domain.ChatResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got.Message != "The patient's name is Joe Bloggs." {
		t.Errorf("Unexpected message: %q", got.Message)
	}
	if got.Validity != "true" {
		t.Errorf("Expected validity true, got %q", got.Validity)
	}
	if got.CorruptedResponse != "" {
		t.Errorf("Corruption ran with the coin pinned off: %q", got.CorruptedResponse)
	}
	for _, key := range []string{"agent", "extraction", "theorem prover"} {
		if _, ok := got.ProcessingDurations[key]; !ok {
			t.Errorf("Missing duration %q in %v", key, got.ProcessingDurations)
		}
	}
	if got.Timestamp == "" {
		t.Error("Expected timestamp to be set")
	}
}

func TestChatPrefersCorruptedResponse(t *testing.T) {
	router := newTestRouter(t, engine.WithCorruptionCoin(func() bool { return true }))

	w := postJSON(t, router, "/api/chat",
		`{"message": "What is the patient's most recent heart rate measurement?", "do_corrupt": true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var got domain.ChatResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got.CorruptedResponse == "" {
		t.Fatal("Expected a corrupted response")
	}
	if got.Message != got.CorruptedResponse {
		t.Errorf("Message %q should carry the corrupted response %q", got.Message, got.CorruptedResponse)
	}
	if got.Validity != "false" {
		t.Errorf("Corrupted statement should fail verification, got %q", got.Validity)
	}
}

func TestChatCorruptionDisabledServerWide(t *testing.T) {
	record := prover.DemoPatient()
	pipeline := engine.NewPipeline(engine.NewScriptedResponder(record), prover.NewChecker(record, nil), nil,
		engine.WithCorruptionCoin(func() bool { return true }),
		engine.WithExtraDelay(0))
	router := chi.NewRouter()
	NewHandler(pipeline, record, false, nil).RegisterRoutes(router)

	// The request opts in, but the server switch is off.
	w := postJSON(t, router, "/api/chat",
		`{"message": "What is the patient's most recent heart rate measurement?", "do_corrupt": true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var got domain.ChatResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got.CorruptedResponse != "" {
		t.Errorf("Corruption ran with the server switch off: %q", got.CorruptedResponse)
	}
	if got.Validity != "true" {
		t.Errorf("Expected validity true, got %q", got.Validity)
	}
}

// identityCorruptor answers like the scripted responder but its corruption
// step returns the sentence unchanged.
type identityCorruptor struct {
	*engine.ScriptedResponder
}

func (c identityCorruptor) Corrupt(_ context.Context, sentence string) (string, error) {
	return sentence, nil
}

func TestChatOmitsIdenticalCorruption(t *testing.T) {
	record := prover.DemoPatient()
	responder := identityCorruptor{engine.NewScriptedResponder(record)}
	pipeline := engine.NewPipeline(responder, prover.NewChecker(record, nil), nil,
		engine.WithCorruptionCoin(func() bool { return true }),
		engine.WithExtraDelay(0))
	router := chi.NewRouter()
	NewHandler(pipeline, record, true, nil).RegisterRoutes(router)

	w := postJSON(t, router, "/api/chat",
		`{"message": "What is the patient's name?", "do_corrupt": true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var got domain.ChatResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got.CorruptedResponse != "" {
		t.Errorf("Corruption that changed nothing should be omitted, got %q", got.CorruptedResponse)
	}
	if got.Message != "The patient's name is Joe Bloggs." {
		t.Errorf("Unexpected message: %q", got.Message)
	}
}

func TestChatValidation(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty message", `{"message": ""}`},
		{"whitespace message", `{"message": "   \n\t  "}`},
		{"too long", `{"message": "` + strings.Repeat("a", domain.MaxMessageLength+1) + `"}`},
		{"malformed body", `{"message": `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, path := range []string{"/api/chat", "/api/chat/stream"} {
				w := postJSON(t, router, path, tt.body)
				if w.Code != http.StatusBadRequest {
					t.Errorf("%s: expected status 400, got %d", path, w.Code)
				}
				var got domain.ErrorResponse
				if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
					t.Fatalf("%s: failed to decode response: %v", path, err)
				}
				if got.Error != codeValidation {
					t.Errorf("%s: expected %s, got %q", path, codeValidation, got.Error)
				}
				if got.Retryable {
					t.Errorf("%s: validation errors are not retryable", path)
				}
			}
		})
	}
}

func TestChatStream(t *testing.T) {
	router := newTestRouter(t)

	w := postJSON(t, router, "/api/chat/stream", `{"message": "What is the patient's name?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected text/event-stream, got %q", ct)
	}

	var events []domain.StreamEvent
	for _, frame := range strings.Split(strings.TrimSpace(w.Body.String()), "\n\n") {
		data, ok := strings.CutPrefix(frame, "data: ")
		if !ok {
			t.Fatalf("Frame missing data prefix: %q", frame)
		}
		var event domain.StreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			t.Fatalf("Failed to decode frame %q: %v", data, err)
		}
		events = append(events, event)
	}

	if len(events) < 2 {
		t.Fatalf("Expected progress events plus a final event, got %d", len(events))
	}
	final := events[len(events)-1]
	if !final.IsFinal {
		t.Fatal("Last event should be final")
	}
	if final.AssistantResponse != "The patient's name is Joe Bloggs." {
		t.Errorf("Unexpected assistant response: %q", final.AssistantResponse)
	}
	if final.Valid != "true" {
		t.Errorf("Expected validity true, got %q", final.Valid)
	}
	for _, event := range events[:len(events)-1] {
		if !event.IsProgress() {
			t.Errorf("Non-progress event before the final one: %+v", event)
		}
	}
	if events[0].Message != "Computing initial response..." {
		t.Errorf("Unexpected first progress message: %q", events[0].Message)
	}
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var got map[string]string
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["status"] != "healthy" {
		t.Errorf("Expected healthy status, got %q", got["status"])
	}
}

func TestFacts(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/facts", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var got domain.FactsResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(got.Facts) == 0 {
		t.Fatal("Expected facts")
	}
	joined := strings.Join(got.Facts, "\n")
	if !strings.Contains(joined, "The patient's name is Joe Bloggs") {
		t.Errorf("Missing name fact in %v", got.Facts)
	}
	if !strings.Contains(joined, "heart rate was 55.0 beats/sec on 2005-02-01") {
		t.Errorf("Missing heart rate fact in %v", got.Facts)
	}
}

func TestAxioms(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/axioms", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var got domain.AxiomsResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	joined := strings.Join(got.Axioms, "\n")
	if !strings.Contains(joined, "(= (heart-rate 12815) 55.0)") {
		t.Errorf("Missing measurement axiom in %v", got.Axioms)
	}
	if !strings.Contains(joined, "forall") {
		t.Errorf("Missing quantified axioms in %v", got.Axioms)
	}
}
