// Package api provides HTTP handlers for the chat API.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aws-samples/sample-clinical-chatbot-with-logically-verified-responses/internal/domain"
	"github.com/aws-samples/sample-clinical-chatbot-with-logically-verified-responses/internal/engine"
	"github.com/aws-samples/sample-clinical-chatbot-with-logically-verified-responses/internal/prover"
)

// Error codes returned in the "error" field of ErrorResponse bodies.
const (
	codeValidation = "VALIDATION_ERROR"
	codeTimeout    = "TIMEOUT_ERROR"
	codeNetwork    = "NETWORK_ERROR"
	codeInternal   = "INTERNAL_ERROR"
)

// Handler provides common handler utilities.
type Handler struct {
	pipeline *engine.Pipeline
	record   *prover.PatientRecord
	logger   *slog.Logger

	// corruptEnabled is the server-wide corruption switch. Requests opt in
	// per message via do_corrupt, but cannot override a disabled server.
	corruptEnabled bool
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(pipeline *engine.Pipeline, record *prover.PatientRecord, corruptEnabled bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		pipeline:       pipeline,
		record:         record,
		logger:         logger,
		corruptEnabled: corruptEnabled,
	}
}

// RegisterRoutes attaches the API routes to the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.Chat)
		r.Post("/chat/stream", h.ChatStream)
		r.Get("/facts", h.Facts)
		r.Get("/axioms", h.Axioms)
		r.Get("/health", h.Health)
	})
}

// Health handles GET /api/health.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": timestamp(),
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response with the structured error code and
// retryability flag clients use to decide whether to retry.
func Error(w http.ResponseWriter, status int, code, message string, retryable bool) {
	JSON(w, status, domain.ErrorResponse{
		Error:     code,
		Message:   message,
		Retryable: retryable,
		Timestamp: timestamp(),
	})
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
