package api

import (
	"net/http"

	"github.com/aws-samples/sample-clinical-chatbot-with-logically-verified-responses/internal/domain"
)

// Facts handles GET /api/facts. It returns the patient record rendered as
// English sentences, the same text the chat model is grounded on.
func (h *Handler) Facts(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, domain.FactsResponse{
		Facts:     h.record.Facts(),
		Timestamp: timestamp(),
	})
}

// Axioms handles GET /api/axioms. It returns the first-order axioms the
// prover checks extracted statements against.
func (h *Handler) Axioms(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, domain.AxiomsResponse{
		Axioms:    h.record.Axioms(),
		Timestamp: timestamp(),
	})
}
