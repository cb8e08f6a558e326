package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/aws-samples/sample-clinical-chatbot-with-logically-verified-responses/internal/domain"
)

// Chat handles POST /api/chat. It runs the full pipeline to completion and
// returns a single response with the verification metadata attached.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeChatRequest(w, r)
	if !ok {
		return
	}

	doCorrupt := req.DoCorrupt && h.corruptEnabled
	h.logger.Info("chat request", "message_length", len(req.Message), "do_corrupt", doCorrupt)

	final := h.pipeline.RunToCompletion(r.Context(), req.Message, doCorrupt)

	// Corruption that did not change the sentence is not reported.
	corrupted := final.CorruptedResponse
	if corrupted == final.AssistantResponse {
		corrupted = ""
	}
	message := final.AssistantResponse
	if corrupted != "" {
		message = corrupted
	}
	if message == "" {
		h.logger.Error("pipeline produced no response", "errors", final.ErrorMessages)
		if errors.Is(r.Context().Err(), context.DeadlineExceeded) {
			Error(w, http.StatusRequestTimeout, codeTimeout,
				"response generation timed out", true)
			return
		}
		Error(w, http.StatusServiceUnavailable, codeNetwork,
			"failed to generate a response", true)
		return
	}

	JSON(w, http.StatusOK, domain.ChatResponse{
		Message:              message,
		Timestamp:            timestamp(),
		CorruptedResponse:    corrupted,
		ExtractedLogicalStmt: final.ExtractedLogicalStmt,
		Validity:             final.Valid,
		ProcessingDurations:  final.Durations,
	})
}

// ChatStream handles POST /api/chat/stream. It runs the pipeline and writes
// each event as a server-sent "data:" frame, finishing with the final event.
func (h *Handler) ChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeChatRequest(w, r)
	if !ok {
		return
	}

	doCorrupt := req.DoCorrupt && h.corruptEnabled
	h.logger.Info("chat stream request", "message_length", len(req.Message), "do_corrupt", doCorrupt)

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, codeInternal, "streaming not supported", false)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for event := range h.pipeline.Run(r.Context(), req.Message, doCorrupt) {
		data, err := json.Marshal(event)
		if err != nil {
			h.logger.Error("failed to marshal stream event", "error", err)
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			h.logger.Warn("client disconnected mid-stream", "error", err)
			return
		}
		flusher.Flush()
	}
}

// decodeChatRequest decodes and validates the request body, writing the error
// response itself when validation fails.
func (h *Handler) decodeChatRequest(w http.ResponseWriter, r *http.Request) (domain.ChatRequest, bool) {
	var req domain.ChatRequest
	body := http.MaxBytesReader(w, r.Body, 64*1024)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, codeValidation, "invalid request body", false)
		return req, false
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		Error(w, http.StatusBadRequest, codeValidation, "message cannot be empty", false)
		return req, false
	}
	if utf8.RuneCountInString(req.Message) > domain.MaxMessageLength {
		Error(w, http.StatusBadRequest, codeValidation,
			fmt.Sprintf("message exceeds maximum length of %d characters", domain.MaxMessageLength), false)
		return req, false
	}
	return req, true
}
