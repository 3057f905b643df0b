// Package httpapi exposes the session control surface over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/txn2/chatbridge/pkg/health"
	"github.com/txn2/chatbridge/pkg/session"
)

// Handler provides the session control REST API.
type Handler struct {
	mux     *http.ServeMux
	manager *session.Manager
	auth    func(http.Handler) http.Handler
}

// NewHandler creates the control API handler. The health endpoints are never
// gated by the auth middleware so probes keep working with auth enabled.
func NewHandler(manager *session.Manager, checker *health.Checker, auth func(http.Handler) http.Handler) *Handler {
	h := &Handler{
		mux:     http.NewServeMux(),
		manager: manager,
		auth:    auth,
	}
	h.registerRoutes(checker)
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes(checker *health.Checker) {
	h.protect("POST /connect", h.connect)
	h.protect("GET /status/{sessionId}", h.status)
	h.protect("POST /send-message", h.sendMessage)
	h.protect("POST /disconnect", h.disconnect)

	if checker != nil {
		h.mux.HandleFunc("GET /healthz", checker.LivenessHandler())
		h.mux.HandleFunc("GET /readyz", checker.ReadinessHandler())
	}
}

func (h *Handler) protect(pattern string, fn http.HandlerFunc) {
	if h.auth != nil {
		h.mux.Handle(pattern, h.auth(fn))
		return
	}
	h.mux.HandleFunc(pattern, fn)
}

type sessionRequest struct {
	SessionID string `json:"sessionId"`
}

type sendMessageRequest struct {
	SessionID string `json:"sessionId"`
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type statusResponse struct {
	Status       string  `json:"status"`
	PairingImage *string `json:"pairingImage"`
}

func (h *Handler) connect(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	if err := h.manager.Acquire(r.Context(), req.SessionID); err != nil {
		if errors.Is(err, session.ErrPoolExhausted) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		slog.Error("acquiring session", "error", err, "session_id", req.SessionID)
		writeError(w, http.StatusInternalServerError, "failed to initiate connection")
		return
	}

	writeJSON(w, http.StatusOK, successResponse{
		Success: true,
		Message: "connection initiated or already exists",
	})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	status, image := h.manager.Status(r.PathValue("sessionId"))

	resp := statusResponse{Status: status}
	if image != "" {
		resp.PairingImage = &image
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.SessionID == "" || req.Recipient == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "sessionId, recipient, and message are required")
		return
	}

	if err := h.manager.SendText(r.Context(), req.SessionID, req.Recipient, req.Message); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, session.ErrNotConnected) {
			writeError(w, http.StatusNotFound, "session not found or not connected")
			return
		}
		slog.Error("sending message", "error", err, "session_id", req.SessionID)
		writeError(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) disconnect(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	if err := h.manager.Disconnect(r.Context(), req.SessionID); err != nil {
		slog.Error("disconnecting session", "error", err, "session_id", req.SessionID)
		writeError(w, http.StatusInternalServerError, "failed to disconnect session")
		return
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
