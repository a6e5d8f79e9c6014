package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/citizenos-connect/pkg/client"
	"github.com/tendant/citizenos-connect/pkg/sessions"
)

// Handler handles HTTP requests for session management
type Handler struct {
	service *sessions.Service
}

// NewHandler creates a new session handler
func NewHandler(service *sessions.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers the session management routes
// These routes should be mounted under an authenticated route group
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.ListSessions)
	r.Post("/revoke-all", h.RevokeAllSessions)
}

// RevokeAllSessionsRequest represents the request to revoke all sessions
type RevokeAllSessionsRequest struct {
	ExceptCurrentSession bool `json:"except_current_session"`
}

// ListSessions handles GET /sessions - List active sessions for current user
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	authUser, ok := client.GetAuthUser(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	response, err := h.service.ListActiveSessionSummaries(r.Context(), authUser.UserUuid, authUser.SessionToken)
	if err != nil {
		slog.Error("Failed to list sessions", "user", authUser, "error", err)
		http.Error(w, "Failed to list sessions", http.StatusInternalServerError)
		return
	}

	render.JSON(w, r, response)
}

// RevokeAllSessions handles POST /sessions/revoke-all - Revoke all sessions
func (h *Handler) RevokeAllSessions(w http.ResponseWriter, r *http.Request) {
	authUser, ok := client.GetAuthUser(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req RevokeAllSessionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// Default to revoking all except current if no body provided
		req.ExceptCurrentSession = true
	}

	except := ""
	if req.ExceptCurrentSession {
		except = authUser.SessionToken
	}

	if err := h.service.RevokeAllSessions(r.Context(), authUser.UserUuid, except); err != nil {
		slog.Error("Failed to revoke all sessions", "user", authUser, "error", err)
		http.Error(w, "Failed to revoke all sessions", http.StatusInternalServerError)
		return
	}

	slog.Info("All sessions revoked", "user", authUser, "except_current", req.ExceptCurrentSession)

	render.JSON(w, r, map[string]string{
		"message": "All sessions revoked successfully",
	})
}
