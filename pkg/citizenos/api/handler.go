// Package api serves the widget endpoints that proxy the Citizen OS API for
// the signed-in visitor.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/citizenos-connect/pkg/citizenos"
	"github.com/tendant/citizenos-connect/pkg/client"
	"github.com/tendant/citizenos-connect/pkg/errors"
	"github.com/tendant/citizenos-connect/pkg/sessionstore"
	"github.com/tendant/citizenos-connect/pkg/tokengenerator"
)

// Handle serves the widget endpoints
type Handle struct {
	client *citizenos.Client
	bag    sessionstore.Store
}

func NewHandle(c *citizenos.Client, bag sessionstore.Store) *Handle {
	return &Handle{
		client: c,
		bag:    bag,
	}
}

// RegisterRoutes registers the widget routes
func (h *Handle) RegisterRoutes(r chi.Router) {
	r.Get("/groups", h.GetUserGroups)
	r.Post("/groups", h.CreateGroup)
	r.Get("/topics", h.GetUserTopics)
	r.Post("/topics", h.CreateTopic)
	r.Get("/topics/public", h.GetPublicTopics)
	r.Get("/topics/{topicID}", h.GetTopic)
}

// WidgetResponse is the error envelope the widget scripts understand
type WidgetResponse struct {
	Error        bool   `json:"error"`
	ErrorMessage string `json:"error_message,omitempty"`
	Code         string `json:"code,omitempty"`
}

// visitorClient binds the cached access token of the visitor
func (h *Handle) visitorClient(r *http.Request) *citizenos.Client {
	visitorID := tokengenerator.CookieValue(r, client.VISITOR_COOKIE_NAME)
	if visitorID == "" {
		return h.client
	}
	data, err := h.bag.Get(r.Context(), visitorID)
	if err != nil {
		slog.Error("Failed loading visitor session", "visitor", visitorID, "err", err)
		return h.client
	}
	return h.client.ForToken(data.AccessToken())
}

// GetUserGroups handles GET /groups
func (h *Handle) GetUserGroups(w http.ResponseWriter, r *http.Request) {
	resp, err := h.visitorClient(r).GetUserGroups(r.Context())
	h.respond(w, r, resp, err)
}

// CreateGroup handles POST /groups
func (h *Handle) CreateGroup(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.FormValue("group_name"))
	if name == "" {
		invalid(w, r, "Group name is required")
		return
	}
	if strings.TrimSpace(r.FormValue("group_location")) == "" {
		invalid(w, r, "Group location is required")
		return
	}

	resp, err := h.visitorClient(r).CreateGroup(r.Context(), name)
	h.respond(w, r, resp, err)
}

// GetUserTopics handles GET /topics
func (h *Handle) GetUserTopics(w http.ResponseWriter, r *http.Request) {
	resp, err := h.visitorClient(r).GetUserTopics(r.Context())
	h.respond(w, r, resp, err)
}

// GetPublicTopics handles GET /topics/public
func (h *Handle) GetPublicTopics(w http.ResponseWriter, r *http.Request) {
	resp, err := h.client.GetPublicTopics(r.Context())
	h.respond(w, r, resp, err)
}

// GetTopic handles GET /topics/{topicID}; ?public=1 reads the public view
func (h *Handle) GetTopic(w http.ResponseWriter, r *http.Request) {
	topicID := chi.URLParam(r, "topicID")
	public := r.URL.Query().Get("public") != ""

	c := h.client
	if !public {
		c = h.visitorClient(r)
	}
	resp, err := c.GetTopic(r.Context(), topicID, public)
	h.respond(w, r, resp, err)
}

// CreateTopic handles POST /topics
func (h *Handle) CreateTopic(w http.ResponseWriter, r *http.Request) {
	in := citizenos.CreateTopicRequest{
		Title:      strings.TrimSpace(r.FormValue("title")),
		Content:    strings.TrimSpace(r.FormValue("content")),
		Visibility: strings.TrimSpace(r.FormValue("visibility")),
		Hashtag:    strings.TrimSpace(r.FormValue("hashtag")),
	}
	if in.Title == "" && in.Content == "" {
		invalid(w, r, "Topic title or content is required")
		return
	}
	if in.Visibility != citizenos.VisibilityPrivate {
		in.Visibility = citizenos.VisibilityPublic
	}
	if endsAt := strings.TrimSpace(r.FormValue("endsAt")); endsAt != "" {
		in.EndsAt = &endsAt
	}

	resp, err := h.visitorClient(r).CreateTopic(r.Context(), in)
	h.respond(w, r, resp, err)
}

func (h *Handle) respond(w http.ResponseWriter, r *http.Request, resp json.RawMessage, err error) {
	if err != nil {
		var statusErr *citizenos.StatusError
		if errors.As(err, &statusErr) {
			slog.Warn("Citizen OS rejected request", "path", r.URL.Path, "status", statusErr.Status.Code)
			render.Status(r, http.StatusBadGateway)
			render.JSON(w, r, WidgetResponse{Error: true, ErrorMessage: statusErr.Status.Message})
			return
		}

		slog.Error("Citizen OS request failed", "path", r.URL.Path, "err", err)
		render.Status(r, errors.MapErrorCodeToHTTPStatus(errors.GetCode(err)))
		render.JSON(w, r, WidgetResponse{
			Error:        true,
			ErrorMessage: errors.GetMessage(err),
			Code:         string(errors.GetCode(err)),
		})
		return
	}

	if resp == nil {
		resp = json.RawMessage("null")
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(resp)
}

func invalid(w http.ResponseWriter, r *http.Request, message string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, WidgetResponse{
		Error:        true,
		ErrorMessage: message,
		Code:         string(errors.ErrCodeInvalidInput),
	})
}
