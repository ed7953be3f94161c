package notification

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opensur/platform/internal/shared/httpx"
	"github.com/opensur/platform/internal/shared/types"
)

// Handler provides HTTP handlers for notification templates and overrides
type Handler struct {
	svc *Service
}

// NewHandler creates a new notification handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// TemplateRoutes registers the routes mounted at /notification-templates
func (h *Handler) TemplateRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListTemplates)
	r.Post("/", h.CreateTemplate)
	r.Route("/{templateID}", func(r chi.Router) {
		r.Get("/", h.GetTemplate)
		r.Put("/", h.UpdateTemplate)
		r.Delete("/", h.DeleteTemplate)
	})
	return r
}

// AuthorityNotificationRoutes registers the routes mounted at
// /authority-notifications
func (h *Handler) AuthorityNotificationRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListAuthorityNotifications)
	r.Put("/", h.UpsertAuthorityNotification)
	r.Post("/", h.UpsertAuthorityNotification)
	return r
}

func queryID(r *http.Request, name string) (*types.ID, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, true
	}
	id, err := types.ParseID(v)
	if err != nil {
		return nil, false
	}
	return &id, true
}

// ListTemplates lists templates with the caller's destination
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Principal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	transition, ok := queryID(r, "state_transition_id")
	if !ok {
		httpx.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid state_transition_id"})
		return
	}
	list, err := h.svc.ListTemplates(r.Context(), *actor, TemplateFilter{StateTransitionID: transition})
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"data": list, "total": len(list)})
}

// GetTemplate returns one template
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "templateID")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	t, err := h.svc.GetTemplate(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, t)
}

// CreateTemplate creates a template
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Principal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var in TemplateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteError(w, err)
		return
	}
	res, err := h.svc.CreateTemplate(r.Context(), *actor, in)
	httpx.WriteOutcome(w, http.StatusCreated, res, err)
}

// UpdateTemplate updates a template
func (h *Handler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Principal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	id, err := httpx.PathID(r, "templateID")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var in TemplateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteError(w, err)
		return
	}
	res, err := h.svc.UpdateTemplate(r.Context(), *actor, id, in)
	httpx.WriteOutcome(w, http.StatusOK, res, err)
}

// DeleteTemplate deletes a template no authority points at
func (h *Handler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Principal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	id, err := httpx.PathID(r, "templateID")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	p, err := h.svc.DeleteTemplate(r.Context(), *actor, id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if p.Has() {
		httpx.WriteProblem(w, p)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAuthorityNotifications lists an authority's destinations
func (h *Handler) ListAuthorityNotifications(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Principal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	authorityID, ok := queryID(r, "authority_id")
	if !ok {
		httpx.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid authority_id"})
		return
	}
	list, err := h.svc.ListAuthorityNotifications(r.Context(), *actor, authorityID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"data": list, "total": len(list)})
}

// UpsertAuthorityNotification creates or updates an authority's destination
func (h *Handler) UpsertAuthorityNotification(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Principal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var in AuthorityNotificationInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteError(w, err)
		return
	}
	res, err := h.svc.UpsertAuthorityNotification(r.Context(), *actor, in)
	httpx.WriteOutcome(w, http.StatusOK, res, err)
}
