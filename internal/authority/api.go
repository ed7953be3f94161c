package authority

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opensur/platform/internal/shared/httpx"
	"github.com/opensur/platform/internal/shared/types"
)

// Handler provides HTTP handlers for authorities and authority users
type Handler struct {
	svc *Service
}

// NewHandler creates a new authority handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// AuthorityRoutes registers the routes mounted at /authorities
func (h *Handler) AuthorityRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListAuthorities)
	r.Post("/", h.CreateAuthority)
	r.Route("/{authorityID}", func(r chi.Router) {
		r.Get("/", h.GetAuthority)
		r.Put("/", h.UpdateAuthority)
		r.Delete("/", h.DeleteAuthority)
		r.Get("/ancestors", h.Ancestors)
		r.Get("/descendants", h.Descendants)
	})
	return r
}

// UserRoutes registers the routes mounted at /authority-users
func (h *Handler) UserRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListUsers)
	r.Post("/", h.CreateUser)
	r.Route("/{userID}", func(r chi.Router) {
		r.Get("/", h.GetUser)
		r.Put("/", h.UpdateUser)
		r.Delete("/", h.DeleteUser)
	})
	return r
}

// --- Authority Handlers ---

// ListAuthorities lists all authorities, parents before children
func (h *Handler) ListAuthorities(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListAuthorities(r.Context())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"data": list, "total": len(list)})
}

// GetAuthority returns one authority
func (h *Handler) GetAuthority(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "authorityID")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	a, err := h.svc.GetAuthority(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, a)
}

// CreateAuthority creates an authority
func (h *Handler) CreateAuthority(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Principal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var in AuthorityInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteError(w, err)
		return
	}
	res, err := h.svc.CreateAuthority(r.Context(), *actor, in)
	httpx.WriteOutcome(w, http.StatusCreated, res, err)
}

// UpdateAuthority updates an authority
func (h *Handler) UpdateAuthority(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Principal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	id, err := httpx.PathID(r, "authorityID")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var in AuthorityInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteError(w, err)
		return
	}
	res, err := h.svc.UpdateAuthority(r.Context(), *actor, id, in)
	httpx.WriteOutcome(w, http.StatusOK, res, err)
}

// DeleteAuthority deletes an authority without children or users
func (h *Handler) DeleteAuthority(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Principal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	id, err := httpx.PathID(r, "authorityID")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	p, err := h.svc.DeleteAuthority(r.Context(), *actor, id)
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

// Ancestors returns the authority and its ancestors up to the root
func (h *Handler) Ancestors(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "authorityID")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	hier, err := h.svc.Hierarchy(r.Context())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"data": hier.AncestorsOf(id)})
}

// Descendants returns the authority and everything below it
func (h *Handler) Descendants(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "authorityID")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	hier, err := h.svc.Hierarchy(r.Context())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	ids := hier.DescendantIDs(id)
	out := make([]Authority, 0, len(ids))
	for _, d := range ids {
		a, _ := hier.Get(d)
		out = append(out, a)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"data": out})
}

// --- User Handlers ---

// ListUsers lists the authority users visible to the caller
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Principal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	filter := UserFilter{Search: r.URL.Query().Get("search")}
	if a := r.URL.Query().Get("authority_id"); a != "" {
		id, err := types.ParseID(a)
		if err != nil {
			httpx.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid authority_id"})
			return
		}
		filter.AuthorityIDs = []types.ID{id}
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		filter.Limit, _ = strconv.Atoi(l)
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		filter.Offset, _ = strconv.Atoi(o)
	}

	users, total, err := h.svc.ListUsers(r.Context(), *actor, filter)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"data":   users,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// GetUser returns one authority user
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Principal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	id, err := httpx.PathID(r, "userID")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	u, err := h.svc.GetUser(r.Context(), *actor, id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, u)
}

// CreateUser creates an authority user
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Principal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var in UserInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteError(w, err)
		return
	}
	res, err := h.svc.CreateUser(r.Context(), *actor, in)
	httpx.WriteOutcome(w, http.StatusCreated, res, err)
}

// UpdateUser updates an authority user
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Principal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	id, err := httpx.PathID(r, "userID")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var in UserInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteError(w, err)
		return
	}
	res, err := h.svc.UpdateUser(r.Context(), *actor, id, in)
	httpx.WriteOutcome(w, http.StatusOK, res, err)
}

// DeleteUser deletes an authority user
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Principal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	id, err := httpx.PathID(r, "userID")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if err := h.svc.DeleteUser(r.Context(), *actor, id); err != nil {
		httpx.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
