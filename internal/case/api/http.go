package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opensur/platform/internal/case/domain"
	"github.com/opensur/platform/internal/case/engine"
	"github.com/opensur/platform/internal/shared/httpx"
	"github.com/opensur/platform/internal/shared/types"
)

// Handler provides HTTP handlers for the case module
type Handler struct {
	engine *engine.Engine
}

// NewHandler creates a new case handler
func NewHandler(e *engine.Engine) *Handler {
	return &Handler{engine: e}
}

// Routes registers the case routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListCases)
	r.Post("/promote", h.Promote)

	r.Route("/{caseID}", func(r chi.Router) {
		r.Get("/", h.GetCase)
		r.Get("/states", h.History)
		r.Get("/transitions", h.LegalTransitions)
		r.Post("/forward", h.Forward)
	})

	return r
}

// --- Request types ---

// PromoteRequest names the report to promote
type PromoteRequest struct {
	ReportID types.ID `json:"report_id"`
}

// ForwardRequest names the transition to take and its form data
type ForwardRequest struct {
	TransitionID types.ID       `json:"transition_id"`
	FormData     map[string]any `json:"form_data"`
}

// --- Handlers ---

// Promote turns a report into a case
func (h *Handler) Promote(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Principal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req PromoteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	if req.ReportID.IsZero() {
		httpx.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "report_id is required"})
		return
	}
	res, err := h.engine.PromoteAs(r.Context(), *actor, req.ReportID)
	httpx.WriteOutcome(w, http.StatusCreated, res, err)
}

// ListCases lists cases visible to the caller
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Principal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	q := r.URL.Query()
	var filter domain.ListFilter
	if vals, ok := q["authority_id"]; ok {
		ids, err := parseIDs(vals)
		if err != nil {
			httpx.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid authority_id"})
			return
		}
		filter.AuthorityIDs = ids
	}
	if vals, ok := q["report_type_id"]; ok {
		ids, err := parseIDs(vals)
		if err != nil {
			httpx.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid report_type_id"})
			return
		}
		filter.ReportTypeIDs = ids
	}
	if f := q.Get("is_finished"); f != "" {
		finished, err := strconv.ParseBool(f)
		if err != nil {
			httpx.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid is_finished"})
			return
		}
		filter.IsFinished = &finished
	}
	if l := q.Get("limit"); l != "" {
		filter.Limit, _ = strconv.Atoi(l)
	}
	if o := q.Get("offset"); o != "" {
		filter.Offset, _ = strconv.Atoi(o)
	}

	cases, total, err := h.engine.ListCases(r.Context(), *actor, filter)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"data":   cases,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func parseIDs(vals []string) ([]types.ID, error) {
	ids := make([]types.ID, 0, len(vals))
	for _, v := range vals {
		id, err := types.ParseID(v)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetCase returns one case
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Principal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	id, err := httpx.PathID(r, "caseID")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	c, err := h.engine.GetCase(r.Context(), *actor, id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, c)
}

// History returns the case's states in order
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Principal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	id, err := httpx.PathID(r, "caseID")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	entries, err := h.engine.History(r.Context(), *actor, id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"data": entries, "total": len(entries)})
}

// LegalTransitions lists the transitions available from the current step
func (h *Handler) LegalTransitions(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Principal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	id, err := httpx.PathID(r, "caseID")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	list, err := h.engine.LegalTransitions(r.Context(), *actor, id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"data": list})
}

// Forward applies a transition to the case
func (h *Handler) Forward(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Principal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	id, err := httpx.PathID(r, "caseID")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req ForwardRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	if req.TransitionID.IsZero() {
		httpx.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "transition_id is required"})
		return
	}
	res, err := h.engine.ForwardState(r.Context(), *actor, id, req.TransitionID, req.FormData)
	httpx.WriteOutcome(w, http.StatusOK, res, err)
}
