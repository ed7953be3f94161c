package workflow

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opensur/platform/internal/shared/auth"
	"github.com/opensur/platform/internal/shared/httpx"
	"github.com/opensur/platform/internal/shared/problem"
	"github.com/opensur/platform/internal/shared/types"
)

// Handler provides HTTP handlers for workflow administration
type Handler struct {
	svc *Service
}

// NewHandler creates a new workflow handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes registers the routes mounted at /workflow
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/state-definitions", func(r chi.Router) {
		r.Get("/", h.ListStateDefinitions)
		r.Post("/", h.CreateStateDefinition)
		r.Route("/{definitionID}", func(r chi.Router) {
			r.Get("/", h.GetStateDefinition)
			r.Put("/", h.UpdateStateDefinition)
			r.Delete("/", h.DeleteStateDefinition)
			r.Get("/steps", h.ListSteps)
			r.Get("/transitions", h.ListTransitions)
			r.Get("/validate", h.ValidateStateDefinition)
		})
	})

	r.Route("/state-steps", func(r chi.Router) {
		r.Post("/", h.CreateStep)
		r.Get("/{stepID}", h.GetStep)
		r.Put("/{stepID}", h.UpdateStep)
		r.Delete("/{stepID}", h.DeleteStep)
	})

	r.Route("/state-transitions", func(r chi.Router) {
		r.Post("/", h.CreateTransition)
		r.Get("/{transitionID}", h.GetTransition)
		r.Put("/{transitionID}", h.UpdateTransition)
		r.Delete("/{transitionID}", h.DeleteTransition)
	})

	r.Route("/case-definitions", func(r chi.Router) {
		r.Get("/", h.ListCaseDefinitions)
		r.Post("/", h.CreateCaseDefinition)
		r.Get("/{caseDefinitionID}", h.GetCaseDefinition)
		r.Put("/{caseDefinitionID}", h.UpdateCaseDefinition)
		r.Delete("/{caseDefinitionID}", h.DeleteCaseDefinition)
	})

	return r
}

// mutate decodes the body into in and runs fn with the caller.
func mutate[In, Out any](w http.ResponseWriter, r *http.Request, status int, in *In, fn func(auth.Principal) (problem.Result[Out], error)) {
	actor, err := httpx.Principal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if err := httpx.DecodeJSON(r, in); err != nil {
		httpx.WriteError(w, err)
		return
	}
	res, err := fn(*actor)
	httpx.WriteOutcome(w, status, res, err)
}

func remove(w http.ResponseWriter, r *http.Request, param string, fn func(auth.Principal, types.ID) (*problem.Problem, error)) {
	actor, err := httpx.Principal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	id, err := httpx.PathID(r, param)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	p, err := fn(*actor, id)
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

func get[T any](w http.ResponseWriter, r *http.Request, param string, fn func(types.ID) (T, error)) {
	id, err := httpx.PathID(r, param)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	v, err := fn(id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, v)
}

func list[T any](w http.ResponseWriter, items []T, err error) {
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"data": items, "total": len(items)})
}

// --- State definitions ---

func (h *Handler) ListStateDefinitions(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListStateDefinitions(r.Context())
	list(w, items, err)
}

func (h *Handler) GetStateDefinition(w http.ResponseWriter, r *http.Request) {
	get(w, r, "definitionID", func(id types.ID) (*StateDefinition, error) {
		return h.svc.GetStateDefinition(r.Context(), id)
	})
}

func (h *Handler) CreateStateDefinition(w http.ResponseWriter, r *http.Request) {
	var in StateDefinitionInput
	mutate(w, r, http.StatusCreated, &in, func(actor auth.Principal) (problem.Result[*StateDefinition], error) {
		return h.svc.CreateStateDefinition(r.Context(), actor, in)
	})
}

func (h *Handler) UpdateStateDefinition(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "definitionID")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var in StateDefinitionInput
	mutate(w, r, http.StatusOK, &in, func(actor auth.Principal) (problem.Result[*StateDefinition], error) {
		return h.svc.UpdateStateDefinition(r.Context(), actor, id, in)
	})
}

func (h *Handler) DeleteStateDefinition(w http.ResponseWriter, r *http.Request) {
	remove(w, r, "definitionID", func(actor auth.Principal, id types.ID) (*problem.Problem, error) {
		return h.svc.DeleteStateDefinition(r.Context(), actor, id)
	})
}

// ValidateStateDefinition reports structural violations and warnings
func (h *Handler) ValidateStateDefinition(w http.ResponseWriter, r *http.Request) {
	get(w, r, "definitionID", func(id types.ID) (*ValidationReport, error) {
		return h.svc.ValidateStateDefinition(r.Context(), id)
	})
}

// --- Steps ---

func (h *Handler) ListSteps(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "definitionID")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	items, err := h.svc.ListSteps(r.Context(), id)
	list(w, items, err)
}

func (h *Handler) GetStep(w http.ResponseWriter, r *http.Request) {
	get(w, r, "stepID", func(id types.ID) (*StateStep, error) {
		return h.svc.GetStep(r.Context(), id)
	})
}

func (h *Handler) CreateStep(w http.ResponseWriter, r *http.Request) {
	var in StateStepInput
	mutate(w, r, http.StatusCreated, &in, func(actor auth.Principal) (problem.Result[*StateStep], error) {
		return h.svc.CreateStep(r.Context(), actor, in)
	})
}

func (h *Handler) UpdateStep(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "stepID")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var in StateStepInput
	mutate(w, r, http.StatusOK, &in, func(actor auth.Principal) (problem.Result[*StateStep], error) {
		return h.svc.UpdateStep(r.Context(), actor, id, in)
	})
}

func (h *Handler) DeleteStep(w http.ResponseWriter, r *http.Request) {
	remove(w, r, "stepID", func(actor auth.Principal, id types.ID) (*problem.Problem, error) {
		return h.svc.DeleteStep(r.Context(), actor, id)
	})
}

// --- Transitions ---

func (h *Handler) ListTransitions(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "definitionID")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	items, err := h.svc.ListTransitions(r.Context(), id)
	list(w, items, err)
}

func (h *Handler) GetTransition(w http.ResponseWriter, r *http.Request) {
	get(w, r, "transitionID", func(id types.ID) (*StateTransition, error) {
		return h.svc.GetTransition(r.Context(), id)
	})
}

func (h *Handler) CreateTransition(w http.ResponseWriter, r *http.Request) {
	var in StateTransitionInput
	mutate(w, r, http.StatusCreated, &in, func(actor auth.Principal) (problem.Result[*StateTransition], error) {
		return h.svc.CreateTransition(r.Context(), actor, in)
	})
}

func (h *Handler) UpdateTransition(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "transitionID")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var in StateTransitionInput
	mutate(w, r, http.StatusOK, &in, func(actor auth.Principal) (problem.Result[*StateTransition], error) {
		return h.svc.UpdateTransition(r.Context(), actor, id, in)
	})
}

func (h *Handler) DeleteTransition(w http.ResponseWriter, r *http.Request) {
	remove(w, r, "transitionID", func(actor auth.Principal, id types.ID) (*problem.Problem, error) {
		return h.svc.DeleteTransition(r.Context(), actor, id)
	})
}

// --- Case definitions ---

// ListCaseDefinitions lists case definitions, optionally narrowed by
// report_type_id and active
func (h *Handler) ListCaseDefinitions(w http.ResponseWriter, r *http.Request) {
	var filter CaseDefinitionFilter
	if v := r.URL.Query().Get("report_type_id"); v != "" {
		id, err := types.ParseID(v)
		if err != nil {
			httpx.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid report_type_id"})
			return
		}
		filter.ReportTypeID = &id
	}
	if v := r.URL.Query().Get("active"); v != "" {
		filter.ActiveOnly, _ = strconv.ParseBool(v)
	}
	items, err := h.svc.ListCaseDefinitions(r.Context(), filter)
	list(w, items, err)
}

func (h *Handler) GetCaseDefinition(w http.ResponseWriter, r *http.Request) {
	get(w, r, "caseDefinitionID", func(id types.ID) (*CaseDefinition, error) {
		return h.svc.GetCaseDefinition(r.Context(), id)
	})
}

func (h *Handler) CreateCaseDefinition(w http.ResponseWriter, r *http.Request) {
	var in CaseDefinitionInput
	mutate(w, r, http.StatusCreated, &in, func(actor auth.Principal) (problem.Result[*CaseDefinition], error) {
		return h.svc.CreateCaseDefinition(r.Context(), actor, in)
	})
}

func (h *Handler) UpdateCaseDefinition(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "caseDefinitionID")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var in CaseDefinitionInput
	mutate(w, r, http.StatusOK, &in, func(actor auth.Principal) (problem.Result[*CaseDefinition], error) {
		return h.svc.UpdateCaseDefinition(r.Context(), actor, id, in)
	})
}

func (h *Handler) DeleteCaseDefinition(w http.ResponseWriter, r *http.Request) {
	remove(w, r, "caseDefinitionID", func(actor auth.Principal, id types.ID) (*problem.Problem, error) {
		return h.svc.DeleteCaseDefinition(r.Context(), actor, id)
	})
}
