package workflow

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/opensur/platform/internal/permission"
	"github.com/opensur/platform/internal/shared/auth"
	"github.com/opensur/platform/internal/shared/errors"
	"github.com/opensur/platform/internal/shared/problem"
	"github.com/opensur/platform/internal/shared/types"
)

// Store is the persistence port for workflow definitions. Saving a state
// definition with IsDefault set clears the flag on every other definition.
type Store interface {
	ListStateDefinitions(ctx context.Context) ([]StateDefinition, error)
	GetStateDefinition(ctx context.Context, id types.ID) (*StateDefinition, error)
	GetDefaultStateDefinition(ctx context.Context) (*StateDefinition, error)
	CreateStateDefinition(ctx context.Context, d *StateDefinition) error
	UpdateStateDefinition(ctx context.Context, d *StateDefinition) error
	DeleteStateDefinition(ctx context.Context, id types.ID) error
	StateDefinitionReferences(ctx context.Context, id types.ID) (int, error)

	ListSteps(ctx context.Context, stateDefinitionID types.ID) ([]StateStep, error)
	GetStep(ctx context.Context, id types.ID) (*StateStep, error)
	CreateStep(ctx context.Context, s *StateStep) error
	UpdateStep(ctx context.Context, s *StateStep) error
	DeleteStep(ctx context.Context, id types.ID) error
	StepReferences(ctx context.Context, id types.ID) (int, error)

	// ListTransitions returns transitions touching any step of the definition.
	ListTransitions(ctx context.Context, stateDefinitionID types.ID) ([]StateTransition, error)
	GetTransition(ctx context.Context, id types.ID) (*StateTransition, error)
	CreateTransition(ctx context.Context, t *StateTransition) error
	UpdateTransition(ctx context.Context, t *StateTransition) error
	DeleteTransition(ctx context.Context, id types.ID) error
	TransitionReferences(ctx context.Context, id types.ID) (int, error)

	// ListCaseDefinitions orders by creation time then id.
	ListCaseDefinitions(ctx context.Context, filter CaseDefinitionFilter) ([]CaseDefinition, error)
	GetCaseDefinition(ctx context.Context, id types.ID) (*CaseDefinition, error)
	CreateCaseDefinition(ctx context.Context, d *CaseDefinition) error
	UpdateCaseDefinition(ctx context.Context, d *CaseDefinition) error
	DeleteCaseDefinition(ctx context.Context, id types.ID) error
	CaseDefinitionReferences(ctx context.Context, id types.ID) (int, error)
}

var adminGate = permission.Or(permission.IsSuperuser, permission.IsStaff)

// Service administers state machines and case definitions.
type Service struct {
	store Store
	mode  Mode
	log   zerolog.Logger
	now   func() time.Time
}

// NewService creates a workflow service validating graphs in mode.
func NewService(store Store, mode Mode, log zerolog.Logger) *Service {
	return &Service{
		store: store,
		mode:  mode,
		log:   log.With().Str("component", "workflow").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Mode returns the validation mode in effect.
func (s *Service) Mode() Mode {
	return s.mode
}

// --- Graph access ---

// LoadGraph loads a state definition with its steps and transitions.
func (s *Service) LoadGraph(ctx context.Context, stateDefinitionID types.ID) (*Graph, error) {
	def, err := s.store.GetStateDefinition(ctx, stateDefinitionID)
	if err != nil {
		return nil, err
	}
	steps, err := s.store.ListSteps(ctx, def.ID)
	if err != nil {
		return nil, err
	}
	transitions, err := s.store.ListTransitions(ctx, def.ID)
	if err != nil {
		return nil, err
	}
	return NewGraph(*def, steps, transitions), nil
}

// ResolveStateDefinition returns the definition cd runs on: its own, or
// the default definition when it names none.
func (s *Service) ResolveStateDefinition(ctx context.Context, cd CaseDefinition) (types.ID, error) {
	if cd.StateDefinitionID != nil && !cd.StateDefinitionID.IsZero() {
		return *cd.StateDefinitionID, nil
	}
	def, err := s.store.GetDefaultStateDefinition(ctx)
	if errors.Is(err, errors.ErrNotFound) {
		return "", errors.Validation("case definition has no state definition", map[string]string{
			"state_definition_id": "no state definition given and no default state definition exists",
		})
	}
	if err != nil {
		return "", err
	}
	return def.ID, nil
}

// GraphFor loads and validates the state machine behind cd.
func (s *Service) GraphFor(ctx context.Context, cd CaseDefinition) (*Graph, error) {
	defID, err := s.ResolveStateDefinition(ctx, cd)
	if err != nil {
		return nil, err
	}
	g, err := s.LoadGraph(ctx, defID)
	if err != nil {
		return nil, err
	}
	warnings, err := Validate(g, s.mode)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		s.log.Warn().Str("state_definition_id", defID.String()).Msg(w)
	}
	return g, nil
}

// ActiveCaseDefinitions returns the active definitions for a report type in
// promotion order.
func (s *Service) ActiveCaseDefinitions(ctx context.Context, reportTypeID types.ID) ([]CaseDefinition, error) {
	return s.store.ListCaseDefinitions(ctx, CaseDefinitionFilter{ReportTypeID: &reportTypeID, ActiveOnly: true})
}

// ValidationReport is the outcome of validating a state definition on demand.
type ValidationReport struct {
	Valid      bool              `json:"valid"`
	Mode       string            `json:"mode"`
	Warnings   []string          `json:"warnings"`
	Violations map[string]string `json:"violations,omitempty"`
}

// ValidateStateDefinition reports the structural state of a definition
// without failing the request.
func (s *Service) ValidateStateDefinition(ctx context.Context, id types.ID) (*ValidationReport, error) {
	g, err := s.LoadGraph(ctx, id)
	if err != nil {
		return nil, err
	}
	report := &ValidationReport{Valid: true, Mode: "strict", Warnings: []string{}}
	if s.mode == Lenient {
		report.Mode = "lenient"
	}
	warnings, err := Validate(g, s.mode)
	if warnings != nil {
		report.Warnings = warnings
	}
	if err != nil {
		var appErr *errors.AppError
		if !errors.As(err, &appErr) || !errors.Is(err, errors.ErrStructural) {
			return nil, err
		}
		report.Valid = false
		report.Violations = appErr.Details
	}
	return report, nil
}

// --- State definitions ---

func (s *Service) ListStateDefinitions(ctx context.Context) ([]StateDefinition, error) {
	return s.store.ListStateDefinitions(ctx)
}

func (s *Service) GetStateDefinition(ctx context.Context, id types.ID) (*StateDefinition, error) {
	return s.store.GetStateDefinition(ctx, id)
}

func (s *Service) CreateStateDefinition(ctx context.Context, actor auth.Principal, in StateDefinitionInput) (problem.Result[*StateDefinition], error) {
	if err := permission.Gate(actor, adminGate); err != nil {
		return problem.Result[*StateDefinition]{}, err
	}
	p := problem.New()
	name := strings.TrimSpace(stringValue(in.Name))
	p.NotEmpty("name", name, "name is required")
	if p.Has() {
		return problem.Fail[*StateDefinition](p), nil
	}

	now := s.now()
	d := &StateDefinition{ID: types.NewID(), Name: name, IsDefault: boolValue(in.IsDefault), CreatedAt: now, UpdatedAt: now}
	if err := s.store.CreateStateDefinition(ctx, d); err != nil {
		return problem.Result[*StateDefinition]{}, err
	}
	s.log.Info().Str("state_definition_id", d.ID.String()).Msg("State definition created")
	return problem.Success(d), nil
}

func (s *Service) UpdateStateDefinition(ctx context.Context, actor auth.Principal, id types.ID, in StateDefinitionInput) (problem.Result[*StateDefinition], error) {
	if err := permission.Gate(actor, adminGate); err != nil {
		return problem.Result[*StateDefinition]{}, err
	}
	d, err := s.store.GetStateDefinition(ctx, id)
	if errors.Is(err, errors.ErrNotFound) {
		return problem.Fail[*StateDefinition](problem.NotFound()), nil
	}
	if err != nil {
		return problem.Result[*StateDefinition]{}, err
	}

	p := problem.New()
	if in.Name != nil {
		d.Name = strings.TrimSpace(*in.Name)
		p.NotEmpty("name", d.Name, "name is required")
	}
	if in.IsDefault != nil {
		d.IsDefault = *in.IsDefault
	}
	if p.Has() {
		return problem.Fail[*StateDefinition](p), nil
	}

	d.UpdatedAt = s.now()
	if err := s.store.UpdateStateDefinition(ctx, d); err != nil {
		return problem.Result[*StateDefinition]{}, err
	}
	return problem.Success(d), nil
}

func (s *Service) DeleteStateDefinition(ctx context.Context, actor auth.Principal, id types.ID) (*problem.Problem, error) {
	if err := permission.Gate(actor, adminGate); err != nil {
		return nil, err
	}
	return s.guardedDelete(ctx, "state definition", id, s.store.StateDefinitionReferences, s.store.DeleteStateDefinition)
}

// --- Steps ---

func (s *Service) ListSteps(ctx context.Context, stateDefinitionID types.ID) ([]StateStep, error) {
	if _, err := s.store.GetStateDefinition(ctx, stateDefinitionID); err != nil {
		return nil, err
	}
	return s.store.ListSteps(ctx, stateDefinitionID)
}

func (s *Service) GetStep(ctx context.Context, id types.ID) (*StateStep, error) {
	return s.store.GetStep(ctx, id)
}

func (s *Service) CreateStep(ctx context.Context, actor auth.Principal, in StateStepInput) (problem.Result[*StateStep], error) {
	if err := permission.Gate(actor, adminGate); err != nil {
		return problem.Result[*StateStep]{}, err
	}
	now := s.now()
	step := &StateStep{ID: types.NewID(), CreatedAt: now, UpdatedAt: now}
	p := problem.New()
	if in.StateDefinitionID == nil || in.StateDefinitionID.IsZero() {
		p.Add("state_definition_id", "state definition is required")
	}
	if err := s.applyStepInput(ctx, p, step, in); err != nil {
		return problem.Result[*StateStep]{}, err
	}
	if p.Has() {
		return problem.Fail[*StateStep](p), nil
	}
	if err := s.store.CreateStep(ctx, step); err != nil {
		return problem.Result[*StateStep]{}, err
	}
	return problem.Success(step), nil
}

func (s *Service) UpdateStep(ctx context.Context, actor auth.Principal, id types.ID, in StateStepInput) (problem.Result[*StateStep], error) {
	if err := permission.Gate(actor, adminGate); err != nil {
		return problem.Result[*StateStep]{}, err
	}
	step, err := s.store.GetStep(ctx, id)
	if errors.Is(err, errors.ErrNotFound) {
		return problem.Fail[*StateStep](problem.NotFound()), nil
	}
	if err != nil {
		return problem.Result[*StateStep]{}, err
	}
	p := problem.New()
	if err := s.applyStepInput(ctx, p, step, in); err != nil {
		return problem.Result[*StateStep]{}, err
	}
	if p.Has() {
		return problem.Fail[*StateStep](p), nil
	}
	step.UpdatedAt = s.now()
	if err := s.store.UpdateStep(ctx, step); err != nil {
		return problem.Result[*StateStep]{}, err
	}
	return problem.Success(step), nil
}

func (s *Service) applyStepInput(ctx context.Context, p *problem.Problem, step *StateStep, in StateStepInput) error {
	prevDefinition, wasStop := step.StateDefinitionID, step.IsStopState
	if in.StateDefinitionID != nil && !in.StateDefinitionID.IsZero() {
		_, err := s.store.GetStateDefinition(ctx, *in.StateDefinitionID)
		switch {
		case errors.Is(err, errors.ErrNotFound):
			p.Add("state_definition_id", "state definition does not exist")
		case err != nil:
			return err
		}
		step.StateDefinitionID = *in.StateDefinitionID
	}
	if in.Name != nil || step.Name == "" {
		step.Name = strings.TrimSpace(stringValue(in.Name))
		p.NotEmpty("name", step.Name, "name is required")
	}
	if in.IsStartState != nil {
		step.IsStartState = *in.IsStartState
	}
	if in.IsStopState != nil {
		step.IsStopState = *in.IsStopState
	}
	if in.IsDefault != nil {
		step.IsDefault = *in.IsDefault
	}
	if step.IsStartState && step.IsStopState {
		p.Add("is_stop_state", "a step cannot be both start and stop")
	}

	moved := !prevDefinition.IsZero() && step.StateDefinitionID != prevDefinition
	becameStop := !prevDefinition.IsZero() && step.IsStopState && !wasStop
	if !moved && !becameStop {
		return nil
	}
	transitions, err := s.store.ListTransitions(ctx, prevDefinition)
	if err != nil {
		return err
	}
	var touching, outgoing int
	for _, t := range transitions {
		if t.FromStepID == step.ID {
			outgoing++
		}
		if t.FromStepID == step.ID || t.ToStepID == step.ID {
			touching++
		}
	}
	if moved && touching > 0 {
		p.Add("state_definition_id", "a step with transitions cannot move to another state definition")
	}
	if becameStop && outgoing > 0 {
		p.Add("is_stop_state", "a stop step cannot have outgoing transitions")
	}
	return nil
}

func (s *Service) DeleteStep(ctx context.Context, actor auth.Principal, id types.ID) (*problem.Problem, error) {
	if err := permission.Gate(actor, adminGate); err != nil {
		return nil, err
	}
	return s.guardedDelete(ctx, "state step", id, s.store.StepReferences, s.store.DeleteStep)
}

// --- Transitions ---

func (s *Service) ListTransitions(ctx context.Context, stateDefinitionID types.ID) ([]StateTransition, error) {
	g, err := s.LoadGraph(ctx, stateDefinitionID)
	if err != nil {
		return nil, err
	}
	return g.Transitions, nil
}

func (s *Service) GetTransition(ctx context.Context, id types.ID) (*StateTransition, error) {
	return s.store.GetTransition(ctx, id)
}

func (s *Service) CreateTransition(ctx context.Context, actor auth.Principal, in StateTransitionInput) (problem.Result[*StateTransition], error) {
	if err := permission.Gate(actor, adminGate); err != nil {
		return problem.Result[*StateTransition]{}, err
	}
	now := s.now()
	t := &StateTransition{ID: types.NewID(), CreatedAt: now, UpdatedAt: now}
	p := problem.New()
	if in.FromStepID == nil || in.FromStepID.IsZero() {
		p.Add("from_step_id", "from step is required")
	}
	if in.ToStepID == nil || in.ToStepID.IsZero() {
		p.Add("to_step_id", "to step is required")
	}
	if err := s.applyTransitionInput(ctx, p, t, in); err != nil {
		return problem.Result[*StateTransition]{}, err
	}
	if p.Has() {
		return problem.Fail[*StateTransition](p), nil
	}
	if err := s.store.CreateTransition(ctx, t); err != nil {
		return problem.Result[*StateTransition]{}, err
	}
	return problem.Success(t), nil
}

func (s *Service) UpdateTransition(ctx context.Context, actor auth.Principal, id types.ID, in StateTransitionInput) (problem.Result[*StateTransition], error) {
	if err := permission.Gate(actor, adminGate); err != nil {
		return problem.Result[*StateTransition]{}, err
	}
	t, err := s.store.GetTransition(ctx, id)
	if errors.Is(err, errors.ErrNotFound) {
		return problem.Fail[*StateTransition](problem.NotFound()), nil
	}
	if err != nil {
		return problem.Result[*StateTransition]{}, err
	}
	p := problem.New()
	if err := s.applyTransitionInput(ctx, p, t, in); err != nil {
		return problem.Result[*StateTransition]{}, err
	}
	if p.Has() {
		return problem.Fail[*StateTransition](p), nil
	}
	t.UpdatedAt = s.now()
	if err := s.store.UpdateTransition(ctx, t); err != nil {
		return problem.Result[*StateTransition]{}, err
	}
	return problem.Success(t), nil
}

func (s *Service) applyTransitionInput(ctx context.Context, p *problem.Problem, t *StateTransition, in StateTransitionInput) error {
	if in.FromStepID != nil && !in.FromStepID.IsZero() {
		t.FromStepID = *in.FromStepID
	}
	if in.ToStepID != nil && !in.ToStepID.IsZero() {
		t.ToStepID = *in.ToStepID
	}

	var from, to *StateStep
	var err error
	if !t.FromStepID.IsZero() {
		if from, err = s.lookupStep(ctx, p, "from_step_id", t.FromStepID); err != nil {
			return err
		}
	}
	if !t.ToStepID.IsZero() {
		if to, err = s.lookupStep(ctx, p, "to_step_id", t.ToStepID); err != nil {
			return err
		}
	}
	if from != nil && to != nil && from.StateDefinitionID != to.StateDefinitionID {
		p.Add("to_step_id", "steps belong to different state definitions")
	}
	if from != nil && from.IsStopState {
		p.Add("from_step_id", "a stop step cannot have outgoing transitions")
	}

	if in.FormDefinition != nil {
		fd, err := ParseFormDefinition(in.FormDefinition)
		if err != nil {
			p.Add("form_definition", err.Error())
		} else {
			for k, v := range fd.Check() {
				p.Add("form_definition", k+": "+v)
			}
		}
		t.FormDefinition = normalizeJSON(in.FormDefinition)
	}
	return nil
}

func (s *Service) lookupStep(ctx context.Context, p *problem.Problem, field string, id types.ID) (*StateStep, error) {
	step, err := s.store.GetStep(ctx, id)
	if errors.Is(err, errors.ErrNotFound) {
		p.Add(field, "step does not exist")
		return nil, nil
	}
	return step, err
}

func (s *Service) DeleteTransition(ctx context.Context, actor auth.Principal, id types.ID) (*problem.Problem, error) {
	if err := permission.Gate(actor, adminGate); err != nil {
		return nil, err
	}
	return s.guardedDelete(ctx, "state transition", id, s.store.TransitionReferences, s.store.DeleteTransition)
}

// --- Case definitions ---

func (s *Service) ListCaseDefinitions(ctx context.Context, filter CaseDefinitionFilter) ([]CaseDefinition, error) {
	return s.store.ListCaseDefinitions(ctx, filter)
}

func (s *Service) GetCaseDefinition(ctx context.Context, id types.ID) (*CaseDefinition, error) {
	return s.store.GetCaseDefinition(ctx, id)
}

// CreateCaseDefinition creates a case definition. Activating it requires
// its state definition to pass Validate; a structural error is returned as
// an error, not a problem.
func (s *Service) CreateCaseDefinition(ctx context.Context, actor auth.Principal, in CaseDefinitionInput) (problem.Result[*CaseDefinition], error) {
	if err := permission.Gate(actor, adminGate); err != nil {
		return problem.Result[*CaseDefinition]{}, err
	}
	now := s.now()
	cd := &CaseDefinition{ID: types.NewID(), IsActive: true, CreatedAt: now, UpdatedAt: now}
	p := problem.New()
	if in.ReportTypeID == nil || in.ReportTypeID.IsZero() {
		p.Add("report_type_id", "report type is required")
	}
	if in.Condition == nil {
		p.Add("condition", "condition is required")
	}
	if err := s.applyCaseDefinitionInput(ctx, p, cd, in); err != nil {
		return problem.Result[*CaseDefinition]{}, err
	}
	if p.Has() {
		return problem.Fail[*CaseDefinition](p), nil
	}
	if err := s.activationGate(ctx, *cd); err != nil {
		return problem.Result[*CaseDefinition]{}, err
	}
	if err := s.store.CreateCaseDefinition(ctx, cd); err != nil {
		return problem.Result[*CaseDefinition]{}, err
	}
	s.log.Info().
		Str("case_definition_id", cd.ID.String()).
		Str("report_type_id", cd.ReportTypeID.String()).
		Bool("active", cd.IsActive).
		Msg("Case definition created")
	return problem.Success(cd), nil
}

func (s *Service) UpdateCaseDefinition(ctx context.Context, actor auth.Principal, id types.ID, in CaseDefinitionInput) (problem.Result[*CaseDefinition], error) {
	if err := permission.Gate(actor, adminGate); err != nil {
		return problem.Result[*CaseDefinition]{}, err
	}
	cd, err := s.store.GetCaseDefinition(ctx, id)
	if errors.Is(err, errors.ErrNotFound) {
		return problem.Fail[*CaseDefinition](problem.NotFound()), nil
	}
	if err != nil {
		return problem.Result[*CaseDefinition]{}, err
	}
	p := problem.New()
	if err := s.applyCaseDefinitionInput(ctx, p, cd, in); err != nil {
		return problem.Result[*CaseDefinition]{}, err
	}
	if p.Has() {
		return problem.Fail[*CaseDefinition](p), nil
	}
	if err := s.activationGate(ctx, *cd); err != nil {
		return problem.Result[*CaseDefinition]{}, err
	}
	cd.UpdatedAt = s.now()
	if err := s.store.UpdateCaseDefinition(ctx, cd); err != nil {
		return problem.Result[*CaseDefinition]{}, err
	}
	return problem.Success(cd), nil
}

func (s *Service) applyCaseDefinitionInput(ctx context.Context, p *problem.Problem, cd *CaseDefinition, in CaseDefinitionInput) error {
	if in.ReportTypeID != nil && !in.ReportTypeID.IsZero() {
		cd.ReportTypeID = *in.ReportTypeID
	}
	if in.Description != nil {
		cd.Description = strings.TrimSpace(*in.Description)
	}
	if in.Condition != nil {
		cd.Condition = strings.TrimSpace(*in.Condition)
		if _, err := CompileCondition(cd.Condition); err != nil {
			p.Add("condition", err.Error())
		}
	}
	if in.IsActive != nil {
		cd.IsActive = *in.IsActive
	}
	switch {
	case in.ClearStateDefinition:
		cd.StateDefinitionID = nil
	case in.StateDefinitionID != nil && !in.StateDefinitionID.IsZero():
		_, err := s.store.GetStateDefinition(ctx, *in.StateDefinitionID)
		switch {
		case errors.Is(err, errors.ErrNotFound):
			p.Add("state_definition_id", "state definition does not exist")
		case err != nil:
			return err
		}
		id := *in.StateDefinitionID
		cd.StateDefinitionID = &id
	}
	return nil
}

func (s *Service) activationGate(ctx context.Context, cd CaseDefinition) error {
	if !cd.IsActive {
		return nil
	}
	_, err := s.GraphFor(ctx, cd)
	return err
}

func (s *Service) DeleteCaseDefinition(ctx context.Context, actor auth.Principal, id types.ID) (*problem.Problem, error) {
	if err := permission.Gate(actor, adminGate); err != nil {
		return nil, err
	}
	return s.guardedDelete(ctx, "case definition", id, s.store.CaseDefinitionReferences, s.store.DeleteCaseDefinition)
}

// guardedDelete refuses to delete a record that is still referenced.
func (s *Service) guardedDelete(
	ctx context.Context,
	resource string,
	id types.ID,
	references func(context.Context, types.ID) (int, error),
	remove func(context.Context, types.ID) error,
) (*problem.Problem, error) {
	n, err := references(ctx, id)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return problem.WithMessage(resource + " is still in use"), nil
	}
	if err := remove(ctx, id); err != nil {
		return nil, err
	}
	s.log.Info().Str("resource", resource).Str("id", id.String()).Msg("Workflow record deleted")
	return nil, nil
}

func stringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func boolValue(p *bool) bool {
	return p != nil && *p
}

func normalizeJSON(raw json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	return json.RawMessage(trimmed)
}
