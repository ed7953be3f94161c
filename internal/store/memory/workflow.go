package memory

import (
	"context"
	"sort"
	"time"

	"github.com/opensur/platform/internal/shared/errors"
	"github.com/opensur/platform/internal/shared/types"
	"github.com/opensur/platform/internal/workflow"
)

// --- State definitions ---

func (s *Store) ListStateDefinitions(_ context.Context) ([]workflow.StateDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]workflow.StateDefinition, 0, len(s.stateDefinitions))
	for _, d := range s.stateDefinitions {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) GetStateDefinition(_ context.Context, id types.ID) (*workflow.StateDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.stateDefinitions[id]
	if !ok {
		return nil, errors.NotFound("state definition", id.String())
	}
	return &d, nil
}

func (s *Store) GetDefaultStateDefinition(_ context.Context) (*workflow.StateDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.stateDefinitions {
		if d.IsDefault {
			return &d, nil
		}
	}
	return nil, errors.NotFound("state definition", "default")
}

func (s *Store) putStateDefinitionLocked(d workflow.StateDefinition) {
	if d.IsDefault {
		for id, other := range s.stateDefinitions {
			if id != d.ID && other.IsDefault {
				other.IsDefault = false
				other.UpdatedAt = d.UpdatedAt
				s.stateDefinitions[id] = other
			}
		}
	}
	s.stateDefinitions[d.ID] = d
}

func (s *Store) CreateStateDefinition(_ context.Context, d *workflow.StateDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putStateDefinitionLocked(*d)
	return nil
}

func (s *Store) UpdateStateDefinition(_ context.Context, d *workflow.StateDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stateDefinitions[d.ID]; !ok {
		return errors.NotFound("state definition", d.ID.String())
	}
	s.putStateDefinitionLocked(*d)
	return nil
}

func (s *Store) DeleteStateDefinition(_ context.Context, id types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stateDefinitions[id]; !ok {
		return errors.NotFound("state definition", id.String())
	}
	if s.stateDefinitionRefsLocked(id) > 0 {
		return errors.Conflict("state definition is still referenced")
	}
	delete(s.stateDefinitions, id)
	return nil
}

func (s *Store) stateDefinitionRefsLocked(id types.ID) int {
	n := 0
	for _, st := range s.steps {
		if st.StateDefinitionID == id {
			n++
		}
	}
	for _, cd := range s.caseDefinitions {
		if cd.StateDefinitionID != nil && *cd.StateDefinitionID == id {
			n++
		}
	}
	for _, c := range s.cases {
		if c.StateDefinitionID == id {
			n++
		}
	}
	return n
}

func (s *Store) StateDefinitionReferences(_ context.Context, id types.ID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateDefinitionRefsLocked(id), nil
}

// --- Steps ---

func (s *Store) ListSteps(_ context.Context, stateDefinitionID types.ID) ([]workflow.StateStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []workflow.StateStep
	for _, st := range s.steps {
		if st.StateDefinitionID == stateDefinitionID {
			out = append(out, st)
		}
	}
	byCreated(out, func(st workflow.StateStep) (time.Time, types.ID) { return st.CreatedAt, st.ID })
	return out, nil
}

func (s *Store) GetStep(_ context.Context, id types.ID) (*workflow.StateStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.steps[id]
	if !ok {
		return nil, errors.NotFound("state step", id.String())
	}
	return &st, nil
}

func (s *Store) CreateStep(_ context.Context, st *workflow.StateStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stateDefinitions[st.StateDefinitionID]; !ok {
		return errors.Validation("state definition does not exist",
			map[string]string{"state_definition_id": "state definition does not exist"})
	}
	s.steps[st.ID] = *st
	return nil
}

func (s *Store) UpdateStep(_ context.Context, st *workflow.StateStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.steps[st.ID]; !ok {
		return errors.NotFound("state step", st.ID.String())
	}
	s.steps[st.ID] = *st
	return nil
}

func (s *Store) DeleteStep(_ context.Context, id types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.steps[id]; !ok {
		return errors.NotFound("state step", id.String())
	}
	if s.stepRefsLocked(id) > 0 {
		return errors.Conflict("state step is still referenced")
	}
	delete(s.steps, id)
	return nil
}

func (s *Store) stepRefsLocked(id types.ID) int {
	n := 0
	for _, t := range s.transitions {
		if t.FromStepID == id || t.ToStepID == id {
			n++
		}
	}
	for _, states := range s.states {
		for _, cs := range states {
			if cs.StepID == id {
				n++
			}
		}
	}
	return n
}

func (s *Store) StepReferences(_ context.Context, id types.ID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stepRefsLocked(id), nil
}

// --- Transitions ---

func cloneTransition(t workflow.StateTransition) workflow.StateTransition {
	if t.FormDefinition != nil {
		t.FormDefinition = append([]byte(nil), t.FormDefinition...)
	}
	return t
}

func (s *Store) ListTransitions(_ context.Context, stateDefinitionID types.ID) ([]workflow.StateTransition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inDefinition := func(stepID types.ID) bool {
		st, ok := s.steps[stepID]
		return ok && st.StateDefinitionID == stateDefinitionID
	}
	var out []workflow.StateTransition
	for _, t := range s.transitions {
		if inDefinition(t.FromStepID) || inDefinition(t.ToStepID) {
			out = append(out, cloneTransition(t))
		}
	}
	byCreated(out, func(t workflow.StateTransition) (time.Time, types.ID) { return t.CreatedAt, t.ID })
	return out, nil
}

func (s *Store) GetTransition(_ context.Context, id types.ID) (*workflow.StateTransition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transitions[id]
	if !ok {
		return nil, errors.NotFound("state transition", id.String())
	}
	t = cloneTransition(t)
	return &t, nil
}

func (s *Store) CreateTransition(_ context.Context, t *workflow.StateTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions[t.ID] = cloneTransition(*t)
	return nil
}

func (s *Store) UpdateTransition(_ context.Context, t *workflow.StateTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transitions[t.ID]; !ok {
		return errors.NotFound("state transition", t.ID.String())
	}
	s.transitions[t.ID] = cloneTransition(*t)
	return nil
}

func (s *Store) DeleteTransition(_ context.Context, id types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transitions[id]; !ok {
		return errors.NotFound("state transition", id.String())
	}
	if s.transitionRefsLocked(id) > 0 {
		return errors.Conflict("state transition is still referenced")
	}
	delete(s.transitions, id)
	return nil
}

func (s *Store) transitionRefsLocked(id types.ID) int {
	n := 0
	for _, records := range s.records {
		for _, rec := range records {
			if rec.TransitionID == id {
				n++
			}
		}
	}
	for _, states := range s.states {
		for _, cs := range states {
			if cs.TransitionID != nil && *cs.TransitionID == id {
				n++
			}
		}
	}
	for _, tpl := range s.templates {
		if tpl.StateTransitionID == id {
			n++
		}
	}
	return n
}

func (s *Store) TransitionReferences(_ context.Context, id types.ID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transitionRefsLocked(id), nil
}

// --- Case definitions ---

func cloneCaseDefinition(d workflow.CaseDefinition) workflow.CaseDefinition {
	d.StateDefinitionID = cloneID(d.StateDefinitionID)
	return d
}

func (s *Store) ListCaseDefinitions(_ context.Context, filter workflow.CaseDefinitionFilter) ([]workflow.CaseDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []workflow.CaseDefinition
	for _, d := range s.caseDefinitions {
		if filter.ReportTypeID != nil && d.ReportTypeID != *filter.ReportTypeID {
			continue
		}
		if filter.ActiveOnly && !d.IsActive {
			continue
		}
		out = append(out, cloneCaseDefinition(d))
	}
	byCreated(out, func(d workflow.CaseDefinition) (time.Time, types.ID) { return d.CreatedAt, d.ID })
	return out, nil
}

func (s *Store) GetCaseDefinition(_ context.Context, id types.ID) (*workflow.CaseDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.caseDefinitions[id]
	if !ok {
		return nil, errors.NotFound("case definition", id.String())
	}
	d = cloneCaseDefinition(d)
	return &d, nil
}

func (s *Store) CreateCaseDefinition(_ context.Context, d *workflow.CaseDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caseDefinitions[d.ID] = cloneCaseDefinition(*d)
	return nil
}

func (s *Store) UpdateCaseDefinition(_ context.Context, d *workflow.CaseDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.caseDefinitions[d.ID]; !ok {
		return errors.NotFound("case definition", d.ID.String())
	}
	s.caseDefinitions[d.ID] = cloneCaseDefinition(*d)
	return nil
}

func (s *Store) DeleteCaseDefinition(_ context.Context, id types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.caseDefinitions[id]; !ok {
		return errors.NotFound("case definition", id.String())
	}
	if s.caseDefinitionRefsLocked(id) > 0 {
		return errors.Conflict("case definition is still referenced")
	}
	delete(s.caseDefinitions, id)
	return nil
}

func (s *Store) caseDefinitionRefsLocked(id types.ID) int {
	n := 0
	for _, c := range s.cases {
		if c.CaseDefinitionID == id {
			n++
		}
	}
	return n
}

func (s *Store) CaseDefinitionReferences(_ context.Context, id types.ID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caseDefinitionRefsLocked(id), nil
}
