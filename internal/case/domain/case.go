package domain

import (
	"time"

	"github.com/opensur/platform/internal/shared/errors"
	"github.com/opensur/platform/internal/shared/types"
	"github.com/opensur/platform/internal/workflow"
)

// Case is the aggregate root for a promoted report moving through a state
// machine. CurrentStateID and CurrentStepID cache the head of the history.
type Case struct {
	ID                types.ID   `json:"id"`
	ReportID          types.ID   `json:"report_id"`
	ReportTypeID      types.ID   `json:"report_type_id"`
	CaseDefinitionID  types.ID   `json:"case_definition_id"`
	StateDefinitionID types.ID   `json:"state_definition_id"`
	Description       string     `json:"description"`
	Authorities       []types.ID `json:"authorities"`
	IsFinished        bool       `json:"is_finished"`
	CurrentStateID    types.ID   `json:"current_state_id"`
	CurrentStepID     types.ID   `json:"current_step_id"`
	Version           int64      `json:"version"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`

	// Seq is the sequence number of the current state.
	Seq int `json:"-"`
}

// NewCase opens a case for report under cd, starting at the graph's entry
// step. It returns the case and its initial state.
func NewCase(report Report, cd workflow.CaseDefinition, g *workflow.Graph, now time.Time) (*Case, CaseState, error) {
	if report.Promoted() {
		return nil, CaseState{}, errors.Validation("report already has a case", map[string]string{
			"report_id": "report has already been promoted",
		})
	}
	entry, err := g.EntryStep()
	if err != nil {
		return nil, CaseState{}, err
	}

	c := &Case{
		ID:                types.NewID(),
		ReportID:          report.ID,
		ReportTypeID:      report.ReportTypeID,
		CaseDefinitionID:  cd.ID,
		StateDefinitionID: g.Definition.ID,
		Description:       cd.Description,
		Authorities:       dedupe(report.RelevantAuthorityIDs),
		IsFinished:        entry.IsStopState,
		CurrentStepID:     entry.ID,
		Version:           1,
		Seq:               1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	initial := CaseState{
		ID:        types.NewID(),
		CaseID:    c.ID,
		StepID:    entry.ID,
		Seq:       1,
		CreatedAt: now,
	}
	c.CurrentStateID = initial.ID
	return c, initial, nil
}

// CurrentStep returns the step the case is in.
func (c *Case) CurrentStep() types.ID {
	return c.CurrentStepID
}

// Advance is everything one applied transition produces. ExpectedVersion is
// the version the case had when it was loaded.
type Advance struct {
	State           CaseState           `json:"state"`
	Record          CaseStateTransition `json:"record"`
	Trigger         TransitionTrigger   `json:"trigger"`
	ExpectedVersion int64               `json:"-"`
}

// ApplyTransition moves the case along transitionID. g must be the graph of
// the case's state definition. The case is mutated only on success.
func (c *Case) ApplyTransition(g *workflow.Graph, transitionID types.ID, formData map[string]any, actorID types.ID, now time.Time) (*Advance, error) {
	if c.IsFinished {
		return nil, errors.InvalidTransition("case is finished")
	}
	if g.Definition.ID != c.StateDefinitionID {
		return nil, errors.InvalidTransition("state definition does not match the case")
	}
	t, ok := g.Transition(transitionID)
	if !ok {
		return nil, errors.InvalidTransition("transition does not belong to the case's state definition")
	}
	if t.FromStepID != c.CurrentStepID {
		return nil, errors.InvalidTransition("transition does not start at the current step")
	}
	to, ok := g.Step(t.ToStepID)
	if !ok {
		return nil, errors.Structural("transition leads outside the state definition", map[string]string{
			"transition:" + t.ID.String(): "references a step outside the definition",
		})
	}

	form, err := t.Form()
	if err != nil {
		return nil, errors.Structural("transition form definition is not valid", map[string]string{
			"form_definition": err.Error(),
		})
	}
	if formData == nil {
		formData = map[string]any{}
	}
	if problems := form.Validate(formData); len(problems) > 0 {
		return nil, errors.FormValidation(problems)
	}

	state := CaseState{
		ID:           types.NewID(),
		CaseID:       c.ID,
		StepID:       to.ID,
		TransitionID: &t.ID,
		Seq:          c.Seq + 1,
		CreatedAt:    now,
	}
	adv := &Advance{
		State: state,
		Record: CaseStateTransition{
			ID:           types.NewID(),
			CaseID:       c.ID,
			TransitionID: t.ID,
			StateID:      state.ID,
			FormData:     formData,
			CreatedBy:    actorID,
			CreatedAt:    now,
		},
		Trigger: TransitionTrigger{
			CaseID:       c.ID,
			TransitionID: t.ID,
			FromStepID:   t.FromStepID,
			ToStepID:     to.ID,
			ReportTypeID: c.ReportTypeID,
			Authorities:  append([]types.ID(nil), c.Authorities...),
			FormData:     formData,
			IsFinished:   to.IsStopState,
			ActorID:      actorID,
			OccurredAt:   now,
		},
		ExpectedVersion: c.Version,
	}

	c.CurrentStateID = state.ID
	c.CurrentStepID = to.ID
	c.IsFinished = to.IsStopState
	c.Seq = state.Seq
	c.Version++
	c.UpdatedAt = now
	return adv, nil
}

func dedupe(ids []types.ID) []types.ID {
	return types.NewIDSet(ids...).Sorted()
}
