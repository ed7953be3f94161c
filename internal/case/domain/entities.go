package domain

import (
	"time"

	"github.com/opensur/platform/internal/shared/types"
)

// Report is a submitted incident owned by the reporting module. Promotion
// reads it and stamps CaseID.
type Report struct {
	ID                   types.ID       `json:"id"`
	ReportTypeID         types.ID       `json:"report_type_id"`
	Data                 map[string]any `json:"data"`
	RelevantAuthorityIDs []types.ID     `json:"relevant_authority_ids"`
	ReportedBy           *types.ID      `json:"reported_by,omitempty"`
	CaseID               *types.ID      `json:"case_id,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
}

// Promoted reports whether a case already exists for the report.
func (r Report) Promoted() bool {
	return r.CaseID != nil && !r.CaseID.IsZero()
}

// CaseState is one entry of a case's append-only history. TransitionID is
// nil for the initial state.
type CaseState struct {
	ID           types.ID  `json:"id"`
	CaseID       types.ID  `json:"case_id"`
	StepID       types.ID  `json:"step_id"`
	TransitionID *types.ID `json:"transition_id,omitempty"`
	Seq          int       `json:"seq"`
	CreatedAt    time.Time `json:"created_at"`
}

// CaseStateTransition records who took a transition and the form data they
// submitted. StateID is the state it produced.
type CaseStateTransition struct {
	ID           types.ID       `json:"id"`
	CaseID       types.ID       `json:"case_id"`
	TransitionID types.ID       `json:"transition_id"`
	StateID      types.ID       `json:"state_id"`
	FormData     map[string]any `json:"form_data"`
	CreatedBy    types.ID       `json:"created_by"`
	CreatedAt    time.Time      `json:"created_at"`
}

// TransitionTrigger is emitted after a transition commits.
type TransitionTrigger struct {
	CaseID       types.ID       `json:"case_id"`
	TransitionID types.ID       `json:"transition_id"`
	FromStepID   types.ID       `json:"from_step_id"`
	ToStepID     types.ID       `json:"to_step_id"`
	ReportTypeID types.ID       `json:"report_type_id"`
	Authorities  []types.ID     `json:"authorities"`
	FormData     map[string]any `json:"form_data"`
	IsFinished   bool           `json:"is_finished"`
	ActorID      types.ID       `json:"actor_id"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// EventStateForwarded is the bus event type carrying a TransitionTrigger.
const EventStateForwarded = "case.state_forwarded"

// EventPromoted is published when a report becomes a case.
const EventPromoted = "case.promoted"

// HistoryEntry pairs a state with the transition record that produced it.
type HistoryEntry struct {
	State  CaseState            `json:"state"`
	Record *CaseStateTransition `json:"record,omitempty"`
}
