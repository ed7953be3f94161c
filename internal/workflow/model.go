// Package workflow holds state machine definitions: steps, transitions
// between them, and the case definitions that bind a report type to a
// state machine.
package workflow

import (
	"encoding/json"
	"time"

	"github.com/opensur/platform/internal/shared/types"
)

// StateDefinition names a state machine. At most one definition is the
// default, used by case definitions that do not name their own.
type StateDefinition struct {
	ID        types.ID  `json:"id"`
	Name      string    `json:"name"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StateStep is a node of a state machine. IsDefault marks the entry step a
// new case starts in.
type StateStep struct {
	ID                types.ID  `json:"id"`
	StateDefinitionID types.ID  `json:"state_definition_id"`
	Name              string    `json:"name"`
	IsStartState      bool      `json:"is_start_state"`
	IsStopState       bool      `json:"is_stop_state"`
	IsDefault         bool      `json:"is_default"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// StateTransition is a directed edge between two steps of one definition.
type StateTransition struct {
	ID             types.ID        `json:"id"`
	FromStepID     types.ID        `json:"from_step_id"`
	ToStepID       types.ID        `json:"to_step_id"`
	FormDefinition json.RawMessage `json:"form_definition,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Form parses the transition's form definition.
func (t StateTransition) Form() (*FormDefinition, error) {
	return ParseFormDefinition(t.FormDefinition)
}

// CaseDefinition promotes reports of one type whose data satisfies
// Condition into cases driven by a state definition.
type CaseDefinition struct {
	ID                types.ID  `json:"id"`
	ReportTypeID      types.ID  `json:"report_type_id"`
	Description       string    `json:"description"`
	Condition         string    `json:"condition"`
	IsActive          bool      `json:"is_active"`
	StateDefinitionID *types.ID `json:"state_definition_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// CaseDefinitionFilter narrows ListCaseDefinitions.
type CaseDefinitionFilter struct {
	ReportTypeID *types.ID
	ActiveOnly   bool
}

// --- Inputs ---

type StateDefinitionInput struct {
	Name      *string `json:"name"`
	IsDefault *bool   `json:"is_default"`
}

type StateStepInput struct {
	StateDefinitionID *types.ID `json:"state_definition_id"`
	Name              *string   `json:"name"`
	IsStartState      *bool     `json:"is_start_state"`
	IsStopState       *bool     `json:"is_stop_state"`
	IsDefault         *bool     `json:"is_default"`
}

type StateTransitionInput struct {
	FromStepID     *types.ID       `json:"from_step_id"`
	ToStepID       *types.ID       `json:"to_step_id"`
	FormDefinition json.RawMessage `json:"form_definition"`
}

type CaseDefinitionInput struct {
	ReportTypeID      *types.ID `json:"report_type_id"`
	Description       *string   `json:"description"`
	Condition         *string   `json:"condition"`
	IsActive          *bool     `json:"is_active"`
	StateDefinitionID *types.ID `json:"state_definition_id"`
	// ClearStateDefinition falls back to the default definition on update.
	ClearStateDefinition bool `json:"clear_state_definition"`
}
