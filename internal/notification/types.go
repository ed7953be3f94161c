// Package notification stores notification templates bound to state
// transitions, per-authority destination overrides, and dispatches rendered
// messages when a case transition commits.
package notification

import (
	"time"

	"github.com/opensur/platform/internal/shared/types"
)

// Type is the delivery channel of a template
type Type string

const (
	TypePush  Type = "push"
	TypeSMS   Type = "sms"
	TypeEmail Type = "email"
	TypeInApp Type = "in_app"
)

// Valid reports whether t is a known channel.
func (t Type) Valid() bool {
	switch t {
	case TypePush, TypeSMS, TypeEmail, TypeInApp:
		return true
	}
	return false
}

// Template is rendered when its transition is taken. A template naming a
// report type only fires for cases of that type.
type Template struct {
	ID                types.ID  `json:"id"`
	Name              string    `json:"name"`
	Type              Type      `json:"type"`
	StateTransitionID types.ID  `json:"state_transition_id"`
	ReportTypeID      *types.ID `json:"report_type_id,omitempty"`
	TitleTemplate     string    `json:"title_template"`
	BodyTemplate      string    `json:"body_template"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// AppliesTo reports whether the template fires for a case of reportTypeID.
func (t Template) AppliesTo(reportTypeID types.ID) bool {
	return t.ReportTypeID == nil || t.ReportTypeID.IsZero() || *t.ReportTypeID == reportTypeID
}

// AuthorityNotification is an authority's destination for one template.
// There is at most one per (authority, template).
type AuthorityNotification struct {
	ID          types.ID  `json:"id"`
	AuthorityID types.ID  `json:"authority_id"`
	TemplateID  types.ID  `json:"template_id"`
	To          string    `json:"to"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TemplateView is a template with the viewing authority's destination.
type TemplateView struct {
	Template
	To string `json:"to"`
}

// TemplateFilter narrows ListTemplates.
type TemplateFilter struct {
	StateTransitionID *types.ID
}

// Message is a rendered notification handed to a Sender.
type Message struct {
	Type        Type     `json:"type"`
	To          string   `json:"to"`
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	CaseID      types.ID `json:"case_id"`
	AuthorityID types.ID `json:"authority_id"`
	TemplateID  types.ID `json:"template_id"`
}

// --- Inputs ---

type TemplateInput struct {
	Name              *string   `json:"name"`
	Type              *Type     `json:"type"`
	StateTransitionID *types.ID `json:"state_transition_id"`
	ReportTypeID      *types.ID `json:"report_type_id"`
	TitleTemplate     *string   `json:"title_template"`
	BodyTemplate      *string   `json:"body_template"`
}

type AuthorityNotificationInput struct {
	// AuthorityID defaults to the caller's authority.
	AuthorityID *types.ID `json:"authority_id"`
	TemplateID  *types.ID `json:"template_id"`
	To          *string   `json:"to"`
}
