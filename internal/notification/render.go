package notification

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/opensur/platform/internal/shared/types"
)

// RenderData is what title and body templates see.
//
//	Case {{.CaseID}} moved to {{.ToStepID}}: {{index .FormData "reason"}}
type RenderData struct {
	CaseID       types.ID
	TransitionID types.ID
	FromStepID   types.ID
	ToStepID     types.ID
	ReportTypeID types.ID
	AuthorityID  types.ID
	FormData     map[string]any
	IsFinished   bool
	OccurredAt   time.Time
}

func parseTemplate(name, src string) (*template.Template, error) {
	return template.New(name).Option("missingkey=zero").Parse(src)
}

func render(name, src string, data RenderData) (string, error) {
	tmpl, err := parseTemplate(name, src)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.String(), nil
}

// Render produces the message t yields for data.
func (t Template) Render(to string, data RenderData) (Message, error) {
	title, err := render("title", t.TitleTemplate, data)
	if err != nil {
		return Message{}, err
	}
	body, err := render("body", t.BodyTemplate, data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:        t.Type,
		To:          to,
		Title:       title,
		Body:        body,
		CaseID:      data.CaseID,
		AuthorityID: data.AuthorityID,
		TemplateID:  t.ID,
	}, nil
}
