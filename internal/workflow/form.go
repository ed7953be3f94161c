package workflow

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Form field types.
const (
	FieldText    = "text"
	FieldNumber  = "number"
	FieldBoolean = "boolean"
	FieldSelect  = "select"
)

// FormField describes one input collected when a transition is taken.
type FormField struct {
	Name     string   `json:"name"`
	Label    string   `json:"label,omitempty"`
	Type     string   `json:"type"`
	Required bool     `json:"required,omitempty"`
	Options  []string `json:"options,omitempty"`
}

// FormDefinition is the parsed form attached to a transition. Keys other
// than "fields" are kept by the stored JSON but carry no constraints.
type FormDefinition struct {
	Fields []FormField `json:"fields"`
}

// ParseFormDefinition parses raw JSON. Empty input yields an empty form that
// accepts anything.
func ParseFormDefinition(raw json.RawMessage) (*FormDefinition, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return &FormDefinition{}, nil
	}
	if !strings.HasPrefix(trimmed, "{") {
		return nil, fmt.Errorf("form definition must be a JSON object")
	}
	var fd FormDefinition
	if err := json.Unmarshal(raw, &fd); err != nil {
		return nil, fmt.Errorf("form definition is not valid: %w", err)
	}
	return &fd, nil
}

// Check reports definition errors keyed by field position.
func (fd *FormDefinition) Check() map[string]string {
	problems := make(map[string]string)
	seen := make(map[string]bool)
	for i, f := range fd.Fields {
		key := fmt.Sprintf("fields[%d]", i)
		switch {
		case strings.TrimSpace(f.Name) == "":
			problems[key] = "name is required"
		case seen[f.Name]:
			problems[key] = fmt.Sprintf("duplicate field %q", f.Name)
		}
		seen[f.Name] = true

		switch f.Type {
		case FieldText, FieldNumber, FieldBoolean:
		case FieldSelect:
			if len(f.Options) == 0 {
				problems[key] = "select fields need options"
			}
		default:
			problems[key] = fmt.Sprintf("unknown type %q", f.Type)
		}
	}
	return problems
}

// Validate checks data against the form. It returns one message per failing
// field; unknown keys in data are accepted.
func (fd *FormDefinition) Validate(data map[string]any) map[string]string {
	problems := make(map[string]string)
	for _, f := range fd.Fields {
		v, present := data[f.Name]
		if !present || v == nil || v == "" {
			if f.Required {
				problems[f.Name] = "this field is required"
			}
			continue
		}
		if msg := checkType(f, v); msg != "" {
			problems[f.Name] = msg
		}
	}
	return problems
}

func checkType(f FormField, v any) string {
	switch f.Type {
	case FieldText:
		if _, ok := v.(string); !ok {
			return "must be text"
		}
	case FieldNumber:
		switch v.(type) {
		case float64, float32, int, int32, int64, json.Number:
		default:
			return "must be a number"
		}
	case FieldBoolean:
		if _, ok := v.(bool); !ok {
			return "must be true or false"
		}
	case FieldSelect:
		s, ok := v.(string)
		if !ok {
			return "must be one of the options"
		}
		for _, o := range f.Options {
			if o == s {
				return ""
			}
		}
		return "must be one of the options"
	}
	return ""
}
