// Package problem implements the result shape returned by every create and
// update operation: either the stored entity or a list of field-level
// problems with an optional top-level message.
package problem

import (
	"sort"
	"strings"

	"github.com/opensur/platform/internal/shared/errors"
)

// MessageNotFound is the top-level message used when an update targets a
// missing record.
const MessageNotFound = "Object not found"

// FieldProblem is a validation failure scoped to one input field.
type FieldProblem struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Problem accumulates every validation failure found while handling one
// request.
type Problem struct {
	Message string         `json:"message,omitempty"`
	Fields  []FieldProblem `json:"fields"`
}

// New returns an empty problem collector.
func New() *Problem {
	return &Problem{Fields: []FieldProblem{}}
}

// NotFound returns the problem used when an update or lookup misses.
func NotFound() *Problem {
	return &Problem{Message: MessageNotFound, Fields: []FieldProblem{}}
}

// WithMessage returns a problem carrying only a top-level message.
func WithMessage(message string) *Problem {
	return &Problem{Message: message, Fields: []FieldProblem{}}
}

// Add appends a field problem.
func (p *Problem) Add(name, message string) *Problem {
	p.Fields = append(p.Fields, FieldProblem{Name: name, Message: message})
	return p
}

// NotEmpty records a problem when value is blank.
func (p *Problem) NotEmpty(name, value, message string) *Problem {
	if strings.TrimSpace(value) == "" {
		p.Add(name, message)
	}
	return p
}

// Duplicate records the standard uniqueness problem for name when exists is
// true.
func (p *Problem) Duplicate(name string, exists bool) *Problem {
	if exists {
		p.Add(name, "duplicate "+strings.ReplaceAll(name, "_", " "))
	}
	return p
}

// Has reports whether anything was recorded.
func (p *Problem) Has() bool {
	return p != nil && (len(p.Fields) > 0 || p.Message != "")
}

// Field returns the first message recorded for name.
func (p *Problem) Field(name string) (string, bool) {
	if p == nil {
		return "", false
	}
	for _, f := range p.Fields {
		if f.Name == name {
			return f.Message, true
		}
	}
	return "", false
}

func (p *Problem) Error() string {
	parts := make([]string, 0, len(p.Fields)+1)
	if p.Message != "" {
		parts = append(parts, p.Message)
	}
	for _, f := range p.Fields {
		parts = append(parts, f.Name+": "+f.Message)
	}
	return strings.Join(parts, "; ")
}

// Result is the success-or-problem union returned by mutations.
type Result[T any] struct {
	Value   T
	Problem *Problem
}

// Success wraps a stored value.
func Success[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Fail wraps a problem.
func Fail[T any](p *Problem) Result[T] {
	return Result[T]{Problem: p}
}

// OK reports whether the result is a success.
func (r Result[T]) OK() bool {
	return !r.Problem.Has()
}

// FromError folds the recoverable error kinds into a Problem. Permission,
// structural, concurrency and infrastructure errors are returned unchanged so
// they propagate to the transport as hard failures.
func FromError(err error) (*Problem, error) {
	if err == nil {
		return nil, nil
	}
	var appErr *errors.AppError
	if !errors.As(err, &appErr) {
		return nil, err
	}
	switch {
	case errors.Is(err, errors.ErrNotFound):
		return NotFound(), nil
	case errors.Is(err, errors.ErrValidation),
		errors.Is(err, errors.ErrFormValidation),
		errors.Is(err, errors.ErrInvalidTransition),
		errors.Is(err, errors.ErrNoMatchingDefinition):
		p := WithMessage(appErr.Message)
		keys := make([]string, 0, len(appErr.Details))
		for k := range appErr.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			p.Add(k, appErr.Details[k])
		}
		return p, nil
	default:
		return nil, err
	}
}
