package workflow

import (
	"fmt"
	"sort"

	"github.com/opensur/platform/internal/shared/errors"
	"github.com/opensur/platform/internal/shared/types"
)

// Mode selects how Validate treats non-stop steps without outgoing
// transitions.
type Mode int

const (
	// Strict makes dead-end steps a structural error.
	Strict Mode = iota
	// Lenient reports dead-end steps as warnings.
	Lenient
)

// ModeFor maps the strict-dead-ends setting to a Mode.
func ModeFor(strictDeadEnds bool) Mode {
	if strictDeadEnds {
		return Strict
	}
	return Lenient
}

// Graph is a state definition together with its steps and transitions.
type Graph struct {
	Definition  StateDefinition
	Steps       []StateStep
	Transitions []StateTransition

	steps       map[types.ID]StateStep
	transitions map[types.ID]StateTransition
	outgoing    map[types.ID][]StateTransition
}

// NewGraph indexes a definition. Transitions are ordered by creation time
// then id.
func NewGraph(def StateDefinition, steps []StateStep, transitions []StateTransition) *Graph {
	g := &Graph{
		Definition:  def,
		Steps:       steps,
		Transitions: append([]StateTransition(nil), transitions...),
		steps:       make(map[types.ID]StateStep, len(steps)),
		transitions: make(map[types.ID]StateTransition, len(transitions)),
		outgoing:    make(map[types.ID][]StateTransition),
	}
	sort.SliceStable(g.Transitions, func(i, j int) bool {
		a, b := g.Transitions[i], g.Transitions[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	for _, s := range steps {
		g.steps[s.ID] = s
	}
	for _, t := range g.Transitions {
		g.transitions[t.ID] = t
		g.outgoing[t.FromStepID] = append(g.outgoing[t.FromStepID], t)
	}
	return g
}

// Step returns the step with id when it belongs to this definition.
func (g *Graph) Step(id types.ID) (StateStep, bool) {
	s, ok := g.steps[id]
	return s, ok
}

// Transition returns the transition with id when it belongs to this
// definition.
func (g *Graph) Transition(id types.ID) (StateTransition, bool) {
	t, ok := g.transitions[id]
	if !ok {
		return StateTransition{}, false
	}
	if _, from := g.steps[t.FromStepID]; !from {
		return StateTransition{}, false
	}
	return t, true
}

// LegalTransitionsFrom returns the transitions leaving stepID.
func (g *Graph) LegalTransitionsFrom(stepID types.ID) []StateTransition {
	return append([]StateTransition(nil), g.outgoing[stepID]...)
}

// EntryStep returns the step new cases start in: the step flagged as
// default, otherwise the only start step.
func (g *Graph) EntryStep() (StateStep, error) {
	var defaults, starts []StateStep
	for _, s := range g.Steps {
		if s.IsDefault {
			defaults = append(defaults, s)
		}
		if s.IsStartState {
			starts = append(starts, s)
		}
	}
	switch {
	case len(defaults) == 1:
		return defaults[0], nil
	case len(defaults) > 1:
		return StateStep{}, errors.Structural("state definition has no entry step", map[string]string{
			"entry": fmt.Sprintf("%d steps are flagged as default", len(defaults)),
		})
	case len(starts) == 1:
		return starts[0], nil
	default:
		return StateStep{}, errors.Structural("state definition has no entry step", map[string]string{
			"entry": fmt.Sprintf("no default step and %d start steps", len(starts)),
		})
	}
}

// Validate checks the graph and returns warnings. Every violated rule is
// collected into one structural error.
func Validate(g *Graph, mode Mode) ([]string, error) {
	details := make(map[string]string)
	var warnings []string

	var starts, stops int
	for _, s := range g.Steps {
		if s.IsStartState {
			starts++
		}
		if s.IsStopState {
			stops++
		}
		if s.IsStartState && s.IsStopState {
			details["step:"+s.ID.String()] = fmt.Sprintf("step %q is both start and stop", s.Name)
		}
		if s.IsStopState && len(g.outgoing[s.ID]) > 0 {
			details["stop:"+s.ID.String()] = fmt.Sprintf("stop step %q has outgoing transitions", s.Name)
		}
	}
	if starts == 0 {
		details["start"] = "no start step"
	}
	if stops == 0 {
		details["stop"] = "no stop step"
	}

	for _, t := range g.Transitions {
		_, fromOK := g.steps[t.FromStepID]
		_, toOK := g.steps[t.ToStepID]
		if !fromOK || !toOK {
			details["transition:"+t.ID.String()] = "references a step outside the definition"
		}
	}

	if _, err := g.EntryStep(); err != nil {
		var appErr *errors.AppError
		if errors.As(err, &appErr) {
			for k, v := range appErr.Details {
				details[k] = v
			}
		}
	}

	for _, s := range g.Steps {
		if s.IsStopState || len(g.outgoing[s.ID]) > 0 {
			continue
		}
		msg := fmt.Sprintf("step %q has no outgoing transitions", s.Name)
		if mode == Strict {
			details["dead_end:"+s.ID.String()] = msg
		} else {
			warnings = append(warnings, msg)
		}
	}
	sort.Strings(warnings)

	if len(details) > 0 {
		return warnings, errors.Structural(
			fmt.Sprintf("state definition %q is not valid", g.Definition.Name), details)
	}
	return warnings, nil
}
