package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensur/platform/internal/shared/errors"
	"github.com/opensur/platform/internal/shared/types"
	"github.com/opensur/platform/internal/workflow"
)

type fixture struct {
	graph   *workflow.Graph
	cd      workflow.CaseDefinition
	a, b, c workflow.StateStep
	ab, bc  workflow.StateTransition
	report  Report
}

func newFixture() fixture {
	def := workflow.StateDefinition{ID: types.NewID(), Name: "outbreak"}
	step := func(name string, start, stop bool) workflow.StateStep {
		return workflow.StateStep{ID: types.NewID(), StateDefinitionID: def.ID, Name: name, IsStartState: start, IsStopState: stop}
	}
	f := fixture{
		a: step("reported", true, false),
		b: step("investigating", false, false),
		c: step("closed", false, true),
	}
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	f.ab = workflow.StateTransition{ID: types.NewID(), FromStepID: f.a.ID, ToStepID: f.b.ID, CreatedAt: base}
	f.bc = workflow.StateTransition{
		ID: types.NewID(), FromStepID: f.b.ID, ToStepID: f.c.ID, CreatedAt: base.Add(time.Minute),
		FormDefinition: json.RawMessage(`{"fields":[{"name":"outcome","type":"select","required":true,"options":["positive","negative"]}]}`),
	}
	f.graph = workflow.NewGraph(def, []workflow.StateStep{f.a, f.b, f.c}, []workflow.StateTransition{f.ab, f.bc})
	f.cd = workflow.CaseDefinition{ID: types.NewID(), ReportTypeID: types.NewID(), Description: "Avian flu", Condition: "true", IsActive: true}

	auth := types.NewID()
	f.report = Report{
		ID:                   types.NewID(),
		ReportTypeID:         f.cd.ReportTypeID,
		Data:                 map[string]any{"animal": "chicken"},
		RelevantAuthorityIDs: []types.ID{auth, auth},
	}
	return f
}

func TestNewCase(t *testing.T) {
	f := newFixture()
	now := time.Now().UTC()

	c, initial, err := NewCase(f.report, f.cd, f.graph, now)
	require.NoError(t, err)
	assert.Equal(t, f.a.ID, c.CurrentStep())
	assert.Equal(t, initial.ID, c.CurrentStateID)
	assert.Nil(t, initial.TransitionID)
	assert.Equal(t, 1, initial.Seq)
	assert.Equal(t, int64(1), c.Version)
	assert.Len(t, c.Authorities, 1)
	assert.False(t, c.IsFinished)
	assert.Equal(t, "Avian flu", c.Description)

	caseID := types.NewID()
	f.report.CaseID = &caseID
	_, _, err = NewCase(f.report, f.cd, f.graph, now)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestApplyTransition_Roundtrip(t *testing.T) {
	f := newFixture()
	actor := types.NewID()
	c, _, err := NewCase(f.report, f.cd, f.graph, time.Now())
	require.NoError(t, err)

	adv, err := c.ApplyTransition(f.graph, f.ab.ID, nil, actor, time.Now())
	require.NoError(t, err)
	assert.Equal(t, f.b.ID, c.CurrentStep())
	assert.Equal(t, 2, adv.State.Seq)
	assert.Equal(t, int64(1), adv.ExpectedVersion)
	assert.Equal(t, int64(2), c.Version)
	assert.Equal(t, adv.State.ID, adv.Record.StateID)
	assert.Equal(t, f.ab.ID, adv.Trigger.TransitionID)
	assert.False(t, c.IsFinished)

	adv, err = c.ApplyTransition(f.graph, f.bc.ID, map[string]any{"outcome": "negative"}, actor, time.Now())
	require.NoError(t, err)
	assert.Equal(t, f.c.ID, c.CurrentStep())
	assert.True(t, c.IsFinished)
	assert.True(t, adv.Trigger.IsFinished)
	assert.Equal(t, "negative", adv.Record.FormData["outcome"])
	assert.Equal(t, 3, c.Seq)

	_, err = c.ApplyTransition(f.graph, f.bc.ID, map[string]any{"outcome": "negative"}, actor, time.Now())
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))
}

func TestApplyTransition_Rejections(t *testing.T) {
	f := newFixture()
	actor := types.NewID()

	t.Run("not from current step", func(t *testing.T) {
		c, _, err := NewCase(f.report, f.cd, f.graph, time.Now())
		require.NoError(t, err)
		_, err = c.ApplyTransition(f.graph, f.bc.ID, map[string]any{"outcome": "positive"}, actor, time.Now())
		assert.True(t, errors.Is(err, errors.ErrInvalidTransition))
		assert.Equal(t, f.a.ID, c.CurrentStep())
		assert.Equal(t, int64(1), c.Version)
	})

	t.Run("unknown transition", func(t *testing.T) {
		c, _, err := NewCase(f.report, f.cd, f.graph, time.Now())
		require.NoError(t, err)
		_, err = c.ApplyTransition(f.graph, types.NewID(), nil, actor, time.Now())
		assert.True(t, errors.Is(err, errors.ErrInvalidTransition))
	})

	t.Run("form data rejected", func(t *testing.T) {
		c, _, err := NewCase(f.report, f.cd, f.graph, time.Now())
		require.NoError(t, err)
		_, err = c.ApplyTransition(f.graph, f.ab.ID, nil, actor, time.Now())
		require.NoError(t, err)

		_, err = c.ApplyTransition(f.graph, f.bc.ID, map[string]any{"outcome": "unsure"}, actor, time.Now())
		require.True(t, errors.Is(err, errors.ErrFormValidation))
		var appErr *errors.AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, "must be one of the options", appErr.Details["outcome"])
		assert.Equal(t, f.b.ID, c.CurrentStep())
		assert.False(t, c.IsFinished)
	})

	t.Run("graph of another definition", func(t *testing.T) {
		c, _, err := NewCase(f.report, f.cd, f.graph, time.Now())
		require.NoError(t, err)
		other := newFixture()
		_, err = c.ApplyTransition(other.graph, other.ab.ID, nil, actor, time.Now())
		assert.True(t, errors.Is(err, errors.ErrInvalidTransition))
	})
}
