package workflow_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensur/platform/internal/shared/auth"
	"github.com/opensur/platform/internal/shared/errors"
	"github.com/opensur/platform/internal/shared/types"
	"github.com/opensur/platform/internal/store/memory"
	"github.com/opensur/platform/internal/workflow"
)

var admin = auth.Principal{ID: types.NewID(), Username: "admin", IsStaff: true}

func ptr[T any](v T) *T { return &v }

type flow struct {
	def          *workflow.StateDefinition
	open, closed *workflow.StateStep
	close        *workflow.StateTransition
}

func newService(mode workflow.Mode) (*workflow.Service, *memory.Store) {
	store := memory.New()
	return workflow.NewService(store, mode, zerolog.Nop()), store
}

func mustStep(t *testing.T, svc *workflow.Service, defID types.ID, name string, start, stop bool) *workflow.StateStep {
	t.Helper()
	res, err := svc.CreateStep(context.Background(), admin, workflow.StateStepInput{
		StateDefinitionID: &defID, Name: ptr(name), IsStartState: ptr(start), IsStopState: ptr(stop),
	})
	require.NoError(t, err)
	require.True(t, res.OK(), res.Problem)
	return res.Value
}

func buildFlow(t *testing.T, svc *workflow.Service, name string, isDefault bool) flow {
	t.Helper()
	ctx := context.Background()
	def, err := svc.CreateStateDefinition(ctx, admin, workflow.StateDefinitionInput{Name: ptr(name), IsDefault: ptr(isDefault)})
	require.NoError(t, err)
	require.True(t, def.OK())

	f := flow{def: def.Value}
	f.open = mustStep(t, svc, f.def.ID, "open", true, false)
	f.closed = mustStep(t, svc, f.def.ID, "closed", false, true)
	tr, err := svc.CreateTransition(ctx, admin, workflow.StateTransitionInput{FromStepID: &f.open.ID, ToStepID: &f.closed.ID})
	require.NoError(t, err)
	require.True(t, tr.OK(), tr.Problem)
	f.close = tr.Value
	return f
}

func TestStateDefinitionAdminGate(t *testing.T) {
	svc, _ := newService(workflow.Strict)
	member := auth.Principal{ID: types.NewID(), AuthorityID: types.NewID()}

	_, err := svc.CreateStateDefinition(context.Background(), member, workflow.StateDefinitionInput{Name: ptr("x")})
	assert.ErrorIs(t, err, errors.ErrForbidden)
}

func TestCreateStepProblems(t *testing.T) {
	svc, _ := newService(workflow.Strict)
	missing := types.NewID()

	res, err := svc.CreateStep(context.Background(), admin, workflow.StateStepInput{
		StateDefinitionID: &missing, IsStartState: ptr(true), IsStopState: ptr(true),
	})
	require.NoError(t, err)
	require.False(t, res.OK())
	for _, field := range []string{"state_definition_id", "name", "is_stop_state"} {
		_, ok := res.Problem.Field(field)
		assert.True(t, ok, field)
	}
}

func TestCreateTransitionProblems(t *testing.T) {
	svc, _ := newService(workflow.Strict)
	ctx := context.Background()
	a := buildFlow(t, svc, "a", false)
	b := buildFlow(t, svc, "b", false)

	t.Run("steps of different definitions", func(t *testing.T) {
		res, err := svc.CreateTransition(ctx, admin, workflow.StateTransitionInput{FromStepID: &a.open.ID, ToStepID: &b.closed.ID})
		require.NoError(t, err)
		msg, ok := res.Problem.Field("to_step_id")
		require.True(t, ok)
		assert.Contains(t, msg, "different state definitions")
	})

	t.Run("outgoing from stop step", func(t *testing.T) {
		res, err := svc.CreateTransition(ctx, admin, workflow.StateTransitionInput{FromStepID: &a.closed.ID, ToStepID: &a.open.ID})
		require.NoError(t, err)
		_, ok := res.Problem.Field("from_step_id")
		assert.True(t, ok)
	})

	t.Run("missing steps and bad form", func(t *testing.T) {
		res, err := svc.CreateTransition(ctx, admin, workflow.StateTransitionInput{
			ToStepID:       ptr(types.NewID()),
			FormDefinition: json.RawMessage(`{"fields":[{"name":"x","type":"date"}]}`),
		})
		require.NoError(t, err)
		require.False(t, res.OK())
		_, ok := res.Problem.Field("from_step_id")
		assert.True(t, ok)
		msg, ok := res.Problem.Field("to_step_id")
		assert.True(t, ok)
		assert.Equal(t, "step does not exist", msg)
		msg, ok = res.Problem.Field("form_definition")
		assert.True(t, ok)
		assert.Contains(t, msg, "unknown type")
	})
}

func TestCaseDefinitionActivationGate(t *testing.T) {
	svc, _ := newService(workflow.Strict)
	ctx := context.Background()
	rt := types.NewID()

	def, err := svc.CreateStateDefinition(ctx, admin, workflow.StateDefinitionInput{Name: ptr("broken")})
	require.NoError(t, err)
	mustStep(t, svc, def.Value.ID, "open", true, false)

	_, err = svc.CreateCaseDefinition(ctx, admin, workflow.CaseDefinitionInput{
		ReportTypeID: &rt, Condition: ptr("true"), StateDefinitionID: &def.Value.ID,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrStructural)

	inactive, err := svc.CreateCaseDefinition(ctx, admin, workflow.CaseDefinitionInput{
		ReportTypeID: &rt, Condition: ptr("true"), StateDefinitionID: &def.Value.ID, IsActive: ptr(false),
	})
	require.NoError(t, err)
	require.True(t, inactive.OK())

	_, err = svc.UpdateCaseDefinition(ctx, admin, inactive.Value.ID, workflow.CaseDefinitionInput{IsActive: ptr(true)})
	assert.ErrorIs(t, err, errors.ErrStructural)
}

func TestCaseDefinitionProblems(t *testing.T) {
	svc, _ := newService(workflow.Strict)
	missing := types.NewID()

	res, err := svc.CreateCaseDefinition(context.Background(), admin, workflow.CaseDefinitionInput{
		Condition:         ptr("data.severity >"),
		StateDefinitionID: &missing,
	})
	require.NoError(t, err)
	require.False(t, res.OK())
	for _, field := range []string{"report_type_id", "condition", "state_definition_id"} {
		_, ok := res.Problem.Field(field)
		assert.True(t, ok, field)
	}
}

func TestCaseDefinitionFallsBackToDefault(t *testing.T) {
	svc, _ := newService(workflow.Strict)
	ctx := context.Background()
	rt := types.NewID()

	_, err := svc.CreateCaseDefinition(ctx, admin, workflow.CaseDefinitionInput{ReportTypeID: &rt, Condition: ptr("true")})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrValidation)

	f := buildFlow(t, svc, "default", true)
	res, err := svc.CreateCaseDefinition(ctx, admin, workflow.CaseDefinitionInput{ReportTypeID: &rt, Condition: ptr("true")})
	require.NoError(t, err)
	require.True(t, res.OK(), res.Problem)
	assert.Nil(t, res.Value.StateDefinitionID)

	g, err := svc.GraphFor(ctx, *res.Value)
	require.NoError(t, err)
	assert.Equal(t, f.def.ID, g.Definition.ID)

	active, err := svc.ActiveCaseDefinitions(ctx, rt)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestValidateStateDefinitionReport(t *testing.T) {
	ctx := context.Background()

	strict, _ := newService(workflow.Strict)
	f := buildFlow(t, strict, "flow", false)
	mustStep(t, strict, f.def.ID, "limbo", false, false)

	report, err := strict.ValidateStateDefinition(ctx, f.def.ID)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Equal(t, "strict", report.Mode)
	assert.Len(t, report.Violations, 1)

	lenient, _ := newService(workflow.Lenient)
	g := buildFlow(t, lenient, "flow", false)
	mustStep(t, lenient, g.def.ID, "limbo", false, false)

	report, err = lenient.ValidateStateDefinition(ctx, g.def.ID)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, []string{`step "limbo" has no outgoing transitions`}, report.Warnings)
}

func TestUpdateStepKeepsTransitionsConsistent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(workflow.Strict)
	f := buildFlow(t, svc, "flow", false)

	review := mustStep(t, svc, f.def.ID, "review", false, false)
	for _, pair := range [][2]types.ID{{f.open.ID, review.ID}, {review.ID, f.closed.ID}} {
		res, err := svc.CreateTransition(ctx, admin, workflow.StateTransitionInput{FromStepID: &pair[0], ToStepID: &pair[1]})
		require.NoError(t, err)
		require.True(t, res.OK(), res.Problem)
	}

	t.Run("cannot become stop with outgoing transitions", func(t *testing.T) {
		res, err := svc.UpdateStep(ctx, admin, review.ID, workflow.StateStepInput{IsStopState: ptr(true)})
		require.NoError(t, err)
		require.False(t, res.OK())
		_, ok := res.Problem.Field("is_stop_state")
		assert.True(t, ok)

		report, err := svc.ValidateStateDefinition(ctx, f.def.ID)
		require.NoError(t, err)
		assert.True(t, report.Valid, report.Violations)
	})

	t.Run("cannot move to another definition", func(t *testing.T) {
		other := buildFlow(t, svc, "other", false)
		res, err := svc.UpdateStep(ctx, admin, review.ID, workflow.StateStepInput{StateDefinitionID: &other.def.ID})
		require.NoError(t, err)
		require.False(t, res.OK())
		_, ok := res.Problem.Field("state_definition_id")
		assert.True(t, ok)

		stored, err := svc.GetStep(ctx, review.ID)
		require.NoError(t, err)
		assert.Equal(t, f.def.ID, stored.StateDefinitionID)
	})

	t.Run("stop flag is free on a step without outgoing transitions", func(t *testing.T) {
		spare := mustStep(t, svc, f.def.ID, "spare", false, false)
		res, err := svc.UpdateStep(ctx, admin, spare.ID, workflow.StateStepInput{IsStopState: ptr(true)})
		require.NoError(t, err)
		assert.True(t, res.OK(), res.Problem)
	})
}

func TestDeleteGuards(t *testing.T) {
	svc, _ := newService(workflow.Strict)
	ctx := context.Background()
	f := buildFlow(t, svc, "flow", false)

	p, err := svc.DeleteStep(ctx, admin, f.open.ID)
	require.NoError(t, err)
	require.True(t, p.Has())
	assert.Equal(t, "state step is still in use", p.Message)

	p, err = svc.DeleteTransition(ctx, admin, f.close.ID)
	require.NoError(t, err)
	assert.False(t, p.Has())

	p, err = svc.DeleteStep(ctx, admin, f.open.ID)
	require.NoError(t, err)
	assert.False(t, p.Has())

	_, err = svc.DeleteStep(ctx, admin, f.open.ID)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestUpdateMissingIsNotFoundProblem(t *testing.T) {
	svc, _ := newService(workflow.Strict)
	res, err := svc.UpdateStep(context.Background(), admin, types.NewID(), workflow.StateStepInput{Name: ptr("x")})
	require.NoError(t, err)
	require.NotNil(t, res.Problem)
	assert.Equal(t, "Object not found", res.Problem.Message)
}
