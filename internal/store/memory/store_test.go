package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensur/platform/internal/authority"
	"github.com/opensur/platform/internal/case/domain"
	"github.com/opensur/platform/internal/notification"
	"github.com/opensur/platform/internal/shared/errors"
	"github.com/opensur/platform/internal/shared/types"
	"github.com/opensur/platform/internal/workflow"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func TestListUsers(t *testing.T) {
	ctx := context.Background()
	s := New()

	a := authority.Authority{ID: types.NewID(), Code: "a"}
	b := authority.Authority{ID: types.NewID(), Code: "b"}
	require.NoError(t, s.CreateAuthority(ctx, &a))
	require.NoError(t, s.CreateAuthority(ctx, &b))

	for _, u := range []authority.User{
		{ID: types.NewID(), Username: "zoe", AuthorityID: a.ID},
		{ID: types.NewID(), Username: "adam", FirstName: "Marko", AuthorityID: a.ID},
		{ID: types.NewID(), Username: "mila", AuthorityID: b.ID},
	} {
		require.NoError(t, s.CreateUser(ctx, &u))
	}

	all, total, err := s.ListUsers(ctx, authority.UserFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, "adam", all[0].Username)
	assert.Equal(t, "zoe", all[2].Username)

	scoped, total, err := s.ListUsers(ctx, authority.UserFilter{AuthorityIDs: []types.ID{a.ID}})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, scoped, 2)

	none, total, err := s.ListUsers(ctx, authority.UserFilter{AuthorityIDs: []types.ID{}})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, none)

	found, _, err := s.ListUsers(ctx, authority.UserFilter{Search: "MARK"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "adam", found[0].Username)

	page, total, err := s.ListUsers(ctx, authority.UserFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, "mila", page[0].Username)
}

func TestAuthorityUniqueness(t *testing.T) {
	ctx := context.Background()
	s := New()

	a := authority.Authority{ID: types.NewID(), Code: "dup"}
	require.NoError(t, s.CreateAuthority(ctx, &a))
	err := s.CreateAuthority(ctx, &authority.Authority{ID: types.NewID(), Code: "dup"})
	assert.ErrorIs(t, err, errors.ErrConflict)

	taken, err := s.AuthorityCodeTaken(ctx, "dup", a.ID)
	require.NoError(t, err)
	assert.False(t, taken)
}

func TestStateDefinitionDefaultIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := New()

	first := workflow.StateDefinition{ID: types.NewID(), Name: "first", IsDefault: true}
	second := workflow.StateDefinition{ID: types.NewID(), Name: "second", IsDefault: true}
	require.NoError(t, s.CreateStateDefinition(ctx, &first))
	require.NoError(t, s.CreateStateDefinition(ctx, &second))

	def, err := s.GetDefaultStateDefinition(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, def.ID)

	got, err := s.GetStateDefinition(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, got.IsDefault)
}

func TestCaseDefinitionOrderingAndFilter(t *testing.T) {
	ctx := context.Background()
	s := New()
	rt := types.NewID()

	late := workflow.CaseDefinition{ID: types.NewID(), ReportTypeID: rt, IsActive: true, CreatedAt: t0.Add(time.Hour)}
	early := workflow.CaseDefinition{ID: types.NewID(), ReportTypeID: rt, IsActive: true, CreatedAt: t0}
	inactive := workflow.CaseDefinition{ID: types.NewID(), ReportTypeID: rt, CreatedAt: t0}
	other := workflow.CaseDefinition{ID: types.NewID(), ReportTypeID: types.NewID(), IsActive: true, CreatedAt: t0}
	for _, d := range []workflow.CaseDefinition{late, early, inactive, other} {
		require.NoError(t, s.CreateCaseDefinition(ctx, &d))
	}

	got, err := s.ListCaseDefinitions(ctx, workflow.CaseDefinitionFilter{ReportTypeID: &rt, ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, early.ID, got[0].ID)
	assert.Equal(t, late.ID, got[1].ID)
}

func TestTransitionReferencesBlockDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	def := workflow.StateDefinition{ID: types.NewID(), Name: "flow"}
	require.NoError(t, s.CreateStateDefinition(ctx, &def))
	from := workflow.StateStep{ID: types.NewID(), StateDefinitionID: def.ID, Name: "a"}
	to := workflow.StateStep{ID: types.NewID(), StateDefinitionID: def.ID, Name: "b"}
	require.NoError(t, s.CreateStep(ctx, &from))
	require.NoError(t, s.CreateStep(ctx, &to))
	tr := workflow.StateTransition{ID: types.NewID(), FromStepID: from.ID, ToStepID: to.ID}
	require.NoError(t, s.CreateTransition(ctx, &tr))

	tpl := notification.Template{ID: types.NewID(), Name: "n", StateTransitionID: tr.ID}
	require.NoError(t, s.CreateTemplate(ctx, &tpl))

	n, err := s.TransitionReferences(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, s.DeleteTransition(ctx, tr.ID), errors.ErrConflict)

	n, err = s.StepReferences(ctx, from.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.StateDefinitionReferences(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.DeleteTemplate(ctx, tpl.ID))
	require.NoError(t, s.DeleteTransition(ctx, tr.ID))
	assert.ErrorIs(t, s.DeleteTransition(ctx, tr.ID), errors.ErrNotFound)
}

func TestUpsertAuthorityNotificationKeepsOneRow(t *testing.T) {
	ctx := context.Background()
	s := New()

	a := authority.Authority{ID: types.NewID(), Code: "a"}
	require.NoError(t, s.CreateAuthority(ctx, &a))
	tpl := notification.Template{ID: types.NewID(), Name: "n", StateTransitionID: types.NewID()}
	require.NoError(t, s.CreateTemplate(ctx, &tpl))

	first := notification.AuthorityNotification{ID: types.NewID(), AuthorityID: a.ID, TemplateID: tpl.ID, To: "old@example.org", CreatedAt: t0}
	require.NoError(t, s.UpsertAuthorityNotification(ctx, &first))

	second := notification.AuthorityNotification{ID: types.NewID(), AuthorityID: a.ID, TemplateID: tpl.ID, To: "new@example.org", CreatedAt: t0.Add(time.Hour)}
	require.NoError(t, s.UpsertAuthorityNotification(ctx, &second))
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, t0, second.CreatedAt)

	list, err := s.ListAuthorityNotifications(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "new@example.org", list[0].To)

	err = s.UpsertAuthorityNotification(ctx, &notification.AuthorityNotification{
		ID: types.NewID(), AuthorityID: a.ID, TemplateID: types.NewID(), To: "x",
	})
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestCaseLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	report := domain.Report{ID: types.NewID(), ReportTypeID: types.NewID(), Data: map[string]any{"k": "v"}}
	s.PutReport(report)

	c := &domain.Case{ID: types.NewID(), ReportID: report.ID, Version: 1, Seq: 1, CurrentStepID: types.NewID()}
	initial := domain.CaseState{ID: types.NewID(), CaseID: c.ID, StepID: c.CurrentStepID, Seq: 1, CreatedAt: t0}
	c.CurrentStateID = initial.ID
	require.NoError(t, s.CreateFromReport(ctx, c, initial))

	stamped, err := s.GetReport(ctx, report.ID)
	require.NoError(t, err)
	assert.True(t, stamped.Promoted())

	again := &domain.Case{ID: types.NewID(), ReportID: report.ID}
	assert.ErrorIs(t, s.CreateFromReport(ctx, again, domain.CaseState{ID: types.NewID()}), errors.ErrValidation)

	loaded, err := s.FindByID(ctx, c.ID)
	require.NoError(t, err)
	trID := types.NewID()
	next := domain.CaseState{ID: types.NewID(), CaseID: c.ID, StepID: types.NewID(), TransitionID: &trID, Seq: 2, CreatedAt: t0.Add(time.Minute)}
	adv := &domain.Advance{
		State:           next,
		Record:          domain.CaseStateTransition{ID: types.NewID(), CaseID: c.ID, TransitionID: trID, StateID: next.ID},
		ExpectedVersion: 1,
	}
	loaded.Version = 2
	loaded.Seq = 2
	loaded.CurrentStateID = next.ID
	require.NoError(t, s.SaveAdvance(ctx, loaded, adv))

	stale := *loaded
	stale.Version = 2
	assert.ErrorIs(t, s.SaveAdvance(ctx, &stale, adv), errors.ErrConcurrentModification)

	history, err := s.History(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Nil(t, history[0].Record)
	require.NotNil(t, history[1].Record)
	assert.Equal(t, trID, history[1].Record.TransitionID)
}

func TestFindByIDReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	report := domain.Report{ID: types.NewID()}
	s.PutReport(report)

	c := &domain.Case{ID: types.NewID(), ReportID: report.ID, Version: 1, Authorities: []types.ID{types.NewID()}}
	require.NoError(t, s.CreateFromReport(ctx, c, domain.CaseState{ID: types.NewID(), CaseID: c.ID, Seq: 1}))

	loaded, err := s.FindByID(ctx, c.ID)
	require.NoError(t, err)
	loaded.Version = 99
	loaded.Authorities[0] = types.NewID()

	fresh, err := s.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fresh.Version)
	assert.Equal(t, c.Authorities[0], fresh.Authorities[0])
}

func putCase(t *testing.T, s *Store, authorities []types.ID, createdAt time.Time) domain.Case {
	t.Helper()
	report := domain.Report{ID: types.NewID(), ReportTypeID: types.NewID(), RelevantAuthorityIDs: authorities}
	s.PutReport(report)
	c := domain.Case{
		ID: types.NewID(), ReportID: report.ID, ReportTypeID: report.ReportTypeID,
		Authorities: authorities, Version: 1, Seq: 1, CreatedAt: createdAt,
	}
	initial := domain.CaseState{ID: types.NewID(), CaseID: c.ID, Seq: 1, CreatedAt: createdAt}
	c.CurrentStateID = initial.ID
	require.NoError(t, s.CreateFromReport(context.Background(), &c, initial))
	return c
}

func TestListCasesNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	a, b := types.NewID(), types.NewID()

	oldest := putCase(t, s, []types.ID{a}, t0)
	middle := putCase(t, s, []types.ID{a, b}, t0.Add(time.Hour))
	newest := putCase(t, s, []types.ID{b}, t0.Add(2*time.Hour))

	got, total, err := s.List(ctx, domain.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, got, 3)
	assert.Equal(t, []types.ID{newest.ID, middle.ID, oldest.ID}, []types.ID{got[0].ID, got[1].ID, got[2].ID})

	got, total, err = s.List(ctx, domain.ListFilter{AuthorityIDs: []types.ID{a}})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, middle.ID, got[0].ID)

	got, total, err = s.List(ctx, domain.ListFilter{AuthorityIDs: []types.ID{}})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, got)

	got, total, err = s.List(ctx, domain.ListFilter{ReportTypeIDs: []types.ID{oldest.ReportTypeID}})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, oldest.ID, got[0].ID)

	got, total, err = s.List(ctx, domain.ListFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, got, 1)
	assert.Equal(t, middle.ID, got[0].ID)

	_, _, err = s.List(ctx, domain.ListFilter{Offset: 10})
	require.NoError(t, err)
}

func TestDeleteAuthorityReferencedByCase(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := authority.Authority{ID: types.NewID(), Code: "a"}
	require.NoError(t, s.CreateAuthority(ctx, &a))
	putCase(t, s, []types.ID{a.ID}, t0)

	n, err := s.CountCases(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, s.DeleteAuthority(ctx, a.ID), errors.ErrConflict)
}
