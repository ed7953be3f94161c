package notification_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensur/platform/internal/authority"
	"github.com/opensur/platform/internal/case/domain"
	"github.com/opensur/platform/internal/notification"
	"github.com/opensur/platform/internal/shared/auth"
	"github.com/opensur/platform/internal/shared/config"
	"github.com/opensur/platform/internal/shared/errors"
	"github.com/opensur/platform/internal/shared/events"
	"github.com/opensur/platform/internal/shared/types"
	"github.com/opensur/platform/internal/store/memory"
	"github.com/opensur/platform/internal/workflow"
)

var admin = auth.Principal{ID: types.NewID(), Username: "admin", IsSuperuser: true}

func ptr[T any](v T) *T { return &v }

type fixture struct {
	store      *memory.Store
	svc        *notification.Service
	transition workflow.StateTransition
	north      authority.Authority
	south      authority.Authority
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{store: memory.New()}

	f.north = authority.Authority{ID: types.NewID(), Code: "north"}
	f.south = authority.Authority{ID: types.NewID(), Code: "south"}
	require.NoError(t, f.store.CreateAuthority(ctx, &f.north))
	require.NoError(t, f.store.CreateAuthority(ctx, &f.south))

	f.transition = workflow.StateTransition{ID: types.NewID(), FromStepID: types.NewID(), ToStepID: types.NewID()}
	require.NoError(t, f.store.CreateTransition(ctx, &f.transition))

	f.svc = notification.NewService(f.store, f.store, authority.NewHierarchyCache(f.store), zerolog.Nop())
	return f
}

func (f *fixture) template(t *testing.T, name string, reportType *types.ID) *notification.Template {
	t.Helper()
	in := notification.TemplateInput{
		Name:              ptr(name),
		Type:              ptr(notification.TypeEmail),
		StateTransitionID: &f.transition.ID,
		TitleTemplate:     ptr(`Case {{.CaseID}}`),
		BodyTemplate:      ptr(`Outcome: {{index .FormData "outcome"}}`),
	}
	if reportType != nil {
		in.ReportTypeID = reportType
	}
	res, err := f.svc.CreateTemplate(context.Background(), admin, in)
	require.NoError(t, err)
	require.True(t, res.OK(), res.Problem)
	return res.Value
}

func (f *fixture) override(t *testing.T, a authority.Authority, tpl *notification.Template, to string) *notification.AuthorityNotification {
	t.Helper()
	res, err := f.svc.UpsertAuthorityNotification(context.Background(), admin, notification.AuthorityNotificationInput{
		AuthorityID: &a.ID, TemplateID: &tpl.ID, To: ptr(to),
	})
	require.NoError(t, err)
	require.True(t, res.OK(), res.Problem)
	return res.Value
}

func TestCreateTemplateProblems(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.CreateTemplate(context.Background(), admin, notification.TemplateInput{
		Type:              ptr(notification.Type("fax")),
		StateTransitionID: ptr(types.NewID()),
		BodyTemplate:      ptr(`{{.CaseID`),
	})
	require.NoError(t, err)
	require.False(t, res.OK())
	for _, field := range []string{"name", "type", "state_transition_id", "body_template"} {
		_, ok := res.Problem.Field(field)
		assert.True(t, ok, field)
	}
}

func TestUpsertKeepsOneOverride(t *testing.T) {
	f := newFixture(t)
	tpl := f.template(t, "closed", nil)

	first := f.override(t, f.north, tpl, "old@north.example")
	second := f.override(t, f.north, tpl, "new@north.example")
	assert.Equal(t, first.ID, second.ID)

	list, err := f.svc.ListAuthorityNotifications(context.Background(), admin, &f.north.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "new@north.example", list[0].To)

	member := auth.Principal{ID: types.NewID(), AuthorityID: f.north.ID}
	views, err := f.svc.ListTemplates(context.Background(), member, notification.TemplateFilter{})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "new@north.example", views[0].To)
}

func TestUpsertScopeAndProblems(t *testing.T) {
	f := newFixture(t)
	tpl := f.template(t, "closed", nil)
	ctx := context.Background()

	member := auth.Principal{ID: types.NewID(), AuthorityID: f.north.ID}
	_, err := f.svc.UpsertAuthorityNotification(ctx, member, notification.AuthorityNotificationInput{
		AuthorityID: &f.south.ID, TemplateID: &tpl.ID, To: ptr("x@south.example"),
	})
	assert.ErrorIs(t, err, errors.ErrForbidden)

	res, err := f.svc.UpsertAuthorityNotification(ctx, member, notification.AuthorityNotificationInput{
		TemplateID: ptr(types.NewID()), To: ptr(" "),
	})
	require.NoError(t, err)
	require.False(t, res.OK())
	_, ok := res.Problem.Field("to")
	assert.True(t, ok)
	msg, _ := res.Problem.Field("template_id")
	assert.Equal(t, "template does not exist", msg)

	res, err = f.svc.UpsertAuthorityNotification(ctx, member, notification.AuthorityNotificationInput{
		TemplateID: &tpl.ID, To: ptr("desk@north.example"),
	})
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, f.north.ID, res.Value.AuthorityID)
}

func TestDeleteTemplateGuard(t *testing.T) {
	f := newFixture(t)
	tpl := f.template(t, "closed", nil)
	f.override(t, f.north, tpl, "desk@north.example")

	p, err := f.svc.DeleteTemplate(context.Background(), admin, tpl.ID)
	require.NoError(t, err)
	require.True(t, p.Has())
	assert.Equal(t, "notification template is still in use", p.Message)
}

func TestRenderUsesOverridesAndReportType(t *testing.T) {
	f := newFixture(t)
	reportType := types.NewID()
	otherType := types.NewID()

	general := f.template(t, "general", nil)
	scoped := f.template(t, "scoped", &reportType)
	skipped := f.template(t, "other type", &otherType)
	f.override(t, f.north, general, "north@example.org")
	f.override(t, f.north, scoped, "north-scoped@example.org")
	f.override(t, f.north, skipped, "never@example.org")

	d := notification.NewDispatcher(f.store, notification.NewLogSender(zerolog.Nop()), config.NotificationConfig{}, zerolog.Nop())
	caseID := types.NewID()
	msgs, err := d.Render(context.Background(), domain.TransitionTrigger{
		CaseID:       caseID,
		TransitionID: f.transition.ID,
		ReportTypeID: reportType,
		Authorities:  []types.ID{f.north.ID, f.south.ID},
		FormData:     map[string]any{"outcome": "positive"},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	to := map[string]notification.Message{}
	for _, m := range msgs {
		to[m.To] = m
	}
	require.Contains(t, to, "north@example.org")
	require.Contains(t, to, "north-scoped@example.org")
	m := to["north@example.org"]
	assert.Equal(t, "Case "+caseID.String(), m.Title)
	assert.Equal(t, "Outcome: positive", m.Body)
	assert.Equal(t, f.north.ID, m.AuthorityID)
	assert.Equal(t, notification.TypeEmail, m.Type)
}

type captureSender struct {
	mu   sync.Mutex
	msgs []notification.Message
}

func (s *captureSender) Send(_ context.Context, msg notification.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *captureSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func TestDispatcherDeliversFromBus(t *testing.T) {
	f := newFixture(t)
	tpl := f.template(t, "closed", nil)
	f.override(t, f.north, tpl, "north@example.org")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewLocalBus(zerolog.Nop())
	sender := &captureSender{}
	d := notification.NewDispatcher(f.store, sender, config.NotificationConfig{Workers: 2, BufferSize: 8}, zerolog.Nop())
	require.NoError(t, d.Start(ctx, bus))
	defer d.Stop()
	assert.Error(t, d.Start(ctx, bus))

	caseID := types.NewID()
	event, err := events.NewEvent(domain.EventStateForwarded, "test", caseID, domain.TransitionTrigger{
		CaseID:       caseID,
		TransitionID: f.transition.ID,
		Authorities:  []types.ID{f.north.ID},
	})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, event))

	require.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, 10*time.Millisecond)
}
