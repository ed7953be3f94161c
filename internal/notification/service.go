package notification

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/opensur/platform/internal/authority"
	"github.com/opensur/platform/internal/permission"
	"github.com/opensur/platform/internal/shared/auth"
	"github.com/opensur/platform/internal/shared/errors"
	"github.com/opensur/platform/internal/shared/problem"
	"github.com/opensur/platform/internal/shared/types"
	"github.com/opensur/platform/internal/workflow"
)

// Store is the persistence port for templates and authority overrides
type Store interface {
	ListTemplates(ctx context.Context, filter TemplateFilter) ([]Template, error)
	GetTemplate(ctx context.Context, id types.ID) (*Template, error)
	CreateTemplate(ctx context.Context, t *Template) error
	UpdateTemplate(ctx context.Context, t *Template) error
	DeleteTemplate(ctx context.Context, id types.ID) error
	TemplateReferences(ctx context.Context, id types.ID) (int, error)

	// UpsertAuthorityNotification inserts n or, when (authority, template)
	// exists, replaces its destination. n receives the stored id and
	// created_at.
	UpsertAuthorityNotification(ctx context.Context, n *AuthorityNotification) error
	GetAuthorityNotification(ctx context.Context, authorityID, templateID types.ID) (*AuthorityNotification, error)
	ListAuthorityNotifications(ctx context.Context, authorityID types.ID) ([]AuthorityNotification, error)
}

// Transitions resolves state transitions
type Transitions interface {
	GetTransition(ctx context.Context, id types.ID) (*workflow.StateTransition, error)
}

// Closures serves the current authority hierarchy
type Closures interface {
	Get(ctx context.Context) (*authority.Hierarchy, error)
}

var templateAdmin = permission.Or(permission.IsSuperuser, permission.IsStaff)

// Service manages notification templates and authority overrides
type Service struct {
	store       Store
	transitions Transitions
	closures    Closures
	log         zerolog.Logger
	now         func() time.Time
}

// NewService creates a notification service
func NewService(store Store, transitions Transitions, closures Closures, log zerolog.Logger) *Service {
	return &Service{
		store:       store,
		transitions: transitions,
		closures:    closures,
		log:         log.With().Str("component", "notification").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// --- Templates ---

// ListTemplates returns templates with the destination set by actor's
// authority, or an empty destination when it has none.
func (s *Service) ListTemplates(ctx context.Context, actor auth.Principal, filter TemplateFilter) ([]TemplateView, error) {
	list, err := s.store.ListTemplates(ctx, filter)
	if err != nil {
		return nil, err
	}
	overrides := map[types.ID]string{}
	if !actor.AuthorityID.IsZero() {
		own, err := s.store.ListAuthorityNotifications(ctx, actor.AuthorityID)
		if err != nil {
			return nil, err
		}
		for _, n := range own {
			overrides[n.TemplateID] = n.To
		}
	}
	out := make([]TemplateView, len(list))
	for i, t := range list {
		out[i] = TemplateView{Template: t, To: overrides[t.ID]}
	}
	return out, nil
}

func (s *Service) GetTemplate(ctx context.Context, id types.ID) (*Template, error) {
	return s.store.GetTemplate(ctx, id)
}

func (s *Service) CreateTemplate(ctx context.Context, actor auth.Principal, in TemplateInput) (problem.Result[*Template], error) {
	if err := permission.Gate(actor, templateAdmin); err != nil {
		return problem.Result[*Template]{}, err
	}
	now := s.now()
	t := &Template{ID: types.NewID(), Type: TypeEmail, CreatedAt: now, UpdatedAt: now}
	p := problem.New()
	if in.StateTransitionID == nil || in.StateTransitionID.IsZero() {
		p.Add("state_transition_id", "state transition is required")
	}
	if in.Name == nil {
		p.Add("name", "name is required")
	}
	if err := s.applyTemplateInput(ctx, p, t, in); err != nil {
		return problem.Result[*Template]{}, err
	}
	if p.Has() {
		return problem.Fail[*Template](p), nil
	}
	if err := s.store.CreateTemplate(ctx, t); err != nil {
		return problem.Result[*Template]{}, err
	}
	s.log.Info().Str("template_id", t.ID.String()).Str("type", string(t.Type)).Msg("Notification template created")
	return problem.Success(t), nil
}

func (s *Service) UpdateTemplate(ctx context.Context, actor auth.Principal, id types.ID, in TemplateInput) (problem.Result[*Template], error) {
	if err := permission.Gate(actor, templateAdmin); err != nil {
		return problem.Result[*Template]{}, err
	}
	t, err := s.store.GetTemplate(ctx, id)
	if errors.Is(err, errors.ErrNotFound) {
		return problem.Fail[*Template](problem.NotFound()), nil
	}
	if err != nil {
		return problem.Result[*Template]{}, err
	}
	p := problem.New()
	if err := s.applyTemplateInput(ctx, p, t, in); err != nil {
		return problem.Result[*Template]{}, err
	}
	if p.Has() {
		return problem.Fail[*Template](p), nil
	}
	t.UpdatedAt = s.now()
	if err := s.store.UpdateTemplate(ctx, t); err != nil {
		return problem.Result[*Template]{}, err
	}
	return problem.Success(t), nil
}

func (s *Service) applyTemplateInput(ctx context.Context, p *problem.Problem, t *Template, in TemplateInput) error {
	if in.Name != nil {
		t.Name = strings.TrimSpace(*in.Name)
		p.NotEmpty("name", t.Name, "name is required")
	}
	if in.Type != nil {
		t.Type = *in.Type
		if !t.Type.Valid() {
			p.Add("type", "type must be one of push, sms, email, in_app")
		}
	}
	if in.StateTransitionID != nil && !in.StateTransitionID.IsZero() {
		_, err := s.transitions.GetTransition(ctx, *in.StateTransitionID)
		switch {
		case errors.Is(err, errors.ErrNotFound):
			p.Add("state_transition_id", "state transition does not exist")
		case err != nil:
			return err
		}
		t.StateTransitionID = *in.StateTransitionID
	}
	if in.ReportTypeID != nil {
		if in.ReportTypeID.IsZero() {
			t.ReportTypeID = nil
		} else {
			id := *in.ReportTypeID
			t.ReportTypeID = &id
		}
	}
	if in.TitleTemplate != nil {
		t.TitleTemplate = *in.TitleTemplate
		if _, err := parseTemplate("title", t.TitleTemplate); err != nil {
			p.Add("title_template", err.Error())
		}
	}
	if in.BodyTemplate != nil {
		t.BodyTemplate = *in.BodyTemplate
		if _, err := parseTemplate("body", t.BodyTemplate); err != nil {
			p.Add("body_template", err.Error())
		}
	}
	return nil
}

func (s *Service) DeleteTemplate(ctx context.Context, actor auth.Principal, id types.ID) (*problem.Problem, error) {
	if err := permission.Gate(actor, templateAdmin); err != nil {
		return nil, err
	}
	n, err := s.store.TemplateReferences(ctx, id)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return problem.WithMessage("notification template is still in use"), nil
	}
	if err := s.store.DeleteTemplate(ctx, id); err != nil {
		return nil, err
	}
	return nil, nil
}

// --- Authority overrides ---

// UpsertAuthorityNotification sets the destination an authority uses for a
// template, creating the override or replacing its destination.
func (s *Service) UpsertAuthorityNotification(ctx context.Context, actor auth.Principal, in AuthorityNotificationInput) (problem.Result[*AuthorityNotification], error) {
	h, err := s.closures.Get(ctx)
	if err != nil {
		return problem.Result[*AuthorityNotification]{}, err
	}
	authorityID, d := permission.CanCreateForAuthority(h, actor, in.AuthorityID)
	if !d.Allowed {
		return problem.Result[*AuthorityNotification]{}, d.Err()
	}

	p := problem.New()
	if _, ok := h.Get(authorityID); !ok {
		p.Add("authority_id", "authority does not exist")
	}
	to := strings.TrimSpace(stringValue(in.To))
	p.NotEmpty("to", to, "to is required")
	if in.TemplateID == nil || in.TemplateID.IsZero() {
		p.Add("template_id", "template is required")
	} else {
		_, err := s.store.GetTemplate(ctx, *in.TemplateID)
		switch {
		case errors.Is(err, errors.ErrNotFound):
			p.Add("template_id", "template does not exist")
		case err != nil:
			return problem.Result[*AuthorityNotification]{}, err
		}
	}
	if p.Has() {
		return problem.Fail[*AuthorityNotification](p), nil
	}

	now := s.now()
	n := &AuthorityNotification{
		ID:          types.NewID(),
		AuthorityID: authorityID,
		TemplateID:  *in.TemplateID,
		To:          to,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.UpsertAuthorityNotification(ctx, n); err != nil {
		return problem.Result[*AuthorityNotification]{}, err
	}
	return problem.Success(n), nil
}

// ListAuthorityNotifications returns the overrides of an authority the actor
// may manage. A nil authorityID means the actor's own.
func (s *Service) ListAuthorityNotifications(ctx context.Context, actor auth.Principal, authorityID *types.ID) ([]AuthorityNotification, error) {
	target := actor.AuthorityID
	if authorityID != nil && !authorityID.IsZero() {
		target = *authorityID
	}
	h, err := s.closures.Get(ctx)
	if err != nil {
		return nil, err
	}
	if d := permission.CanManageAuthorityUser(h, actor, target); !d.Allowed {
		return nil, d.Err()
	}
	return s.store.ListAuthorityNotifications(ctx, target)
}

func stringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
