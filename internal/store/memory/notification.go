package memory

import (
	"context"
	"sort"
	"time"

	"github.com/opensur/platform/internal/notification"
	"github.com/opensur/platform/internal/shared/errors"
	"github.com/opensur/platform/internal/shared/types"
)

func cloneTemplate(t notification.Template) notification.Template {
	t.ReportTypeID = cloneID(t.ReportTypeID)
	return t
}

func (s *Store) ListTemplates(_ context.Context, filter notification.TemplateFilter) ([]notification.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []notification.Template{}
	for _, t := range s.templates {
		if filter.StateTransitionID != nil && t.StateTransitionID != *filter.StateTransitionID {
			continue
		}
		out = append(out, cloneTemplate(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) GetTemplate(_ context.Context, id types.ID) (*notification.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, errors.NotFound("notification template", id.String())
	}
	t = cloneTemplate(t)
	return &t, nil
}

func (s *Store) CreateTemplate(_ context.Context, t *notification.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.ID] = cloneTemplate(*t)
	return nil
}

func (s *Store) UpdateTemplate(_ context.Context, t *notification.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[t.ID]; !ok {
		return errors.NotFound("notification template", t.ID.String())
	}
	s.templates[t.ID] = cloneTemplate(*t)
	return nil
}

func (s *Store) DeleteTemplate(_ context.Context, id types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[id]; !ok {
		return errors.NotFound("notification template", id.String())
	}
	if s.templateRefsLocked(id) > 0 {
		return errors.Conflict("notification template is still referenced")
	}
	delete(s.templates, id)
	return nil
}

func (s *Store) templateRefsLocked(id types.ID) int {
	n := 0
	for key := range s.overrides {
		if key.template == id {
			n++
		}
	}
	return n
}

func (s *Store) TemplateReferences(_ context.Context, id types.ID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.templateRefsLocked(id), nil
}

// --- Authority overrides ---

func (s *Store) UpsertAuthorityNotification(_ context.Context, n *notification.AuthorityNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, hasAuthority := s.authorities[n.AuthorityID]
	_, hasTemplate := s.templates[n.TemplateID]
	if !hasAuthority || !hasTemplate {
		return errors.Validation("authority notification references a missing record", map[string]string{
			"template_id": "template or authority does not exist",
		})
	}

	key := overrideKey{authority: n.AuthorityID, template: n.TemplateID}
	if existing, ok := s.overrides[key]; ok {
		existing.To = n.To
		existing.UpdatedAt = n.UpdatedAt
		s.overrides[key] = existing
		n.ID = existing.ID
		n.CreatedAt = existing.CreatedAt
		return nil
	}
	s.overrides[key] = *n
	return nil
}

func (s *Store) GetAuthorityNotification(_ context.Context, authorityID, templateID types.ID) (*notification.AuthorityNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.overrides[overrideKey{authority: authorityID, template: templateID}]
	if !ok {
		return nil, errors.NotFound("authority notification", templateID.String())
	}
	return &n, nil
}

func (s *Store) ListAuthorityNotifications(_ context.Context, authorityID types.ID) ([]notification.AuthorityNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []notification.AuthorityNotification{}
	for key, n := range s.overrides {
		if key.authority == authorityID {
			out = append(out, n)
		}
	}
	byCreated(out, func(n notification.AuthorityNotification) (time.Time, types.ID) { return n.CreatedAt, n.ID })
	return out, nil
}
