package memory

import (
	"context"
	"slices"
	"sort"
	"strings"

	"github.com/opensur/platform/internal/authority"
	"github.com/opensur/platform/internal/shared/errors"
	"github.com/opensur/platform/internal/shared/types"
)

func cloneAuthority(a authority.Authority) authority.Authority {
	a.ParentID = cloneID(a.ParentID)
	return a
}

func (s *Store) ListAuthorities(_ context.Context) ([]authority.Authority, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]authority.Authority, 0, len(s.authorities))
	for _, a := range s.authorities {
		out = append(out, cloneAuthority(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *Store) GetAuthority(_ context.Context, id types.ID) (*authority.Authority, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.authorities[id]
	if !ok {
		return nil, errors.NotFound("authority", id.String())
	}
	a = cloneAuthority(a)
	return &a, nil
}

func (s *Store) codeTakenLocked(code string, exclude types.ID) bool {
	for _, a := range s.authorities {
		if a.Code == code && a.ID != exclude {
			return true
		}
	}
	return false
}

func (s *Store) CreateAuthority(_ context.Context, a *authority.Authority) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codeTakenLocked(a.Code, a.ID) {
		return errors.Conflict("authority with this code already exists")
	}
	s.authorities[a.ID] = cloneAuthority(*a)
	return nil
}

func (s *Store) UpdateAuthority(_ context.Context, a *authority.Authority) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.authorities[a.ID]; !ok {
		return errors.NotFound("authority", a.ID.String())
	}
	if s.codeTakenLocked(a.Code, a.ID) {
		return errors.Conflict("authority with this code already exists")
	}
	s.authorities[a.ID] = cloneAuthority(*a)
	return nil
}

func (s *Store) DeleteAuthority(_ context.Context, id types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.authorities[id]; !ok {
		return errors.NotFound("authority", id.String())
	}
	for _, a := range s.authorities {
		if a.ParentID != nil && *a.ParentID == id {
			return errors.Conflict("authority is still referenced")
		}
	}
	for _, u := range s.users {
		if u.AuthorityID == id {
			return errors.Conflict("authority is still referenced")
		}
	}
	if s.countCasesLocked(id) > 0 {
		return errors.Conflict("authority is still referenced")
	}
	delete(s.authorities, id)
	return nil
}

func (s *Store) AuthorityCodeTaken(_ context.Context, code string, exclude types.ID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.codeTakenLocked(code, exclude), nil
}

func (s *Store) CountChildAuthorities(_ context.Context, id types.ID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.authorities {
		if a.ParentID != nil && *a.ParentID == id {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountUsers(_ context.Context, authorityID types.ID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, u := range s.users {
		if u.AuthorityID == authorityID {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountCases(_ context.Context, authorityID types.ID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countCasesLocked(authorityID), nil
}

func (s *Store) countCasesLocked(authorityID types.ID) int {
	n := 0
	for _, c := range s.cases {
		if slices.Contains(c.Authorities, authorityID) {
			n++
		}
	}
	return n
}

// --- Users ---

func (s *Store) GetUser(_ context.Context, id types.ID) (*authority.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, errors.NotFound("authority user", id.String())
	}
	return &u, nil
}

func (s *Store) ListUsers(_ context.Context, filter authority.UserFilter) ([]authority.User, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var allowed types.IDSet
	if filter.AuthorityIDs != nil {
		allowed = types.NewIDSet(filter.AuthorityIDs...)
	}
	search := strings.ToLower(filter.Search)

	var matched []authority.User
	for _, u := range s.users {
		if allowed != nil && !allowed.Has(u.AuthorityID) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(u.Username), search) &&
			!strings.Contains(strings.ToLower(u.FirstName), search) &&
			!strings.Contains(strings.ToLower(u.LastName), search) {
			continue
		}
		matched = append(matched, u)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Username < matched[j].Username })

	out, total := page(matched, filter.Limit, filter.Offset)
	return out, total, nil
}

func (s *Store) usernameTakenLocked(username string, exclude types.ID) bool {
	for _, u := range s.users {
		if u.Username == username && u.ID != exclude {
			return true
		}
	}
	return false
}

func (s *Store) CreateUser(_ context.Context, u *authority.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usernameTakenLocked(u.Username, u.ID) {
		return errors.Conflict("authority user with this username already exists")
	}
	s.users[u.ID] = *u
	return nil
}

func (s *Store) UpdateUser(_ context.Context, u *authority.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return errors.NotFound("authority user", u.ID.String())
	}
	if s.usernameTakenLocked(u.Username, u.ID) {
		return errors.Conflict("authority user with this username already exists")
	}
	s.users[u.ID] = *u
	return nil
}

func (s *Store) DeleteUser(_ context.Context, id types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return errors.NotFound("authority user", id.String())
	}
	delete(s.users, id)
	return nil
}

func (s *Store) UsernameTaken(_ context.Context, username string, exclude types.ID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usernameTakenLocked(username, exclude), nil
}
