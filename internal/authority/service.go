package authority

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/opensur/platform/internal/permission"
	"github.com/opensur/platform/internal/shared/auth"
	"github.com/opensur/platform/internal/shared/errors"
	"github.com/opensur/platform/internal/shared/problem"
	"github.com/opensur/platform/internal/shared/types"
)

// Store is the persistence port for authorities and authority users.
type Store interface {
	Lister
	GetAuthority(ctx context.Context, id types.ID) (*Authority, error)
	CreateAuthority(ctx context.Context, a *Authority) error
	UpdateAuthority(ctx context.Context, a *Authority) error
	DeleteAuthority(ctx context.Context, id types.ID) error
	AuthorityCodeTaken(ctx context.Context, code string, exclude types.ID) (bool, error)
	CountChildAuthorities(ctx context.Context, id types.ID) (int, error)
	CountUsers(ctx context.Context, authorityID types.ID) (int, error)
	CountCases(ctx context.Context, authorityID types.ID) (int, error)

	GetUser(ctx context.Context, id types.ID) (*User, error)
	ListUsers(ctx context.Context, filter UserFilter) ([]User, int, error)
	CreateUser(ctx context.Context, u *User) error
	UpdateUser(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, id types.ID) error
	UsernameTaken(ctx context.Context, username string, exclude types.ID) (bool, error)
}

// userAdminGate guards every authority-user mutation before scope checks.
var userAdminGate = permission.Or(permission.IsSuperuser, permission.IsOfficerRole)

// Service administers authorities and authority users.
type Service struct {
	store Store
	cache *HierarchyCache
	log   zerolog.Logger
	now   func() time.Time
}

// NewService creates an authority service. The cache must be built over
// the same store.
func NewService(store Store, cache *HierarchyCache, log zerolog.Logger) *Service {
	return &Service{
		store: store,
		cache: cache,
		log:   log.With().Str("component", "authority").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Hierarchy returns the current authority closure.
func (s *Service) Hierarchy(ctx context.Context) (*Hierarchy, error) {
	return s.cache.Get(ctx)
}

// ListAuthorities returns every authority.
func (s *Service) ListAuthorities(ctx context.Context) ([]Authority, error) {
	h, err := s.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	var out []Authority
	var walk func(list []Authority)
	walk = func(list []Authority) {
		for _, a := range list {
			out = append(out, a)
			walk(h.Children(a.ID))
		}
	}
	walk(h.Roots())
	return out, nil
}

// GetAuthority returns one authority.
func (s *Service) GetAuthority(ctx context.Context, id types.ID) (*Authority, error) {
	return s.store.GetAuthority(ctx, id)
}

// CreateAuthority creates an authority. Superuser only.
func (s *Service) CreateAuthority(ctx context.Context, actor auth.Principal, in AuthorityInput) (problem.Result[*Authority], error) {
	if err := permission.Gate(actor, permission.IsSuperuser); err != nil {
		return problem.Result[*Authority]{}, err
	}

	p := problem.New()
	code := strings.TrimSpace(stringValue(in.Code))
	name := strings.TrimSpace(stringValue(in.Name))
	p.NotEmpty("code", code, "code is required")
	p.NotEmpty("name", name, "name is required")
	if code != "" {
		taken, err := s.store.AuthorityCodeTaken(ctx, code, "")
		if err != nil {
			return problem.Result[*Authority]{}, err
		}
		p.Duplicate("code", taken)
	}

	var parentID *types.ID
	if in.ParentID != nil && !in.ParentID.IsZero() {
		h, err := s.cache.Get(ctx)
		if err != nil {
			return problem.Result[*Authority]{}, err
		}
		if _, ok := h.Get(*in.ParentID); !ok {
			p.Add("parent_id", "parent authority does not exist")
		}
		parentID = in.ParentID
	}

	if p.Has() {
		return problem.Fail[*Authority](p), nil
	}

	now := s.now()
	a := &Authority{ID: types.NewID(), Code: code, Name: name, ParentID: parentID, CreatedAt: now, UpdatedAt: now}
	if err := s.store.CreateAuthority(ctx, a); err != nil {
		return problem.Result[*Authority]{}, err
	}
	s.cache.Invalidate()

	s.log.Info().Str("authority_id", a.ID.String()).Str("code", a.Code).Msg("Authority created")
	return problem.Success(a), nil
}

// UpdateAuthority edits an authority. Moving it under itself or one of its
// descendants is a parent_id problem.
func (s *Service) UpdateAuthority(ctx context.Context, actor auth.Principal, id types.ID, in AuthorityInput) (problem.Result[*Authority], error) {
	if err := permission.Gate(actor, permission.IsSuperuser); err != nil {
		return problem.Result[*Authority]{}, err
	}

	a, err := s.store.GetAuthority(ctx, id)
	if errors.Is(err, errors.ErrNotFound) {
		return problem.Fail[*Authority](problem.NotFound()), nil
	}
	if err != nil {
		return problem.Result[*Authority]{}, err
	}

	p := problem.New()
	if in.Code != nil {
		code := strings.TrimSpace(*in.Code)
		p.NotEmpty("code", code, "code is required")
		if code != "" && code != a.Code {
			taken, err := s.store.AuthorityCodeTaken(ctx, code, a.ID)
			if err != nil {
				return problem.Result[*Authority]{}, err
			}
			p.Duplicate("code", taken)
		}
		a.Code = code
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		p.NotEmpty("name", name, "name is required")
		a.Name = name
	}

	switch {
	case in.ClearParent:
		a.ParentID = nil
	case in.ParentID != nil && !in.ParentID.IsZero():
		h, err := s.cache.Get(ctx)
		if err != nil {
			return problem.Result[*Authority]{}, err
		}
		switch {
		case *in.ParentID == a.ID:
			p.Add("parent_id", "an authority cannot be its own parent")
		case h.IsDescendant(a.ID, *in.ParentID):
			p.Add("parent_id", "parent cannot be a descendant of the authority")
		default:
			if _, ok := h.Get(*in.ParentID); !ok {
				p.Add("parent_id", "parent authority does not exist")
			}
		}
		a.ParentID = in.ParentID
	}

	if p.Has() {
		return problem.Fail[*Authority](p), nil
	}

	a.UpdatedAt = s.now()
	if err := s.store.UpdateAuthority(ctx, a); err != nil {
		return problem.Result[*Authority]{}, err
	}
	s.cache.Invalidate()

	s.log.Info().Str("authority_id", a.ID.String()).Msg("Authority updated")
	return problem.Success(a), nil
}

// DeleteAuthority removes an authority that has no children, users or
// cases. The refusal is reported as a problem rather than cascading.
func (s *Service) DeleteAuthority(ctx context.Context, actor auth.Principal, id types.ID) (*problem.Problem, error) {
	if err := permission.Gate(actor, permission.IsSuperuser); err != nil {
		return nil, err
	}
	if _, err := s.store.GetAuthority(ctx, id); err != nil {
		return nil, err
	}

	p := problem.New()
	children, err := s.store.CountChildAuthorities(ctx, id)
	if err != nil {
		return nil, err
	}
	if children > 0 {
		p.Add("children", "authority still has child authorities")
	}
	users, err := s.store.CountUsers(ctx, id)
	if err != nil {
		return nil, err
	}
	if users > 0 {
		p.Add("users", "authority still has users")
	}
	cases, err := s.store.CountCases(ctx, id)
	if err != nil {
		return nil, err
	}
	if cases > 0 {
		p.Add("cases", "authority is still assigned to cases")
	}
	if p.Has() {
		p.Message = "authority cannot be deleted"
		return p, nil
	}

	if err := s.store.DeleteAuthority(ctx, id); err != nil {
		return nil, err
	}
	s.cache.Invalidate()

	s.log.Info().Str("authority_id", id.String()).Msg("Authority deleted")
	return nil, nil
}

// --- Authority users ---

// ListUsers lists the users visible to actor.
func (s *Service) ListUsers(ctx context.Context, actor auth.Principal, filter UserFilter) ([]User, int, error) {
	h, err := s.cache.Get(ctx)
	if err != nil {
		return nil, 0, err
	}
	visible := permission.VisibleAuthorities(h.DescendantIDs, actor)
	if visible != nil {
		if filter.AuthorityIDs == nil {
			filter.AuthorityIDs = visible
		} else {
			allowed := types.NewIDSet(visible...)
			var narrowed []types.ID
			for _, id := range filter.AuthorityIDs {
				if allowed.Has(id) {
					narrowed = append(narrowed, id)
				}
			}
			filter.AuthorityIDs = append([]types.ID{}, narrowed...)
		}
	}
	return s.store.ListUsers(ctx, filter)
}

// GetUser returns a user the actor is allowed to manage.
func (s *Service) GetUser(ctx context.Context, actor auth.Principal, id types.ID) (*User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	h, err := s.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	if err := permission.CanManageAuthorityUser(h, actor, u.AuthorityID).Err(); err != nil {
		return nil, err
	}
	return u, nil
}

// CreateUser creates an authority user. The actor must be a superuser or an
// officer, and the target authority must be within the actor's scope.
func (s *Service) CreateUser(ctx context.Context, actor auth.Principal, in UserInput) (problem.Result[*User], error) {
	if err := permission.Gate(actor, userAdminGate); err != nil {
		return problem.Result[*User]{}, err
	}
	h, err := s.cache.Get(ctx)
	if err != nil {
		return problem.Result[*User]{}, err
	}
	authorityID, decision := permission.CanCreateForAuthority(h, actor, in.AuthorityID)
	if err := decision.Err(); err != nil {
		return problem.Result[*User]{}, err
	}
	if err := s.checkPrivilegeGrant(actor, in); err != nil {
		return problem.Result[*User]{}, err
	}

	p := problem.New()
	username := strings.TrimSpace(stringValue(in.Username))
	firstName := strings.TrimSpace(stringValue(in.FirstName))
	p.NotEmpty("username", username, "username is required")
	p.NotEmpty("first_name", firstName, "first name is required")
	if username != "" {
		taken, err := s.store.UsernameTaken(ctx, username, "")
		if err != nil {
			return problem.Result[*User]{}, err
		}
		p.Duplicate("username", taken)
	}
	if _, ok := h.Get(authorityID); !ok {
		p.Add("authority_id", "authority does not exist")
	}

	now := s.now()
	u := &User{
		ID:          types.NewID(),
		Username:    username,
		FirstName:   firstName,
		LastName:    strings.TrimSpace(stringValue(in.LastName)),
		Email:       strings.TrimSpace(stringValue(in.Email)),
		Telephone:   strings.TrimSpace(stringValue(in.Telephone)),
		AuthorityID: authorityID,
		Role:        strings.TrimSpace(stringValue(in.Role)),
		IsStaff:     in.IsStaff != nil && *in.IsStaff,
		IsSuperuser: in.IsSuperuser != nil && *in.IsSuperuser,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.Password != nil {
		s.setPassword(p, u, *in.Password)
	}

	if p.Has() {
		return problem.Fail[*User](p), nil
	}

	if err := s.store.CreateUser(ctx, u); err != nil {
		return problem.Result[*User]{}, err
	}

	s.log.Info().
		Str("user_id", u.ID.String()).
		Str("authority_id", u.AuthorityID.String()).
		Str("actor_id", actor.ID.String()).
		Msg("Authority user created")
	return problem.Success(u), nil
}

// UpdateUser edits an authority user. The actor must be allowed to manage
// both the user's current authority and any authority it is moved to.
func (s *Service) UpdateUser(ctx context.Context, actor auth.Principal, id types.ID, in UserInput) (problem.Result[*User], error) {
	if err := permission.Gate(actor, userAdminGate); err != nil {
		return problem.Result[*User]{}, err
	}

	u, err := s.store.GetUser(ctx, id)
	if errors.Is(err, errors.ErrNotFound) {
		return problem.Fail[*User](problem.NotFound()), nil
	}
	if err != nil {
		return problem.Result[*User]{}, err
	}

	h, err := s.cache.Get(ctx)
	if err != nil {
		return problem.Result[*User]{}, err
	}
	if err := permission.CanManageAuthorityUser(h, actor, u.AuthorityID).Err(); err != nil {
		return problem.Result[*User]{}, err
	}
	if in.AuthorityID != nil && !in.AuthorityID.IsZero() && *in.AuthorityID != u.AuthorityID {
		if err := permission.CanManageAuthorityUser(h, actor, *in.AuthorityID).Err(); err != nil {
			return problem.Result[*User]{}, err
		}
	}
	if err := s.checkPrivilegeGrant(actor, in); err != nil {
		return problem.Result[*User]{}, err
	}

	p := problem.New()
	if in.Username != nil {
		username := strings.TrimSpace(*in.Username)
		p.NotEmpty("username", username, "username is required")
		if username != "" && username != u.Username {
			taken, err := s.store.UsernameTaken(ctx, username, u.ID)
			if err != nil {
				return problem.Result[*User]{}, err
			}
			p.Duplicate("username", taken)
		}
		u.Username = username
	}
	if in.FirstName != nil {
		firstName := strings.TrimSpace(*in.FirstName)
		p.NotEmpty("first_name", firstName, "first name is required")
		u.FirstName = firstName
	}
	if in.LastName != nil {
		u.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.Email != nil {
		u.Email = strings.TrimSpace(*in.Email)
	}
	if in.Telephone != nil {
		u.Telephone = strings.TrimSpace(*in.Telephone)
	}
	if in.Role != nil {
		u.Role = strings.TrimSpace(*in.Role)
	}
	if in.IsStaff != nil {
		u.IsStaff = *in.IsStaff
	}
	if in.IsSuperuser != nil {
		u.IsSuperuser = *in.IsSuperuser
	}
	if in.AuthorityID != nil && !in.AuthorityID.IsZero() {
		if _, ok := h.Get(*in.AuthorityID); !ok {
			p.Add("authority_id", "authority does not exist")
		}
		u.AuthorityID = *in.AuthorityID
	}
	if in.Password != nil {
		s.setPassword(p, u, *in.Password)
	}

	if p.Has() {
		return problem.Fail[*User](p), nil
	}

	u.UpdatedAt = s.now()
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return problem.Result[*User]{}, err
	}

	s.log.Info().Str("user_id", u.ID.String()).Str("actor_id", actor.ID.String()).Msg("Authority user updated")
	return problem.Success(u), nil
}

// DeleteUser removes an authority user. Superuser only.
func (s *Service) DeleteUser(ctx context.Context, actor auth.Principal, id types.ID) error {
	if err := permission.Gate(actor, permission.IsSuperuser); err != nil {
		return err
	}
	if err := s.store.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("user_id", id.String()).Str("actor_id", actor.ID.String()).Msg("Authority user deleted")
	return nil
}

// checkPrivilegeGrant keeps non-superusers from minting superusers and
// members from minting staff.
func (s *Service) checkPrivilegeGrant(actor auth.Principal, in UserInput) error {
	if in.IsSuperuser != nil && *in.IsSuperuser && !actor.IsSuperuser {
		return errors.Forbidden("only superusers can grant superuser")
	}
	if in.IsStaff != nil && *in.IsStaff && actor.Kind() == auth.KindMember {
		return errors.Forbidden("only staff can grant staff")
	}
	return nil
}

const minPasswordLength = 8

func (s *Service) setPassword(p *problem.Problem, u *User, password string) {
	if len(password) < minPasswordLength {
		p.Add("password", "password must be at least 8 characters")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		p.Add("password", "password cannot be hashed")
		return
	}
	u.PasswordHash = string(hash)
}
