package authority

import (
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/opensur/platform/internal/shared/auth"
	"github.com/opensur/platform/internal/shared/types"
)

// Authority is a tenant organisation. Authorities form a forest through
// ParentID.
type Authority struct {
	ID        types.ID  `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	ParentID  *types.ID `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is a person acting on behalf of an authority.
type User struct {
	ID           types.ID  `json:"id"`
	Username     string    `json:"username"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Email        string    `json:"email"`
	Telephone    string    `json:"telephone"`
	AuthorityID  types.ID  `json:"authority_id"`
	Role         string    `json:"role"`
	IsStaff      bool      `json:"is_staff"`
	IsSuperuser  bool      `json:"is_superuser"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Principal returns the permission view of u.
func (u *User) Principal() auth.Principal {
	return auth.Principal{
		ID:          u.ID,
		Username:    u.Username,
		AuthorityID: u.AuthorityID,
		Role:        u.Role,
		IsStaff:     u.IsStaff,
		IsSuperuser: u.IsSuperuser,
	}
}

// CheckPassword reports whether password matches the stored hash.
func (u *User) CheckPassword(password string) bool {
	if u.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// AuthorityInput carries create and update fields. Nil pointers leave the
// stored value unchanged on update.
type AuthorityInput struct {
	Code     *string   `json:"code"`
	Name     *string   `json:"name"`
	ParentID *types.ID `json:"parent_id"`
	// ClearParent detaches the authority into a root on update.
	ClearParent bool `json:"clear_parent"`
}

// UserInput carries create and update fields for authority users.
type UserInput struct {
	Username    *string   `json:"username"`
	FirstName   *string   `json:"first_name"`
	LastName    *string   `json:"last_name"`
	Email       *string   `json:"email"`
	Telephone   *string   `json:"telephone"`
	AuthorityID *types.ID `json:"authority_id"`
	Role        *string   `json:"role"`
	IsStaff     *bool     `json:"is_staff"`
	IsSuperuser *bool     `json:"is_superuser"`
	Password    *string   `json:"password"`
}

// UserFilter narrows ListUsers. Nil AuthorityIDs means all authorities; an
// empty non-nil slice matches none.
type UserFilter struct {
	AuthorityIDs []types.ID
	Search       string
	Limit        int
	Offset       int
}

func stringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
