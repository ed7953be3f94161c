package auth

import (
	"context"

	"github.com/opensur/platform/internal/shared/types"
)

// Kind is the closed set of permission strategies a principal can hold.
type Kind int

const (
	KindMember Kind = iota
	KindStaff
	KindSuperuser
)

func (k Kind) String() string {
	switch k {
	case KindSuperuser:
		return "superuser"
	case KindStaff:
		return "staff"
	default:
		return "member"
	}
}

// RoleOfficer is the business role allowed to administer authority users.
const RoleOfficer = "officer"

// Principal is the acting authority user.
type Principal struct {
	ID          types.ID `json:"id"`
	Username    string   `json:"username"`
	AuthorityID types.ID `json:"authority_id"`
	Role        string   `json:"role"`
	IsStaff     bool     `json:"is_staff"`
	IsSuperuser bool     `json:"is_superuser"`
}

// Kind derives the permission strategy. Superuser wins over staff.
func (p Principal) Kind() Kind {
	switch {
	case p.IsSuperuser:
		return KindSuperuser
	case p.IsStaff:
		return KindStaff
	default:
		return KindMember
	}
}

type contextKey string

const principalContextKey contextKey = "principal"

// WithPrincipal stores p on ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// GetPrincipal extracts the principal from request context
func GetPrincipal(ctx context.Context) *Principal {
	p, ok := ctx.Value(principalContextKey).(*Principal)
	if !ok {
		return nil
	}
	return p
}
