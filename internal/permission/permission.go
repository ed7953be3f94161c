// Package permission decides what an authority user may do. Decisions depend
// on the actor's principal kind and on where the target sits in the
// authority hierarchy.
package permission

import (
	"fmt"

	"github.com/opensur/platform/internal/shared/auth"
	"github.com/opensur/platform/internal/shared/errors"
	"github.com/opensur/platform/internal/shared/metrics"
	"github.com/opensur/platform/internal/shared/types"
)

// Closure answers hierarchy membership questions. *authority.Hierarchy
// satisfies it.
type Closure interface {
	// IsDescendant reports whether id is root or lies below it.
	IsDescendant(root, id types.ID) bool
}

// Decision is the outcome of a permission check.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

// Err returns nil when allowed and a Forbidden error otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return errors.Forbidden(d.Reason)
}

func record(resource, action string, d Decision) Decision {
	metrics.RecordAuthorizationDecision(resource, action, d.Allowed)
	return d
}

// CanManageAuthorityUser decides whether actor may create or edit an
// authority user bound to target.
func CanManageAuthorityUser(h Closure, actor auth.Principal, target types.ID) Decision {
	var d Decision
	switch actor.Kind() {
	case auth.KindSuperuser:
		d = allow()
	case auth.KindStaff:
		d = staffManages(h, actor, target)
	case auth.KindMember:
		d = memberManages(actor, target)
	default:
		panic(fmt.Sprintf("permission: unhandled principal kind %d", actor.Kind()))
	}
	return record("authority_user", "manage", d)
}

func staffManages(h Closure, actor auth.Principal, target types.ID) Decision {
	if h.IsDescendant(actor.AuthorityID, target) {
		return allow()
	}
	return deny("authority is outside your hierarchy")
}

func memberManages(actor auth.Principal, target types.ID) Decision {
	if actor.AuthorityID == target {
		return allow()
	}
	return deny("authority differs from your own")
}

// CanCreateForAuthority resolves the authority a new record is bound to.
// A nil target defaults to the actor's own authority; an explicit one must
// pass CanManageAuthorityUser.
func CanCreateForAuthority(h Closure, actor auth.Principal, target *types.ID) (types.ID, Decision) {
	if target == nil || target.IsZero() {
		return actor.AuthorityID, record("authority_user", "create", allow())
	}
	d := CanManageAuthorityUser(h, actor, *target)
	return *target, d
}

// CanActOnCase decides whether actor may forward or read a case attached to
// caseAuthorities. Non-superusers need their authority to be an ancestor
// (inclusive) of at least one case authority.
func CanActOnCase(h Closure, actor auth.Principal, caseAuthorities []types.ID) Decision {
	var d Decision
	switch actor.Kind() {
	case auth.KindSuperuser:
		d = allow()
	case auth.KindStaff, auth.KindMember:
		d = deny("case is not assigned to your authority hierarchy")
		for _, c := range caseAuthorities {
			if h.IsDescendant(actor.AuthorityID, c) {
				d = allow()
				break
			}
		}
	default:
		panic(fmt.Sprintf("permission: unhandled principal kind %d", actor.Kind()))
	}
	return record("case", "act", d)
}

// VisibleAuthorities returns the authority ids whose records actor may list.
// A nil slice means no restriction.
func VisibleAuthorities(descendants func(types.ID) []types.ID, actor auth.Principal) []types.ID {
	switch actor.Kind() {
	case auth.KindSuperuser:
		return nil
	case auth.KindStaff:
		return descendants(actor.AuthorityID)
	case auth.KindMember:
		return []types.ID{actor.AuthorityID}
	default:
		panic(fmt.Sprintf("permission: unhandled principal kind %d", actor.Kind()))
	}
}

// VisibleCaseAuthorities returns the authority ids whose cases actor may
// list, mirroring CanActOnCase. A nil slice means no restriction.
func VisibleCaseAuthorities(descendants func(types.ID) []types.ID, actor auth.Principal) []types.ID {
	switch actor.Kind() {
	case auth.KindSuperuser:
		return nil
	case auth.KindStaff, auth.KindMember:
		return descendants(actor.AuthorityID)
	default:
		panic(fmt.Sprintf("permission: unhandled principal kind %d", actor.Kind()))
	}
}
