package permission

import (
	"github.com/opensur/platform/internal/shared/auth"
	"github.com/opensur/platform/internal/shared/errors"
)

// Predicate is a capability test on the actor alone.
type Predicate func(auth.Principal) bool

// IsSuperuser passes superusers.
func IsSuperuser(p auth.Principal) bool { return p.IsSuperuser }

// IsStaff passes staff, including superusers flagged as staff.
func IsStaff(p auth.Principal) bool { return p.IsStaff }

// IsOfficerRole passes users holding the officer business role.
func IsOfficerRole(p auth.Principal) bool { return p.Role == auth.RoleOfficer }

// Or passes when any predicate passes.
func Or(preds ...Predicate) Predicate {
	return func(p auth.Principal) bool {
		for _, pred := range preds {
			if pred(p) {
				return true
			}
		}
		return false
	}
}

// And passes when every predicate passes.
func And(preds ...Predicate) Predicate {
	return func(p auth.Principal) bool {
		for _, pred := range preds {
			if !pred(p) {
				return false
			}
		}
		return true
	}
}

// Gate returns a Forbidden error unless pred passes for actor.
func Gate(actor auth.Principal, pred Predicate) error {
	if pred(actor) {
		return nil
	}
	return errors.Forbidden("permission denied")
}
