// Package guard enforces the role and ownership rules shared by every
// manager operation.
package guard

import (
	"github.com/smallorbit/nebula/internal/fault"
	"github.com/smallorbit/nebula/internal/identity/domain"
	"github.com/smallorbit/nebula/internal/opctx"
)

// adminOnlyFields may only be written by admin actors, even on the actor's
// own record.
var adminOnlyFields = []string{"role", "status"}

// CheckRole reports whether the context's actor may run the operation.
// On failure it seals the context with Forbidden and returns false.
//
// Rules, in order:
//   - an empty allowed set admits every authenticated actor;
//   - an actor holding any allowed role passes;
//   - a non-admin actor operating on their own resource passes, unless the
//     input writes an admin-only field.
func CheckRole(op *opctx.Context, allowed ...string) bool {
	if op.Failed() {
		return false
	}
	actor := op.Actor()
	if actor == nil {
		op.Fail(fault.New(fault.Unauthenticated, "caller is not authenticated"))
		return false
	}

	if len(allowed) == 0 {
		return true
	}
	for _, role := range allowed {
		if actor.HasRole(role) {
			return true
		}
	}

	if target := op.Target(); target != nil && target.ID == actor.ID {
		if field := adminOnlyField(op.Input()); field != "" {
			op.Fail(fault.Newf(fault.Forbidden, "field %q requires an admin role", field))
			return false
		}
		return true
	}

	op.Fail(fault.New(fault.Forbidden, "caller role does not permit this operation"))
	return false
}

// IsAdmin reports whether the actor holds any admin role.
func IsAdmin(actor *opctx.Actor) bool {
	for _, role := range domain.AdminRoles {
		if actor.HasRole(role) {
			return true
		}
	}
	return false
}

func adminOnlyField(input map[string]any) string {
	for _, field := range adminOnlyFields {
		if _, ok := input[field]; ok {
			return field
		}
	}
	return ""
}
