// Package rbac decides which callers may invoke a procedure.
package rbac

type Role string
type Access string

const (
	RoleAnonymous Role = "anonymous"
	RoleMember    Role = "member"
)

const (
	// AccessPublic procedures accept anonymous callers.
	AccessPublic Access = "public"
	// AccessProtected procedures need a signed-in, rate limited caller.
	AccessProtected Access = "protected"
)

func Can(role Role, access Access) bool {
	switch access {
	case AccessPublic:
		return true
	case AccessProtected:
		return role == RoleMember
	default:
		return false
	}
}

// RoleFor maps a resolved viewer id to a role.
func RoleFor(viewerID string) Role {
	if viewerID == "" {
		return RoleAnonymous
	}
	return RoleMember
}

// RateLimited reports whether calls at this access level count against the
// per-user limiter.
func RateLimited(access Access) bool {
	return access == AccessProtected
}
