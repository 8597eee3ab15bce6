package auth

import "errors"

// Role represents an authorisation tier for API callers.
type Role string

const (
	// RoleViewer can read status, endpoints and the lifecycle journal, and
	// watch the live event stream.
	RoleViewer Role = "viewer"

	// RoleOperator can do everything a viewer can plus connect, disconnect
	// and publish through the managed session.
	RoleOperator Role = "operator"
)

// ValidRoles is the set of roles a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator}

// IsValidRole returns true if r is one of ValidRoles.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Domain errors.
var (
	ErrTokenInvalid   = errors.New("invalid token")
	ErrSecretRequired = errors.New("signing secret is required")
	ErrInvalidRole    = errors.New("invalid role")
	ErrForbidden      = errors.New("insufficient permissions")
)
