package rbac

import "fmt"

const (
	PermissionReadRules        = "rules:read"
	PermissionWriteRules       = "rules:write"
	PermissionReadDeadLetters  = "dead_letters:read"
	PermissionReplayDeadLetter = "dead_letters:replay"
	PermissionReadDeliveries   = "deliveries:read"
	PermissionTrigger          = "triggers:fire"
	PermissionCancel           = "notifications:cancel"
	PermissionReadOwnHistory   = "history:read_own"
)

const (
	RoleUser     = "user"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

var rolePermissions = map[string][]string{
	RoleUser: {
		PermissionReadOwnHistory,
	},
	RoleOperator: {
		PermissionReadOwnHistory,
		PermissionReadRules,
		PermissionReadDeadLetters,
		PermissionReadDeliveries,
	},
	RoleAdmin: {
		PermissionReadOwnHistory,
		PermissionReadRules,
		PermissionWriteRules,
		PermissionReadDeadLetters,
		PermissionReplayDeadLetter,
		PermissionReadDeliveries,
		PermissionTrigger,
		PermissionCancel,
	},
}

// HasPermission reports whether role grants permission. Unknown roles have
// no permissions.
func HasPermission(role, permission string) bool {
	for _, p := range rolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission is HasPermission returning a *PermissionDeniedError.
func CheckPermission(role, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{Role: role, Permission: permission}
	}
	return nil
}

type PermissionDeniedError struct {
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("role %q lacks permission %q", e.Role, e.Permission)
}
