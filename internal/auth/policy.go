// Package auth - policy.go holds the console's role-based permission policy:
// a closed set of actions and a pure decision function over (role, action).
package auth

import "github.com/opsconsole/opsconsole/internal/db/models"

// Action is a permission-checked operation.
type Action int

const (
	ActionReadFile Action = iota + 1
	ActionCreateFile
	ActionWriteFile
	ActionDeleteFile
	ActionViewAuditLog
	ActionManageAccounts
	ActionViewSystem
)

// AllActions returns every defined action.
func AllActions() []Action {
	return []Action{
		ActionReadFile,
		ActionCreateFile,
		ActionWriteFile,
		ActionDeleteFile,
		ActionViewAuditLog,
		ActionManageAccounts,
		ActionViewSystem,
	}
}

func (a Action) String() string {
	switch a {
	case ActionReadFile:
		return "read_file"
	case ActionCreateFile:
		return "create_file"
	case ActionWriteFile:
		return "write_file"
	case ActionDeleteFile:
		return "delete_file"
	case ActionViewAuditLog:
		return "view_audit_log"
	case ActionManageAccounts:
		return "manage_accounts"
	case ActionViewSystem:
		return "view_system"
	default:
		return "unknown"
	}
}

// Decision is the outcome of a policy check.
type Decision int

const (
	Deny Decision = iota
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// Authorize decides whether role may perform action. Regular users may read,
// create and list workspace files and view host status; every action is open
// to admins. Unknown roles and actions are denied.
func Authorize(role models.Role, action Action) Decision {
	switch role {
	case models.RoleAdmin:
		switch action {
		case ActionReadFile, ActionCreateFile, ActionWriteFile, ActionDeleteFile,
			ActionViewAuditLog, ActionManageAccounts, ActionViewSystem:
			return Allow
		}
	case models.RoleUser:
		switch action {
		case ActionReadFile, ActionCreateFile, ActionViewSystem:
			return Allow
		case ActionWriteFile, ActionDeleteFile, ActionViewAuditLog, ActionManageAccounts:
			return Deny
		}
	}
	return Deny
}

// Allowed is Authorize reduced to a bool.
func Allowed(role models.Role, action Action) bool {
	return Authorize(role, action) == Allow
}
