package auth

import "strings"

// Role is the access level carried in a token. Staff on the ward are
// operators, supervisors are admins and dashboards run as viewers.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

var roleRanks = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// staffRoles maps the job roles stored on employee records to access levels,
// so tokens minted from the staff directory can carry the job role as is.
var staffRoles = map[string]Role{
	"NURSE":            RoleOperator,
	"EMERGENCY_DOCTOR": RoleOperator,
	"DOCTOR":           RoleOperator,
	"PARAMEDIC":        RoleOperator,
	"CHARGE_NURSE":     RoleAdmin,
	"SUPERVISOR":       RoleAdmin,
	"DISPATCHER":       RoleViewer,
}

// NormalizeRole accepts an access level or a staff job role.
func NormalizeRole(value string) (Role, bool) {
	value = strings.TrimSpace(value)
	if role := Role(strings.ToLower(value)); roleRanks[role] > 0 {
		return role, true
	}
	role, ok := staffRoles[strings.ToUpper(value)]
	return role, ok
}

// RoleAtLeast reports whether role grants the required access level.
// Unknown roles grant nothing.
func RoleAtLeast(role Role, required Role) bool {
	rank := roleRanks[role]
	return rank > 0 && rank >= roleRanks[required]
}
