package auth

import (
	"context"
	"strings"
)

// ResolveActor reconciles the employee named in a request body with the
// authenticated identity. Missing body values are taken from the token; a
// body employee id that differs from the token subject is rejected. Without
// an authenticated identity the body values pass through unchanged.
func ResolveActor(ctx context.Context, employeeID, employeeName string) (string, string, error) {
	employeeID = strings.TrimSpace(employeeID)
	employeeName = strings.TrimSpace(employeeName)
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return employeeID, employeeName, nil
	}
	if employeeID == "" {
		employeeID = identity.EmployeeID
	}
	if employeeID != identity.EmployeeID {
		return "", "", ErrIdentityMismatch
	}
	if employeeName == "" {
		employeeName = identity.Name
	}
	return employeeID, employeeName, nil
}

// EnsureSelf rejects access to another employee's resources unless the caller is an admin.
func EnsureSelf(ctx context.Context, employeeID string) error {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return nil
	}
	if identity.Role == RoleAdmin || identity.EmployeeID == employeeID {
		return nil
	}
	return ErrIdentityMismatch
}
