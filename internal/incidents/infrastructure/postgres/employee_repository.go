package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	incidents "incident-cloud/internal/incidents/domain"
)

const defaultEmployeesTable = "employees"

// EmployeeRepository reads the employee directory.
type EmployeeRepository struct {
	db    *sql.DB
	table string
}

// NewEmployeeRepository constructs a repository.
func NewEmployeeRepository(db *sql.DB) *EmployeeRepository {
	return &EmployeeRepository{db: db, table: defaultEmployeesTable}
}

// GetEmployee returns the employee or nil when unknown.
func (r *EmployeeRepository) GetEmployee(ctx context.Context, id string) (*incidents.Employee, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("employee repo: nil db")
	}
	var employee incidents.Employee
	var role, email, phone sql.NullString
	err := r.db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT employee_id, name, role, email, phone
FROM %s
WHERE employee_id = $1`, r.table), id).Scan(
		&employee.ID,
		&employee.Name,
		&role,
		&email,
		&phone,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	employee.Role = role.String
	employee.Email = email.String
	employee.Phone = phone.String
	return &employee, nil
}
