package incidents

import "context"

// Repository persists incidents and their history. Events passed to Create
// and Update are recorded in the same unit of work as the change, so a
// committed change always has its events queued for delivery.
type Repository interface {
	Create(ctx context.Context, incident *Incident, entry HistoryEntry, events ...any) error
	GetByID(ctx context.Context, id string) (*Incident, error)
	List(ctx context.Context, filter ListFilter) ([]Incident, error)
	History(ctx context.Context, id string) ([]HistoryEntry, error)
	// Update stores incident only when the stored version equals expected and
	// appends entry in the same unit of work. On success incident.Version is
	// expected+1; on a lost race it returns ErrConflict and changes nothing.
	Update(ctx context.Context, incident *Incident, expected int64, entry HistoryEntry, events ...any) error
	Workload(ctx context.Context, employeeID string) (Workload, error)
}

// ListFilter narrows List results.
type ListFilter struct {
	Status     Status
	Severity   Severity
	AssigneeID string
	Limit      int
}

// Workload counts the active incidents owned by an employee.
type Workload struct {
	InProgress int `json:"in_progress"`
	Total      int `json:"total"`
}

// Employee is a directory record used to resolve assignee names.
type Employee struct {
	ID    string `json:"employee_id"`
	Name  string `json:"name"`
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// EmployeeDirectory looks up employees by id.
type EmployeeDirectory interface {
	GetEmployee(ctx context.Context, id string) (*Employee, error)
}
