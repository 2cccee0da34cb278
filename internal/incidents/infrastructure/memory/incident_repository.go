package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	incidents "incident-cloud/internal/incidents/domain"
)

// IncidentRepository is an in-memory incident store with version compare-and-set.
type IncidentRepository struct {
	mu       sync.RWMutex
	data     map[string]*incidents.Incident
	history  map[string][]incidents.HistoryEntry
	recorder EventRecorder
}

// EventRecorder writes events to an outbox.
type EventRecorder interface {
	Record(ctx context.Context, event any) error
}

// Option configures the repository.
type Option func(*IncidentRepository)

// WithEventRecorder records the events passed to Create and Update while the
// write lock is held, after the version check has passed.
func WithEventRecorder(recorder EventRecorder) Option {
	return func(r *IncidentRepository) {
		r.recorder = recorder
	}
}

// NewIncidentRepository constructs a repository.
func NewIncidentRepository(opts ...Option) *IncidentRepository {
	repo := &IncidentRepository{
		data:    make(map[string]*incidents.Incident),
		history: make(map[string][]incidents.HistoryEntry),
	}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Create stores a new incident with its creation entry.
func (r *IncidentRepository) Create(ctx context.Context, incident *incidents.Incident, entry incidents.HistoryEntry, events ...any) error {
	if incident == nil || incident.ID == "" {
		return fmt.Errorf("%w: incident id required", incidents.ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.data[incident.ID]; exists {
		return fmt.Errorf("%w: incident %s already exists", incidents.ErrConflict, incident.ID)
	}
	if err := r.recordEvents(ctx, events); err != nil {
		return err
	}
	r.data[incident.ID] = incident.Clone()
	r.history[incident.ID] = append(r.history[incident.ID], entry)
	return nil
}

// GetByID returns a copy of the incident or nil when unknown.
func (r *IncidentRepository) GetByID(ctx context.Context, id string) (*incidents.Incident, error) {
	_ = ctx
	r.mu.RLock()
	incident := r.data[id]
	r.mu.RUnlock()
	if incident == nil {
		return nil, nil
	}
	return incident.Clone(), nil
}

// List returns matching incidents newest first.
func (r *IncidentRepository) List(ctx context.Context, filter incidents.ListFilter) ([]incidents.Incident, error) {
	_ = ctx
	r.mu.RLock()
	result := make([]incidents.Incident, 0, len(r.data))
	for _, incident := range r.data {
		if filter.Status != "" && incident.Status != filter.Status {
			continue
		}
		if filter.Severity != "" && incident.Severity != filter.Severity {
			continue
		}
		if filter.AssigneeID != "" && incident.AssignedEmployeeID != filter.AssigneeID {
			continue
		}
		result = append(result, *incident)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// History returns entries ordered by timestamp ascending.
func (r *IncidentRepository) History(ctx context.Context, id string) ([]incidents.HistoryEntry, error) {
	_ = ctx
	r.mu.RLock()
	entries := append([]incidents.HistoryEntry(nil), r.history[id]...)
	r.mu.RUnlock()
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// Update replaces the incident when the stored version equals expected.
func (r *IncidentRepository) Update(ctx context.Context, incident *incidents.Incident, expected int64, entry incidents.HistoryEntry, events ...any) error {
	if incident == nil {
		return fmt.Errorf("%w: nil incident", incidents.ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := r.data[incident.ID]
	if stored == nil {
		return fmt.Errorf("%w: %s", incidents.ErrNotFound, incident.ID)
	}
	if stored.Version != expected {
		return fmt.Errorf("%w: incident %s changed concurrently", incidents.ErrConflict, incident.ID)
	}
	if err := r.recordEvents(ctx, events); err != nil {
		return err
	}
	incident.Version = expected + 1
	r.data[incident.ID] = incident.Clone()
	r.history[incident.ID] = append(r.history[incident.ID], entry)
	return nil
}

func (r *IncidentRepository) recordEvents(ctx context.Context, events []any) error {
	if r.recorder == nil {
		return nil
	}
	for _, event := range events {
		if err := r.recorder.Record(ctx, event); err != nil {
			return fmt.Errorf("incident repo: record event: %w", err)
		}
	}
	return nil
}

// Workload counts active incidents owned by an employee.
func (r *IncidentRepository) Workload(ctx context.Context, employeeID string) (incidents.Workload, error) {
	_ = ctx
	var workload incidents.Workload
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, incident := range r.data {
		if incident.AssignedEmployeeID != employeeID || incident.Status == incidents.StatusResolved {
			continue
		}
		workload.Total++
		if incident.Status == incidents.StatusInProgress {
			workload.InProgress++
		}
	}
	return workload, nil
}

// EmployeeDirectory is a fixed in-memory employee lookup.
type EmployeeDirectory struct {
	mu        sync.RWMutex
	employees map[string]incidents.Employee
}

// NewEmployeeDirectory constructs a directory seeded with employees.
func NewEmployeeDirectory(employees ...incidents.Employee) *EmployeeDirectory {
	directory := &EmployeeDirectory{employees: make(map[string]incidents.Employee)}
	for _, employee := range employees {
		directory.employees[employee.ID] = employee
	}
	return directory
}

// Put adds or replaces an employee.
func (d *EmployeeDirectory) Put(employee incidents.Employee) {
	d.mu.Lock()
	d.employees[employee.ID] = employee
	d.mu.Unlock()
}

// GetEmployee returns the employee or nil when unknown.
func (d *EmployeeDirectory) GetEmployee(ctx context.Context, id string) (*incidents.Employee, error) {
	_ = ctx
	d.mu.RLock()
	employee, ok := d.employees[id]
	d.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return &employee, nil
}
