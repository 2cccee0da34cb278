package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	incidents "incident-cloud/internal/incidents/domain"
)

const (
	defaultIncidentsTable = "incidents"
	defaultHistoryTable   = "incident_history"
)

const incidentColumns = `incident_id, alert_id, patient_id, room, alert_type, severity, status,
	assigned_employee_id, assigned_to, created_at, assigned_at, acknowledged_at,
	in_progress_at, resolved_at, resolution_notes, resolved_by_employee_id, version`

// IncidentRepository is a Postgres repository for incidents and their history.
type IncidentRepository struct {
	db       *sql.DB
	table    string
	history  string
	recorder EventRecorder
}

// EventRecorder writes events inside the repository's transaction.
type EventRecorder interface {
	RecordTx(ctx context.Context, tx *sql.Tx, event any) error
}

// IncidentOption configures the repository.
type IncidentOption func(*IncidentRepository)

// WithIncidentTables overrides the table names.
func WithIncidentTables(incidentsTable, historyTable string) IncidentOption {
	return func(r *IncidentRepository) {
		if incidentsTable != "" {
			r.table = incidentsTable
		}
		if historyTable != "" {
			r.history = historyTable
		}
	}
}

// WithEventRecorder records the events passed to Create and Update in the
// same transaction as the incident row.
func WithEventRecorder(recorder EventRecorder) IncidentOption {
	return func(r *IncidentRepository) {
		r.recorder = recorder
	}
}

// NewIncidentRepository constructs a repository.
func NewIncidentRepository(db *sql.DB, opts ...IncidentOption) *IncidentRepository {
	repo := &IncidentRepository{db: db, table: defaultIncidentsTable, history: defaultHistoryTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Create inserts the incident, its creation entry and its events in one transaction.
func (r *IncidentRepository) Create(ctx context.Context, incident *incidents.Incident, entry incidents.HistoryEntry, events ...any) error {
	if r == nil || r.db == nil {
		return errors.New("incident repo: nil db")
	}
	if incident == nil || incident.ID == "" {
		return errors.New("incident repo: missing incident id")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf(`
INSERT INTO %s (
	incident_id, alert_id, patient_id, room, alert_type, severity, status,
	assigned_employee_id, assigned_to, created_at, assigned_at, acknowledged_at,
	in_progress_at, resolved_at, resolution_notes, resolved_by_employee_id, version
) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10, $11, $12,
	$13, $14, $15, $16, $17
)`, r.table)
	if _, err := tx.ExecContext(ctx, query,
		incident.ID,
		incident.AlertID,
		incident.PatientID,
		nullableString(incident.Room),
		nullableString(incident.AlertType),
		string(incident.Severity),
		string(incident.Status),
		nullableString(incident.AssignedEmployeeID),
		nullableString(incident.AssignedTo),
		incident.CreatedAt,
		nullableTime(incident.AssignedAt),
		nullableTime(incident.AcknowledgedAt),
		nullableTime(incident.InProgressAt),
		nullableTime(incident.ResolvedAt),
		nullableString(incident.ResolutionNotes),
		nullableString(incident.ResolvedByEmployeeID),
		incident.Version,
	); err != nil {
		return err
	}
	if err := r.insertHistory(ctx, tx, entry); err != nil {
		return err
	}
	if err := r.recordEvents(ctx, tx, events); err != nil {
		return err
	}
	return tx.Commit()
}

// GetByID fetches an incident by id.
func (r *IncidentRepository) GetByID(ctx context.Context, id string) (*incidents.Incident, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("incident repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT %s
FROM %s
WHERE incident_id = $1`, incidentColumns, r.table), id)
	return scanIncident(row)
}

// List returns incidents newest first.
func (r *IncidentRepository) List(ctx context.Context, filter incidents.ListFilter) ([]incidents.Incident, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("incident repo: nil db")
	}
	var where []string
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Severity != "" {
		args = append(args, string(filter.Severity))
		where = append(where, fmt.Sprintf("severity = $%d", len(args)))
	}
	if filter.AssigneeID != "" {
		args = append(args, filter.AssigneeID)
		where = append(where, fmt.Sprintf("assigned_employee_id = $%d", len(args)))
	}
	query := fmt.Sprintf("SELECT %s FROM %s", incidentColumns, r.table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, incident_id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []incidents.Incident
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *incident)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// History returns entries ordered by timestamp ascending.
func (r *IncidentRepository) History(ctx context.Context, id string) ([]incidents.HistoryEntry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("incident repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT incident_id, action, employee_id, employee_name, previous_status, new_status, note, timestamp
FROM %s
WHERE incident_id = $1
ORDER BY timestamp ASC, id ASC`, r.history), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []incidents.HistoryEntry
	for rows.Next() {
		var entry incidents.HistoryEntry
		var action string
		var employeeID, previous, next, note sql.NullString
		if err := rows.Scan(
			&entry.IncidentID,
			&action,
			&employeeID,
			&entry.EmployeeName,
			&previous,
			&next,
			&note,
			&entry.Timestamp,
		); err != nil {
			return nil, err
		}
		entry.Action = incidents.Action(action)
		entry.EmployeeID = employeeID.String
		entry.PreviousStatus = incidents.Status(previous.String)
		entry.NewStatus = incidents.Status(next.String)
		entry.Note = note.String
		entry.Timestamp = entry.Timestamp.UTC()
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Update writes the incident when the stored version equals expected and
// appends the history entry and events in the same transaction.
func (r *IncidentRepository) Update(ctx context.Context, incident *incidents.Incident, expected int64, entry incidents.HistoryEntry, events ...any) error {
	if r == nil || r.db == nil {
		return errors.New("incident repo: nil db")
	}
	if incident == nil || incident.ID == "" {
		return errors.New("incident repo: missing incident id")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	responseSeconds, responseOK := incident.ResponseTime()
	resolutionSeconds, resolutionOK := incident.ResolutionTime()
	totalSeconds, totalOK := incident.TotalTime()

	query := fmt.Sprintf(`
UPDATE %s
SET status = $1,
	assigned_employee_id = $2,
	assigned_to = $3,
	assigned_at = $4,
	acknowledged_at = $5,
	in_progress_at = $6,
	resolved_at = $7,
	resolution_notes = $8,
	resolved_by_employee_id = $9,
	response_time_seconds = $10,
	resolution_time_seconds = $11,
	total_time_seconds = $12,
	version = version + 1
WHERE incident_id = $13 AND version = $14`, r.table)
	res, err := tx.ExecContext(ctx, query,
		string(incident.Status),
		nullableString(incident.AssignedEmployeeID),
		nullableString(incident.AssignedTo),
		nullableTime(incident.AssignedAt),
		nullableTime(incident.AcknowledgedAt),
		nullableTime(incident.InProgressAt),
		nullableTime(incident.ResolvedAt),
		nullableString(incident.ResolutionNotes),
		nullableString(incident.ResolvedByEmployeeID),
		nullableInt(responseSeconds, responseOK),
		nullableInt(resolutionSeconds, resolutionOK),
		nullableInt(totalSeconds, totalOK),
		incident.ID,
		expected,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE incident_id = $1)`, r.table), incident.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s", incidents.ErrNotFound, incident.ID)
		}
		return fmt.Errorf("%w: incident %s changed concurrently", incidents.ErrConflict, incident.ID)
	}
	if err := r.insertHistory(ctx, tx, entry); err != nil {
		return err
	}
	if err := r.recordEvents(ctx, tx, events); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	incident.Version = expected + 1
	return nil
}

// Workload counts active incidents owned by an employee.
func (r *IncidentRepository) Workload(ctx context.Context, employeeID string) (incidents.Workload, error) {
	if r == nil || r.db == nil {
		return incidents.Workload{}, errors.New("incident repo: nil db")
	}
	var workload incidents.Workload
	err := r.db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT
	COUNT(*) FILTER (WHERE status = 'IN_PROGRESS'),
	COUNT(*)
FROM %s
WHERE assigned_employee_id = $1 AND status <> 'RESOLVED'`, r.table), employeeID).Scan(&workload.InProgress, &workload.Total)
	return workload, err
}

func (r *IncidentRepository) recordEvents(ctx context.Context, tx *sql.Tx, events []any) error {
	if r.recorder == nil {
		return nil
	}
	for _, event := range events {
		if err := r.recorder.RecordTx(ctx, tx, event); err != nil {
			return fmt.Errorf("incident repo: record event: %w", err)
		}
	}
	return nil
}

func (r *IncidentRepository) insertHistory(ctx context.Context, tx *sql.Tx, entry incidents.HistoryEntry) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (
	incident_id, action, employee_id, employee_name, previous_status, new_status, note, timestamp
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)`, r.history),
		entry.IncidentID,
		string(entry.Action),
		nullableString(entry.EmployeeID),
		entry.EmployeeName,
		nullableString(string(entry.PreviousStatus)),
		nullableString(string(entry.NewStatus)),
		nullableString(entry.Note),
		entry.Timestamp,
	)
	return err
}

type incidentScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row incidentScanner) (*incidents.Incident, error) {
	var incident incidents.Incident
	var severity, status string
	var room, alertType, assigneeID, assignedTo, notes, resolvedBy sql.NullString
	var assignedAt, acknowledgedAt, inProgressAt, resolvedAt sql.NullTime
	if err := row.Scan(
		&incident.ID,
		&incident.AlertID,
		&incident.PatientID,
		&room,
		&alertType,
		&severity,
		&status,
		&assigneeID,
		&assignedTo,
		&incident.CreatedAt,
		&assignedAt,
		&acknowledgedAt,
		&inProgressAt,
		&resolvedAt,
		&notes,
		&resolvedBy,
		&incident.Version,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	incident.Severity = incidents.Severity(severity)
	incident.Status = incidents.Status(status)
	incident.Room = room.String
	incident.AlertType = alertType.String
	incident.AssignedEmployeeID = assigneeID.String
	incident.AssignedTo = assignedTo.String
	incident.ResolutionNotes = notes.String
	incident.ResolvedByEmployeeID = resolvedBy.String
	incident.CreatedAt = incident.CreatedAt.UTC()
	if assignedAt.Valid {
		incident.AssignedAt = assignedAt.Time.UTC()
	}
	if acknowledgedAt.Valid {
		incident.AcknowledgedAt = acknowledgedAt.Time.UTC()
	}
	if inProgressAt.Valid {
		incident.InProgressAt = inProgressAt.Time.UTC()
	}
	if resolvedAt.Valid {
		incident.ResolvedAt = resolvedAt.Time.UTC()
	}
	return &incident, nil
}

func nullableTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value, Valid: true}
}

func nullableString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func nullableInt(value int64, ok bool) sql.NullInt64 {
	if !ok {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: value, Valid: true}
}
