package apihttp

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	eventingrepo "incident-cloud/internal/eventing/infrastructure/postgres"
)

const (
	timeLayout      = time.RFC3339
	maxExportRange  = 366 * 24 * time.Hour
	defaultDLQLimit = 100
	maxDLQLimit     = 1000
)

// DeadLetterLister reads parked outbox failures.
type DeadLetterLister interface {
	List(ctx context.Context, limit int) ([]eventingrepo.DeadLetter, error)
}

// DeadLettersHandler serves outbox dead letters to operators.
type DeadLettersHandler struct {
	store DeadLetterLister
}

// NewDeadLettersHandler constructs a DeadLettersHandler.
func NewDeadLettersHandler(store DeadLetterLister) *DeadLettersHandler {
	return &DeadLettersHandler{store: store}
}

// ServeHTTP handles GET /api/v1/ops/dead-letters.
func (h *DeadLettersHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.store == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	limit := defaultDLQLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		if parsed > maxDLQLimit {
			parsed = maxDLQLimit
		}
		limit = parsed
	}

	items, err := h.store.List(r.Context(), limit)
	if err != nil {
		http.Error(w, "query dead letters error", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []eventingrepo.DeadLetter{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(items)
}

// ExportIncidentsCSVHandler serves incident CSV exports straight from the
// incidents table.
type ExportIncidentsCSVHandler struct {
	db *sql.DB
}

// NewExportIncidentsCSVHandler constructs a ExportIncidentsCSVHandler.
func NewExportIncidentsCSVHandler(db *sql.DB) *ExportIncidentsCSVHandler {
	return &ExportIncidentsCSVHandler{db: db}
}

// ServeHTTP handles GET /api/v1/exports/incidents.csv.
func (h *ExportIncidentsCSVHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.db == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	from, err := parseTimeQuery(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}
	if to.Sub(from) > maxExportRange {
		http.Error(w, "range must not exceed 366 days", http.StatusBadRequest)
		return
	}

	rows, err := queryIncidents(r.Context(), h.db, from, to)
	if err != nil {
		http.Error(w, "query incidents error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="incidents.csv"`)
	writer := csv.NewWriter(w)
	_ = writer.Write([]string{
		"incident_id",
		"alert_type",
		"severity",
		"status",
		"patient_id",
		"room",
		"assigned_employee_id",
		"assigned_to",
		"created_at",
		"acknowledged_at",
		"resolved_at",
		"response_time_seconds",
		"resolution_time_seconds",
		"total_time_seconds",
	})
	for _, row := range rows {
		_ = writer.Write([]string{
			row.IncidentID,
			row.AlertType,
			row.Severity,
			row.Status,
			row.PatientID,
			row.Room,
			row.AssignedEmployeeID,
			row.AssignedTo,
			formatTime(row.CreatedAt),
			formatNullTime(row.AcknowledgedAt),
			formatNullTime(row.ResolvedAt),
			formatNullInt(row.ResponseSeconds),
			formatNullInt(row.ResolutionSeconds),
			formatNullInt(row.TotalSeconds),
		})
	}
	writer.Flush()
}

type incidentRow struct {
	IncidentID         string
	AlertType          string
	Severity           string
	Status             string
	PatientID          string
	Room               string
	AssignedEmployeeID string
	AssignedTo         string
	CreatedAt          time.Time
	AcknowledgedAt     sql.NullTime
	ResolvedAt         sql.NullTime
	ResponseSeconds    sql.NullInt64
	ResolutionSeconds  sql.NullInt64
	TotalSeconds       sql.NullInt64
}

func queryIncidents(ctx context.Context, db *sql.DB, from, to time.Time) ([]incidentRow, error) {
	rows, err := db.QueryContext(ctx, `
SELECT
	incident_id,
	alert_type,
	severity,
	status,
	patient_id,
	COALESCE(room, ''),
	COALESCE(assigned_employee_id, ''),
	COALESCE(assigned_to, ''),
	created_at,
	acknowledged_at,
	resolved_at,
	response_time_seconds,
	resolution_time_seconds,
	total_time_seconds
FROM incidents
WHERE created_at >= $1
	AND created_at < $2
ORDER BY created_at ASC`, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []incidentRow
	for rows.Next() {
		var row incidentRow
		if err := rows.Scan(
			&row.IncidentID,
			&row.AlertType,
			&row.Severity,
			&row.Status,
			&row.PatientID,
			&row.Room,
			&row.AssignedEmployeeID,
			&row.AssignedTo,
			&row.CreatedAt,
			&row.AcknowledgedAt,
			&row.ResolvedAt,
			&row.ResponseSeconds,
			&row.ResolutionSeconds,
			&row.TotalSeconds,
		); err != nil {
			return nil, err
		}
		row.CreatedAt = row.CreatedAt.UTC()
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, errors.New(key + " is required")
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(timeLayout)
}

func formatNullTime(value sql.NullTime) string {
	if !value.Valid {
		return ""
	}
	return formatTime(value.Time)
}

func formatNullInt(value sql.NullInt64) string {
	if !value.Valid {
		return ""
	}
	return strconv.FormatInt(value.Int64, 10)
}
