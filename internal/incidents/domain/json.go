package incidents

import (
	"encoding/json"
	"time"
)

// incidentJSON is the wire shape of an Incident. Lifecycle timestamps that
// have not happened yet and durations that are not yet defined are omitted.
type incidentJSON struct {
	ID                    string     `json:"incident_id"`
	AlertID               string     `json:"alert_id"`
	PatientID             string     `json:"patient_id"`
	Room                  string     `json:"room"`
	AlertType             string     `json:"alert_type"`
	Severity              Severity   `json:"severity"`
	Status                Status     `json:"status"`
	AssignedEmployeeID    string     `json:"assigned_employee_id,omitempty"`
	AssignedTo            string     `json:"assigned_to,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	AssignedAt            *time.Time `json:"assigned_at,omitempty"`
	AcknowledgedAt        *time.Time `json:"acknowledged_at,omitempty"`
	InProgressAt          *time.Time `json:"in_progress_at,omitempty"`
	ResolvedAt            *time.Time `json:"resolved_at,omitempty"`
	ResolutionNotes       string     `json:"resolution_notes,omitempty"`
	ResolvedByEmployeeID  string     `json:"resolved_by_employee_id,omitempty"`
	ResponseTimeSeconds   *int64     `json:"response_time_seconds,omitempty"`
	ResolutionTimeSeconds *int64     `json:"resolution_time_seconds,omitempty"`
	TotalTimeSeconds      *int64     `json:"total_time_seconds,omitempty"`
	Version               int64      `json:"version"`
}

// MarshalJSON renders the incident with its derived durations.
func (i Incident) MarshalJSON() ([]byte, error) {
	wire := incidentJSON{
		ID:                   i.ID,
		AlertID:              i.AlertID,
		PatientID:            i.PatientID,
		Room:                 i.Room,
		AlertType:            i.AlertType,
		Severity:             i.Severity,
		Status:               i.Status,
		AssignedEmployeeID:   i.AssignedEmployeeID,
		AssignedTo:           i.AssignedTo,
		CreatedAt:            i.CreatedAt,
		AssignedAt:           timePtr(i.AssignedAt),
		AcknowledgedAt:       timePtr(i.AcknowledgedAt),
		InProgressAt:         timePtr(i.InProgressAt),
		ResolvedAt:           timePtr(i.ResolvedAt),
		ResolutionNotes:      i.ResolutionNotes,
		ResolvedByEmployeeID: i.ResolvedByEmployeeID,
		Version:              i.Version,
	}
	wire.ResponseTimeSeconds = secondsPtr(i.ResponseTime())
	wire.ResolutionTimeSeconds = secondsPtr(i.ResolutionTime())
	wire.TotalTimeSeconds = secondsPtr(i.TotalTime())
	return json.Marshal(wire)
}

// UnmarshalJSON reads the wire shape back. Durations are derived, so any
// values present in the input are ignored.
func (i *Incident) UnmarshalJSON(data []byte) error {
	var wire incidentJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*i = Incident{
		ID:                   wire.ID,
		AlertID:              wire.AlertID,
		PatientID:            wire.PatientID,
		Room:                 wire.Room,
		AlertType:            wire.AlertType,
		Severity:             wire.Severity,
		Status:               wire.Status,
		AssignedEmployeeID:   wire.AssignedEmployeeID,
		AssignedTo:           wire.AssignedTo,
		CreatedAt:            wire.CreatedAt,
		AssignedAt:           timeValue(wire.AssignedAt),
		AcknowledgedAt:       timeValue(wire.AcknowledgedAt),
		InProgressAt:         timeValue(wire.InProgressAt),
		ResolvedAt:           timeValue(wire.ResolvedAt),
		ResolutionNotes:      wire.ResolutionNotes,
		ResolvedByEmployeeID: wire.ResolvedByEmployeeID,
		Version:              wire.Version,
	}
	return nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func timeValue(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func secondsPtr(seconds int64, ok bool) *int64 {
	if !ok {
		return nil
	}
	return &seconds
}
