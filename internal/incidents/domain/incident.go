package incidents

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MinResolutionNotes is the minimum trimmed length of resolution notes.
const MinResolutionNotes = 10

// DefaultStartNote is recorded when start is called without a note.
const DefaultStartNote = "Started working on incident"

// Incident is a tracked response task spawned from a patient-monitoring alert.
// Its JSON form is defined in json.go.
type Incident struct {
	ID                   string
	AlertID              string
	PatientID            string
	Room                 string
	AlertType            string
	Severity             Severity
	Status               Status
	AssignedEmployeeID   string
	AssignedTo           string
	CreatedAt            time.Time
	AssignedAt           time.Time
	AcknowledgedAt       time.Time
	InProgressAt         time.Time
	ResolvedAt           time.Time
	ResolutionNotes      string
	ResolvedByEmployeeID string
	Version              int64
}

// HistoryEntry is an immutable audit record of one action.
type HistoryEntry struct {
	IncidentID     string    `json:"incident_id"`
	Action         Action    `json:"action"`
	EmployeeID     string    `json:"employee_id,omitempty"`
	EmployeeName   string    `json:"employee_name"`
	PreviousStatus Status    `json:"previous_status,omitempty"`
	NewStatus      Status    `json:"new_status,omitempty"`
	Note           string    `json:"note,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Actor identifies the employee performing an action.
type Actor struct {
	EmployeeID   string `json:"employee_id"`
	EmployeeName string `json:"employee_name"`
}

// NewIncident builds an OPEN incident at version 0 with its CREATED history entry.
func NewIncident(id, alertID, patientID, room, alertType string, severity Severity, at time.Time) (*Incident, HistoryEntry, error) {
	if strings.TrimSpace(id) == "" {
		return nil, HistoryEntry{}, fmt.Errorf("%w: incident id required", ErrValidation)
	}
	if strings.TrimSpace(alertID) == "" {
		return nil, HistoryEntry{}, fmt.Errorf("%w: alert id required", ErrValidation)
	}
	if severity.Rank() == 0 {
		return nil, HistoryEntry{}, fmt.Errorf("%w: invalid severity %q", ErrValidation, severity)
	}
	at = at.UTC()
	incident := &Incident{
		ID:        id,
		AlertID:   alertID,
		PatientID: patientID,
		Room:      room,
		AlertType: alertType,
		Severity:  severity,
		Status:    StatusOpen,
		CreatedAt: at,
	}
	entry := HistoryEntry{
		IncidentID:   id,
		Action:       ActionCreated,
		EmployeeName: "SYSTEM",
		NewStatus:    StatusOpen,
		Note:         "Created from alert " + alertID,
		Timestamp:    at,
	}
	return incident, entry, nil
}

// Clone returns a detached copy.
func (i *Incident) Clone() *Incident {
	if i == nil {
		return nil
	}
	copy := *i
	return &copy
}

// Assign moves an OPEN incident to ASSIGNED under the given employee.
func (i *Incident) Assign(assignee Actor, note string, at time.Time) (HistoryEntry, error) {
	if err := assignee.validate(); err != nil {
		return HistoryEntry{}, err
	}
	if i.Status != StatusOpen {
		return HistoryEntry{}, transitionError("assign", i.Status)
	}
	previous := i.Status
	i.AssignedEmployeeID = assignee.EmployeeID
	i.AssignedTo = assignee.EmployeeName
	setOnce(&i.AssignedAt, at)
	i.Status = StatusAssigned
	if note == "" {
		note = "Assigned to " + assignee.EmployeeName
	}
	return i.entry(ActionAssigned, assignee, previous, note, at), nil
}

// Acknowledge records that the assignee has seen the incident.
func (i *Incident) Acknowledge(actor Actor, at time.Time) (HistoryEntry, error) {
	if err := i.requireAssignee(actor, "acknowledge"); err != nil {
		return HistoryEntry{}, err
	}
	if i.Status != StatusAssigned {
		return HistoryEntry{}, transitionError("acknowledge", i.Status)
	}
	previous := i.Status
	setOnce(&i.AcknowledgedAt, at)
	i.Status = StatusAcknowledged
	return i.entry(ActionAcknowledged, actor, previous, "Employee acknowledged the incident", at), nil
}

// Start moves an acknowledged incident into progress.
func (i *Incident) Start(actor Actor, note string, at time.Time) (HistoryEntry, error) {
	if err := i.requireAssignee(actor, "start"); err != nil {
		return HistoryEntry{}, err
	}
	if i.Status != StatusAcknowledged {
		return HistoryEntry{}, transitionError("start", i.Status)
	}
	previous := i.Status
	setOnce(&i.InProgressAt, at)
	i.Status = StatusInProgress
	if strings.TrimSpace(note) == "" {
		note = DefaultStartNote
	}
	return i.entry(ActionStarted, actor, previous, strings.TrimSpace(note), at), nil
}

// AddNote appends a progress note without changing status.
func (i *Incident) AddNote(actor Actor, note string, at time.Time) (HistoryEntry, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return HistoryEntry{}, fmt.Errorf("%w: note cannot be empty", ErrValidation)
	}
	if err := i.requireAssignee(actor, "add a note to"); err != nil {
		return HistoryEntry{}, err
	}
	switch i.Status {
	case StatusAssigned, StatusAcknowledged, StatusInProgress:
	default:
		return HistoryEntry{}, transitionError("add a note to", i.Status)
	}
	return i.entry(ActionNoteAdded, actor, i.Status, note, at), nil
}

// Resolve closes an in-progress incident with resolution notes.
func (i *Incident) Resolve(actor Actor, notes string, at time.Time) (HistoryEntry, error) {
	notes = strings.TrimSpace(notes)
	if utf8.RuneCountInString(notes) < MinResolutionNotes {
		return HistoryEntry{}, fmt.Errorf("%w: resolution notes are required (minimum %d characters)", ErrValidation, MinResolutionNotes)
	}
	if err := i.requireAssignee(actor, "resolve"); err != nil {
		return HistoryEntry{}, err
	}
	if i.Status != StatusInProgress {
		return HistoryEntry{}, transitionError("resolve", i.Status)
	}
	previous := i.Status
	setOnce(&i.ResolvedAt, at)
	i.ResolutionNotes = notes
	i.ResolvedByEmployeeID = actor.EmployeeID
	i.Status = StatusResolved
	return i.entry(ActionResolved, actor, previous, notes, at), nil
}

// Claim hands ownership to a non-assignee and forces ACKNOWLEDGED.
func (i *Incident) Claim(claimant Actor, at time.Time) (HistoryEntry, error) {
	if err := claimant.validate(); err != nil {
		return HistoryEntry{}, err
	}
	if !i.Status.Claimable() {
		return HistoryEntry{}, transitionError("claim", i.Status)
	}
	if i.AssignedEmployeeID == claimant.EmployeeID {
		return HistoryEntry{}, ErrAlreadyAssigned
	}
	previous := i.Status
	note := "Claimed unassigned incident"
	if i.AssignedEmployeeID != "" {
		note = fmt.Sprintf("Claimed incident (previously assigned to %s)", i.AssignedTo)
	}
	i.AssignedEmployeeID = claimant.EmployeeID
	i.AssignedTo = claimant.EmployeeName
	setOnce(&i.AssignedAt, at)
	setOnce(&i.AcknowledgedAt, at)
	i.Status = StatusAcknowledged
	return i.entry(ActionClaimed, claimant, previous, note, at), nil
}

// ResponseTime is acknowledged_at minus created_at in whole seconds.
func (i *Incident) ResponseTime() (int64, bool) {
	if i.AcknowledgedAt.IsZero() || i.CreatedAt.IsZero() {
		return 0, false
	}
	return i.AcknowledgedAt.Unix() - i.CreatedAt.Unix(), true
}

// ResolutionTime is resolved_at minus acknowledged_at in whole seconds.
func (i *Incident) ResolutionTime() (int64, bool) {
	if i.ResolvedAt.IsZero() || i.AcknowledgedAt.IsZero() {
		return 0, false
	}
	return i.ResolvedAt.Unix() - i.AcknowledgedAt.Unix(), true
}

// TotalTime is resolved_at minus created_at in whole seconds.
func (i *Incident) TotalTime() (int64, bool) {
	if i.ResolvedAt.IsZero() || i.CreatedAt.IsZero() {
		return 0, false
	}
	return i.ResolvedAt.Unix() - i.CreatedAt.Unix(), true
}

// requireAssignee runs before the status check so a non-assignee learns it is
// not theirs. An incident nobody owns has no assignee to compare against, so
// that case is reported as an illegal transition instead.
func (i *Incident) requireAssignee(actor Actor, action string) error {
	if err := actor.validate(); err != nil {
		return err
	}
	if i.AssignedEmployeeID == "" {
		return transitionError(action, i.Status)
	}
	if i.AssignedEmployeeID != actor.EmployeeID {
		return fmt.Errorf("%w: incident %s is assigned to %q", ErrNotAssigned, i.ID, i.AssignedEmployeeID)
	}
	return nil
}

func (i *Incident) entry(action Action, actor Actor, previous Status, note string, at time.Time) HistoryEntry {
	return HistoryEntry{
		IncidentID:     i.ID,
		Action:         action,
		EmployeeID:     actor.EmployeeID,
		EmployeeName:   actor.EmployeeName,
		PreviousStatus: previous,
		NewStatus:      i.Status,
		Note:           note,
		Timestamp:      at.UTC(),
	}
}

func (a Actor) validate() error {
	if strings.TrimSpace(a.EmployeeID) == "" {
		return fmt.Errorf("%w: employee_id is required", ErrValidation)
	}
	if strings.TrimSpace(a.EmployeeName) == "" {
		return fmt.Errorf("%w: employee_name is required", ErrValidation)
	}
	return nil
}

func transitionError(action string, status Status) error {
	return fmt.Errorf("%w: cannot %s incident with status %s", ErrInvalidTransition, action, status)
}

func setOnce(target *time.Time, at time.Time) {
	if target.IsZero() {
		*target = at.UTC()
	}
}
