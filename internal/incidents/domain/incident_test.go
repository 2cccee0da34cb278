package incidents

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	nurseAna  = Actor{EmployeeID: "E1", EmployeeName: "Ana Silva"}
	doctorBen = Actor{EmployeeID: "E2", EmployeeName: "Ben Okafor"}
	baseTime  = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
)

func newOpenIncident(t *testing.T) *Incident {
	t.Helper()
	incident, entry, err := NewIncident("INC-1", "ALERT-1", "P-100", "ICU-4", "CARDIAC_ARREST", SeverityCritical, baseTime)
	require.NoError(t, err)
	require.Equal(t, ActionCreated, entry.Action)
	require.Equal(t, StatusOpen, incident.Status)
	require.Zero(t, incident.Version)
	return incident
}

func TestNewIncidentValidation(t *testing.T) {
	_, _, err := NewIncident("", "ALERT-1", "P-1", "R", "X", SeverityLow, baseTime)
	assert.ErrorIs(t, err, ErrValidation)

	_, _, err = NewIncident("INC-1", "ALERT-1", "P-1", "R", "X", Severity("URGENT"), baseTime)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestHappyPathLifecycle(t *testing.T) {
	incident := newOpenIncident(t)

	entry, err := incident.Assign(nurseAna, "", baseTime.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, ActionAssigned, entry.Action)
	assert.Equal(t, StatusOpen, entry.PreviousStatus)
	assert.Equal(t, StatusAssigned, entry.NewStatus)

	_, err = incident.Acknowledge(nurseAna, baseTime.Add(45*time.Second))
	require.NoError(t, err)

	entry, err = incident.Start(nurseAna, "", baseTime.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, DefaultStartNote, entry.Note)

	_, err = incident.AddNote(nurseAna, "Patient stabilised, monitoring", baseTime.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, incident.Status)

	entry, err = incident.Resolve(nurseAna, "  Defibrillated, rhythm restored  ", baseTime.Add(10*time.Minute+500*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, ActionResolved, entry.Action)
	assert.Equal(t, StatusResolved, incident.Status)
	assert.Equal(t, "Defibrillated, rhythm restored", incident.ResolutionNotes)
	assert.Equal(t, "E1", incident.ResolvedByEmployeeID)

	response, ok := incident.ResponseTime()
	require.True(t, ok)
	resolution, ok := incident.ResolutionTime()
	require.True(t, ok)
	total, ok := incident.TotalTime()
	require.True(t, ok)
	assert.Equal(t, int64(45), response)
	assert.Equal(t, total, response+resolution)
}

func TestAcknowledgeTwiceKeepsTimestamp(t *testing.T) {
	incident := newOpenIncident(t)
	_, err := incident.Assign(nurseAna, "", baseTime)
	require.NoError(t, err)
	_, err = incident.Acknowledge(nurseAna, baseTime.Add(time.Second))
	require.NoError(t, err)
	ackedAt := incident.AcknowledgedAt

	_, err = incident.Acknowledge(nurseAna, baseTime.Add(time.Hour))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, ackedAt, incident.AcknowledgedAt)
}

func TestAssigneeOnlyActions(t *testing.T) {
	incident := newOpenIncident(t)
	_, err := incident.Assign(nurseAna, "", baseTime)
	require.NoError(t, err)

	_, err = incident.Acknowledge(doctorBen, baseTime)
	assert.ErrorIs(t, err, ErrNotAssigned)
	_, err = incident.AddNote(doctorBen, "not mine", baseTime)
	assert.ErrorIs(t, err, ErrNotAssigned)
	assert.Equal(t, StatusAssigned, incident.Status)
}

func TestAssignRequiresOpen(t *testing.T) {
	incident := newOpenIncident(t)
	_, err := incident.Assign(nurseAna, "", baseTime)
	require.NoError(t, err)
	_, err = incident.Assign(doctorBen, "", baseTime)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, "E1", incident.AssignedEmployeeID)
}

func TestResolveNotesBoundary(t *testing.T) {
	incident := newOpenIncident(t)
	_, _ = incident.Assign(nurseAna, "", baseTime)
	_, _ = incident.Acknowledge(nurseAna, baseTime)
	_, _ = incident.Start(nurseAna, "", baseTime)

	_, err := incident.Resolve(nurseAna, "  123456789  ", baseTime)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, StatusInProgress, incident.Status)
	assert.True(t, incident.ResolvedAt.IsZero())

	_, err = incident.Resolve(nurseAna, "1234567890", baseTime)
	assert.NoError(t, err)
}

func TestResolveNotesValidatedBeforeAssignee(t *testing.T) {
	incident := newOpenIncident(t)
	_, _ = incident.Assign(nurseAna, "", baseTime)

	_, err := incident.Resolve(doctorBen, "short", baseTime)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestEmptyNoteRejected(t *testing.T) {
	incident := newOpenIncident(t)
	_, _ = incident.Assign(nurseAna, "", baseTime)
	_, err := incident.AddNote(nurseAna, "   ", baseTime)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestClaimScenario(t *testing.T) {
	incident := newOpenIncident(t)
	_, err := incident.Assign(nurseAna, "", baseTime)
	require.NoError(t, err)
	assignedAt := incident.AssignedAt

	entry, err := incident.Claim(doctorBen, baseTime.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, ActionClaimed, entry.Action)
	assert.Equal(t, "Claimed incident (previously assigned to Ana Silva)", entry.Note)
	assert.Equal(t, StatusAcknowledged, incident.Status)
	assert.Equal(t, "E2", incident.AssignedEmployeeID)
	assert.Equal(t, assignedAt, incident.AssignedAt)
	assert.Equal(t, baseTime.Add(time.Minute), incident.AcknowledgedAt)

	_, err = incident.Acknowledge(nurseAna, baseTime.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrNotAssigned)
}

func TestClaimOpenIncident(t *testing.T) {
	incident := newOpenIncident(t)
	entry, err := incident.Claim(doctorBen, baseTime)
	require.NoError(t, err)
	assert.Equal(t, "Claimed unassigned incident", entry.Note)
	assert.Equal(t, baseTime, incident.AssignedAt)
}

func TestClaimRejections(t *testing.T) {
	incident := newOpenIncident(t)
	_, _ = incident.Assign(nurseAna, "", baseTime)

	_, err := incident.Claim(nurseAna, baseTime)
	assert.ErrorIs(t, err, ErrAlreadyAssigned)
	assert.ErrorIs(t, err, ErrConflict)
	assert.False(t, errors.Is(ErrConflict, ErrAlreadyAssigned))

	_, _ = incident.Acknowledge(nurseAna, baseTime)
	_, _ = incident.Start(nurseAna, "", baseTime)
	_, err = incident.Claim(doctorBen, baseTime)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, "E1", incident.AssignedEmployeeID)
}

func TestParseHelpers(t *testing.T) {
	status, ok := ParseStatus(" in_progress ")
	assert.True(t, ok)
	assert.Equal(t, StatusInProgress, status)
	_, ok = ParseStatus("CLOSED")
	assert.False(t, ok)

	severity, ok := ParseSeverity("high")
	assert.True(t, ok)
	assert.True(t, severity.AtLeast(SeverityHigh))
	assert.False(t, SeverityMedium.AtLeast(SeverityHigh))

	_, ok = ParseAction("DELETED")
	assert.False(t, ok)
}

func TestAssigneeActionsOnUnownedIncident(t *testing.T) {
	incident := newOpenIncident(t)

	_, err := incident.Acknowledge(nurseAna, baseTime)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.False(t, errors.Is(err, ErrNotAssigned))
	_, err = incident.Start(nurseAna, "", baseTime)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = incident.AddNote(nurseAna, "checking in", baseTime)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = incident.Resolve(nurseAna, "resolved without owner", baseTime)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusOpen, incident.Status)
}

func TestJSONOmitsUnsetTimestampsAndDurations(t *testing.T) {
	incident := newOpenIncident(t)
	raw, err := json.Marshal(incident)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "INC-1", body["incident_id"])
	assert.Equal(t, "OPEN", body["status"])
	assert.Contains(t, body, "created_at")
	for _, key := range []string{
		"assigned_at", "acknowledged_at", "in_progress_at", "resolved_at",
		"response_time_seconds", "resolution_time_seconds", "total_time_seconds",
	} {
		assert.NotContains(t, body, key)
	}
}

func TestJSONCarriesDurationsOnceResolved(t *testing.T) {
	incident := newOpenIncident(t)
	_, _ = incident.Assign(nurseAna, "", baseTime.Add(5*time.Second))
	_, _ = incident.Acknowledge(nurseAna, baseTime.Add(40*time.Second))
	_, _ = incident.Start(nurseAna, "", baseTime.Add(time.Minute))
	_, err := incident.Resolve(nurseAna, "Patient transferred to ICU", baseTime.Add(11*time.Minute))
	require.NoError(t, err)

	raw, err := json.Marshal(incident)
	require.NoError(t, err)
	var body struct {
		AcknowledgedAt *time.Time `json:"acknowledged_at"`
		Response       *int64     `json:"response_time_seconds"`
		Resolution     *int64     `json:"resolution_time_seconds"`
		Total          *int64     `json:"total_time_seconds"`
	}
	require.NoError(t, json.Unmarshal(raw, &body))
	require.NotNil(t, body.AcknowledgedAt)
	require.NotNil(t, body.Response)
	require.NotNil(t, body.Resolution)
	require.NotNil(t, body.Total)
	assert.EqualValues(t, 40, *body.Response)
	assert.EqualValues(t, 620, *body.Resolution)
	assert.Equal(t, *body.Response+*body.Resolution, *body.Total)

	var decoded Incident
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, *incident, decoded)
}
