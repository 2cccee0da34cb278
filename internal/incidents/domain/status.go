package incidents

import "strings"

// Status is the lifecycle state of an incident.
type Status string

const (
	StatusOpen         Status = "OPEN"
	StatusAssigned     Status = "ASSIGNED"
	StatusAcknowledged Status = "ACKNOWLEDGED"
	StatusInProgress   Status = "IN_PROGRESS"
	StatusResolved     Status = "RESOLVED"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusOpen, StatusAssigned, StatusAcknowledged, StatusInProgress, StatusResolved}

// ParseStatus validates and normalizes a status string.
func ParseStatus(value string) (Status, bool) {
	switch status := Status(strings.ToUpper(strings.TrimSpace(value))); status {
	case StatusOpen, StatusAssigned, StatusAcknowledged, StatusInProgress, StatusResolved:
		return status, true
	default:
		return "", false
	}
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool { return s == StatusResolved }

// Claimable reports whether another employee may take ownership.
func (s Status) Claimable() bool {
	switch s {
	case StatusOpen, StatusAssigned, StatusAcknowledged:
		return true
	default:
		return false
	}
}

// Severity is fixed at creation.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// ParseSeverity validates and normalizes a severity string.
func ParseSeverity(value string) (Severity, bool) {
	switch severity := Severity(strings.ToUpper(strings.TrimSpace(value))); severity {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return severity, true
	default:
		return "", false
	}
}

// Rank orders severities, higher is more urgent.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is as urgent as target.
func (s Severity) AtLeast(target Severity) bool {
	return s.Rank() >= target.Rank()
}

// Action names a history entry.
type Action string

const (
	ActionCreated      Action = "CREATED"
	ActionAssigned     Action = "ASSIGNED"
	ActionAcknowledged Action = "ACKNOWLEDGED"
	ActionStarted      Action = "STARTED_PROGRESS"
	ActionNoteAdded    Action = "NOTE_ADDED"
	ActionClaimed      Action = "CLAIMED"
	ActionResolved     Action = "INCIDENT_RESOLVED"
)

// ParseAction validates an action string read back from storage.
func ParseAction(value string) (Action, bool) {
	switch action := Action(value); action {
	case ActionCreated, ActionAssigned, ActionAcknowledged, ActionStarted, ActionNoteAdded, ActionClaimed, ActionResolved:
		return action, true
	default:
		return "", false
	}
}
