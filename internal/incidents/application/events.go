package application

import (
	"context"
	"time"

	incidents "incident-cloud/internal/incidents/domain"
)

// Incident event types.
const (
	EventCreated      = "created"
	EventAssigned     = "assigned"
	EventAcknowledged = "acknowledged"
	EventStarted      = "started"
	EventNoteAdded    = "note_added"
	EventClaimed      = "claimed"
	EventResolved     = "resolved"
)

// IncidentNotifier publishes incident lifecycle events.
type IncidentNotifier interface {
	Notify(ctx context.Context, event IncidentEvent)
}

// IncidentEvent is emitted once per accepted mutation.
type IncidentEvent struct {
	Type                 string             `json:"type"`
	IncidentID           string             `json:"incident_id"`
	Incident             incidents.Incident `json:"incident"`
	Actor                incidents.Actor    `json:"actor"`
	PreviousAssigneeID   string             `json:"previous_assignee_id,omitempty"`
	PreviousAssigneeName string             `json:"previous_assignee_name,omitempty"`
	Note                 string             `json:"note,omitempty"`
	OccurredAt           time.Time          `json:"occurred_at"`
}
