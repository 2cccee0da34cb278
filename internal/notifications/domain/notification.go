package notifications

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound   = errors.New("notification: not found")
	ErrValidation = errors.New("notification: validation failed")
	// ErrDuplicate reports that a notification with the same id is already stored.
	ErrDuplicate = errors.New("notification: duplicate")
)

// Notification types.
const (
	TypeIncidentAssigned     = "INCIDENT_ASSIGNED"
	TypeIncidentReassigned   = "INCIDENT_REASSIGNED"
	TypeIncidentAcknowledged = "INCIDENT_ACKNOWLEDGED"
	TypeIncidentStarted      = "INCIDENT_STARTED"
	TypeIncidentNoteAdded    = "INCIDENT_NOTE_ADDED"
	TypeIncidentClaimed      = "INCIDENT_CLAIMED"
	TypeIncidentResolved     = "INCIDENT_RESOLVED"
	TypeIncidentEscalated    = "INCIDENT_ESCALATED"
)

// Notification is a durable per-employee message. It is the source of truth
// for what an employee has been told, independent of live delivery.
type Notification struct {
	ID         string         `json:"notification_id"`
	EmployeeID string         `json:"employee_id"`
	IncidentID string         `json:"incident_id,omitempty"`
	Type       string         `json:"type"`
	Severity   string         `json:"severity"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	Data       map[string]any `json:"data,omitempty"`
	IsRead     bool           `json:"is_read"`
	CreatedAt  time.Time      `json:"created_at"`
	ReadAt     *time.Time     `json:"read_at,omitempty"`
}

// Draft is the caller-supplied part of a notification. ID is optional; a
// caller that may retry supplies a stable one so the retry is not stored twice.
type Draft struct {
	ID         string
	EmployeeID string
	IncidentID string
	Type       string
	Severity   string
	Title      string
	Message    string
	Data       map[string]any
}

// Repository persists notifications.
type Repository interface {
	// Save stores a new notification. It returns ErrDuplicate and leaves the
	// stored row untouched when the id is already present.
	Save(ctx context.Context, notification *Notification) error
	ListByEmployee(ctx context.Context, employeeID string, unreadOnly bool, limit int) ([]Notification, error)
	UnreadCount(ctx context.Context, employeeID string) (int, error)
	MarkRead(ctx context.Context, notificationID string, at time.Time) error
	MarkAllRead(ctx context.Context, employeeID string, at time.Time) (int64, error)
	MarkIncidentRead(ctx context.Context, incidentID, employeeID string, at time.Time) (int64, error)
}
