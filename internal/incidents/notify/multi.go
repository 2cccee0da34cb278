package notify

import (
	"context"
	"log"

	incidentapp "incident-cloud/internal/incidents/application"
)

// MultiNotifier dispatches incident events to multiple notifiers.
type MultiNotifier struct {
	notifiers []incidentapp.IncidentNotifier
}

// NewMultiNotifier constructs a MultiNotifier.
func NewMultiNotifier(notifiers ...incidentapp.IncidentNotifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Notify forwards events to all notifiers.
func (m *MultiNotifier) Notify(ctx context.Context, event incidentapp.IncidentEvent) {
	if m == nil {
		return
	}
	for _, notifier := range m.notifiers {
		if notifier != nil {
			notifier.Notify(ctx, event)
		}
	}
}

// OutboxFlusher triggers delivery of committed outbox records.
type OutboxFlusher interface {
	Flush(ctx context.Context)
}

// OutboxNotifier kicks the outbox dispatcher once an incident change has
// committed. The event itself was written to the outbox by the repository in
// the same transaction as the change.
type OutboxNotifier struct {
	flusher OutboxFlusher
}

// NewOutboxNotifier constructs an OutboxNotifier.
func NewOutboxNotifier(flusher OutboxFlusher) *OutboxNotifier {
	return &OutboxNotifier{flusher: flusher}
}

// Notify runs an immediate dispatch pass.
func (o *OutboxNotifier) Notify(ctx context.Context, _ incidentapp.IncidentEvent) {
	if o == nil || o.flusher == nil {
		return
	}
	o.flusher.Flush(ctx)
}

// LogNotifier writes one line per incident event.
type LogNotifier struct {
	logger *log.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *log.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the event.
func (l *LogNotifier) Notify(_ context.Context, event incidentapp.IncidentEvent) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Printf("incident %s: event=%s status=%s assignee=%s actor=%s version=%d",
		event.IncidentID,
		event.Type,
		event.Incident.Status,
		event.Incident.AssignedEmployeeID,
		event.Actor.EmployeeID,
		event.Incident.Version,
	)
}
