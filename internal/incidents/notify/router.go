package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	incidentapp "incident-cloud/internal/incidents/application"
	incidents "incident-cloud/internal/incidents/domain"
	notifications "incident-cloud/internal/notifications/domain"
	"incident-cloud/internal/observability/metrics"

	"github.com/google/uuid"
)

var notificationNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("incident-cloud/notifications"))

// Sender stores and pushes employee notifications.
type Sender interface {
	Notify(ctx context.Context, draft notifications.Draft) (notifications.Notification, error)
	MarkIncidentRead(ctx context.Context, incidentID, employeeID string) (int64, error)
}

// IncidentReader loads current incident state.
type IncidentReader interface {
	GetByID(ctx context.Context, id string) (*incidents.Incident, error)
}

// Clock provides time for page dedupe.
type Clock interface {
	Now() time.Time
}

type pageRecord struct {
	at   time.Time
	hash string
}

// Router turns incident events into per-employee notifications and runs
// escalation timers for urgent incidents left unacknowledged.
type Router struct {
	sender         Sender
	incidents      IncidentReader
	page           Channel
	template       *Template
	escalation     time.Duration
	dedupeWindow   time.Duration
	requestTimeout time.Duration
	clock          Clock
	logger         *log.Logger
	mu             sync.Mutex
	timers         map[string]*time.Timer
	paged          map[string]pageRecord
}

// Option configures the router.
type Option func(*Router)

// WithEscalation configures escalation delay; zero disables escalation.
func WithEscalation(after time.Duration) Option {
	return func(r *Router) {
		if after > 0 {
			r.escalation = after
		}
	}
}

// WithPageChannel sends escalation pages through channel.
func WithPageChannel(channel Channel) Option {
	return func(r *Router) {
		r.page = channel
	}
}

// WithTemplate overrides the page template.
func WithTemplate(template *Template) Option {
	return func(r *Router) {
		if template != nil {
			r.template = template
		}
	}
}

// WithDedupeWindow suppresses identical pages within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(r *Router) {
		if window > 0 {
			r.dedupeWindow = window
		}
	}
}

// WithRequestTimeout bounds the work done when an escalation timer fires.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(r *Router) {
		if timeout > 0 {
			r.requestTimeout = timeout
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(r *Router) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// NewRouter constructs a notification router.
func NewRouter(sender Sender, reader IncidentReader, opts ...Option) (*Router, error) {
	if sender == nil {
		return nil, errors.New("incident router: nil sender")
	}
	if reader == nil {
		return nil, errors.New("incident router: nil incident reader")
	}
	defaultTemplate, err := NewTemplate("")
	if err != nil {
		return nil, err
	}
	r := &Router{
		sender:         sender,
		incidents:      reader,
		template:       defaultTemplate,
		requestTimeout: 5 * time.Second,
		dedupeWindow:   10 * time.Minute,
		clock:          systemClock{},
		timers:         make(map[string]*time.Timer),
		paged:          make(map[string]pageRecord),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Handle is an event bus handler for incident events.
func (r *Router) Handle(ctx context.Context, event any) error {
	switch evt := event.(type) {
	case incidentapp.IncidentEvent:
		return r.Route(ctx, evt)
	case *incidentapp.IncidentEvent:
		if evt == nil {
			return nil
		}
		return r.Route(ctx, *evt)
	default:
		return fmt.Errorf("incident router: unexpected event %T", event)
	}
}

// Route delivers the notifications for one event. An error means some
// recipient was not stored and the event should be redelivered.
func (r *Router) Route(ctx context.Context, event incidentapp.IncidentEvent) error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, draft := range r.recipients(event) {
		if _, err := r.sender.Notify(ctx, draft); err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", draft.EmployeeID, err))
		}
	}

	switch event.Type {
	case incidentapp.EventAcknowledged, incidentapp.EventClaimed:
		if event.Actor.EmployeeID != "" {
			if _, err := r.sender.MarkIncidentRead(ctx, event.IncidentID, event.Actor.EmployeeID); err != nil {
				errs = append(errs, fmt.Errorf("mark read %s: %w", event.Actor.EmployeeID, err))
			}
		}
	}

	switch event.Type {
	case incidentapp.EventAssigned:
		r.scheduleEscalation(event.Incident)
	case incidentapp.EventAcknowledged, incidentapp.EventClaimed, incidentapp.EventResolved:
		r.cancelEscalation(event.IncidentID)
	}
	return errors.Join(errs...)
}

// Close stops all pending escalation timers.
func (r *Router) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	timers := r.timers
	r.timers = make(map[string]*time.Timer)
	r.mu.Unlock()
	for _, timer := range timers {
		if timer != nil {
			timer.Stop()
		}
	}
}

// Pending reports how many escalation timers are armed.
func (r *Router) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

func (r *Router) recipients(event incidentapp.IncidentEvent) []notifications.Draft {
	inc := event.Incident
	actor := event.Actor.EmployeeName
	var drafts []notifications.Draft
	add := func(employeeID, notificationType, title, message string) {
		if employeeID == "" {
			return
		}
		drafts = append(drafts, notifications.Draft{
			ID:         notificationID(event, employeeID, notificationType),
			EmployeeID: employeeID,
			IncidentID: inc.ID,
			Type:       notificationType,
			Severity:   string(inc.Severity),
			Title:      title,
			Message:    message,
			Data:       eventData(event),
		})
	}

	switch event.Type {
	case incidentapp.EventAssigned:
		add(inc.AssignedEmployeeID, notifications.TypeIncidentAssigned,
			"New Incident Assigned",
			fmt.Sprintf("%s incident in room %s assigned to you.", inc.AlertType, inc.Room))
	case incidentapp.EventClaimed:
		add(inc.AssignedEmployeeID, notifications.TypeIncidentClaimed,
			"Incident Claimed",
			fmt.Sprintf("You claimed incident %s.", inc.ID))
	case incidentapp.EventAcknowledged:
		add(inc.AssignedEmployeeID, notifications.TypeIncidentAcknowledged,
			"Incident Acknowledged",
			fmt.Sprintf("%s acknowledged incident %s.", actor, inc.ID))
	case incidentapp.EventStarted:
		add(inc.AssignedEmployeeID, notifications.TypeIncidentStarted,
			"Incident In Progress",
			fmt.Sprintf("%s started working on incident %s.", actor, inc.ID))
	case incidentapp.EventNoteAdded:
		add(inc.AssignedEmployeeID, notifications.TypeIncidentNoteAdded,
			"Note Added",
			fmt.Sprintf("%s added a note to incident %s: %s", actor, inc.ID, event.Note))
	case incidentapp.EventResolved:
		add(inc.AssignedEmployeeID, notifications.TypeIncidentResolved,
			"Incident Resolved",
			fmt.Sprintf("Incident %s resolved by %s.", inc.ID, actor))
	}

	if event.PreviousAssigneeID != "" && event.PreviousAssigneeID != inc.AssignedEmployeeID {
		add(event.PreviousAssigneeID, notifications.TypeIncidentReassigned,
			"Incident Claimed by Another Staff Member",
			fmt.Sprintf("%s has claimed incident %s", actor, inc.ID))
	}
	return drafts
}

// notificationID is stable for one recipient of one incident change, so a
// redelivered event resolves to the notifications it already stored. Every
// accepted change bumps the incident version.
func notificationID(event incidentapp.IncidentEvent, employeeID, notificationType string) string {
	key := fmt.Sprintf("%s/%d/%s/%s/%s", event.Incident.ID, event.Incident.Version, event.Type, employeeID, notificationType)
	return uuid.NewSHA1(notificationNamespace, []byte(key)).String()
}

func eventData(event incidentapp.IncidentEvent) map[string]any {
	inc := event.Incident
	return map[string]any{
		"incident_id": inc.ID,
		"alert_type":  inc.AlertType,
		"room":        inc.Room,
		"patient_id":  inc.PatientID,
		"status":      string(inc.Status),
		"event":       event.Type,
	}
}

func (r *Router) scheduleEscalation(incident incidents.Incident) {
	if r.escalation <= 0 || incident.ID == "" {
		return
	}
	if !incident.Severity.AtLeast(incidents.SeverityHigh) {
		return
	}
	id := incident.ID
	r.mu.Lock()
	if existing, ok := r.timers[id]; ok && existing != nil {
		existing.Stop()
	}
	r.timers[id] = time.AfterFunc(r.escalation, func() {
		r.runEscalation(id)
	})
	r.mu.Unlock()
}

func (r *Router) cancelEscalation(incidentID string) {
	if incidentID == "" {
		return
	}
	r.mu.Lock()
	timer := r.timers[incidentID]
	delete(r.timers, incidentID)
	r.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

func (r *Router) runEscalation(incidentID string) {
	r.mu.Lock()
	delete(r.timers, incidentID)
	r.mu.Unlock()

	ctx := context.Background()
	if r.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.requestTimeout)
		defer cancel()
	}

	incident, err := r.incidents.GetByID(ctx, incidentID)
	if err != nil || incident == nil {
		r.logf("incident router: escalation load %s: %v", incidentID, err)
		return
	}
	if incident.Status != incidents.StatusAssigned {
		return
	}
	metrics.IncEscalation()
	_, err = r.sender.Notify(ctx, notifications.Draft{
		EmployeeID: incident.AssignedEmployeeID,
		IncidentID: incident.ID,
		Type:       notifications.TypeIncidentEscalated,
		Severity:   string(incident.Severity),
		Title:      "Incident Escalated",
		Message: fmt.Sprintf("%s incident %s in room %s is still unacknowledged after %s.",
			incident.Severity, incident.ID, incident.Room, r.escalation),
		Data: map[string]any{
			"incident_id": incident.ID,
			"alert_type":  incident.AlertType,
			"room":        incident.Room,
			"status":      string(incident.Status),
			"event":       "escalated",
		},
	})
	if err != nil {
		r.logf("incident router: escalation notify %s: %v", incidentID, err)
	}
	r.sendPage(ctx, *incident)
}

func (r *Router) sendPage(ctx context.Context, incident incidents.Incident) {
	if r.page == nil {
		return
	}
	content, err := r.template.Render(TemplateData{
		IncidentID: incident.ID,
		AlertType:  incident.AlertType,
		Severity:   string(incident.Severity),
		Room:       incident.Room,
		PatientID:  incident.PatientID,
		Status:     string(incident.Status),
		Assignee:   incident.AssignedTo,
		CreatedAt:  incident.CreatedAt.UTC().Format(time.RFC3339),
		Event:      "escalated",
		EventLabel: "Escalated",
	})
	if err != nil {
		r.logf("incident router: render page %s: %v", incident.ID, err)
		return
	}
	if !r.shouldPage(incident.ID, content) {
		return
	}
	if err := r.page.Send(ctx, content); err != nil {
		r.logf("incident router: page %s: %v", incident.ID, err)
		return
	}
	r.mu.Lock()
	r.paged[incident.ID] = pageRecord{at: r.clock.Now().UTC(), hash: hashContent(content)}
	r.mu.Unlock()
}

func (r *Router) shouldPage(incidentID, content string) bool {
	if r.dedupeWindow <= 0 {
		return true
	}
	r.mu.Lock()
	record, ok := r.paged[incidentID]
	r.mu.Unlock()
	if !ok {
		return true
	}
	return record.hash != hashContent(content) || r.clock.Now().UTC().Sub(record.at) >= r.dedupeWindow
}

func (r *Router) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
