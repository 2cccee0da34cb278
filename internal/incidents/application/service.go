package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	incidents "incident-cloud/internal/incidents/domain"
	"incident-cloud/internal/observability/metrics"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Alert is the intake payload that opens an incident.
type Alert struct {
	AlertID   string `json:"alert_id"`
	PatientID string `json:"patient_id"`
	Room      string `json:"room"`
	AlertType string `json:"alert_type"`
	Severity  string `json:"severity"`
}

// Command carries the caller's identity and optional inputs for a mutation.
type Command struct {
	IncidentID string
	Actor      incidents.Actor
	Note       string
	// ExpectedVersion pins the compare-and-set to a version the caller has seen.
	ExpectedVersion *int64
}

// Service coordinates incident lifecycle changes.
type Service struct {
	repo       incidents.Repository
	directory  incidents.EmployeeDirectory
	roster     Roster
	routing    RoutingConfig
	notifier   IncidentNotifier
	clock      Clock
	logger     *log.Logger
	autoAssign bool
	ids        *idGenerator
}

// ServiceOption customizes the incident service.
type ServiceOption func(*Service)

// WithNotifier assigns a notifier.
func WithNotifier(notifier IncidentNotifier) ServiceOption {
	return func(s *Service) {
		s.notifier = notifier
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithDirectory resolves assignee names on assign.
func WithDirectory(directory incidents.EmployeeDirectory) ServiceOption {
	return func(s *Service) {
		s.directory = directory
	}
}

// WithRoster enables auto-assignment against an on-call roster.
func WithRoster(roster Roster, routing RoutingConfig) ServiceOption {
	return func(s *Service) {
		s.roster = roster
		s.routing = routing
	}
}

// WithAutoAssign toggles auto-assignment of incidents created from alerts.
func WithAutoAssign(enabled bool) ServiceOption {
	return func(s *Service) {
		s.autoAssign = enabled
	}
}

// WithLogger sets the logger used for background decisions.
func WithLogger(logger *log.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs an incident service.
func NewService(repo incidents.Repository, opts ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, errors.New("incidents: nil repository")
	}
	service := &Service{
		repo:    repo,
		routing: DefaultRoutingConfig(),
		clock:   systemClock{},
		logger:  log.Default(),
		ids:     &idGenerator{},
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// CreateFromAlert opens an incident for an alert and optionally auto-assigns it.
func (s *Service) CreateFromAlert(ctx context.Context, alert Alert) (*incidents.Incident, error) {
	if s == nil {
		return nil, errors.New("incidents: nil service")
	}
	severity, ok := incidents.ParseSeverity(alert.Severity)
	if !ok {
		return nil, fmt.Errorf("%w: invalid severity %q", incidents.ErrValidation, alert.Severity)
	}
	if strings.TrimSpace(alert.PatientID) == "" {
		return nil, fmt.Errorf("%w: patient id required", incidents.ErrValidation)
	}
	now := s.clock.Now().UTC()
	incident, entry, err := incidents.NewIncident(
		s.ids.next(now),
		strings.TrimSpace(alert.AlertID),
		strings.TrimSpace(alert.PatientID),
		strings.TrimSpace(alert.Room),
		strings.ToUpper(strings.TrimSpace(alert.AlertType)),
		severity,
		now,
	)
	if err != nil {
		return nil, err
	}
	event := s.newEvent(EventCreated, incident, incidents.Actor{EmployeeName: entry.EmployeeName}, nil, entry.Note, now)
	if err := s.repo.Create(ctx, incident, entry, event); err != nil {
		return nil, err
	}
	metrics.IncIncidentCreated(string(severity))
	s.publish(ctx, event)

	if !s.autoAssign || s.roster == nil {
		return incident, nil
	}
	assigned, err := s.AutoAssign(ctx, incident.ID)
	if err != nil {
		s.logger.Printf("incidents: auto-assign %s: %v", incident.ID, err)
		return incident, nil
	}
	return assigned, nil
}

// Get returns an incident with its history ordered oldest first.
func (s *Service) Get(ctx context.Context, id string) (*incidents.Incident, []incidents.HistoryEntry, error) {
	if s == nil {
		return nil, nil, errors.New("incidents: nil service")
	}
	incident, err := s.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	history, err := s.repo.History(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return incident, history, nil
}

// List returns incidents newest first.
func (s *Service) List(ctx context.Context, filter incidents.ListFilter) ([]incidents.Incident, error) {
	if s == nil {
		return nil, errors.New("incidents: nil service")
	}
	return s.repo.List(ctx, filter)
}

// Assign hands an OPEN incident to an employee.
func (s *Service) Assign(ctx context.Context, cmd Command) (*incidents.Incident, error) {
	if s == nil {
		return nil, errors.New("incidents: nil service")
	}
	actor, err := s.resolveEmployee(ctx, cmd.Actor)
	if err != nil {
		s.reject("assign", err)
		return nil, err
	}
	cmd.Actor = actor
	return s.assign(ctx, cmd)
}

// Acknowledge records that the assignee has seen the incident.
func (s *Service) Acknowledge(ctx context.Context, cmd Command) (*incidents.Incident, error) {
	if s == nil {
		return nil, errors.New("incidents: nil service")
	}
	updated, _, err := s.mutate(ctx, cmd, "acknowledge", EventAcknowledged, func(incident *incidents.Incident, now time.Time) (incidents.HistoryEntry, error) {
		return incident.Acknowledge(cmd.Actor, now)
	})
	if err != nil {
		return nil, err
	}
	if seconds, ok := updated.ResponseTime(); ok {
		metrics.ObserveAcknowledge(seconds)
	}
	return updated, nil
}

// Start moves an acknowledged incident into progress.
func (s *Service) Start(ctx context.Context, cmd Command) (*incidents.Incident, error) {
	if s == nil {
		return nil, errors.New("incidents: nil service")
	}
	updated, _, err := s.mutate(ctx, cmd, "start", EventStarted, func(incident *incidents.Incident, now time.Time) (incidents.HistoryEntry, error) {
		return incident.Start(cmd.Actor, cmd.Note, now)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// AddNote appends a progress note.
func (s *Service) AddNote(ctx context.Context, cmd Command) (*incidents.Incident, error) {
	if s == nil {
		return nil, errors.New("incidents: nil service")
	}
	updated, _, err := s.mutate(ctx, cmd, "add_note", EventNoteAdded, func(incident *incidents.Incident, now time.Time) (incidents.HistoryEntry, error) {
		return incident.AddNote(cmd.Actor, cmd.Note, now)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Resolve closes an in-progress incident; cmd.Note carries the resolution notes.
func (s *Service) Resolve(ctx context.Context, cmd Command) (*incidents.Incident, error) {
	if s == nil {
		return nil, errors.New("incidents: nil service")
	}
	updated, _, err := s.mutate(ctx, cmd, "resolve", EventResolved, func(incident *incidents.Incident, now time.Time) (incidents.HistoryEntry, error) {
		return incident.Resolve(cmd.Actor, cmd.Note, now)
	})
	if err != nil {
		return nil, err
	}
	if seconds, ok := updated.TotalTime(); ok {
		metrics.ObserveResolve(seconds)
	}
	return updated, nil
}

// Claim transfers ownership to the caller. When the caller already owns the
// incident it returns the unchanged incident together with ErrAlreadyAssigned.
func (s *Service) Claim(ctx context.Context, cmd Command) (*incidents.Incident, error) {
	if s == nil {
		return nil, errors.New("incidents: nil service")
	}
	updated, before, err := s.mutate(ctx, cmd, "claim", EventClaimed, func(incident *incidents.Incident, now time.Time) (incidents.HistoryEntry, error) {
		return incident.Claim(cmd.Actor, now)
	})
	if err != nil {
		if errors.Is(err, incidents.ErrAlreadyAssigned) && before != nil {
			return before, err
		}
		return nil, err
	}
	if before.AcknowledgedAt.IsZero() {
		if seconds, ok := updated.ResponseTime(); ok {
			metrics.ObserveAcknowledge(seconds)
		}
	}
	return updated, nil
}

func (s *Service) assign(ctx context.Context, cmd Command) (*incidents.Incident, error) {
	updated, _, err := s.mutate(ctx, cmd, "assign", EventAssigned, func(incident *incidents.Incident, now time.Time) (incidents.HistoryEntry, error) {
		return incident.Assign(cmd.Actor, cmd.Note, now)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// mutate loads the incident, applies fn to a copy and stores it with a
// version compare-and-set. The clock is read after the load so a slow caller
// cannot commit a timestamp older than the state it replaces. The incident
// event is handed to the repository with the change and published to the
// notifier once it has committed. It returns the stored incident and the
// state that was read before the change.
func (s *Service) mutate(ctx context.Context, cmd Command, action, eventType string, fn func(*incidents.Incident, time.Time) (incidents.HistoryEntry, error)) (*incidents.Incident, *incidents.Incident, error) {
	current, err := s.load(ctx, cmd.IncidentID)
	if err != nil {
		s.reject(action, err)
		return nil, nil, err
	}
	if cmd.ExpectedVersion != nil && *cmd.ExpectedVersion != current.Version {
		err := fmt.Errorf("%w: incident %s is at version %d, expected %d", incidents.ErrConflict, current.ID, current.Version, *cmd.ExpectedVersion)
		s.reject(action, err)
		return nil, current, err
	}
	now := s.clock.Now().UTC()
	working := current.Clone()
	entry, err := fn(working, now)
	if err != nil {
		s.reject(action, err)
		return nil, current, err
	}
	working.Version = current.Version + 1
	event := s.newEvent(eventType, working, cmd.Actor, current, entry.Note, now)
	if err := s.repo.Update(ctx, working, current.Version, entry, event); err != nil {
		s.reject(action, err)
		return nil, current, err
	}
	s.publish(ctx, event)
	return working, current, nil
}

func (s *Service) load(ctx context.Context, id string) (*incidents.Incident, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: incident id required", incidents.ErrValidation)
	}
	incident, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if incident == nil {
		return nil, fmt.Errorf("%w: %s", incidents.ErrNotFound, id)
	}
	return incident, nil
}

func (s *Service) resolveEmployee(ctx context.Context, actor incidents.Actor) (incidents.Actor, error) {
	actor.EmployeeID = strings.TrimSpace(actor.EmployeeID)
	if actor.EmployeeID == "" {
		return actor, fmt.Errorf("%w: employee_id is required", incidents.ErrValidation)
	}
	if s.directory == nil {
		return actor, nil
	}
	employee, err := s.directory.GetEmployee(ctx, actor.EmployeeID)
	if err != nil {
		return actor, err
	}
	if employee == nil {
		return actor, fmt.Errorf("%w: employee %s", incidents.ErrNotFound, actor.EmployeeID)
	}
	actor.EmployeeName = employee.Name
	return actor, nil
}

func (s *Service) reject(action string, err error) {
	metrics.IncIncidentRejection(action, RejectionReason(err))
}

func (s *Service) newEvent(eventType string, incident *incidents.Incident, actor incidents.Actor, before *incidents.Incident, note string, at time.Time) IncidentEvent {
	event := IncidentEvent{
		Type:       eventType,
		IncidentID: incident.ID,
		Incident:   *incident,
		Actor:      actor,
		Note:       note,
		OccurredAt: at,
	}
	if before != nil && before.AssignedEmployeeID != incident.AssignedEmployeeID {
		event.PreviousAssigneeID = before.AssignedEmployeeID
		event.PreviousAssigneeName = before.AssignedTo
	}
	return event
}

// publish runs after commit. Durable fan-out already rides on the
// repository's outbox write, so notifiers here are live or best effort.
func (s *Service) publish(ctx context.Context, event IncidentEvent) {
	metrics.IncIncidentEvent(event.Type)
	if s.notifier != nil {
		s.notifier.Notify(ctx, event)
	}
}

// RejectionReason classifies a mutation error for metrics and logs.
func RejectionReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, incidents.ErrNotFound):
		return "not_found"
	case errors.Is(err, incidents.ErrValidation):
		return "validation"
	case errors.Is(err, incidents.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, incidents.ErrNotAssigned):
		return "not_assigned"
	case errors.Is(err, incidents.ErrAlreadyAssigned):
		return "already_assigned"
	case errors.Is(err, incidents.ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}

// idGenerator issues INC-<unix millis> ids that never repeat within a process.
type idGenerator struct {
	mu   sync.Mutex
	last int64
}

func (g *idGenerator) next(at time.Time) string {
	ms := at.UnixMilli()
	g.mu.Lock()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	g.mu.Unlock()
	return fmt.Sprintf("INC-%d", ms)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
