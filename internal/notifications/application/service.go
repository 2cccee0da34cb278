package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	notifications "incident-cloud/internal/notifications/domain"
	"incident-cloud/internal/observability/metrics"
)

const (
	defaultSeverity  = "MEDIUM"
	defaultListLimit = 100
	maxListLimit     = 500
)

// Pusher delivers a stored notification to live connections. Delivery is
// best effort and never reports failure to the caller.
type Pusher interface {
	Push(ctx context.Context, employeeID string, notification notifications.Notification)
}

// Clock provides current time.
type Clock interface {
	Now() time.Time
}

// Inbox is an employee's notification list with the unread total.
type Inbox struct {
	Notifications []notifications.Notification `json:"notifications"`
	UnreadCount   int                          `json:"unread_count"`
}

// Service persists notifications and fans them out to live sessions.
type Service struct {
	repo   notifications.Repository
	pusher Pusher
	clock  Clock
}

// Option configures the service.
type Option func(*Service)

// WithPusher sets the live delivery path.
func WithPusher(pusher Pusher) Option {
	return func(s *Service) {
		s.pusher = pusher
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewService constructs a notification service.
func NewService(repo notifications.Repository, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("notifications: nil repository")
	}
	s := &Service{repo: repo, clock: systemClock{}}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Notify stores the notification and then pushes it to the employee's live
// connections. A failed write aborts before anything is pushed. A draft whose
// id is already stored is a redelivery: it succeeds without a second push.
func (s *Service) Notify(ctx context.Context, draft notifications.Draft) (notifications.Notification, error) {
	if s == nil || s.repo == nil {
		return notifications.Notification{}, errors.New("notifications: service not initialized")
	}
	draft.EmployeeID = strings.TrimSpace(draft.EmployeeID)
	if draft.EmployeeID == "" {
		return notifications.Notification{}, fmt.Errorf("%w: employee_id required", notifications.ErrValidation)
	}
	if strings.TrimSpace(draft.Title) == "" && strings.TrimSpace(draft.Message) == "" {
		return notifications.Notification{}, fmt.Errorf("%w: title or message required", notifications.ErrValidation)
	}
	severity := strings.ToUpper(strings.TrimSpace(draft.Severity))
	if severity == "" {
		severity = defaultSeverity
	}
	id := strings.TrimSpace(draft.ID)
	if id == "" {
		id = uuid.NewString()
	}
	notification := notifications.Notification{
		ID:         id,
		EmployeeID: draft.EmployeeID,
		IncidentID: draft.IncidentID,
		Type:       draft.Type,
		Severity:   severity,
		Title:      draft.Title,
		Message:    draft.Message,
		Data:       draft.Data,
		CreatedAt:  s.clock.Now().UTC(),
	}
	if err := s.repo.Save(ctx, &notification); err != nil {
		if errors.Is(err, notifications.ErrDuplicate) {
			return notification, nil
		}
		return notifications.Notification{}, fmt.Errorf("notifications: save: %w", err)
	}
	metrics.IncNotificationSent(notification.Type)
	if s.pusher != nil {
		s.pusher.Push(ctx, notification.EmployeeID, notification)
	}
	return notification, nil
}

// Inbox lists notifications newest first together with the unread count.
func (s *Service) Inbox(ctx context.Context, employeeID string, unreadOnly bool, limit int) (Inbox, error) {
	if s == nil || s.repo == nil {
		return Inbox{}, errors.New("notifications: service not initialized")
	}
	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return Inbox{}, fmt.Errorf("%w: employee_id required", notifications.ErrValidation)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	items, err := s.repo.ListByEmployee(ctx, employeeID, unreadOnly, limit)
	if err != nil {
		return Inbox{}, err
	}
	unread, err := s.repo.UnreadCount(ctx, employeeID)
	if err != nil {
		return Inbox{}, err
	}
	if items == nil {
		items = []notifications.Notification{}
	}
	return Inbox{Notifications: items, UnreadCount: unread}, nil
}

// MarkRead marks a single notification as read.
func (s *Service) MarkRead(ctx context.Context, notificationID string) error {
	if s == nil || s.repo == nil {
		return errors.New("notifications: service not initialized")
	}
	notificationID = strings.TrimSpace(notificationID)
	if notificationID == "" {
		return fmt.Errorf("%w: notification_id required", notifications.ErrValidation)
	}
	return s.repo.MarkRead(ctx, notificationID, s.clock.Now().UTC())
}

// MarkAllRead marks every unread notification of the employee and returns how many changed.
func (s *Service) MarkAllRead(ctx context.Context, employeeID string) (int64, error) {
	if s == nil || s.repo == nil {
		return 0, errors.New("notifications: service not initialized")
	}
	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return 0, fmt.Errorf("%w: employee_id required", notifications.ErrValidation)
	}
	return s.repo.MarkAllRead(ctx, employeeID, s.clock.Now().UTC())
}

// MarkIncidentRead marks the employee's notifications about one incident.
func (s *Service) MarkIncidentRead(ctx context.Context, incidentID, employeeID string) (int64, error) {
	if s == nil || s.repo == nil {
		return 0, errors.New("notifications: service not initialized")
	}
	incidentID = strings.TrimSpace(incidentID)
	employeeID = strings.TrimSpace(employeeID)
	if incidentID == "" || employeeID == "" {
		return 0, fmt.Errorf("%w: incident_id and employee_id required", notifications.ErrValidation)
	}
	return s.repo.MarkIncidentRead(ctx, incidentID, employeeID, s.clock.Now().UTC())
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
