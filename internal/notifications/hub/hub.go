package hub

import (
	"context"
	"encoding/json"
	"log"
	"time"

	notifications "incident-cloud/internal/notifications/domain"
	"incident-cloud/internal/observability/metrics"

	"golang.org/x/sync/errgroup"
)

const defaultSendTimeout = 2 * time.Second

// Frame types exchanged over the socket.
const (
	FrameRegisterEmployee       = "register_employee"
	FrameRegistrationSuccess    = "registration_success"
	FrameMarkNotificationRead   = "mark_notification_read"
	FrameNotificationMarkedRead = "notification_marked_read"
	FrameIncidentNotification   = "incident_notification"
	FrameError                  = "error"
)

// Frame is the envelope for every socket message.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IncidentNotification is the live push payload.
type IncidentNotification struct {
	NotificationID string         `json:"notification_id"`
	Type           string         `json:"type"`
	Severity       string         `json:"severity"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	IncidentID     string         `json:"incident_id,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Hub pushes stored notifications to live connections. It keeps no backlog;
// clients that were offline read the durable list instead.
type Hub struct {
	registry    *Registry
	sendTimeout time.Duration
	logger      *log.Logger
}

// Option configures the hub.
type Option func(*Hub)

// WithSendTimeout bounds each per-connection send.
func WithSendTimeout(timeout time.Duration) Option {
	return func(h *Hub) {
		if timeout > 0 {
			h.sendTimeout = timeout
		}
	}
}

// WithLogger sets the hub logger.
func WithLogger(logger *log.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithRegistry injects a registry.
func WithRegistry(registry *Registry) Option {
	return func(h *Hub) {
		if registry != nil {
			h.registry = registry
		}
	}
}

// New constructs a hub.
func New(opts ...Option) *Hub {
	h := &Hub{registry: NewRegistry(), sendTimeout: defaultSendTimeout}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Registry exposes the connection registry.
func (h *Hub) Registry() *Registry {
	if h == nil {
		return nil
	}
	return h.registry
}

// Push sends the notification to every connection registered for the
// employee at the time of the call. Failures are logged and counted only.
func (h *Hub) Push(ctx context.Context, employeeID string, notification notifications.Notification) {
	if h == nil {
		return
	}
	conns := h.registry.Snapshot(employeeID)
	if len(conns) == 0 {
		metrics.IncPush(metrics.PushDropped)
		return
	}
	frame, err := encodeFrame(FrameIncidentNotification, IncidentNotification{
		NotificationID: notification.ID,
		Type:           notification.Type,
		Severity:       notification.Severity,
		Title:          notification.Title,
		Message:        notification.Message,
		IncidentID:     notification.IncidentID,
		Data:           notification.Data,
		CreatedAt:      notification.CreatedAt,
	})
	if err != nil {
		h.logf("hub: encode notification %s: %v", notification.ID, err)
		metrics.IncPush(metrics.PushFailed)
		return
	}
	// Each session gets its own bounded send so a stalled one cannot hold
	// back the employee's other sessions.
	var group errgroup.Group
	for _, conn := range conns {
		conn := conn
		group.Go(func() error {
			if ctx.Err() != nil {
				metrics.IncPush(metrics.PushFailed)
				return nil
			}
			if err := conn.Send(frame, h.sendTimeout); err != nil {
				h.logf("hub: push %s to %s: %v", notification.ID, employeeID, err)
				metrics.IncPush(metrics.PushFailed)
				return nil
			}
			metrics.IncPush(metrics.PushDelivered)
			return nil
		})
	}
	_ = group.Wait()
}

func (h *Hub) logf(format string, args ...any) {
	if h.logger != nil {
		h.logger.Printf(format, args...)
	}
}

func encodeFrame(frameType string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Type: frameType, Data: raw})
}
