package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"incident-cloud/internal/auth"
)

// ReadMarker marks a notification as read.
type ReadMarker interface {
	MarkRead(ctx context.Context, notificationID string) error
}

// Handler upgrades HTTP requests to hub connections.
type Handler struct {
	hub      *Hub
	marker   ReadMarker
	upgrader websocket.Upgrader
	logger   *log.Logger
}

// NewHandler constructs the WebSocket endpoint. An empty origin list accepts any origin.
func NewHandler(hub *Hub, marker ReadMarker, allowedOrigins []string, logger *log.Logger) (*Handler, error) {
	if hub == nil {
		return nil, errors.New("hub handler: nil hub")
	}
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			allowed[origin] = struct{}{}
		}
	}
	h := &Handler{hub: hub, marker: marker, logger: logger}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			if _, ok := allowed["*"]; ok {
				return true
			}
			_, ok := allowed[r.Header.Get("Origin")]
			return ok
		},
	}
	return h, nil
}

// ServeHTTP handles GET /ws/notifications.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logf("hub: upgrade: %v", err)
		return
	}
	conn := newConn(ws, sendBuffer)
	go conn.writePump()
	h.readPump(r.Context(), conn)
}

type registerRequest struct {
	EmployeeID string `json:"employee_id"`
}

type markReadRequest struct {
	NotificationID string `json:"notification_id"`
}

type errorReply struct {
	Message string `json:"message"`
}

func (h *Handler) readPump(ctx context.Context, conn *Conn) {
	var employeeID string
	defer func() {
		if employeeID != "" {
			h.hub.registry.Unregister(employeeID, conn)
		}
		conn.Close()
	}()

	conn.ws.SetReadLimit(maxMessageSize)
	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logf("hub: read: %v", err)
			}
			return
		}
		_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			h.reply(conn, FrameError, errorReply{Message: "invalid frame"})
			continue
		}
		switch frame.Type {
		case FrameRegisterEmployee:
			var req registerRequest
			_ = json.Unmarshal(frame.Data, &req)
			id := strings.TrimSpace(req.EmployeeID)
			if id == "" {
				h.reply(conn, FrameError, errorReply{Message: "employee_id required"})
				continue
			}
			if err := auth.EnsureSelf(ctx, id); err != nil {
				h.reply(conn, FrameError, errorReply{Message: err.Error()})
				continue
			}
			if employeeID != "" && employeeID != id {
				h.hub.registry.Unregister(employeeID, conn)
			}
			employeeID = id
			h.hub.registry.Register(employeeID, conn)
			h.reply(conn, FrameRegistrationSuccess, registerRequest{EmployeeID: employeeID})
		case FrameMarkNotificationRead:
			var req markReadRequest
			_ = json.Unmarshal(frame.Data, &req)
			if h.marker == nil {
				h.reply(conn, FrameError, errorReply{Message: "read state unavailable"})
				continue
			}
			if err := h.marker.MarkRead(ctx, req.NotificationID); err != nil {
				h.reply(conn, FrameError, errorReply{Message: err.Error()})
				continue
			}
			h.reply(conn, FrameNotificationMarkedRead, markReadRequest{NotificationID: req.NotificationID})
		default:
			h.reply(conn, FrameError, errorReply{Message: "unknown frame type"})
		}
	}
}

func (h *Handler) reply(conn *Conn, frameType string, data any) {
	frame, err := encodeFrame(frameType, data)
	if err != nil {
		h.logf("hub: encode %s: %v", frameType, err)
		return
	}
	if err := conn.Send(frame, h.hub.sendTimeout); err != nil {
		h.logf("hub: reply %s: %v", frameType, err)
	}
}

func (h *Handler) logf(format string, args ...any) {
	if h.logger != nil {
		h.logger.Printf(format, args...)
	}
}
